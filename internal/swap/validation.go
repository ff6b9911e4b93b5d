package swap

import (
	"errors"
	"math/big"

	"github.com/itechmeat/kembridge/internal/chainverify"
)

var (
	ErrSameChain          = errors.New("swap: from_chain and to_chain must differ")
	ErrUnsupportedChain   = errors.New("swap: unsupported chain")
	ErrAmountOutOfRange   = errors.New("swap: amount outside configured bounds")
	ErrInvalidRecipient   = errors.New("swap: recipient address invalid for destination chain")
	ErrInvalidUserAddress = errors.New("swap: user address invalid for source chain")
)

// AmountLimits bounds the atomic-unit amount accepted for a swap,
// configured per direction.
type AmountLimits struct {
	Min *big.Int
	Max *big.Int
}

// ValidateParams enforces chain-pair and amount-bound rules plus
// recipient-format validation before a swap is created.
func ValidateParams(p Params, limits AmountLimits) error {
	if p.FromChain == "" || p.ToChain == "" {
		return ErrUnsupportedChain
	}
	fromChain, err := chainverify.ParseChainType(p.FromChain)
	if err != nil {
		return ErrUnsupportedChain
	}
	toChain, err := chainverify.ParseChainType(p.ToChain)
	if err != nil {
		return ErrUnsupportedChain
	}
	if p.FromChain == p.ToChain {
		return ErrSameChain
	}

	amount, ok := new(big.Int).SetString(p.Amount, 10)
	if !ok {
		return ErrAmountOutOfRange
	}
	if limits.Min != nil && amount.Cmp(limits.Min) < 0 {
		return ErrAmountOutOfRange
	}
	if limits.Max != nil && amount.Cmp(limits.Max) > 0 {
		return ErrAmountOutOfRange
	}

	verifier := chainverify.NewMultiChainVerifier(nil)
	if !verifier.ValidateAddress(fromChain, p.UserAddress) {
		return ErrInvalidUserAddress
	}
	if !verifier.ValidateAddress(toChain, p.Recipient) {
		return ErrInvalidRecipient
	}

	return nil
}
