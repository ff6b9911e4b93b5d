package chainverify

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// EthereumVerifier verifies EIP-191-prefixed messages recovered to a
// secp256k1 public key, then compares the derived address.
type EthereumVerifier struct{}

// VerifySignature implements EVM signature verification. message is the raw
// unprefixed string the wallet signed; signature is 65 bytes (r||s||v) hex
// encoded, optionally 0x-prefixed.
func (EthereumVerifier) VerifySignature(_ context.Context, message, signature, address string) (bool, error) {
	pubkey, err := recoverPublicKey(message, signature)
	if err != nil {
		return false, err
	}

	recovered := publicKeyToAddress(pubkey)
	return strings.EqualFold(recovered, address), nil
}

// ValidateAddress checks the 0x-prefixed, 40-hex-char EVM address shape.
func (EthereumVerifier) ValidateAddress(address string) bool {
	if !strings.HasPrefix(address, "0x") || len(address) != 42 {
		return false
	}
	for _, c := range address[2:] {
		if !isHexDigit(c) {
			return false
		}
	}
	return true
}

func recoverPublicKey(message, signature string) ([]byte, error) {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	digest := crypto.Keccak256([]byte(prefixed))

	sigBytes, err := hexDecode(signature)
	if err != nil {
		return nil, ErrInvalidSignature
	}
	if len(sigBytes) != 65 {
		return nil, ErrInvalidSignature
	}

	recoveryID := sigBytes[64]
	if recoveryID >= 27 {
		recoveryID -= 27
	}
	recoveryID &= 0x03

	normalized := make([]byte, 65)
	copy(normalized, sigBytes[:64])
	normalized[64] = recoveryID

	pub, err := crypto.Ecrecover(digest, normalized)
	if err != nil {
		return nil, ErrInvalidSignature
	}
	return pub, nil
}

func publicKeyToAddress(uncompressedPubkey []byte) string {
	hash := crypto.Keccak256(uncompressedPubkey[1:])
	return "0x" + hex.EncodeToString(hash[12:])
}

func hexDecode(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	return hex.DecodeString(s)
}

func isHexDigit(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
