// Package signer implements the admin rollback signer: an enclaved ECDSA
// key that signs compensating-transaction payloads on behalf of the
// timeout supervisor, so an unlock/burn submitted to a chain adapter
// carries an auditable admin signature rather than an unsigned call.
package signer

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrNoActiveSession    = errors.New("no active session")
	ErrSessionExpired     = errors.New("session expired")
	ErrValueLimitExceeded = errors.New("cumulative value limit exceeded")
)

// EIP-712 type hashes (pre-computed keccak256 of the type strings).
var (
	// keccak256("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)")
	eip712DomainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
	))

	// keccak256("Rollback(bytes32 swapId,bytes32 quantumHash,address recipient,uint256 amount,string fromChain,uint256 nonce)")
	rollbackTypeHash = crypto.Keccak256Hash([]byte(
		"Rollback(bytes32 swapId,bytes32 quantumHash,address recipient,uint256 amount,string fromChain,uint256 nonce)",
	))
)

// RollbackPayload is the compensating-transaction statement an admin
// signature attests to: "unwind swapId by returning amount of fromChain's
// locked funds to recipient, identified by quantumHash".
type RollbackPayload struct {
	SwapID      [32]byte
	QuantumHash [32]byte
	Recipient   common.Address
	Amount      *big.Int
	FromChain   string
	Nonce       *big.Int
}

// DomainData holds the EIP-712 domain separator fields.
type DomainData struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// RollbackSigner holds a decrypted admin key in locked memory with TTL and
// cumulative value-limit enforcement. The key is encrypted at rest via
// memguard.Enclave and only opened momentarily during Sign.
type RollbackSigner struct {
	mu            sync.RWMutex
	enclave       *memguard.Enclave // encrypted-at-rest key buffer
	address       string            // derived signer address (hex)
	expiresAt     time.Time
	maxValueLimit *big.Int // atomic units of the compensated asset
	valueUsed     *big.Int // cumulative value signed since Activate
	ttl           time.Duration
}

// NewRollbackSigner creates a signer with the given default TTL. No
// session is active until Activate is called.
func NewRollbackSigner(ttl time.Duration) *RollbackSigner {
	return &RollbackSigner{
		ttl:       ttl,
		valueUsed: new(big.Int),
	}
}

// Activate seals keyBytes into a memguard Enclave, derives the Ethereum
// address from the private key, sets expiry, and resets counters. The
// caller MUST zero their copy of keyBytes after calling this — in
// production wiring keyBytes arrives decrypted from internal/kms and is
// discarded immediately after this call.
func (rs *RollbackSigner) Activate(keyBytes []byte, maxValueLimit *big.Int) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	privKey, err := crypto.ToECDSA(keyBytes)
	if err != nil {
		return fmt.Errorf("invalid private key: %w", err)
	}
	addr := crypto.PubkeyToAddress(privKey.PublicKey)

	rs.enclave = memguard.NewEnclave(keyBytes)
	rs.expiresAt = time.Now().Add(rs.ttl)
	rs.maxValueLimit = new(big.Int).Set(maxValueLimit)
	rs.valueUsed = new(big.Int)
	rs.address = addr.Hex()

	return nil
}

// Sign opens the enclave momentarily, computes the EIP-712 digest over a
// RollbackPayload, signs it with ECDSA, and returns a 65-byte signature
// (r || s || v). It enforces session active, TTL, and cumulative
// value-limit checks, so a compromised or misbehaving supervisor cannot
// authorize unbounded compensation.
func (rs *RollbackSigner) Sign(domain *DomainData, payload *RollbackPayload) ([]byte, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.enclave == nil {
		return nil, ErrNoActiveSession
	}

	if rs.isExpired() {
		rs.destroyLocked()
		return nil, ErrSessionExpired
	}

	newTotal := new(big.Int).Add(rs.valueUsed, payload.Amount)
	if newTotal.Cmp(rs.maxValueLimit) > 0 {
		return nil, ErrValueLimitExceeded
	}

	domainHash := hashDomain(domain)
	payloadHash := hashRollback(payload)
	digest := eip712Digest(domainHash, payloadHash)

	buf, err := rs.enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("open enclave: %w", err)
	}

	privKey, err := crypto.ToECDSA(buf.Bytes())
	buf.Destroy()
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	sig, err := crypto.Sign(digest[:], privKey)
	if err != nil {
		return nil, fmt.Errorf("ecdsa sign: %w", err)
	}

	// Adjust v value for Ethereum compatibility (0/1 → 27/28).
	sig[64] += 27

	rs.valueUsed.Set(newTotal)

	return sig, nil
}

// Status returns a read-only snapshot of the current session state.
// Monetary values are returned as decimal strings.
func (rs *RollbackSigner) Status() (active bool, ttlRemaining int64, maxLimit string, used string, address string) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	if rs.enclave == nil || rs.isExpired() {
		return false, 0, "0", "0", ""
	}

	remaining := time.Until(rs.expiresAt).Seconds()
	if remaining < 0 {
		remaining = 0
	}

	return true, int64(remaining), rs.maxValueLimit.String(), rs.valueUsed.String(), rs.address
}

// Destroy drops the enclave and resets all session state; a later Sign
// returns ErrNoActiveSession.
func (rs *RollbackSigner) Destroy() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.destroyLocked()
}

func (rs *RollbackSigner) destroyLocked() {
	rs.enclave = nil
	rs.address = ""
	rs.valueUsed = new(big.Int)
	rs.maxValueLimit = nil
}

func (rs *RollbackSigner) isExpired() bool {
	return time.Now().After(rs.expiresAt)
}

func hashDomain(d *DomainData) common.Hash {
	return crypto.Keccak256Hash(
		eip712DomainTypeHash.Bytes(),
		crypto.Keccak256([]byte(d.Name)),
		crypto.Keccak256([]byte(d.Version)),
		common.LeftPadBytes(d.ChainID.Bytes(), 32),
		common.LeftPadBytes(d.VerifyingContract.Bytes(), 32),
	)
}

func hashRollback(p *RollbackPayload) common.Hash {
	return crypto.Keccak256Hash(
		rollbackTypeHash.Bytes(),
		p.SwapID[:],
		p.QuantumHash[:],
		common.LeftPadBytes(p.Recipient.Bytes(), 32),
		common.LeftPadBytes(p.Amount.Bytes(), 32),
		crypto.Keccak256([]byte(p.FromChain)),
		common.LeftPadBytes(p.Nonce.Bytes(), 32),
	)
}

func eip712Digest(domainHash, structHash common.Hash) common.Hash {
	return crypto.Keccak256Hash(
		[]byte{0x19, 0x01},
		domainHash.Bytes(),
		structHash.Bytes(),
	)
}
