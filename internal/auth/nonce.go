// Package auth implements the nonce & session authenticator: issuing
// single-use challenges, verifying signed challenges via chainverify, and
// minting session tokens.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/itechmeat/kembridge/internal/chainverify"
)

var (
	ErrNonceNotFound = errors.New("auth: nonce not found")
	ErrNonceExpired  = errors.New("auth: nonce expired")
	ErrNonceConsumed = errors.New("auth: nonce already consumed")
	ErrMessageMismatch = errors.New("auth: message does not match canonical challenge")
)

// nonceRecord is the server-side state for one issued challenge.
type nonceRecord struct {
	Hex       string
	Wallet    string
	Chain     chainverify.ChainType
	Message   string
	ExpiresAt time.Time
	Consumed  bool
}

// NonceStore holds issued challenges keyed by their hex value, guarded by a
// single mutex. Validation (redeem) and marking consumed (commit) each run
// under the lock; commit re-checks Consumed, so a nonce is accepted at most
// once even when two redemptions of it race.
type NonceStore struct {
	mu    sync.Mutex
	byHex map[string]*nonceRecord
	ttl   time.Duration
}

// NewNonceStore creates a store whose issued nonces expire after ttl.
func NewNonceStore(ttl time.Duration) *NonceStore {
	return &NonceStore{
		byHex: make(map[string]*nonceRecord),
		ttl:   ttl,
	}
}

// IssueChallenge generates a 32-byte random nonce and the canonical
// message string the wallet is expected to sign.
func (s *NonceStore) IssueChallenge(wallet string, chain chainverify.ChainType) (nonceHex, message string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	nonceHex = hex.EncodeToString(raw)

	now := time.Now()
	message = canonicalMessage(wallet, chain, nonceHex, now)

	s.mu.Lock()
	s.byHex[nonceHex] = &nonceRecord{
		Hex:       nonceHex,
		Wallet:    wallet,
		Chain:     chain,
		Message:   message,
		ExpiresAt: now.Add(s.ttl),
	}
	s.mu.Unlock()

	return nonceHex, message, nil
}

// redeem validates a nonce without consuming it: the caller still has to
// verify the wallet's signature before the nonce may be marked spent, so a
// bad signature leaves the nonce state untouched and an honest client can
// retry with a corrected signature on the same nonce. Call commit once the
// signature check succeeds.
func (s *NonceStore) redeem(nonceHex, message string) (*nonceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byHex[nonceHex]
	if !ok {
		return nil, ErrNonceNotFound
	}
	if rec.Consumed {
		return nil, ErrNonceConsumed
	}
	if time.Now().After(rec.ExpiresAt) {
		return nil, ErrNonceExpired
	}
	if rec.Message != message {
		return nil, ErrMessageMismatch
	}

	cp := *rec
	return &cp, nil
}

// commit marks a validated nonce as consumed. Called only after signature
// verification succeeds, so a nonce is never spent on a failed attempt.
func (s *NonceStore) commit(nonceHex string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byHex[nonceHex]
	if !ok {
		return ErrNonceNotFound
	}
	if rec.Consumed {
		return ErrNonceConsumed
	}
	rec.Consumed = true
	return nil
}

func canonicalMessage(wallet string, chain chainverify.ChainType, nonceHex string, ts time.Time) string {
	return fmt.Sprintf(
		"KEMBridge Authentication\n\nWallet: %s\nChain: %s\nNonce: %s\nTimestamp: %s",
		wallet, chain, nonceHex, ts.UTC().Format(time.RFC3339),
	)
}
