package signer

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func testDomain() *DomainData {
	return &DomainData{
		Name:              "KEMBridge",
		Version:           "1",
		ChainID:           big.NewInt(11155111), // Sepolia
		VerifyingContract: common.HexToAddress("0x00000000000000000000000000000000000001"),
	}
}

func testPayload() *RollbackPayload {
	return &RollbackPayload{
		SwapID:      [32]byte{1},
		QuantumHash: [32]byte{2},
		Recipient:   common.HexToAddress("0x00000000000000000000000000000000000002"),
		Amount:      big.NewInt(1_000_000),
		FromChain:   "ethereum",
		Nonce:       big.NewInt(1),
	}
}

func activatedSigner(t *testing.T, ttl time.Duration, limit *big.Int) *RollbackSigner {
	t.Helper()
	priv, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	keyBytes := crypto.FromECDSA(priv)

	s := NewRollbackSigner(ttl)
	if err := s.Activate(keyBytes, limit); err != nil {
		t.Fatalf("activate: %v", err)
	}
	return s
}

func TestSignRequiresActiveSession(t *testing.T) {
	s := NewRollbackSigner(time.Minute)
	_, err := s.Sign(testDomain(), testPayload())
	if err != ErrNoActiveSession {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
}

func TestSignSucceedsWithinLimit(t *testing.T) {
	s := activatedSigner(t, time.Minute, big.NewInt(10_000_000))
	sig, err := s.Sign(testDomain(), testPayload())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("expected 65-byte signature, got %d", len(sig))
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Fatalf("expected recovery id 27/28, got %d", sig[64])
	}
}

func TestSignRejectsOverLimit(t *testing.T) {
	s := activatedSigner(t, time.Minute, big.NewInt(500_000))
	if _, err := s.Sign(testDomain(), testPayload()); err != ErrValueLimitExceeded {
		t.Fatalf("expected ErrValueLimitExceeded, got %v", err)
	}
}

func TestSignAccumulatesValueAcrossCalls(t *testing.T) {
	s := activatedSigner(t, time.Minute, big.NewInt(1_500_000))
	if _, err := s.Sign(testDomain(), testPayload()); err != nil {
		t.Fatalf("first sign: %v", err)
	}
	if _, err := s.Sign(testDomain(), testPayload()); err != ErrValueLimitExceeded {
		t.Fatalf("expected second sign to exceed cumulative limit, got %v", err)
	}
}

func TestSignExpiresAndDestroysSession(t *testing.T) {
	s := activatedSigner(t, time.Millisecond, big.NewInt(10_000_000))
	time.Sleep(5 * time.Millisecond)

	if _, err := s.Sign(testDomain(), testPayload()); err != ErrSessionExpired {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}

	active, _, _, _, _ := s.Status()
	if active {
		t.Fatalf("expected session destroyed after expiry")
	}
}

func TestDestroyClearsSession(t *testing.T) {
	s := activatedSigner(t, time.Minute, big.NewInt(10_000_000))
	s.Destroy()

	active, _, _, _, _ := s.Status()
	if active {
		t.Fatalf("expected session inactive after Destroy")
	}
	if _, err := s.Sign(testDomain(), testPayload()); err != ErrNoActiveSession {
		t.Fatalf("expected ErrNoActiveSession after Destroy, got %v", err)
	}
}
