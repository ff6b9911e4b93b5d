package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"testing"
	"time"

	"github.com/mr-tron/base58"

	"github.com/itechmeat/kembridge/internal/chainverify"
)

type fakeNearResolver struct {
	pub ed25519.PublicKey
}

func (f fakeNearResolver) ResolveAccessKeys(ctx context.Context, accountID string) ([]ed25519.PublicKey, error) {
	return []ed25519.PublicKey{f.pub}, nil
}

func TestVerifyAndMintRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	nonces := NewNonceStore(5 * time.Minute)
	verifier := chainverify.NewMultiChainVerifier(fakeNearResolver{pub: pub})
	authr := NewAuthenticator(nonces, verifier, nil, []byte("test-secret"), 24*time.Hour)

	wallet := "alice.near"
	nonceHex, message, err := nonces.IssueChallenge(wallet, chainverify.ChainNear)
	if err != nil {
		t.Fatalf("issue challenge: %v", err)
	}

	digest := sha256.Sum256([]byte(message))
	sig := ed25519.Sign(priv, digest[:])

	token, err := authr.VerifyAndMint(context.Background(), wallet, chainverify.ChainNear, nonceHex, base58.Encode(sig), message)
	if err != nil {
		t.Fatalf("verify and mint: %v", err)
	}
	if token == "" {
		t.Fatalf("expected non-empty token")
	}

	claims, err := authr.ParseToken(token)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if claims.WalletAddress != wallet {
		t.Errorf("unexpected wallet in claims: %s", claims.WalletAddress)
	}
}

func TestNonceSingleUse(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	nonces := NewNonceStore(5 * time.Minute)
	verifier := chainverify.NewMultiChainVerifier(fakeNearResolver{pub: pub})
	authr := NewAuthenticator(nonces, verifier, nil, []byte("test-secret"), 24*time.Hour)

	wallet := "alice.near"
	nonceHex, message, err := nonces.IssueChallenge(wallet, chainverify.ChainNear)
	if err != nil {
		t.Fatalf("issue challenge: %v", err)
	}

	digest := sha256.Sum256([]byte(message))
	sig := ed25519.Sign(priv, digest[:])
	sigEncoded := base58.Encode(sig)

	if _, err := authr.VerifyAndMint(context.Background(), wallet, chainverify.ChainNear, nonceHex, sigEncoded, message); err != nil {
		t.Fatalf("first verify: %v", err)
	}

	if _, err := authr.VerifyAndMint(context.Background(), wallet, chainverify.ChainNear, nonceHex, sigEncoded, message); err != ErrNonceConsumed {
		t.Errorf("expected ErrNonceConsumed on replay, got %v", err)
	}
}

func TestFailedSignatureAllowsRetryOnSameNonce(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	nonces := NewNonceStore(5 * time.Minute)
	verifier := chainverify.NewMultiChainVerifier(fakeNearResolver{pub: pub})
	authr := NewAuthenticator(nonces, verifier, nil, []byte("test-secret"), 24*time.Hour)

	wallet := "alice.near"
	nonceHex, message, err := nonces.IssueChallenge(wallet, chainverify.ChainNear)
	if err != nil {
		t.Fatalf("issue challenge: %v", err)
	}

	badSig := base58.Encode(make([]byte, ed25519.SignatureSize))
	if _, err := authr.VerifyAndMint(context.Background(), wallet, chainverify.ChainNear, nonceHex, badSig, message); err != ErrVerificationFailed {
		t.Fatalf("expected ErrVerificationFailed, got %v", err)
	}

	digest := sha256.Sum256([]byte(message))
	goodSig := base58.Encode(ed25519.Sign(priv, digest[:]))

	token, err := authr.VerifyAndMint(context.Background(), wallet, chainverify.ChainNear, nonceHex, goodSig, message)
	if err != nil {
		t.Fatalf("expected retry with correct signature to succeed, got %v", err)
	}
	if token == "" {
		t.Fatalf("expected non-empty token")
	}
}

func TestIssueChallengeExpired(t *testing.T) {
	nonces := NewNonceStore(1 * time.Millisecond)
	nonceHex, message, err := nonces.IssueChallenge("alice.near", chainverify.ChainNear)
	if err != nil {
		t.Fatalf("issue challenge: %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	if _, err := nonces.redeem(nonceHex, message); err != ErrNonceExpired {
		t.Errorf("expected ErrNonceExpired, got %v", err)
	}
}
