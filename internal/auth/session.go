package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/itechmeat/kembridge/internal/chainverify"
)

// Tier is the user's privilege tier, used by the risk admission controller
// for the admin-bypass decision.
type Tier string

const (
	TierAdmin   Tier = "admin"
	TierPremium Tier = "premium"
	TierFree    Tier = "free"
)

var (
	ErrVerificationFailed = errors.New("auth: signature verification failed")
	ErrKeyLookupUnavailable = chainverify.ErrKeyLookupUnavailable
)

// Claims are the JWT claims carried by a session token.
type Claims struct {
	jwt.RegisteredClaims
	WalletAddress string    `json:"wallet_address"`
	ChainType     string    `json:"chain_type"`
	SessionID     uuid.UUID `json:"session_id"`
	Tier          Tier      `json:"tier"`
}

// UserTierResolver sources a wallet's tier from an authoritative user
// record: tiering must not be derived from wallet-address heuristics in
// production. DefaultTierResolver below exists
// only to keep the authenticator usable without a backing user store, and
// every call site is expected to supply a real UserTierResolver in
// production wiring.
type UserTierResolver interface {
	ResolveTier(ctx context.Context, wallet string, chain chainverify.ChainType) (Tier, error)
}

// DefaultTierResolver always returns TierFree. It exists so Authenticator
// is usable out of the box; production deployments must supply a resolver
// backed by an authoritative user record.
type DefaultTierResolver struct{}

func (DefaultTierResolver) ResolveTier(context.Context, string, chainverify.ChainType) (Tier, error) {
	return TierFree, nil
}

// Authenticator issues nonces, verifies signed challenges via a
// chainverify.Verifier, and mints HS256 session tokens.
type Authenticator struct {
	Nonces     *NonceStore
	Verifier   *chainverify.MultiChainVerifier
	Tiers      UserTierResolver
	Secret     []byte
	SessionTTL time.Duration
}

// NewAuthenticator wires the nonce store, chain verifier, tier resolver,
// and JWT secret together.
func NewAuthenticator(nonces *NonceStore, verifier *chainverify.MultiChainVerifier, tiers UserTierResolver, secret []byte, sessionTTL time.Duration) *Authenticator {
	if tiers == nil {
		tiers = DefaultTierResolver{}
	}
	return &Authenticator{
		Nonces:     nonces,
		Verifier:   verifier,
		Tiers:      tiers,
		Secret:     secret,
		SessionTTL: sessionTTL,
	}
}

// VerifyAndMint redeems the nonce, verifies the wallet's signature over the
// canonical challenge, and on success mints a signed session token.
func (a *Authenticator) VerifyAndMint(ctx context.Context, wallet string, chain chainverify.ChainType, nonceHex, signature, message string) (string, error) {
	rec, err := a.Nonces.redeem(nonceHex, message)
	if err != nil {
		return "", err
	}
	if rec.Wallet != wallet || rec.Chain != chain {
		return "", ErrMessageMismatch
	}

	ok, err := a.Verifier.VerifySignature(ctx, chain, message, signature, wallet)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrVerificationFailed
	}

	if err := a.Nonces.commit(nonceHex); err != nil {
		return "", err
	}

	tier, err := a.Tiers.ResolveTier(ctx, wallet, chain)
	if err != nil {
		tier = TierFree
	}

	return a.mintToken(wallet, chain, tier)
}

func (a *Authenticator) mintToken(wallet string, chain chainverify.ChainType, tier Tier) (string, error) {
	now := time.Now()
	sessionID := uuid.New()

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   wallet,
			ExpiresAt: jwt.NewNumericDate(now.Add(a.SessionTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		WalletAddress: wallet,
		ChainType:     string(chain),
		SessionID:     sessionID,
		Tier:          tier,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.Secret)
}

// ParseToken validates a session token and returns its claims.
func (a *Authenticator) ParseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("auth: unexpected signing method")
		}
		return a.Secret, nil
	})
	if err != nil || !token.Valid {
		return nil, errors.New("auth: invalid session token")
	}
	return claims, nil
}
