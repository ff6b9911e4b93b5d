package chainverify

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"

	"github.com/mr-tron/base58"
)

// NearVerifier verifies ed25519 signatures for NEAR accounts. Full
// verification requires resolving the account's access-key list via RPC
// (Resolver); without a resolver it never fabricates a positive result —
// see the security note in SPEC_FULL.md's supplemented-features section.
type NearVerifier struct {
	Resolver NearKeyResolver
}

// VerifySignature base58-decodes signature, requires it to be exactly 64
// bytes, resolves the account's ed25519 access keys, and verifies against
// the SHA-256 digest of message. If no resolver is configured or the
// resolver cannot reach the network, it returns ErrKeyLookupUnavailable —
// never a forged positive.
func (v NearVerifier) VerifySignature(ctx context.Context, message, signature, address string) (bool, error) {
	sigBytes, err := base58.Decode(signature)
	if err != nil || len(sigBytes) != ed25519.SignatureSize {
		return false, ErrInvalidSignature
	}

	if !v.ValidateAddress(address) {
		return false, ErrInvalidSignature
	}

	if v.Resolver == nil {
		return false, ErrKeyLookupUnavailable
	}

	keys, err := v.Resolver.ResolveAccessKeys(ctx, address)
	if err != nil {
		return false, ErrKeyLookupUnavailable
	}
	if len(keys) == 0 {
		return false, ErrKeyLookupUnavailable
	}

	digest := sha256.Sum256([]byte(message))
	for _, pub := range keys {
		if ed25519.Verify(pub, digest[:], sigBytes) {
			return true, nil
		}
	}
	return false, nil
}

// ValidateAddress accepts a 64-hex-char implicit account or a named
// account ending in .near/.testnet with a lowercase/digit/-/_/. body.
func (NearVerifier) ValidateAddress(address string) bool {
	if len(address) < 2 || len(address) > 64 {
		return false
	}

	if len(address) == 64 {
		for _, c := range address {
			if !isHexDigit(c) {
				return false
			}
		}
		return true
	}

	var body string
	switch {
	case hasSuffix(address, ".near"):
		body = address[:len(address)-len(".near")]
	case hasSuffix(address, ".testnet"):
		body = address[:len(address)-len(".testnet")]
	default:
		return false
	}

	for _, c := range body {
		if !(c >= 'a' && c <= 'z') && !(c >= '0' && c <= '9') && c != '-' && c != '_' && c != '.' {
			return false
		}
	}
	return true
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}
