// Package quantum implements the hybrid post-quantum envelope:
// ML-KEM-1024 encapsulation combined with AES-256-GCM, HKDF-SHA256 key
// derivation, and an HMAC-SHA256 integrity proof binding the whole
// structure together.
package quantum

import (
	"crypto/rand"

	"github.com/cloudflare/circl/kem/mlkem/mlkem1024"
)

// FIPS 203 ML-KEM-1024 key/ciphertext sizes.
const (
	PublicKeySize  = mlkem1024.PublicKeySize
	PrivateKeySize = mlkem1024.PrivateKeySize
	CiphertextSize = mlkem1024.CiphertextSize
	SharedKeySize  = mlkem1024.SharedKeySize
)

// KeyPair is an ML-KEM-1024 encapsulation/decapsulation key pair.
type KeyPair struct {
	Public  *mlkem1024.PublicKey
	Private *mlkem1024.PrivateKey
}

// GenerateKeyPair produces a fresh ML-KEM-1024 key pair from the system
// CSPRNG.
func GenerateKeyPair() (*KeyPair, error) {
	pk, sk, err := mlkem1024.GenerateKeyPair(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Public: pk, Private: sk}, nil
}

// PublicKeyBytes returns the packed encapsulation key.
func (kp *KeyPair) PublicKeyBytes() []byte {
	buf := make([]byte, PublicKeySize)
	kp.Public.Pack(buf)
	return buf
}

// PrivateKeyBytes returns the packed decapsulation key. Callers must
// zeroize the returned slice once it is no longer needed.
func (kp *KeyPair) PrivateKeyBytes() []byte {
	buf := make([]byte, PrivateKeySize)
	kp.Private.Pack(buf)
	return buf
}

// ParsePublicKey unpacks a 1568-byte ML-KEM-1024 public key.
func ParsePublicKey(data []byte) (*mlkem1024.PublicKey, error) {
	if len(data) != PublicKeySize {
		return nil, ErrInvalidKeySize
	}
	pk := new(mlkem1024.PublicKey)
	if err := pk.Unpack(data); err != nil {
		return nil, err
	}
	return pk, nil
}

// ParsePrivateKey unpacks a 3168-byte ML-KEM-1024 private key.
func ParsePrivateKey(data []byte) (*mlkem1024.PrivateKey, error) {
	if len(data) != PrivateKeySize {
		return nil, ErrInvalidKeySize
	}
	sk := new(mlkem1024.PrivateKey)
	if err := sk.Unpack(data); err != nil {
		return nil, err
	}
	return sk, nil
}

// Encapsulate performs ML-KEM-1024 encapsulation against pk, returning the
// ciphertext and the 32-byte shared secret.
func Encapsulate(pk *mlkem1024.PublicKey) (ciphertext, sharedSecret []byte, err error) {
	if pk == nil {
		return nil, nil, ErrInvalidPublicKey
	}

	ct := make([]byte, CiphertextSize)
	ss := make([]byte, SharedKeySize)

	seed := make([]byte, mlkem1024.EncapsulationSeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, nil, err
	}

	pk.EncapsulateTo(ct, ss, seed)
	return ct, ss, nil
}

// Decapsulate recovers the shared secret from a ciphertext under sk.
func Decapsulate(sk *mlkem1024.PrivateKey, ciphertext []byte) ([]byte, error) {
	if sk == nil {
		return nil, ErrInvalidPrivateKey
	}
	if len(ciphertext) != CiphertextSize {
		return nil, ErrInvalidCiphertext
	}

	ss := make([]byte, SharedKeySize)
	sk.DecapsulateTo(ss, ciphertext)
	return ss, nil
}
