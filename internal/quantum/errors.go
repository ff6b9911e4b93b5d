package quantum

import "errors"

var (
	ErrInvalidKeySize       = errors.New("quantum: invalid key size")
	ErrInvalidPublicKey     = errors.New("quantum: invalid public key")
	ErrInvalidPrivateKey    = errors.New("quantum: invalid private key")
	ErrInvalidCiphertext    = errors.New("quantum: invalid ciphertext")
	ErrUnsupportedVersion   = errors.New("quantum: unsupported scheme version")
	ErrVerificationFailed   = errors.New("quantum: verification failed")
	ErrKeyCompromised       = errors.New("quantum: key is marked compromised")
)
