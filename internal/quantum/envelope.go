package quantum

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"time"

	"github.com/cloudflare/circl/kem/mlkem/mlkem1024"
	"golang.org/x/crypto/hkdf"
)

// SchemeVersion is the current hybrid envelope wire version.
const SchemeVersion uint8 = 1

const (
	aesKeySize   = 32
	aesNonceSize = 12
	hmacSize     = 32
)

// Envelope is the ciphertext carrier for a quantum-wrapped secret.
type Envelope struct {
	MLKemCiphertext []byte
	AESNonce        []byte // 12 bytes
	AESCiphertext   []byte // variable + 16-byte GCM tag
	IntegrityProof  []byte // HMAC-SHA256, 32 bytes
	EncryptedAt     time.Time
	SchemeVersion   uint8
}

// Encrypt performs: encrypt(pubkey, plaintext, context) → Envelope.
//
//  1. ML-KEM-1024 encapsulation against pk yields (ctKem, ss).
//  2. aesKey = HKDF-SHA256(ikm=ss, salt=nil, info=context||"aes-256-gcm", L=32).
//  3. Sample a uniformly random 96-bit nonce; seal plaintext with AES-256-GCM.
//  4. proof = HMAC-SHA256(aesKey, lenPrefixed(ctKem) || lenPrefixed(nonce) || lenPrefixed(ctAes)).
func Encrypt(pk *mlkem1024.PublicKey, plaintext []byte, context string) (*Envelope, error) {
	ctKem, ss, err := Encapsulate(pk)
	if err != nil {
		return nil, err
	}
	defer zero(ss)

	aesKey, err := deriveAESKey(ss, context)
	if err != nil {
		return nil, err
	}
	defer zero(aesKey)

	nonce := make([]byte, aesNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	ctAES, err := sealAESGCM(aesKey, nonce, plaintext)
	if err != nil {
		return nil, err
	}

	proof := integrityProof(aesKey, ctKem, nonce, ctAES)

	return &Envelope{
		MLKemCiphertext: ctKem,
		AESNonce:        nonce,
		AESCiphertext:   ctAES,
		IntegrityProof:  proof,
		EncryptedAt:     time.Now(),
		SchemeVersion:   SchemeVersion,
	}, nil
}

// Decrypt performs: decrypt(privkey, envelope, context) → plaintext | Error.
//
// An unsupported scheme version is rejected up front with
// ErrUnsupportedVersion. Every later failure (decapsulation, integrity
// mismatch, GCM open failure) collapses to the single opaque
// ErrVerificationFailed so no oracle is leaked to an attacker probing which
// step failed.
func Decrypt(sk *mlkem1024.PrivateKey, env *Envelope, context string) ([]byte, error) {
	if env.SchemeVersion != SchemeVersion {
		return nil, ErrUnsupportedVersion
	}

	ss, err := Decapsulate(sk, env.MLKemCiphertext)
	if err != nil {
		return nil, ErrVerificationFailed
	}
	defer zero(ss)

	aesKey, err := deriveAESKey(ss, context)
	if err != nil {
		return nil, ErrVerificationFailed
	}
	defer zero(aesKey)

	expected := integrityProof(aesKey, env.MLKemCiphertext, env.AESNonce, env.AESCiphertext)
	if subtle.ConstantTimeCompare(expected, env.IntegrityProof) != 1 {
		return nil, ErrVerificationFailed
	}

	plaintext, err := openAESGCM(aesKey, env.AESNonce, env.AESCiphertext)
	if err != nil {
		return nil, ErrVerificationFailed
	}

	return plaintext, nil
}

func deriveAESKey(sharedSecret []byte, context string) ([]byte, error) {
	info := append([]byte(context), []byte(aesInfoSuffix)...)
	r := hkdf.New(sha256.New, sharedSecret, nil, info)
	key := make([]byte, aesKeySize)
	if _, err := r.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

func sealAESGCM(key, nonce, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, nonce, plaintext, nil), nil
}

func openAESGCM(key, nonce, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// integrityProof computes HMAC-SHA256(aesKey, lenPrefixed(ctKem) ||
// lenPrefixed(nonce) || lenPrefixed(ctAes)), binding the KEM ciphertext and
// nonce to the encrypted payload so a substituted encapsulation cannot be
// paired with an unrelated AES ciphertext.
func integrityProof(aesKey, ctKem, nonce, ctAES []byte) []byte {
	mac := hmac.New(sha256.New, aesKey)
	writeLenPrefixed(mac, ctKem)
	writeLenPrefixed(mac, nonce)
	writeLenPrefixed(mac, ctAES)
	return mac.Sum(nil)
}

func writeLenPrefixed(mac interface{ Write([]byte) (int, error) }, data []byte) {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(data)))
	mac.Write(lenBuf[:])
	mac.Write(data)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
