package quantum

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Key is a per-user envelope key record. The private
// key material is held only as an opaque, encrypted-at-rest blob; it is
// decrypted transiently by the caller (via internal/kms) and never stored
// in plaintext in the KeyStore.
type Key struct {
	ID                  uuid.UUID
	UserID              uuid.UUID
	Algorithm           string
	PublicKey           []byte // 1568 bytes
	EncryptedPrivateKey []byte // opaque, KMS-encrypted
	CreatedAt           time.Time
	ExpiresAt           time.Time
	IsActive            bool
	IsCompromised       bool
	RotationGeneration  int
	PreviousKeyID       *uuid.UUID
}

// KeyStore is an identity-addressable arena of quantum keys guarded by a
// single writer lock: callers look keys up and mutate them by id, never
// holding a raw reference across an await/suspension point.
type KeyStore struct {
	mu   sync.RWMutex
	keys map[uuid.UUID]*Key
}

// NewKeyStore creates an empty in-process key arena. Keys live only in
// memory; internal/store does not persist them.
func NewKeyStore() *KeyStore {
	return &KeyStore{keys: make(map[uuid.UUID]*Key)}
}

// Put inserts or replaces a key record.
func (s *KeyStore) Put(k *Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *k
	s.keys[k.ID] = &cp
}

// Get returns a copy of the key record for id, or false if absent.
func (s *KeyStore) Get(id uuid.UUID) (Key, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[id]
	if !ok {
		return Key{}, false
	}
	return *k, true
}

// ActiveForUser returns the current active, non-compromised key for a
// user, if any. This is the only key new encryptions may use.
func (s *KeyStore) ActiveForUser(userID uuid.UUID) (Key, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.keys {
		if k.UserID == userID && k.IsActive && !k.IsCompromised {
			return *k, true
		}
	}
	return Key{}, false
}

// MarkCompromised flags a key so it can never again be returned by
// ActiveForUser: a compromised key is never again handed out for new encryptions.
func (s *KeyStore) MarkCompromised(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[id]; ok {
		k.IsCompromised = true
		k.IsActive = false
	}
}

// Rotate generates a fresh key for the user, chaining it to the previous
// active key via PreviousKeyID, and deactivates the previous key.
func (s *KeyStore) Rotate(userID uuid.UUID, ttl time.Duration) (*Key, error) {
	kp, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var prev *Key
	gen := 0
	for _, k := range s.keys {
		if k.UserID == userID && k.IsActive {
			prev = k
			gen = k.RotationGeneration
			k.IsActive = false
		}
	}

	newKey := &Key{
		ID:                 uuid.New(),
		UserID:             userID,
		Algorithm:          "ml-kem-1024",
		PublicKey:          kp.PublicKeyBytes(),
		CreatedAt:          time.Now(),
		ExpiresAt:          time.Now().Add(ttl),
		IsActive:           true,
		RotationGeneration: gen + 1,
	}
	if prev != nil {
		prevID := prev.ID
		newKey.PreviousKeyID = &prevID
	}

	s.keys[newKey.ID] = newKey
	cp := *newKey
	return &cp, nil
}
