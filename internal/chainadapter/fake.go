package chainadapter

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Fake is an in-memory Adapter used by orchestrator tests and local
// development; it immediately confirms every submitted transaction and
// tracks processed hashes for replay-detection tests.
type Fake struct {
	mu        sync.Mutex
	processed map[[32]byte]bool
	txs       map[string]TxStatus
	confirmAt int // not consulted: GetStatus reports every submitted tx confirmed
	seen      map[string]int

	// FailLock, when set, causes Lock to return this error instead of succeeding.
	FailLock error
}

// NewFake creates a Fake adapter that reports transactions confirmed
// immediately (confirmAt=0).
func NewFake() *Fake {
	return &Fake{
		processed: make(map[[32]byte]bool),
		txs:       make(map[string]TxStatus),
		seen:      make(map[string]int),
	}
}

func (f *Fake) submit(h [32]byte) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed[h] = true
	txHash := "0x" + uuid.New().String()
	f.txs[txHash] = TxStatus{Status: StatusConfirmed, Confirmations: 12}
	return txHash
}

func (f *Fake) Lock(ctx context.Context, amount string, toChain string, h [32]byte, user string) (string, error) {
	if f.FailLock != nil {
		return "", f.FailLock
	}
	return f.submit(h), nil
}

func (f *Fake) Unlock(ctx context.Context, recipient string, amount string, fromChain string, h [32]byte, adminSig []byte) (string, error) {
	return f.submit(h), nil
}

func (f *Fake) Mint(ctx context.Context, recipient string, amount string, h [32]byte) (string, error) {
	return f.submit(h), nil
}

func (f *Fake) Burn(ctx context.Context, amount string, h [32]byte, adminSig []byte) (string, error) {
	return f.submit(h), nil
}

func (f *Fake) IsProcessed(ctx context.Context, h [32]byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.processed[h], nil
}

func (f *Fake) GetStatus(ctx context.Context, txHash string) (TxStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.txs[txHash]
	if !ok {
		return TxStatus{Status: StatusNotFound}, nil
	}
	return st, nil
}

var _ Adapter = (*Fake)(nil)
