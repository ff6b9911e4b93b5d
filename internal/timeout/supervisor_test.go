package timeout

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/itechmeat/kembridge/internal/chainadapter"
	"github.com/itechmeat/kembridge/internal/swap"
)

func expiredOp(status swap.Status) *swap.Operation {
	now := time.Now().Add(-time.Hour)
	return &swap.Operation{
		SwapID:      uuid.New(),
		UserID:      uuid.New(),
		FromChain:   "ethereum",
		ToChain:     "near",
		Amount:      "1000",
		UserAddress: "0x1234567890123456789012345678901234567890",
		Recipient:   "test.near",
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(30 * time.Minute), // already in the past
	}
}

func TestSweepRollsBackExpiredSourceLocked(t *testing.T) {
	store := swap.NewMemStore()
	op := expiredOp(swap.StatusSourceLocked)
	store.Create(context.Background(), op)

	source := chainadapter.NewFake()
	dest := chainadapter.NewFake()

	cfg := DefaultConfig()
	cfg.CompensationMaxRetries = 1
	sup := New(cfg, store, source, dest)

	sup.sweep(context.Background())

	got, err := store.Get(context.Background(), op.SwapID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != swap.StatusRolledBack {
		t.Fatalf("expected RolledBack, got %v", got.Status)
	}
}

// TestSweepRollsBackExpiredCancelled covers a swap that entered Cancelled
// (no Timeout edge in the transition table) rather than one of the
// in-flight statuses: it must still reach RolledBack instead of getting
// stuck on an illegal Timeout hop.
func TestSweepRollsBackExpiredCancelled(t *testing.T) {
	store := swap.NewMemStore()
	op := expiredOp(swap.StatusCancelled)
	store.Create(context.Background(), op)

	source := chainadapter.NewFake()
	dest := chainadapter.NewFake()

	cfg := DefaultConfig()
	cfg.CompensationMaxRetries = 1
	sup := New(cfg, store, source, dest)

	sup.sweep(context.Background())

	got, err := store.Get(context.Background(), op.SwapID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != swap.StatusRolledBack {
		t.Fatalf("expected RolledBack, got %v", got.Status)
	}
}

func TestSweepNoOpOnTerminal(t *testing.T) {
	store := swap.NewMemStore()
	op := expiredOp(swap.StatusCompleted)
	store.Create(context.Background(), op)

	source := chainadapter.NewFake()
	dest := chainadapter.NewFake()

	sup := New(DefaultConfig(), store, source, dest)
	sup.sweep(context.Background())

	got, _ := store.Get(context.Background(), op.SwapID)
	if got.Status != swap.StatusCompleted {
		t.Fatalf("terminal swap must not change status, got %v", got.Status)
	}
}

func TestSweepIgnoresNonExpired(t *testing.T) {
	store := swap.NewMemStore()
	op := expiredOp(swap.StatusSourceLocked)
	op.ExpiresAt = time.Now().Add(time.Hour) // not yet expired
	store.Create(context.Background(), op)

	sup := New(DefaultConfig(), store, chainadapter.NewFake(), chainadapter.NewFake())
	sup.sweep(context.Background())

	got, _ := store.Get(context.Background(), op.SwapID)
	if got.Status != swap.StatusSourceLocked {
		t.Fatalf("non-expired swap must not change status, got %v", got.Status)
	}
}
