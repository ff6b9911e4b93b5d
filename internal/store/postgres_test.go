package store

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/itechmeat/kembridge/internal/swap"
)

func sampleOperation() *swap.Operation {
	keyID := uuid.New()
	srcTx := "0xsource"
	now := time.Now().UTC().Truncate(time.Second)

	return &swap.Operation{
		SwapID:       uuid.New(),
		UserID:       uuid.New(),
		FromChain:    "ethereum",
		ToChain:      "near",
		Amount:       "1000000000000000000",
		UserAddress:  "0x1234567890123456789012345678901234567890",
		Recipient:    "bob.near",
		Status:       swap.StatusSourceLocked,
		QuantumKeyID: &keyID,
		SourceTxHash: &srcTx,
		DestTxHash:   nil,
		QuantumHash:  [32]byte{1, 2, 3, 4, 5},
		CreatedAt:    now,
		UpdatedAt:    now,
		ExpiresAt:    now.Add(30 * time.Minute),
	}
}

func TestOperationRoundTripsThroughRow(t *testing.T) {
	op := sampleOperation()

	row := fromOperation(op)
	got, err := row.toOperation()
	if err != nil {
		t.Fatalf("toOperation: %v", err)
	}

	if got.SwapID != op.SwapID || got.UserID != op.UserID {
		t.Fatalf("identity fields did not round-trip: got %+v, want %+v", got, op)
	}
	if got.Status != op.Status {
		t.Fatalf("status mismatch: got %s, want %s", got.Status, op.Status)
	}
	if got.UserAddress != op.UserAddress {
		t.Fatalf("user address mismatch: got %s, want %s", got.UserAddress, op.UserAddress)
	}
	if got.QuantumHash != op.QuantumHash {
		t.Fatalf("quantum hash mismatch: got %x, want %x", got.QuantumHash, op.QuantumHash)
	}
	if got.QuantumKeyID == nil || *got.QuantumKeyID != *op.QuantumKeyID {
		t.Fatalf("quantum key id did not round-trip")
	}
	if got.SourceTxHash == nil || *got.SourceTxHash != *op.SourceTxHash {
		t.Fatalf("source tx hash did not round-trip")
	}
	if got.DestTxHash != nil {
		t.Fatalf("nil dest tx hash should stay nil, got %v", got.DestTxHash)
	}
	if !got.ExpiresAt.Equal(op.ExpiresAt) {
		t.Fatalf("expires_at mismatch: got %v, want %v", got.ExpiresAt, op.ExpiresAt)
	}
}

func TestRowToOperationRejectsBadHash(t *testing.T) {
	row := fromOperation(sampleOperation())
	row.QuantumHash = "not-hex"

	if _, err := row.toOperation(); err == nil {
		t.Fatalf("expected decode error for malformed quantum hash")
	}
}

func TestTableName(t *testing.T) {
	if (swapRow{}).TableName() != "swap_operations" {
		t.Fatalf("unexpected table name: %s", (swapRow{}).TableName())
	}
}

func containsStatus(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestPredecessorsOfIncludesLegalSourcesAndSelf(t *testing.T) {
	m := swap.New()

	preds := predecessorsOf(m, swap.StatusSourceLocked)
	if !containsStatus(preds, string(swap.StatusSourceLocking)) {
		t.Fatalf("expected source_locking as a legal predecessor of source_locked, got %v", preds)
	}
	if !containsStatus(preds, string(swap.StatusSourceLocked)) {
		t.Fatalf("expected a status to be its own predecessor (idempotent rewrite), got %v", preds)
	}
	if containsStatus(preds, string(swap.StatusCompleted)) {
		t.Fatalf("completed must never precede source_locked, got %v", preds)
	}
}

func TestPredecessorsOfInitialStatusHasNoExternalSources(t *testing.T) {
	m := swap.New()

	preds := predecessorsOf(m, swap.StatusInitialized)
	if len(preds) != 1 || preds[0] != string(swap.StatusInitialized) {
		t.Fatalf("initialized should only be reachable from itself, got %v", preds)
	}
}
