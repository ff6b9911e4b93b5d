// Package store implements the gorm+postgres persistence backend for
// swap.Store: the durable record of every SwapOperation, surviving
// process restarts so the timeout supervisor can rehydrate purely by
// reading persisted expires_at values.
package store

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/itechmeat/kembridge/internal/swap"
)

// swapRow is the gorm model backing swap.Operation. QuantumHash and the
// nullable tx-hash/key-id fields are flattened to column-friendly types;
// toOperation/fromOperation convert at the boundary so the rest of the
// codebase only ever sees swap.Operation.
type swapRow struct {
	SwapID       uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID       uuid.UUID `gorm:"type:uuid;index"`
	FromChain    string
	ToChain      string
	Amount       string
	UserAddress  string
	Recipient    string
	Status       string `gorm:"index"`
	QuantumKeyID *uuid.UUID
	SourceTxHash *string
	DestTxHash   *string
	QuantumHash  string // hex-encoded [32]byte
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ExpiresAt    time.Time `gorm:"index"`
}

func (swapRow) TableName() string { return "swap_operations" }

func fromOperation(op *swap.Operation) *swapRow {
	return &swapRow{
		SwapID:       op.SwapID,
		UserID:       op.UserID,
		FromChain:    op.FromChain,
		ToChain:      op.ToChain,
		Amount:       op.Amount,
		UserAddress:  op.UserAddress,
		Recipient:    op.Recipient,
		Status:       string(op.Status),
		QuantumKeyID: op.QuantumKeyID,
		SourceTxHash: op.SourceTxHash,
		DestTxHash:   op.DestTxHash,
		QuantumHash:  hex.EncodeToString(op.QuantumHash[:]),
		CreatedAt:    op.CreatedAt,
		UpdatedAt:    op.UpdatedAt,
		ExpiresAt:    op.ExpiresAt,
	}
}

func (r *swapRow) toOperation() (*swap.Operation, error) {
	raw, err := hex.DecodeString(r.QuantumHash)
	if err != nil {
		return nil, fmt.Errorf("store: decode quantum hash: %w", err)
	}
	var h [32]byte
	copy(h[:], raw)

	return &swap.Operation{
		SwapID:       r.SwapID,
		UserID:       r.UserID,
		FromChain:    r.FromChain,
		ToChain:      r.ToChain,
		Amount:       r.Amount,
		UserAddress:  r.UserAddress,
		Recipient:    r.Recipient,
		Status:       swap.Status(r.Status),
		QuantumKeyID: r.QuantumKeyID,
		SourceTxHash: r.SourceTxHash,
		DestTxHash:   r.DestTxHash,
		QuantumHash:  h,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		ExpiresAt:    r.ExpiresAt,
	}, nil
}

// allStatuses enumerates every swap.Status so predecessorsOf can invert
// the state machine's transition table into "what statuses can legally
// become X" for the conditional-update guard below.
var allStatuses = []swap.Status{
	swap.StatusInitialized,
	swap.StatusSourceLocking,
	swap.StatusSourceLocked,
	swap.StatusDestMinting,
	swap.StatusDestMinted,
	swap.StatusCompleted,
	swap.StatusFailed,
	swap.StatusTimeout,
	swap.StatusCancelled,
	swap.StatusRolledBack,
}

// predecessorsOf returns every status the state machine allows
// transitioning from into to, plus to itself (a no-op rewrite of the
// same status, e.g. retrying a failed Update, is always legal).
func predecessorsOf(m *swap.StateMachine, to swap.Status) []string {
	out := []string{string(to)}
	for _, from := range allStatuses {
		if m.CanTransition(from, to) {
			out = append(out, string(from))
		}
	}
	return out
}

// PostgresStore implements swap.Store over a gorm/postgres connection.
type PostgresStore struct {
	db      *gorm.DB
	machine *swap.StateMachine
}

// Open connects to dsn and runs AutoMigrate for the swap_operations
// table.
func Open(dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := db.AutoMigrate(&swapRow{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &PostgresStore{db: db, machine: swap.New()}, nil
}

// NewWithDB wraps an already-constructed *gorm.DB, for tests using
// sqlite/in-memory dialectors or a shared connection pool.
func NewWithDB(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db, machine: swap.New()}
}

func (s *PostgresStore) Create(ctx context.Context, op *swap.Operation) error {
	row := fromOperation(op)
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("store: create: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, swapID uuid.UUID) (*swap.Operation, error) {
	var row swapRow
	if err := s.db.WithContext(ctx).First(&row, "swap_id = ?", swapID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, swap.ErrSwapNotFound
		}
		return nil, fmt.Errorf("store: get: %w", err)
	}
	return row.toOperation()
}

// ErrConcurrentUpdate reports that a row's persisted status had already
// moved away from any status op.Status could legally follow — another
// writer won the race.
var ErrConcurrentUpdate = fmt.Errorf("store: concurrent status transition")

// Update persists op's full current state, guarded by
// "WHERE status IN (<legal predecessors of op.Status>)" — a generalized
// "UPDATE ... WHERE status = :expected_from" pattern, since the state
// machine allows more than one predecessor for some statuses. This makes
// a stale in-memory op a no-op write instead of a silent state clobber
// if a concurrent writer already advanced the row.
func (s *PostgresStore) Update(ctx context.Context, op *swap.Operation) error {
	row := fromOperation(op)
	legalFrom := predecessorsOf(s.machine, op.Status)

	res := s.db.WithContext(ctx).Model(&swapRow{}).
		Where("swap_id = ? AND status IN ?", op.SwapID, legalFrom).
		Updates(row)
	if res.Error != nil {
		return fmt.Errorf("store: update: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	if _, err := s.Get(ctx, op.SwapID); err != nil {
		return err
	}
	return ErrConcurrentUpdate
}

func (s *PostgresStore) ListNonTerminal(ctx context.Context) ([]*swap.Operation, error) {
	terminal := []string{
		string(swap.StatusCompleted),
		string(swap.StatusRolledBack),
	}

	var rows []swapRow
	if err := s.db.WithContext(ctx).Where("status NOT IN ?", terminal).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: list non-terminal: %w", err)
	}

	out := make([]*swap.Operation, 0, len(rows))
	for i := range rows {
		op, err := rows[i].toOperation()
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, nil
}

var _ swap.Store = (*PostgresStore)(nil)
