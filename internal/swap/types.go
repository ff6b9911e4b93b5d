// Package swap implements the swap state machine and orchestrator: the
// durable lifecycle of a single cross-chain transfer, and the driver
// that walks it from intent to settlement.
package swap

import (
	"time"

	"github.com/google/uuid"
)

// Status is a SwapOperation's lifecycle state.
type Status string

const (
	StatusInitialized Status = "initialized"
	StatusSourceLocking Status = "source_locking"
	StatusSourceLocked  Status = "source_locked"
	StatusDestMinting   Status = "dest_minting"
	StatusDestMinted    Status = "dest_minted"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
	StatusTimeout       Status = "timeout"
	StatusCancelled     Status = "cancelled"
	StatusRolledBack    Status = "rolled_back"
)

// Operation is the central aggregate: one record per cross-chain
// transfer. Naming generalizes the ETH-locking/NEAR-minting vocabulary to
// source/dest so the same type serves both swap directions.
type Operation struct {
	SwapID        uuid.UUID
	UserID        uuid.UUID
	FromChain     string
	ToChain       string
	Amount        string // decimal string, atomic units of the source asset
	UserAddress   string // caller's own source-chain wallet address
	Recipient     string // destination-chain beneficiary address
	Status        Status
	QuantumKeyID  *uuid.UUID
	SourceTxHash  *string
	DestTxHash    *string
	QuantumHash   [32]byte
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ExpiresAt     time.Time
}

// Params describes a requested swap (the input to InitiateSwap).
type Params struct {
	FromChain   string
	ToChain     string
	Amount      string
	UserAddress string // caller's own source-chain wallet address
	Recipient   string // destination-chain beneficiary address
}
