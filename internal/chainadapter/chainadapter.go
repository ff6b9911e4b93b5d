// Package chainadapter defines the interfaces the swap orchestrator
// and timeout supervisor consume to talk to the source/destination
// chains. Wire-level RPC encoding (EVM JSON-RPC, NEAR RPC) is out of
// scope for this module; only the contract shape and an in-memory fake
// implementation (for tests and local development) live here.
package chainadapter

import (
	"context"
	"errors"
)

// Status is the on-chain confirmation state of a submitted transaction.
type Status string

const (
	StatusNotFound  Status = "not_found"
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
)

// TxStatus reports a transaction's chain-side state.
type TxStatus struct {
	Status        Status
	Confirmations int
}

var ErrNotImplemented = errors.New("chainadapter: operation not implemented")

// Adapter is the shape shared by EthAdapter and NearAdapter:
// lock/unlock on the source side, mint/burn on the destination side, a
// replay-prevention check keyed by the quantum hash H, and status
// polling.
type Adapter interface {
	// Lock escrows amount on the source chain, tagged with the
	// replay-prevention hash H, crediting the eventual unlock to user.
	Lock(ctx context.Context, amount string, toChain string, h [32]byte, user string) (txHash string, err error)

	// Unlock releases previously-locked funds back to recipient — used
	// both for the reverse-direction flow and for rollback compensation.
	// adminSig is the RollbackSigner's signature over the compensation
	// payload when called from the timeout supervisor's admin-signed
	// unlock path; nil when called from a context that doesn't require one.
	Unlock(ctx context.Context, recipient string, amount string, fromChain string, h [32]byte, adminSig []byte) (txHash string, err error)

	// Mint creates wrapped assets on the destination chain for recipient.
	Mint(ctx context.Context, recipient string, amount string, h [32]byte) (txHash string, err error)

	// Burn destroys wrapped assets on the destination chain — used both
	// for the reverse-direction flow and for rollback compensation.
	// adminSig is the RollbackSigner's signature, as with Unlock.
	Burn(ctx context.Context, amount string, h [32]byte, adminSig []byte) (txHash string, err error)

	// IsProcessed reports whether H has already been consumed on this
	// chain, preventing double lock/mint/unlock/burn.
	IsProcessed(ctx context.Context, h [32]byte) (bool, error)

	// GetStatus polls confirmation state for a previously-submitted tx.
	GetStatus(ctx context.Context, txHash string) (TxStatus, error)
}
