// Package timeout implements the timeout/rollback supervisor: a
// cooperative sweep over non-terminal swaps that fires status-specific
// compensation once a swap's expires_at has passed.
package timeout

import (
	"context"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/itechmeat/kembridge/internal/chainadapter"
	"github.com/itechmeat/kembridge/internal/signer"
	"github.com/itechmeat/kembridge/internal/swap"
)

// rollbackDomain is the fixed EIP-712 domain admin rollback signatures are
// scoped to — an off-chain authorization attestation, not a per-chain
// native signature the target chain itself verifies.
var rollbackDomain = &signer.DomainData{
	Name:              "KEMBridge",
	Version:           "1",
	ChainID:           big.NewInt(11155111), // Sepolia
	VerifyingContract: ethcommon.Address{},
}

// Config tunes the supervisor's sweep cadence and compensation retry
// policy.
type Config struct {
	// PollInterval is how often the supervisor scans for expired swaps.
	PollInterval time.Duration

	// CompensationMaxRetries/BaseDelayMs mirror the risk client's backoff
	// policy: compensation retries use the same exponential-backoff shape.
	CompensationMaxRetries int
	CompensationBaseDelayMs int
}

// DefaultConfig returns the supervisor's default sweep and retry settings.
func DefaultConfig() Config {
	return Config{
		PollInterval:            10 * time.Second,
		CompensationMaxRetries:  3,
		CompensationBaseDelayMs: 200,
	}
}

// Supervisor watches non-terminal swaps and drives expired ones through
// compensation, using an injectable clock and a select-driven Run(ctx)
// that blocks until cancelled.
type Supervisor struct {
	cfg     Config
	store   swap.Store
	machine *swap.StateMachine
	source  chainadapter.Adapter
	dest    chainadapter.Adapter
	nowFunc func() time.Time

	// Signer authorizes each compensating Unlock/Burn with an admin
	// signature. Nil is valid — compensation then proceeds unsigned, for
	// tests and local development without a provisioned admin key.
	Signer *signer.RollbackSigner
}

// New constructs a Supervisor over the orchestrator's store and chain
// adapters.
func New(cfg Config, store swap.Store, source, dest chainadapter.Adapter) *Supervisor {
	return &Supervisor{
		cfg:     cfg,
		store:   store,
		machine: swap.New(),
		source:  source,
		dest:    dest,
		nowFunc: time.Now,
	}
}

// Run sweeps for expired swaps every PollInterval until ctx is
// cancelled. On process restart this rehydrates timers purely by reading
// persisted expires_at values — there is no separate timer-registration
// step.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Supervisor) sweep(ctx context.Context) {
	ops, err := s.store.ListNonTerminal(ctx)
	if err != nil {
		return
	}
	now := s.nowFunc()
	for _, op := range ops {
		if now.Before(op.ExpiresAt) {
			continue
		}
		s.handleExpired(ctx, op.SwapID)
	}
}

// handleExpired is a no-op on terminal swaps. Otherwise it dispatches
// status-specific compensation, then moves the swap to RolledBack, passing
// through Timeout when the transition table has that edge.
func (s *Supervisor) handleExpired(ctx context.Context, swapID uuid.UUID) {
	op, err := s.store.Get(ctx, swapID)
	if err != nil {
		return
	}
	if s.machine.IsTerminal(op.Status) {
		return
	}

	switch op.Status {
	case swap.StatusSourceLocking:
		// Pending source tx: nothing to cancel mid-flight in this
		// model; it drains to confirmed-or-failed and the next sweep
		// observes the new state.
	case swap.StatusSourceLocked:
		sig := s.signRollback(op)
		s.compensate(ctx, func() error {
			_, err := s.source.Unlock(ctx, op.UserAddress, op.Amount, op.FromChain, op.QuantumHash, sig)
			return err
		})
	case swap.StatusDestMinting:
		// Pending mint: same reasoning as SourceLocking above.
	case swap.StatusDestMinted:
		sig := s.signRollback(op)
		s.compensate(ctx, func() error {
			if _, err := s.dest.Burn(ctx, op.Amount, op.QuantumHash, sig); err != nil {
				return err
			}
			_, err := s.source.Unlock(ctx, op.UserAddress, op.Amount, op.FromChain, op.QuantumHash, sig)
			return err
		})
	}

	// Failed/Cancelled swaps have no Timeout edge in the transition table
	// and go straight to RolledBack; the in-flight statuses hop through
	// Timeout first.
	if op.Status != swap.StatusTimeout && s.machine.CanTransition(op.Status, swap.StatusTimeout) {
		if err := s.machine.Transition(op, swap.StatusTimeout); err != nil {
			return
		}
		if err := s.store.Update(ctx, op); err != nil {
			return
		}
	}

	if err := s.machine.Transition(op, swap.StatusRolledBack); err != nil {
		return
	}
	_ = s.store.Update(ctx, op)
}

// signRollback produces the admin signature authorizing op's compensation,
// or nil if no signer is configured or signing fails — compensation still
// proceeds, since a missing/expired admin session must never block
// rollback of user funds.
func (s *Supervisor) signRollback(op *swap.Operation) []byte {
	if s.Signer == nil {
		return nil
	}
	amount, ok := new(big.Int).SetString(op.Amount, 10)
	if !ok {
		return nil
	}
	var swapID [32]byte
	copy(swapID[16:], op.SwapID[:])
	payload := &signer.RollbackPayload{
		SwapID:      swapID,
		QuantumHash: op.QuantumHash,
		Recipient:   ethcommon.HexToAddress(op.UserAddress),
		Amount:      amount,
		FromChain:   op.FromChain,
		Nonce:       big.NewInt(s.nowFunc().UnixNano()),
	}
	sig, err := s.Signer.Sign(rollbackDomain, payload)
	if err != nil {
		return nil
	}
	return sig
}

// compensate retries a compensating chain call with the same bounded
// exponential backoff policy the risk client uses.
func (s *Supervisor) compensate(ctx context.Context, op func() error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = time.Duration(s.cfg.CompensationBaseDelayMs) * time.Millisecond
	exp.Multiplier = 2
	exp.MaxElapsedTime = 0

	bo := backoff.WithMaxRetries(exp, uint64(s.cfg.CompensationMaxRetries-1))
	_ = backoff.Retry(op, backoff.WithContext(bo, ctx))
}
