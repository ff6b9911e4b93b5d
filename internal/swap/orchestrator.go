package swap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/itechmeat/kembridge/internal/auth"
	"github.com/itechmeat/kembridge/internal/chainadapter"
	"github.com/itechmeat/kembridge/internal/eventbus"
	"github.com/itechmeat/kembridge/internal/kerrors"
	"github.com/itechmeat/kembridge/internal/quantum"
	"github.com/itechmeat/kembridge/internal/risk"
)

var (
	ErrSwapNotFound     = errors.New("swap: not found")
	ErrInvalidState     = errors.New("swap: operation invalid in current state")
	ErrReplayDetected   = errors.New("swap: quantum hash already processed")
	ErrNoQuantumKey     = errors.New("swap: no active quantum key for user")
)

// Store persists SwapOperation records. Update must be atomic with the
// state-machine check it guards — an "UPDATE ... WHERE status =
// :expected_from" pattern — which internal/store's gorm implementation
// enforces with a conditional UPDATE; the in-memory Store below enforces
// it with the orchestrator's per-swap lock instead.
type Store interface {
	Create(ctx context.Context, op *Operation) error
	Get(ctx context.Context, swapID uuid.UUID) (*Operation, error)
	Update(ctx context.Context, op *Operation) error
	ListNonTerminal(ctx context.Context) ([]*Operation, error)
}

// MemStore is an in-memory Store, used for tests and as the reference
// implementation internal/store's persistent backend must match.
type MemStore struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*Operation
}

func NewMemStore() *MemStore {
	return &MemStore{byID: make(map[uuid.UUID]*Operation)}
}

func (s *MemStore) Create(ctx context.Context, op *Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *op
	s.byID[op.SwapID] = &cp
	return nil
}

func (s *MemStore) Get(ctx context.Context, swapID uuid.UUID) (*Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.byID[swapID]
	if !ok {
		return nil, ErrSwapNotFound
	}
	cp := *op
	return &cp, nil
}

func (s *MemStore) Update(ctx context.Context, op *Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[op.SwapID]; !ok {
		return ErrSwapNotFound
	}
	cp := *op
	s.byID[op.SwapID] = &cp
	return nil
}

func (s *MemStore) ListNonTerminal(ctx context.Context) ([]*Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := New()
	var out []*Operation
	for _, op := range s.byID {
		if !m.IsTerminal(op.Status) {
			cp := *op
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Orchestrator drives a swap through validation, risk screening,
// quantum-envelope encryption, source-chain lock, and destination-chain
// mint, invoking the quantum, risk, and state-machine packages along with
// the chain adapters.
type Orchestrator struct {
	Store              Store
	Machine            *StateMachine
	Keys               *quantum.KeyStore
	KeyTTL             time.Duration
	Risk               *risk.Client
	Thresholds         risk.Thresholds
	FailPolicy         risk.FailurePolicy
	AdminBypassAllowed bool
	Reviews            *risk.Queue
	SwapTTL            time.Duration
	Source             chainadapter.Adapter
	Dest               chainadapter.Adapter
	// Events publishes progress to event bus subscribers. Nil is valid —
	// a hub-less Orchestrator (tests, offline replay) simply drives swaps
	// without notifying anyone.
	Events *eventbus.Hub

	// Replay is a fast Redis-backed pre-check consulted before the
	// authoritative chainadapter.Adapter.IsProcessed call. Nil skips
	// straight to the authoritative check.
	Replay *risk.ReplayCache

	locksMu sync.Mutex
	locks   map[uuid.UUID]*sync.Mutex
}

// NewOrchestrator wires an Orchestrator's collaborators.
func NewOrchestrator(store Store, keys *quantum.KeyStore, riskClient *risk.Client, reviews *risk.Queue, source, dest chainadapter.Adapter) *Orchestrator {
	return &Orchestrator{
		Store:   store,
		Machine: New(),
		Keys:    keys,
		KeyTTL:  90 * 24 * time.Hour,
		Risk:    riskClient,
		Reviews: reviews,
		SwapTTL: 30 * time.Minute,
		Source:  source,
		Dest:    dest,
		locks:   make(map[uuid.UUID]*sync.Mutex),
	}
}

// publish notifies event bus subscribers of a status change, best-effort:
// a subscriber send failure never aborts the swap it describes.
func (o *Orchestrator) publish(op *Operation) {
	if o.Events == nil {
		return
	}
	_ = o.Events.Publish(op.UserID, eventbus.EventBridgeOperations, map[string]string{
		"swap_id": op.SwapID.String(),
		"status":  string(op.Status),
	})
	_ = o.Events.Publish(op.UserID, eventbus.EventTransactionStatus, map[string]string{
		"swap_id": op.SwapID.String(),
		"status":  string(op.Status),
	})
}

// lockFor returns the per-swap advisory mutex, creating it if absent.
// This linearizes concurrent drive(swap_id) calls against the same swap.
func (o *Orchestrator) lockFor(id uuid.UUID) *sync.Mutex {
	o.locksMu.Lock()
	defer o.locksMu.Unlock()
	l, ok := o.locks[id]
	if !ok {
		l = &sync.Mutex{}
		o.locks[id] = l
	}
	return l
}

// InitiateSwap validates params, screens risk, and persists a new
// Initialized swap. If risk analysis blocks the swap it is immediately
// cancelled; if it flags manual review the swap is enqueued and left in
// Initialized pending an admin decision.
func (o *Orchestrator) InitiateSwap(ctx context.Context, userID uuid.UUID, p Params, limits AmountLimits, userTier auth.Tier) (uuid.UUID, error) {
	if err := ValidateParams(p, limits); err != nil {
		return uuid.Nil, err
	}

	now := time.Now()
	op := &Operation{
		SwapID:      uuid.New(),
		UserID:      userID,
		FromChain:   p.FromChain,
		ToChain:     p.ToChain,
		Amount:      p.Amount,
		UserAddress: p.UserAddress,
		Recipient:   p.Recipient,
		Status:      StatusInitialized,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(o.SwapTTL),
	}

	if err := o.Store.Create(ctx, op); err != nil {
		return uuid.Nil, err
	}

	decision, err := o.screenRisk(ctx, op, userTier)
	if err != nil {
		return op.SwapID, err
	}

	switch decision {
	case risk.DecisionBlock:
		if err := o.Machine.Transition(op, StatusCancelled); err != nil {
			return op.SwapID, err
		}
		err := o.Store.Update(ctx, op)
		o.publish(op)
		return op.SwapID, err
	case risk.DecisionReview:
		// Left in Initialized; admin resolves via the review queue.
		if o.Events != nil {
			_ = o.Events.Publish(op.UserID, eventbus.EventRiskAlerts, map[string]string{
				"swap_id": op.SwapID.String(),
				"reason":  "manual_review",
			})
		}
		return op.SwapID, o.Store.Update(ctx, op)
	default:
		o.publish(op)
		return op.SwapID, nil
	}
}

// screenRisk calls the risk oracle, applies the admin-bypass policy, and
// enqueues a ReviewEntry when the decision is Review.
func (o *Orchestrator) screenRisk(ctx context.Context, op *Operation, tier auth.Tier) (risk.Decision, error) {
	resp, err := o.Risk.Analyze(ctx, risk.TxDescriptor{
		TransactionID: op.SwapID.String(),
		UserID:        op.UserID.String(),
		Amount:        op.Amount,
		SourceChain:   op.FromChain,
		DestChain:     op.ToChain,
	})
	if err != nil {
		return o.FailPolicy.OnAnalysisFailure(), nil
	}

	decision := risk.Classify(resp.RiskScore, o.Thresholds)
	decision, bypassed := risk.AdminBypass(decision, tier, o.AdminBypassAllowed)
	if bypassed {
		slog.Info("admin bypass applied",
			"swap_id", op.SwapID.String(),
			"user_id", op.UserID.String(),
			"tier", string(tier),
			"risk_score", resp.RiskScore,
		)
	}

	if decision == risk.DecisionReview && o.Reviews != nil {
		o.Reviews.Enqueue(risk.NewReviewEntry(op.SwapID.String(), op.UserID.String(), resp.RiskScore, resp.Factors, time.Now()))
	}
	return decision, nil
}

// GetSwap retrieves a swap by id.
func (o *Orchestrator) GetSwap(ctx context.Context, swapID uuid.UUID) (*Operation, error) {
	return o.Store.Get(ctx, swapID)
}

// CancelSwap is valid only while the swap is Initialized.
func (o *Orchestrator) CancelSwap(ctx context.Context, swapID uuid.UUID) error {
	l := o.lockFor(swapID)
	l.Lock()
	defer l.Unlock()

	op, err := o.Store.Get(ctx, swapID)
	if err != nil {
		return err
	}
	if op.Status != StatusInitialized {
		return ErrInvalidState
	}
	if err := o.Machine.Transition(op, StatusCancelled); err != nil {
		return err
	}
	err = o.Store.Update(ctx, op)
	o.publish(op)
	return err
}

// Drive is the idempotent progress driver: it advances a swap one step
// per call, checking both recorded status and on-chain replay state so a
// crash-and-resume never double-submits.
func (o *Orchestrator) Drive(ctx context.Context, swapID uuid.UUID) error {
	l := o.lockFor(swapID)
	l.Lock()
	defer l.Unlock()

	op, err := o.Store.Get(ctx, swapID)
	if err != nil {
		return err
	}

	switch op.Status {
	case StatusInitialized:
		return o.driveGenerateKeyAndLock(ctx, op)
	case StatusSourceLocking:
		return o.driveAwaitSourceLock(ctx, op)
	case StatusSourceLocked:
		return o.driveMint(ctx, op)
	case StatusDestMinting:
		return o.driveAwaitMint(ctx, op)
	case StatusDestMinted:
		return o.driveComplete(ctx, op)
	default:
		// Terminal or error states: nothing for Drive to do; the timeout
		// supervisor handles error-state compensation.
		return nil
	}
}

func (o *Orchestrator) driveGenerateKeyAndLock(ctx context.Context, op *Operation) error {
	key, ok := o.Keys.ActiveForUser(op.UserID)
	if !ok {
		rotated, err := o.Keys.Rotate(op.UserID, o.KeyTTL)
		if err != nil {
			return err
		}
		key = *rotated
	}
	op.QuantumKeyID = &key.ID

	h := quantumHash(op.UserAddress, op.Amount, op.FromChain, op.CreatedAt)
	op.QuantumHash = h

	pub, err := quantum.ParsePublicKey(key.PublicKey)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(map[string]string{
		"user_address": op.UserAddress,
		"recipient":    op.Recipient,
		"amount":       op.Amount,
		"quantum_hash": fmt.Sprintf("%x", h),
	})
	if err != nil {
		return err
	}
	if _, err := quantum.Encrypt(pub, payload, quantum.ContextBridgeTransaction); err != nil {
		return err
	}

	if err := o.Machine.Transition(op, StatusSourceLocking); err != nil {
		return err
	}
	if err := o.Store.Update(ctx, op); err != nil {
		return err
	}
	o.publish(op)

	processed, err := o.Source.IsProcessed(ctx, h)
	if err != nil {
		return err
	}
	if processed {
		return o.fail(ctx, op, ErrReplayDetected)
	}

	txHash, err := o.Source.Lock(ctx, op.Amount, op.ToChain, h, op.UserAddress)
	if err != nil {
		return o.fail(ctx, op, err)
	}
	op.SourceTxHash = &txHash
	return o.Store.Update(ctx, op)
}

func (o *Orchestrator) driveAwaitSourceLock(ctx context.Context, op *Operation) error {
	if op.SourceTxHash == nil {
		return nil
	}
	status, err := o.Source.GetStatus(ctx, *op.SourceTxHash)
	if err != nil {
		return err
	}
	if status.Status != chainadapter.StatusConfirmed {
		return nil
	}
	if err := o.Machine.Transition(op, StatusSourceLocked); err != nil {
		return err
	}
	err = o.Store.Update(ctx, op)
	o.publish(op)
	return err
}

func (o *Orchestrator) driveMint(ctx context.Context, op *Operation) error {
	if o.Replay != nil {
		if seen, err := o.Replay.Seen(ctx, op.QuantumHash); err == nil && seen {
			return o.fail(ctx, op, ErrReplayDetected)
		}
		// A cache miss or Redis error both fall through to the
		// authoritative on-chain check below rather than blocking the
		// swap on the fast path's availability.
	}

	processed, err := o.Dest.IsProcessed(ctx, op.QuantumHash)
	if err != nil {
		return err
	}
	if processed {
		return o.fail(ctx, op, ErrReplayDetected)
	}

	txHash, err := o.Dest.Mint(ctx, op.Recipient, op.Amount, op.QuantumHash)
	if err != nil {
		return o.fail(ctx, op, err)
	}
	op.DestTxHash = &txHash

	if o.Replay != nil {
		_ = o.Replay.Remember(ctx, op.QuantumHash)
	}

	if err := o.Machine.Transition(op, StatusDestMinting); err != nil {
		return err
	}
	err = o.Store.Update(ctx, op)
	o.publish(op)
	return err
}

func (o *Orchestrator) driveAwaitMint(ctx context.Context, op *Operation) error {
	if op.DestTxHash == nil {
		return nil
	}
	status, err := o.Dest.GetStatus(ctx, *op.DestTxHash)
	if err != nil {
		return err
	}
	if status.Status != chainadapter.StatusConfirmed {
		return nil
	}
	if err := o.Machine.Transition(op, StatusDestMinted); err != nil {
		return err
	}
	err = o.Store.Update(ctx, op)
	o.publish(op)
	return err
}

func (o *Orchestrator) driveComplete(ctx context.Context, op *Operation) error {
	if err := o.Machine.Transition(op, StatusCompleted); err != nil {
		return err
	}
	err := o.Store.Update(ctx, op)
	o.publish(op)
	return err
}

func (o *Orchestrator) fail(ctx context.Context, op *Operation, cause error) error {
	if err := o.Machine.Transition(op, StatusFailed); err != nil {
		return err
	}
	if err := o.Store.Update(ctx, op); err != nil {
		return err
	}
	o.publish(op)
	return kerrors.New(kerrors.KindChain, op.SwapID.String(), "swap failed", cause)
}

// quantumHash computes H = Keccak256(user_address || amount || source_chain ||
// timestamp), the replay-prevention tag presented to both chain adapters.
// user_address is the caller's own source-chain wallet, never the
// destination-chain recipient.
func quantumHash(userAddress, amount, sourceChain string, ts time.Time) [32]byte {
	digest := ethcrypto.Keccak256(
		[]byte(userAddress),
		[]byte(amount),
		[]byte(sourceChain),
		[]byte(ts.UTC().Format(time.RFC3339Nano)),
	)
	var out [32]byte
	copy(out[:], digest)
	return out
}
