package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"hermannm.dev/devlog"

	"github.com/itechmeat/kembridge/internal/auth"
	"github.com/itechmeat/kembridge/internal/chainadapter"
	"github.com/itechmeat/kembridge/internal/chainverify"
	"github.com/itechmeat/kembridge/internal/config"
	"github.com/itechmeat/kembridge/internal/eventbus"
	"github.com/itechmeat/kembridge/internal/kms"
	"github.com/itechmeat/kembridge/internal/quantum"
	"github.com/itechmeat/kembridge/internal/ratelimit"
	"github.com/itechmeat/kembridge/internal/risk"
	"github.com/itechmeat/kembridge/internal/signer"
	"github.com/itechmeat/kembridge/internal/store"
	"github.com/itechmeat/kembridge/internal/swap"
	"github.com/itechmeat/kembridge/internal/timeout"
)

func main() {
	var logLevel slog.LevelVar
	slog.SetDefault(slog.New(devlog.NewHandler(os.Stdout, &devlog.Options{
		Level: &logLevel,
	})))

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("KEMBridge starting (env=%s)\n", cfg.Env)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	orchestrator, supervisor, hub, err := wire(ctx, cfg)
	if err != nil {
		slog.Error("failed to wire components", "error", err)
		os.Exit(1)
	}
	_ = orchestrator // held by the (out-of-scope) HTTP/gateway surface that drives swaps

	go supervisor.Run(ctx)
	slog.Info("timeout supervisor started", "poll_interval", cfg.Timeout.PollInterval)

	slog.Info("event bus ready", "idle_timeout", cfg.EventBus.IdleTimeout, "connections", hub.ConnectionCount())

	<-ctx.Done()
	fmt.Println("KEMBridge shutting down")
}

// wire constructs every component plus the ambient/domain stack and
// returns the three long-lived objects main needs to hold: the
// orchestrator (driven by the out-of-scope HTTP surface), the timeout
// supervisor (runs its own sweep loop), and the event bus hub (accepts
// connections from the out-of-scope HTTP surface's websocket upgrade).
func wire(ctx context.Context, cfg *config.Config) (*swap.Orchestrator, *timeout.Supervisor, *eventbus.Hub, error) {
	keys := quantum.NewKeyStore()

	// The NEAR access-key resolver is an external RPC collaborator;
	// wire-level RPC encoding lives outside this module. A nil resolver
	// makes NearVerifier.VerifySignature correctly fail closed with
	// ErrKeyLookupUnavailable rather than forge a positive result.
	verifier := chainverify.NewMultiChainVerifier(nil)

	nonces := auth.NewNonceStore(cfg.Auth.NonceTTL)
	authenticator := auth.NewAuthenticator(nonces, verifier, auth.DefaultTierResolver{}, []byte(cfg.Auth.JWTSecret), cfg.Auth.SessionTTL)

	riskClient := risk.NewClient(cfg.Risk.BaseURL, cfg.Risk.APIKey, cfg.Risk.Timeout, cfg.Risk.MaxRetries, cfg.Risk.BaseDelayMs)

	limiter := ratelimit.New()
	limiter.Configure("risk", cfg.RateLimit.RiskRPS, cfg.RateLimit.RiskBurst)
	riskClient.Limiter = limiter

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	replay := risk.NewReplayCache(rdb, cfg.Timeout.SwapExpiry)

	reviews := risk.NewQueue()

	// EthAdapter/NearAdapter wire-level implementations live outside
	// this module; chainadapter.Fake is the in-memory stand-in every
	// deployment of this core wires until a real adapter is supplied.
	source := chainadapter.NewFake()
	dest := chainadapter.NewFake()

	db, err := store.Open(cfg.DB.DSN())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("wire: open store: %w", err)
	}

	orchestrator := swap.NewOrchestrator(db, keys, riskClient, reviews, source, dest)
	orchestrator.Replay = replay
	orchestrator.Thresholds = risk.Thresholds{
		Low:          cfg.Risk.LowThreshold,
		ManualReview: cfg.Risk.ManualReviewThresh,
		AutoBlock:    cfg.Risk.AutoBlockThreshold,
	}
	orchestrator.AdminBypassAllowed = cfg.Risk.AdminBypassAllowed
	orchestrator.FailPolicy = failurePolicy(cfg.Risk.FailClosed)
	orchestrator.SwapTTL = cfg.Timeout.SwapExpiry

	hub := eventbus.NewHub(authenticator, cfg.EventBus.IdleTimeout)
	orchestrator.Events = hub

	rollbackSigner := signer.NewRollbackSigner(time.Duration(cfg.Signer.SessionTTLSec) * time.Second)
	if err := activateSigner(ctx, cfg, rollbackSigner); err != nil {
		slog.Warn("rollback signer not activated; compensations will be unsigned", "error", err)
	}

	supCfg := timeout.DefaultConfig()
	supCfg.PollInterval = cfg.Timeout.PollInterval
	supCfg.CompensationMaxRetries = cfg.Risk.MaxRetries
	supCfg.CompensationBaseDelayMs = cfg.Risk.BaseDelayMs

	supervisor := timeout.New(supCfg, db, source, dest)
	supervisor.Signer = rollbackSigner

	return orchestrator, supervisor, hub, nil
}

// activateSigner decrypts the admin rollback key via KMS and seeds the
// signer's enclave. The ciphertext is sourced from an env var rather than
// a config field since it is sensitive, opaque key material rather than a
// service setting.
func activateSigner(ctx context.Context, cfg *config.Config, rs *signer.RollbackSigner) error {
	ciphertextHex := os.Getenv("KEMBRIDGE_SIGNER_KEY_CIPHERTEXT_HEX")
	if ciphertextHex == "" {
		return fmt.Errorf("KEMBRIDGE_SIGNER_KEY_CIPHERTEXT_HEX not set")
	}
	ciphertext, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return fmt.Errorf("decode signer key ciphertext: %w", err)
	}

	kmsClient, err := kms.New(ctx, cfg.Signer.AWSRegion, cfg.LocalStackEndpoint)
	if err != nil {
		return fmt.Errorf("construct kms client: %w", err)
	}

	plaintext, err := kmsClient.Decrypt(ctx, ciphertext)
	if err != nil {
		return fmt.Errorf("decrypt signer key: %w", err)
	}

	limit, ok := new(big.Int).SetString(cfg.Signer.MaxValueLimit, 10)
	if !ok {
		return fmt.Errorf("invalid signer.max_value_limit %q", cfg.Signer.MaxValueLimit)
	}

	return rs.Activate(plaintext, limit)
}

func failurePolicy(failClosed bool) risk.FailurePolicy {
	return risk.FailurePolicy{FailClosed: failClosed}
}
