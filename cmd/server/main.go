// Package main runs the fair ordering sequencer:
// - HTTP API for submission, commit/reveal, pools, batches and verification
// - per-pool batch scheduler driving order -> prove -> submit -> audit
// - /health, /metrics and /status endpoints
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fair-sequencer/internal/audit"
	"fair-sequencer/internal/chain"
	"fair-sequencer/internal/commitreveal"
	"fair-sequencer/internal/domain"
	"fair-sequencer/internal/httpapi"
	"fair-sequencer/internal/metrics"
	"fair-sequencer/internal/orchestrator"
	"fair-sequencer/internal/ordering"
	"fair-sequencer/internal/pool"
	"fair-sequencer/internal/proof"
	"fair-sequencer/internal/randomness"
	"fair-sequencer/internal/risk"
	"fair-sequencer/internal/sequencer"
	"fair-sequencer/internal/signing"
	"fair-sequencer/internal/storage"
	chstore "fair-sequencer/internal/storage/clickhouse"
	"fair-sequencer/internal/storage/memory"
	"fair-sequencer/internal/storage/migrations"
	pgstore "fair-sequencer/internal/storage/postgres"
	"fair-sequencer/internal/submission"
	"fair-sequencer/internal/verification"
)

type config struct {
	httpAddr        string
	postgresDSN     string
	clickhouseDSN   string
	redisAddr       string
	redisStream     string
	useMemory       bool
	migrate         bool
	rpcEndpoints    string
	wsEndpoints     string
	chainTimeout    time.Duration
	signerKey       string
	algorithm       string
	batchInterval   time.Duration
	revealMin       time.Duration
	revealMax       time.Duration
	commitTimeout   time.Duration
	commitMedium    bool
	maxPending      int
	idleAfter       time.Duration
	aggregateEvery  uint64
	aggregateWindow int
	shutdownGrace   time.Duration
	devLog          bool

	submission submission.Config
	proof      proof.Config
}

func main() {
	// Load .env file if exists
	loadEnvFile()

	var cfg config
	flag.StringVar(&cfg.httpAddr, "http-addr", envOr("HTTP_ADDR", ":8080"), "HTTP API address")
	flag.StringVar(&cfg.postgresDSN, "postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	flag.StringVar(&cfg.clickhouseDSN, "clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	flag.StringVar(&cfg.redisAddr, "redis-addr", os.Getenv("REDIS_ADDR"), "Redis address for the audit event stream (optional)")
	flag.StringVar(&cfg.redisStream, "redis-stream", envOr("REDIS_STREAM", audit.DefaultRedisConfig().Stream), "Redis stream key")
	flag.BoolVar(&cfg.useMemory, "use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	flag.BoolVar(&cfg.migrate, "migrate", true, "Apply embedded migrations on startup")
	flag.StringVar(&cfg.rpcEndpoints, "rpc-endpoints", os.Getenv("CHAIN_RPC_ENDPOINTS"), "Comma-separated chain HTTP JSON-RPC endpoints")
	flag.StringVar(&cfg.wsEndpoints, "ws-endpoints", os.Getenv("CHAIN_WS_ENDPOINTS"), "Comma-separated chain WebSocket endpoints")
	flag.DurationVar(&cfg.chainTimeout, "chain-timeout", 10*time.Second, "Timeout of one chain JSON-RPC request")
	flag.StringVar(&cfg.signerKey, "signer-key", os.Getenv("SIGNER_KEY"), "Base58 ed25519 signing key (generated when empty)")
	flag.StringVar(&cfg.algorithm, "algorithm", envOr("DEFAULT_ALGORITHM", string(domain.AlgorithmCommitRevealAware)), "Default ordering algorithm for new pools")
	flag.DurationVar(&cfg.batchInterval, "batch-interval", 500*time.Millisecond, "Default batch interval for new pools")
	flag.DurationVar(&cfg.revealMin, "reveal-delay-min", time.Duration(domain.DefaultRevealDelayMinMs)*time.Millisecond, "Minimum random reveal delay")
	flag.DurationVar(&cfg.revealMax, "reveal-delay-max", time.Duration(domain.DefaultRevealDelayMaxMs)*time.Millisecond, "Maximum random reveal delay")
	flag.DurationVar(&cfg.commitTimeout, "commit-timeout", time.Duration(domain.DefaultCommitTimeoutMs)*time.Millisecond, "Time a gated transaction has to commit")
	flag.BoolVar(&cfg.commitMedium, "commit-medium", true, "Route MEDIUM risk transactions through commit-reveal")
	flag.IntVar(&cfg.maxPending, "max-pending", domain.DefaultMaxPending, "Pending transaction capacity per pool")
	flag.DurationVar(&cfg.idleAfter, "idle-after", 30*time.Minute, "Retire pools idle for this long (0 disables)")
	flag.Uint64Var(&cfg.aggregateEvery, "aggregate-every", 10, "Recompute fairness aggregates every N batches")
	flag.IntVar(&cfg.aggregateWindow, "aggregate-window", 1000, "Batches per fairness aggregate window")
	flag.DurationVar(&cfg.shutdownGrace, "shutdown-grace", 10*time.Second, "Grace period for in-flight batches on shutdown")
	flag.BoolVar(&cfg.devLog, "log-dev", false, "Human readable development logging")

	cfg.submission = submission.DefaultConfig()
	flag.IntVar(&cfg.submission.MaxAttempts, "submit-max-attempts", cfg.submission.MaxAttempts, "Submission attempts per transaction")
	flag.DurationVar(&cfg.submission.MaxInterval, "submit-max-backoff", cfg.submission.MaxInterval, "Submission backoff ceiling")
	flag.IntVar(&cfg.submission.Breaker.FailureThreshold, "breaker-threshold", cfg.submission.Breaker.FailureThreshold, "Consecutive endpoint failures that open the circuit")
	flag.DurationVar(&cfg.submission.Breaker.Cooldown, "breaker-cooldown", cfg.submission.Breaker.Cooldown, "Time an open circuit waits before a probe")
	cfg.proof = proof.DefaultConfig()
	flag.Uint64Var(&cfg.proof.MaxRetries, "sign-max-retries", cfg.proof.MaxRetries, "Signing retries before a batch is held")
	flag.Parse()

	logger, err := newLogger(cfg.devLog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if !cfg.useMemory && (cfg.postgresDSN == "" || cfg.clickhouseDSN == "") {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func run(cfg config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, cleanup, err := createStores(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("create stores: %w", err)
	}
	defer cleanup()

	recorderOpts := []audit.Option{audit.WithLogger(logger)}
	if cfg.redisAddr != "" {
		rcfg := audit.DefaultRedisConfig()
		rcfg.Addr = cfg.redisAddr
		rcfg.Stream = cfg.redisStream
		pub, err := audit.NewRedisPublisher(ctx, rcfg)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer pub.Close()
		recorderOpts = append(recorderOpts, audit.WithPublisher(pub))
	}
	recorder := audit.NewRecorder(stores, recorderOpts...)

	signer, err := loadSigner(cfg.signerKey)
	if err != nil {
		return err
	}
	logger.Info("fairness proofs signed", zap.String("public_key", signer.PublicKey()))

	clients, closeClients, err := createChainClients(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeClients()

	algorithm := domain.Algorithm(strings.ToUpper(cfg.algorithm))
	defaults := func(poolID string) domain.PoolConfig {
		c := domain.DefaultPoolConfig(poolID)
		c.Algorithm = algorithm
		c.BatchIntervalMs = cfg.batchInterval.Milliseconds()
		c.RevealDelayMinMs = cfg.revealMin.Milliseconds()
		c.RevealDelayMaxMs = cfg.revealMax.Milliseconds()
		c.CommitTimeoutMs = cfg.commitTimeout.Milliseconds()
		c.RequireCommitForMedium = cfg.commitMedium
		c.MaxPending = cfg.maxPending
		return c
	}
	if err := defaults("default").Validate(); err != nil {
		return err
	}

	random := randomness.WithRetry(randomness.NewLocalProvider(), randomness.DefaultRetryConfig())
	registry := pool.NewRegistry(pool.RegistryOptions{
		Defaults:   defaults,
		Classifier: risk.NewClassifier(risk.DefaultConfig()),
		Logger:     logger,
	})
	coord := commitreveal.NewCoordinator(commitreveal.Options{
		Pools:      registry,
		Randomness: random,
		Reporter:   recorder,
		Logger:     logger,
	})
	pipeline := submission.NewPipeline(clients, cfg.submission, logger, nil)
	orch := orchestrator.New(orchestrator.Options{
		Sweeper:        coord,
		Engine:         ordering.NewEngine(random),
		Proofs:         proof.NewBuilder(signer, cfg.proof, logger),
		Submitter:      pipeline,
		Recorder:       recorder,
		Aggregator:     metrics.NewAggregator(stores.Audits, stores.Fairness, metrics.WithWindow(cfg.aggregateWindow), metrics.WithLogger(logger)),
		AggregateEvery: cfg.aggregateEvery,
		Logger:         logger,
	})

	trusted, err := signing.NewTrustedVerifier(signer.PublicKey())
	if err != nil {
		return err
	}
	svc := sequencer.New(sequencer.Options{
		Registry:     registry,
		Coordinator:  coord,
		Orchestrator: orch,
		Recorder:     recorder,
		Verifier: verification.NewStoreVerifier(verification.StoreVerifierOptions{
			Audits:    stores.Audits,
			Signature: trusted,
		}),
		Breakers:  pipeline,
		IdleAfter: cfg.idleAfter,
		Logger:    logger,
	})

	srv := &http.Server{
		Addr:              cfg.httpAddr,
		Handler:           httpapi.New(svc, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting HTTP server", zap.String("addr", cfg.httpAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return svc.Run(gctx)
	})
	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, initiating graceful shutdown", zap.Stringer("signal", sig))
		case <-gctx.Done():
		}

		// A second signal forces exit.
		go func() {
			if sig, ok := <-sigCh; ok {
				logger.Warn("received second signal, forcing immediate shutdown", zap.Stringer("signal", sig))
				os.Exit(1)
			}
		}()

		shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.shutdownGrace)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}
		if err := svc.Shutdown(shutdownCtx); err != nil {
			logger.Warn("sequencer shutdown", zap.Error(err))
		}
		cancel()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func loadSigner(key string) (*signing.Ed25519Signer, error) {
	if key == "" {
		return signing.GenerateEd25519Signer()
	}
	s, err := signing.ParseSigner(key)
	if err != nil {
		return nil, fmt.Errorf("parse signer key: %w", err)
	}
	return s, nil
}

// createChainClients builds one client per configured endpoint. With none
// configured a loopback client accepts every transaction.
func createChainClients(ctx context.Context, cfg config, logger *zap.Logger) ([]chain.Client, func(), error) {
	var clients []chain.Client
	var closers []func() error

	for _, ep := range splitList(cfg.rpcEndpoints) {
		// Retries belong to the submission pipeline.
		clients = append(clients, chain.NewHTTPClient(ep, chain.WithTimeout(cfg.chainTimeout), chain.WithMaxRetries(0)))
	}
	wsCfg := chain.DefaultWSConfig()
	wsCfg.RequestTimeout = cfg.chainTimeout
	for _, ep := range splitList(cfg.wsEndpoints) {
		ws, err := chain.NewWSClient(ctx, ep, &wsCfg, logger)
		if err != nil {
			for _, c := range closers {
				c()
			}
			return nil, nil, fmt.Errorf("connect websocket %s: %w", ep, err)
		}
		clients = append(clients, ws)
		closers = append(closers, ws.Close)
	}
	if len(clients) == 0 {
		logger.Warn("no chain endpoints configured, using loopback submission")
		clients = append(clients, chain.NewLoopbackClient("loopback"))
	}

	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}
	return clients, cleanup, nil
}

// createStores creates all required stores.
func createStores(ctx context.Context, cfg config, logger *zap.Logger) (storage.Stores, func(), error) {
	if cfg.useMemory {
		return memory.NewStores(), func() {}, nil
	}

	// PostgreSQL
	pgPool, err := pgstore.NewPool(ctx, cfg.postgresDSN)
	if err != nil {
		return storage.Stores{}, nil, fmt.Errorf("connect to postgres: %w", err)
	}

	// ClickHouse
	var chConn *chstore.Conn
	if cfg.migrate {
		if err := migrations.RunPostgresMigrations(ctx, pgPool); err != nil {
			pgPool.Close()
			return storage.Stores{}, nil, fmt.Errorf("postgres migrations: %w", err)
		}
		chConn, err = migrations.RunClickhouseMigrations(ctx, cfg.clickhouseDSN)
	} else {
		chConn, err = chstore.NewConn(ctx, cfg.clickhouseDSN)
	}
	if err != nil {
		pgPool.Close()
		return storage.Stores{}, nil, fmt.Errorf("connect to clickhouse: %w", err)
	}
	logger.Info("connected to storage", zap.Bool("migrated", cfg.migrate))

	stores := storage.Stores{
		// PostgreSQL stores (audit trail)
		Audits:   pgstore.NewBatchAuditStore(pgPool),
		Held:     pgstore.NewHeldBatchStore(pgPool),
		Outcomes: pgstore.NewTxOutcomeStore(pgPool),

		// ClickHouse stores (analytics)
		Classification: chstore.NewClassificationStore(chConn),
		Fairness:       chstore.NewFairnessAggregateStore(chConn),
	}

	cleanup := func() {
		chConn.Close()
		pgPool.Close()
	}
	return stores, cleanup, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, strings.TrimSpace(value))
		}
	}
}
