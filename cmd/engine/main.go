// Package main runs the mirror engine: the wallet watcher feeding signal
// admission, the priority-queue consumer executing trades, the circuit
// breaker and recovery sweeps, and the HTTP control surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"solana-mirror-engine/internal/admission"
	"solana-mirror-engine/internal/api"
	"solana-mirror-engine/internal/breaker"
	"solana-mirror-engine/internal/config"
	"solana-mirror-engine/internal/engine"
	"solana-mirror-engine/internal/events"
	"solana-mirror-engine/internal/executor"
	"solana-mirror-engine/internal/fees"
	"solana-mirror-engine/internal/logging"
	"solana-mirror-engine/internal/notify"
	"solana-mirror-engine/internal/pnl"
	"solana-mirror-engine/internal/queue"
	"solana-mirror-engine/internal/recovery"
	"solana-mirror-engine/internal/route"
	"solana-mirror-engine/internal/signer"
	"solana-mirror-engine/internal/solana"
	"solana-mirror-engine/internal/storage"
	chstore "solana-mirror-engine/internal/storage/clickhouse"
	"solana-mirror-engine/internal/storage/memory"
	"solana-mirror-engine/internal/storage/migrations"
	pgstore "solana-mirror-engine/internal/storage/postgres"
	redisstore "solana-mirror-engine/internal/storage/redis"
	"solana-mirror-engine/internal/watcher"
)

func main() {
	_ = godotenv.Load(".env")

	configPath := flag.String("config", "config.yaml", "Path to the YAML config file")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of Postgres/ClickHouse/Redis")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *useMemory {
		cfg.Storage.UseMemory = true
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Pretty)

	if cfg.RPC.Endpoint == "" {
		logger.Fatal().Msg("rpc.endpoint is required (or SOLANA_RPC_ENDPOINT)")
	}
	if cfg.RPC.WSEndpoint == "" {
		logger.Fatal().Msg("rpc.ws_endpoint is required (or SOLANA_WS_ENDPOINT)")
	}
	if cfg.RPC.RelayEndpoint == "" {
		logger.Fatal().Msg("rpc.relay_endpoint is required (or RELAY_ENDPOINT)")
	}
	if !cfg.Storage.UseMemory && (cfg.Storage.PostgresDSN == "" || cfg.Storage.ClickhouseDSN == "" || cfg.Storage.RedisDSN == "") {
		logger.Fatal().Msg("postgres, clickhouse and redis DSNs are required (use --use-memory for in-memory storage)")
	}
	if len(cfg.Wallets) == 0 {
		logger.Fatal().Msg("no source wallets configured, nothing to mirror")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, cleanup, err := createStores(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("create stores")
	}
	defer cleanup()

	a, err := newApp(ctx, cfg, stores, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("assemble engine")
	}

	done := make(chan error, 1)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()

		select {
		case sig := <-sigCh:
			logger.Error().Str("signal", sig.String()).Msg("second signal, forcing exit")
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Error().Msg("graceful shutdown timed out, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = a.Run(ctx)
	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("engine exited")
	}
	logger.Info().Msg("shutdown complete")
}

// allStores holds the storage implementations behind the engine.
type allStores struct {
	trades   storage.TradeStore
	audit    storage.AuditStore
	outcomes storage.OutcomeStore
	registry storage.SignalRegistry
}

// createStores connects the configured backends and runs migrations, or
// returns the in-memory set when use_memory is on.
func createStores(ctx context.Context, cfg *config.Config) (*allStores, func(), error) {
	if cfg.Storage.UseMemory {
		stores := &allStores{
			trades:   memory.NewTradeStore(),
			audit:    memory.NewAuditStore(),
			outcomes: memory.NewOutcomeStore(),
			registry: memory.NewSignalRegistry(),
		}
		return stores, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	chConn, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}

	redisClient, err := redisstore.NewClient(ctx, cfg.Storage.RedisDSN)
	if err != nil {
		chConn.Close()
		pool.Close()
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}

	stores := &allStores{
		trades:   pgstore.NewTradeStore(pool),
		audit:    pgstore.NewAuditStore(pool),
		outcomes: chstore.NewOutcomeStore(chConn),
		registry: redisstore.NewSignalRegistry(redisClient),
	}

	cleanup := func() {
		redisClient.Close()
		chConn.Close()
		pool.Close()
	}

	return stores, cleanup, nil
}

// app holds the assembled components for Run.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	ws       solana.WSClient
	watcher  *watcher.Watcher
	engine   *engine.Engine
	recovery *recovery.Manager
	api      *api.Server
}

// newApp builds every component and wires them together. Nothing starts
// running until Run.
func newApp(ctx context.Context, cfg *config.Config, stores *allStores, logger zerolog.Logger) (*app, error) {
	wallet, err := loadWallet(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("load wallet key: %w", err)
	}
	logger.Info().Str("wallet", wallet.PublicKey).Msg("signing key loaded")

	rpc := solana.NewHTTPClient(cfg.RPC.Endpoint, solana.WithTimeout(cfg.RPC.RequestTimeout.Std()))

	var fallbackRPC solana.RPCClient
	if cfg.RPC.FallbackEndpoint != "" {
		fallbackRPC = solana.NewHTTPClient(cfg.RPC.FallbackEndpoint, solana.WithTimeout(cfg.RPC.RequestTimeout.Std()))
	}

	accel := solana.NewRelayClient(cfg.RPC.RelayEndpoint,
		solana.WithRelayRateLimit(cfg.RPC.RelayRatePerSec, cfg.RPC.RelayBurst),
		solana.WithRelayTimeout(cfg.RPC.RequestTimeout.Std()),
	)
	// Without a second relay the middle rung of the dispatch ladder reuses
	// the first.
	secondary := accel
	if cfg.RPC.SecondaryRelay != "" {
		secondary = solana.NewRelayClient(cfg.RPC.SecondaryRelay,
			solana.WithRelayRateLimit(cfg.RPC.RelayRatePerSec, cfg.RPC.RelayBurst),
			solana.WithRelayTimeout(cfg.RPC.RequestTimeout.Std()),
		)
	}

	wsCfg := solana.DefaultWSConfig()
	wsCfg.Logger = logger
	if d := cfg.RPC.ReconnectInterval.Std(); d > 0 {
		wsCfg.ReconnectDelay = d
	}
	ws, err := solana.NewWSClient(ctx, cfg.RPC.WSEndpoint, &wsCfg)
	if err != nil {
		return nil, fmt.Errorf("connect websocket: %w", err)
	}

	bus := events.NewBus()
	notify.Attach(bus, logger, notify.NewLogNotifier(logger))

	brk := breaker.New(breaker.Options{
		Config: breaker.Config{
			MaxLoss24hUSD:        cfg.Breaker.MaxLoss24hUSD,
			MaxConsecutiveLosses: cfg.Breaker.MaxConsecutiveLosses,
			MaxDrawdownPercent:   cfg.Breaker.MaxDrawdownPercent,
			Cooldown:             cfg.Breaker.Cooldown.Std(),
			CheckInterval:        cfg.Breaker.CheckInterval.Std(),
		},
		Metrics: pnl.NewProvider(pnl.Options{
			Outcomes:          stores.outcomes,
			BaselineEquityUSD: cfg.Breaker.BaselineEquityUSD,
		}),
		Audit:  stores.audit,
		Bus:    bus,
		Logger: logger,
	})

	q := queue.New(cfg.Queue.Capacity, cfg.Queue.ShedThresholdPct)

	admitter := admission.New(admission.Options{
		Config: admission.Config{
			SignalTTL:   cfg.Admission.SignalTTL.Std(),
			RegistryTTL: cfg.Admission.RegistryTTL.Std(),
		},
		Queue:    q,
		Trades:   stores.trades,
		Registry: stores.registry,
		Audit:    stores.audit,
		Breaker:  brk,
		Bus:      bus,
		Logger:   logger,
	})

	// The tip strategy wants basis points; config carries a percent.
	tipBps := cfg.Executor.TipPercentOfTrade.Std().Mul(decimal.NewFromInt(100)).IntPart()

	exec := executor.New(executor.Options{
		Config: executor.Config{
			MinTradeSol:            cfg.Executor.MinTradeSol.Std(),
			MaxTradeSol:            cfg.Executor.MaxTradeSol.Std(),
			MaxConsecutiveFailures: cfg.Executor.MaxConsecutiveFailures,
			ProbeInterval:          cfg.Executor.ProbeInterval.Std(),
			ProbeTimeout:           cfg.Executor.ProbeTimeout.Std(),
			SubmitTimeout:          cfg.Executor.SubmitTimeout.Std(),
			ConfirmTimeout:         cfg.Executor.ConfirmTimeout.Std(),
			ConfirmPollInterval:    cfg.Executor.ConfirmPollInterval.Std(),
			SlippageBps:            cfg.Executor.SlippageBps,
			ComputeUnitLimit:       cfg.Executor.ComputeUnitLimit,
			ComputeUnitPriceMicro:  cfg.Executor.ComputeUnitPriceMicro,
			TipClamp: fees.Clamp{
				FloorLamports:     cfg.Executor.TipFloorLamports,
				CeilingLamports:   cfg.Executor.TipCeilingLamports,
				MaxPercentOfTrade: cfg.Executor.TipPercentOfTrade.Std(),
			},
			SolPriceUSD: cfg.SolPriceUSD,
		},
		Wallet:      wallet,
		Routes:      route.NewRaydiumProvider(rpc, cfg.Pools),
		RPC:         rpc,
		FallbackRPC: fallbackRPC,
		Accelerator: accel,
		Secondary:   secondary,
		Trades:      stores.trades,
		Audit:       stores.audit,
		Outcomes:    stores.outcomes,
		Tips:        fees.PercentTip{Bps: tipBps},
		Bus:         bus,
		Logger:      logger,
	})

	w := watcher.New(watcher.Options{
		Config: watcher.Config{
			FetchRetries:    cfg.Watcher.FetchRetries,
			FetchRetryDelay: cfg.Watcher.FetchBackoff.Std(),
		},
		Wallets:  cfg.Wallets,
		WS:       ws,
		RPC:      rpc,
		Admitter: admitter,
		Trades:   stores.trades,
		Sizer:    watcher.MultiplierSizer{},
		Logger:   logger,
	})

	eng := engine.New(engine.Options{
		Config: engine.Config{
			MaxRetries:  cfg.Engine.MaxRetries,
			BreakerTick: cfg.Breaker.CheckInterval.Std(),
		},
		Queue:    q,
		Breaker:  brk,
		Executor: exec,
		Trades:   stores.trades,
		Audit:    stores.audit,
		Bus:      bus,
		Logger:   logger,
	})

	rec := recovery.New(recovery.Options{
		Config: recovery.Config{
			Interval:       cfg.Recovery.Interval.Std(),
			StuckThreshold: cfg.Recovery.StuckThreshold.Std(),
			SolPriceUSD:    cfg.SolPriceUSD,
		},
		Trades:   stores.trades,
		Audit:    stores.audit,
		Outcomes: stores.outcomes,
		RPC:      rpc,
		Bus:      bus,
		Logger:   logger,
	})

	srv := api.NewServer(api.Options{
		Trades:         stores.trades,
		Audit:          stores.audit,
		Breaker:        brk,
		Queue:          q,
		Executor:       exec,
		RPC:            rpc,
		WalletAddress:  wallet.PublicKey,
		BearerToken:    cfg.API.BearerToken,
		AllowedOrigins: cfg.API.AllowedOrigins,
		Logger:         logger,
	})

	return &app{
		cfg:      cfg,
		log:      logger,
		ws:       ws,
		watcher:  w,
		engine:   eng,
		recovery: rec,
		api:      srv,
	}, nil
}

// loadWallet resolves the signing keypair from the configured source.
func loadWallet(ctx context.Context, cfg *config.Config) (*signer.Keypair, error) {
	switch cfg.Signer.Source {
	case "env":
		secret := os.Getenv("WALLET_PRIVATE_KEY")
		if secret == "" {
			return nil, fmt.Errorf("WALLET_PRIVATE_KEY is not set")
		}
		return signer.FromBase58(secret)
	case "file":
		return signer.FromFile(cfg.Signer.KeyFile)
	case "vault":
		return signer.FromVault(ctx, signer.VaultConfig{
			Address:    cfg.Signer.Vault.Address,
			Token:      cfg.Signer.Vault.Token,
			MountPath:  cfg.Signer.Vault.MountPath,
			SecretPath: cfg.Signer.Vault.SecretPath,
			Field:      cfg.Signer.Vault.Field,
		})
	default:
		return nil, fmt.Errorf("unknown signer source %q", cfg.Signer.Source)
	}
}

// Run starts every component and blocks until the context is cancelled or
// one of them fails. On the way out it stops the API, waits for the engine
// to drain the queue, and closes the log subscription.
func (a *app) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.log.Info().
		Int("wallets", len(a.cfg.Wallets)).
		Str("api_addr", a.cfg.API.Addr).
		Msg("mirror engine starting")

	errCh := make(chan error, 4)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("watcher: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("engine: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.recovery.Run(ctx)
	}()

	go func() {
		if err := a.api.Start(a.cfg.API.Addr); err != nil {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case err := <-errCh:
		runErr = err
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := a.api.Shutdown(shutdownCtx); err != nil {
		a.log.Warn().Err(err).Msg("api shutdown")
	}

	wg.Wait()

	if err := a.ws.Close(); err != nil {
		a.log.Warn().Err(err).Msg("websocket close")
	}
	return runErr
}
