// Injective Testnet Liquidity Engine — keeps testnet orderbooks aligned in
// price and depth with their mainnet counterparts, so paper traders see
// mainnet-quality markets.
//
// Architecture:
//
//	main.go                 — entry point: config, wallets, wiring, signal handling
//	supervisor/             — starts/stops one worker per wallet, HTTP status server
//	worker/worker.go        — per-wallet control loop: sample → plan → broadcast
//	planner/planner.go      — phase classification and the MOVE/BUILD/MAINTAIN generators
//	sequence/controller.go  — account sequence lease, resync, drift detection, circuit breaker
//	txbuilder/builder.go    — scales plans into chain units, builds batched transactions
//	oracle/oracle.go        — mainnet/testnet mid-price sampling with TTL cache
//	book/view.go            — testnet depth snapshots and own-order reads
//	chain/                  — indexer REST client, tx broadcast, order event stream
//	catalog/catalog.go      — immutable market metadata from config
//	keys/                   — wallet credentials from WALLET_<N>_* env vars
//
// Exit codes: 0 clean shutdown, 2 configuration error, 3 unknown wallet or
// market, 4 chain unreachable during startup.
package main

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"injective-mm/internal/book"
	"injective-mm/internal/catalog"
	"injective-mm/internal/chain"
	"injective-mm/internal/config"
	"injective-mm/internal/keys"
	"injective-mm/internal/oracle"
	"injective-mm/internal/sequence"
	"injective-mm/internal/supervisor"
	"injective-mm/internal/txbuilder"
	"injective-mm/internal/worker"
	"injective-mm/pkg/types"
)

const (
	exitOK               = 0
	exitConfig           = 2
	exitUnknownName      = 3
	exitChainUnreachable = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("INJ_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		return exitConfig
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		return exitConfig
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	wallets, err := keys.Load()
	if err != nil {
		logger.Error("failed to load wallets", "error", err)
		return exitConfig
	}

	cat, err := catalog.Load(cfg)
	if err != nil {
		logger.Error("failed to build market catalog", "error", err)
		return exitConfig
	}

	testnet := chain.NewIndexerClient(cfg.Network.TestnetIndexerURL, cfg.Network.ChainID,
		cfg.Network.RequestTimeout, cfg.DryRun, logger.With("venue", "testnet"))
	mainnet := chain.NewIndexerClient(cfg.Network.MainnetIndexerURL, cfg.Network.ChainID,
		cfg.Network.RequestTimeout, false, logger.With("venue", "mainnet"))

	priceOracle := oracle.New(testnet, mainnet, cfg.Defaults.PriceRefreshInterval, logger)
	view := book.NewView(testnet, logger)
	builder := txbuilder.NewBuilder(testnet, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assignments, err := walletMarkets(cat, wallets)
	if err != nil {
		logger.Error("failed to resolve wallet markets", "error", err)
		return exitUnknownName
	}

	sup := supervisor.New(logger)
	started := make([]string, 0, len(wallets))

	for _, w := range wallets {
		markets := assignments[w.ID]

		params := make(map[string]types.MarketParams, len(markets))
		for _, m := range markets {
			p, err := cat.Params(m.Symbol)
			if err != nil {
				logger.Error("missing market params", "market", m.Symbol, "error", err)
				return exitUnknownName
			}
			params[m.Symbol] = p
		}

		var feed *chain.OrderFeed
		if cfg.Network.StreamURL != "" {
			feed = chain.NewOrderFeed(cfg.Network.StreamURL, w.SubaccountID,
				logger.With("wallet", w.ID))
		}

		wk := worker.New(worker.Options{
			Wallet:              w,
			Markets:             markets,
			Params:              params,
			Oracle:              priceOracle,
			View:                view,
			Sequence:            sequence.NewController(w.Address, testnet, logger.With("wallet", w.ID)),
			Builder:             builder,
			Broadcaster:         testnet,
			Feed:                feed,
			MaintenanceInterval: cfg.Defaults.MaintenanceInterval,
			Cooldown:            cfg.Defaults.CooldownPeriod,
			BroadcastTimeout:    cfg.Network.BroadcastTimeout,
			Seed:                workerSeed(cfg.Defaults.RNGSeed, w.ID),
			Logger:              logger,
		})
		sup.Register(w.ID, wk)
		started = append(started, w.ID)
	}

	if len(started) == 0 {
		logger.Error("no wallet has any markets assigned")
		return exitUnknownName
	}

	var statusServer *supervisor.StatusServer
	if cfg.Status.Enabled {
		statusServer = supervisor.NewStatusServer(cfg.Status.Port, sup, logger)
		go func() {
			if err := statusServer.Start(); err != nil {
				logger.Error("status server failed", "error", err)
			}
		}()
		logger.Info("status server started", "url", fmt.Sprintf("http://localhost:%d", cfg.Status.Port))
	}

	for _, id := range started {
		if err := sup.StartWorker(ctx, id); err != nil {
			logger.Error("failed to start worker", "wallet", id, "error", err)
			return exitConfig
		}
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — batches are logged, not broadcast")
	}
	logger.Info("liquidity engine started",
		"wallets", len(started),
		"markets", len(cfg.Markets),
		"dry_run", cfg.DryRun,
	)

	// Give startup a moment, then surface chain-connectivity failures as a
	// distinct exit code instead of idling with every worker dead.
	startupDeadline := time.After(45 * time.Second)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var exitCode int
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
		exitCode = exitOK
	case <-waitForStartupFailure(startupDeadline, sup, started):
		logger.Error("no worker survived startup, chain unreachable")
		exitCode = exitChainUnreachable
	}

	if statusServer != nil {
		if err := statusServer.Stop(); err != nil {
			logger.Error("failed to stop status server", "error", err)
		}
	}
	sup.StopAll()
	cancel()

	return exitCode
}

// walletMarkets resolves each environment wallet's market assignments.
// A wallet present in the environment but absent from the config's wallets
// section is a configuration mistake, not a wallet to idle silently: a
// typo'd id would otherwise sit doing nothing. Resolution fails instead.
func walletMarkets(cat *catalog.Catalog, wallets []keys.Wallet) (map[string][]*types.Market, error) {
	out := make(map[string][]*types.Market, len(wallets))
	for _, w := range wallets {
		markets, err := cat.EnabledMarkets(w.ID)
		if err != nil {
			return nil, fmt.Errorf("wallet %s: %w", w.ID, err)
		}
		if len(markets) == 0 {
			return nil, fmt.Errorf("wallet %s: no markets assigned", w.ID)
		}
		out[w.ID] = markets
	}
	return out, nil
}

// waitForStartupFailure fires when, past the startup deadline, every worker
// has exited with a chain connectivity error.
func waitForStartupFailure(deadline <-chan time.Time, sup *supervisor.Supervisor, ids []string) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		<-deadline
		for _, id := range ids {
			err := sup.WorkerErr(id)
			if err == nil || !errors.Is(err, worker.ErrChainUnreachable) {
				return
			}
		}
		close(ch)
	}()
	return ch
}

// workerSeed derives a per-worker RNG seed. A configured seed is offset by
// the wallet id hash so two workers never share a stream; an unset seed
// falls back to the clock.
func workerSeed(base int64, walletID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(walletID))
	if base == 0 {
		return time.Now().UnixNano() ^ int64(h.Sum64())
	}
	return base ^ int64(h.Sum64())
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
