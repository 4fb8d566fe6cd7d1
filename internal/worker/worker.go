// Package worker runs the per-wallet trading loop.
//
// One worker owns one wallet and its sequence controller; no two workers
// ever share either. The worker walks its assigned markets round-robin,
// one market per cycle, so sequence consumption stays strictly serial per
// account while no market starves. Each cycle samples both venues' mids,
// snapshots the testnet book, plans, and broadcasts one batched
// create-and-cancel transaction under the sequence lease.
//
// Lifecycle: STARTING → RUNNING → COOLING → RUNNING … → STOPPING → STOPPED.
// The circuit breaker (three consecutive broadcast failures) sends the
// worker to COOLING for at least ten seconds before it resumes. Shutdown is
// observed at every suspension point; an in-flight lease is completed, not
// abandoned, and resting orders stay on the book for the next run to
// re-adopt.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"

	"injective-mm/internal/chain"
	"injective-mm/internal/keys"
	"injective-mm/internal/planner"
	"injective-mm/internal/sequence"
	"injective-mm/internal/txbuilder"
	"injective-mm/pkg/types"
)

// ErrChainUnreachable means the startup sequence sync failed after
// retries. The process maps this onto its chain-connectivity exit code.
var ErrChainUnreachable = errors.New("chain unreachable")

const (
	defaultCycleInterval    = 15 * time.Second
	defaultMaintenance      = 30 * time.Second
	defaultCooldown         = 10 * time.Second
	defaultBroadcastTimeout = 10 * time.Second
	maxBroadcastAttempts    = 3
	startupRetries          = 3
)

// PriceSource is the oracle surface the worker consumes.
type PriceSource interface {
	MainnetMid(ctx context.Context, m *types.Market) (decimal.Decimal, error)
	TestnetMid(ctx context.Context, m *types.Market) (decimal.Decimal, error)
}

// BookSource is the orderbook view surface the worker consumes.
type BookSource interface {
	Snapshot(ctx context.Context, m *types.Market, refPrice decimal.Decimal) (types.OrderbookSnapshot, error)
	OwnOrders(ctx context.Context, m *types.Market, subaccountID string) ([]types.OpenOrder, error)
}

// Broadcaster submits signed transactions.
type Broadcaster interface {
	Broadcast(ctx context.Context, tx chain.SignedTx) (chain.TxResult, error)
}

// Options wires one worker.
type Options struct {
	Wallet      keys.Wallet
	Markets     []*types.Market
	Params      map[string]types.MarketParams
	Oracle      PriceSource
	View        BookSource
	Sequence    *sequence.Controller
	Builder     *txbuilder.Builder
	Broadcaster Broadcaster
	Feed        *chain.OrderFeed // optional order event stream

	MaintenanceInterval time.Duration
	Cooldown            time.Duration
	BroadcastTimeout    time.Duration
	Seed                int64
	Logger              *slog.Logger
}

// Worker is the per-wallet control loop.
type Worker struct {
	wallet      keys.Wallet
	markets     []*types.Market
	params      map[string]types.MarketParams
	oracle      PriceSource
	view        BookSource
	seq         *sequence.Controller
	builder     *txbuilder.Builder
	broadcaster Broadcaster
	feed        *chain.OrderFeed
	planner     *planner.Planner

	maintenance      time.Duration
	cooldown         time.Duration
	broadcastTimeout time.Duration
	startupWait      time.Duration

	mu          sync.Mutex
	state       types.WorkerState
	startedAt   time.Time
	lastCycleAt time.Time
	lastError   string
	stats       types.CycleStats

	marketIdx int

	logger *slog.Logger
}

// New builds a worker. The planner is seeded here so every worker carries
// its own reproducible RNG.
func New(opts Options) *Worker {
	if opts.MaintenanceInterval == 0 {
		opts.MaintenanceInterval = defaultMaintenance
	}
	if opts.Cooldown == 0 {
		opts.Cooldown = defaultCooldown
	}
	if opts.BroadcastTimeout == 0 {
		opts.BroadcastTimeout = defaultBroadcastTimeout
	}
	logger := opts.Logger.With("component", "worker", "wallet", opts.Wallet.ID)

	return &Worker{
		wallet:           opts.Wallet,
		markets:          opts.Markets,
		params:           opts.Params,
		oracle:           opts.Oracle,
		view:             opts.View,
		seq:              opts.Sequence,
		builder:          opts.Builder,
		broadcaster:      opts.Broadcaster,
		feed:             opts.Feed,
		planner:          planner.New(opts.Seed, opts.Wallet.MaxOpenOrders, logger),
		maintenance:      opts.MaintenanceInterval,
		cooldown:         opts.Cooldown,
		broadcastTimeout: opts.BroadcastTimeout,
		startupWait:      time.Second,
		state:            types.WorkerStarting,
		logger:           logger,
	}
}

// Run drives the worker until ctx is cancelled. Returns nil on clean
// shutdown, ErrChainUnreachable when startup cannot sync the sequence, or
// a config error when the wallet has no markets.
func (w *Worker) Run(ctx context.Context) error {
	w.setState(types.WorkerStarting)
	w.mu.Lock()
	w.startedAt = time.Now()
	w.mu.Unlock()

	if len(w.markets) == 0 {
		w.setState(types.WorkerStopped)
		return fmt.Errorf("wallet %s has no markets assigned", w.wallet.ID)
	}
	if err := w.startupSync(ctx); err != nil {
		w.setState(types.WorkerStopped)
		return err
	}

	if w.feed != nil {
		ids := make([]string, 0, len(w.markets))
		for _, m := range w.markets {
			ids = append(ids, m.TestnetMarketID)
		}
		go w.runFeed(ctx, ids)
	}

	w.logger.Info("worker started",
		"markets", len(w.markets),
		"sequence", w.seq.Value(),
		"max_open_orders", w.wallet.MaxOpenOrders,
	)
	w.setState(types.WorkerRunning)

	lastMaintenance := time.Now()
	for ctx.Err() == nil {
		mkt := w.markets[w.marketIdx%len(w.markets)]
		w.marketIdx++

		w.runCycle(ctx, mkt)

		w.mu.Lock()
		w.lastCycleAt = time.Now()
		w.stats.Cycles++
		w.mu.Unlock()

		if ctx.Err() != nil {
			break
		}

		if w.seq.Tripped() {
			w.coolDown(ctx)
			if ctx.Err() != nil {
				break
			}
		}

		if time.Since(lastMaintenance) >= w.maintenance {
			if err := w.seq.Refresh(ctx, false); err != nil {
				w.logger.Debug("maintenance refresh failed", "error", err)
			}
			if err := w.seq.CheckDrift(ctx); err != nil {
				w.logger.Debug("drift check failed", "error", err)
			}
			lastMaintenance = time.Now()
		}

		if err := sleepCtx(ctx, w.cycleInterval(mkt)); err != nil {
			break
		}
	}

	w.setState(types.WorkerStopping)
	w.mu.Lock()
	stats := w.stats
	w.mu.Unlock()
	w.logger.Info("worker stopped",
		"cycles", stats.Cycles,
		"broadcasts", stats.Broadcasts,
		"creates", stats.Creates,
		"cancels", stats.Cancels,
		"retries", stats.Retries,
		"trips", stats.Trips,
	)
	w.setState(types.WorkerStopped)
	return nil
}

// startupSync forces the first authoritative sequence fetch, retrying a
// few times before declaring the chain unreachable.
func (w *Worker) startupSync(ctx context.Context) error {
	wait := &backoff.Backoff{Min: w.startupWait, Max: 10 * time.Second, Factor: 2}

	var lastErr error
	for attempt := 1; attempt <= startupRetries; attempt++ {
		if err := w.seq.Refresh(ctx, true); err == nil {
			return nil
		} else {
			lastErr = err
			w.logger.Warn("startup sequence sync failed", "attempt", attempt, "error", err)
		}
		if err := sleepCtx(ctx, wait.Duration()); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrChainUnreachable, lastErr)
}

// runCycle does one market's observe → plan → broadcast pass. Transient
// fetch failures skip the cycle without touching the sequence state.
func (w *Worker) runCycle(ctx context.Context, mkt *types.Market) {
	logger := w.logger.With("market", mkt.Symbol)

	mainnetMid, err := w.oracle.MainnetMid(ctx, mkt)
	if err != nil {
		logger.Debug("cycle skipped: mainnet price unavailable")
		return
	}
	testnetMid, terr := w.oracle.TestnetMid(ctx, mkt)

	sample := types.PriceSample{
		Market:     mkt.Symbol,
		MainnetMid: mainnetMid,
		MainnetOK:  true,
		TestnetMid: testnetMid,
		TestnetOK:  terr == nil,
		SampledAt:  time.Now(),
	}

	snap, err := w.view.Snapshot(ctx, mkt, mainnetMid)
	if err != nil {
		logger.Warn("cycle skipped: snapshot failed", "error", err)
		return
	}
	open, err := w.view.OwnOrders(ctx, mkt, w.wallet.SubaccountID)
	if err != nil {
		logger.Warn("cycle skipped: open orders fetch failed", "error", err)
		return
	}

	plan := w.planner.Plan(mkt, sample, snap, open, w.params[mkt.Symbol])
	if plan.Phase == types.PhaseIdle || plan.Empty() {
		logger.Debug("nothing to do", "phase", plan.Phase, "rationale", plan.Rationale)
		return
	}

	logger.Info("plan ready",
		"phase", plan.Phase,
		"creates", len(plan.Creates),
		"cancels", len(plan.Cancels),
		"gap_pct", sample.Gap().Mul(decimal.NewFromInt(100)).StringFixed(2),
		"total_orders", snap.TotalOrders,
		"near_orders", snap.OrdersNearPrice,
	)

	w.broadcastPlan(ctx, mkt, plan, open, logger)
}

// broadcastPlan pushes the plan through the sequence lease with up to
// three attempts. Mismatch and timeout waits happen inside the controller;
// other rejections back off exponentially here.
func (w *Worker) broadcastPlan(ctx context.Context, mkt *types.Market, plan types.ActionPlan, open []types.OpenOrder, logger *slog.Logger) {
	// Filtering may empty the plan; bail before touching the sequence.
	if _, err := w.builder.Assemble(mkt, w.wallet.SubaccountID, plan, open); err != nil {
		if errors.Is(err, txbuilder.ErrNothingToDo) {
			logger.Debug("plan emptied by filtering, skipping broadcast")
			return
		}
		logger.Warn("assemble failed", "error", err)
		return
	}

	wait := &backoff.Backoff{Min: 500 * time.Millisecond, Max: 5 * time.Second, Factor: 2}

	for attempt := 1; attempt <= maxBroadcastAttempts; attempt++ {
		err := w.seq.WithSequence(ctx, func(seq uint64) error {
			tx, err := w.builder.Build(mkt, w.wallet, seq, plan, open)
			if err != nil {
				return err
			}
			// Once the lease is held the broadcast runs to completion.
			// Cancelling it mid-flight would leave unknown whether the
			// chain consumed the sequence number, so the call is detached
			// from the run context and bounded by the broadcast timeout.
			bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.broadcastTimeout)
			defer cancel()
			res, err := w.broadcaster.Broadcast(bctx, tx)
			if err != nil {
				return err
			}
			logger.Info("batch broadcast",
				"phase", plan.Phase,
				"sequence", seq,
				"tx_hash", res.TxHash,
			)
			return nil
		})

		if err == nil {
			w.mu.Lock()
			w.stats.Broadcasts++
			w.stats.Creates += uint64(len(plan.Creates))
			w.stats.Cancels += uint64(len(plan.Cancels))
			w.lastError = ""
			w.mu.Unlock()
			return
		}
		if ctx.Err() != nil {
			return
		}

		w.mu.Lock()
		w.stats.Retries++
		w.lastError = err.Error()
		w.mu.Unlock()

		rErr, retryable := sequence.AsRetryable(err)
		if !retryable {
			logger.Error("broadcast failed with non-retryable error", "error", err)
			return
		}
		logger.Warn("broadcast attempt failed",
			"attempt", attempt,
			"kind", rErr.Kind.String(),
			"error", rErr.Err,
		)
		if rErr.Kind == sequence.KindBroadcast {
			if err := sleepCtx(ctx, wait.Duration()); err != nil {
				return
			}
		}
	}
	logger.Warn("cycle abandoned after repeated broadcast failures")
}

// coolDown parks the worker after the circuit breaker trips.
func (w *Worker) coolDown(ctx context.Context) {
	w.setState(types.WorkerCooling)
	w.mu.Lock()
	w.stats.Trips++
	w.mu.Unlock()

	w.logger.Warn("circuit breaker tripped, cooling down", "cooldown", w.cooldown)
	if err := sleepCtx(ctx, w.cooldown); err != nil {
		return
	}
	if err := w.seq.Refresh(ctx, true); err != nil {
		w.logger.Warn("post-cooldown refresh failed", "error", err)
	}
	w.seq.ResetErrors()
	w.setState(types.WorkerRunning)
	w.logger.Info("cooldown complete, resuming")
}

// runFeed consumes the order event stream for fill accounting.
func (w *Worker) runFeed(ctx context.Context, marketIDs []string) {
	go func() {
		if err := w.feed.Run(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn("order feed terminated", "error", err)
		}
	}()
	// Initial subscribe races the dial; Run re-subscribes on connect.
	_ = w.feed.Subscribe(marketIDs)

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-w.feed.TradeEvents():
			w.mu.Lock()
			w.stats.Fills++
			w.mu.Unlock()
			w.logger.Info("order filled",
				"market", evt.MarketID,
				"hash", evt.OrderHash,
				"price", evt.Price,
				"quantity", evt.Quantity,
			)
		case evt := <-w.feed.OrderEvents():
			w.logger.Debug("order event",
				"market", evt.MarketID,
				"hash", evt.OrderHash,
				"state", evt.State,
			)
		}
	}
}

func (w *Worker) cycleInterval(mkt *types.Market) time.Duration {
	if p, ok := w.params[mkt.Symbol]; ok && p.CycleInterval > 0 {
		return p.CycleInterval
	}
	return defaultCycleInterval
}

// Status reports the worker's current state for the supervisor surface.
func (w *Worker) Status() types.WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	var uptime time.Duration
	if !w.startedAt.IsZero() {
		uptime = time.Since(w.startedAt)
	}
	return types.WorkerStatus{
		Wallet:      w.wallet.ID,
		State:       w.state,
		Uptime:      uptime,
		LastCycleAt: w.lastCycleAt,
		LastError:   w.lastError,
		Stats:       w.stats,
	}
}

// State returns the current lifecycle state.
func (w *Worker) State() types.WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s types.WorkerState) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
