// Package copier runs the single copy-trading worker: it polls followed
// traders' activity, groups small buys, gates and executes each request
// strictly one at a time, and writes every outcome back.
package copier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/polycopy/internal/aggregator"
	"github.com/alanyoungcy/polycopy/internal/domain"
	"github.com/alanyoungcy/polycopy/internal/executor"
	"github.com/alanyoungcy/polycopy/internal/riskgate"
	"github.com/alanyoungcy/polycopy/internal/sizing"
	"github.com/alanyoungcy/polycopy/internal/tracker"
)

// ExecutionsStream is the signal bus stream and channel outcomes go to.
const ExecutionsStream = "executions"

// Config holds worker settings.
type Config struct {
	Wallet             string // controlled account whose holdings are sold
	Traders            []string
	PollInterval       time.Duration
	BatchSize          int
	AggregationEnabled bool
	LockTTL            time.Duration
	DedupTTL           time.Duration
}

// Sizer converts an observed buy into a copy target.
type Sizer interface {
	Size(in sizing.Input) sizing.Result
}

// OutcomeNotifier delivers outcomes to operators.
type OutcomeNotifier interface {
	NotifyOutcome(ctx context.Context, out domain.ExecutionOutcome) error
}

// Deps bundles the worker's collaborators. Locks, Bus, Audit and Notifier
// are optional.
type Deps struct {
	Activity  domain.ActivityStore
	Portfolio domain.Portfolio
	Engine    *executor.Engine
	Buffer    *aggregator.Buffer
	Gate      *riskgate.Gate
	Tracker   *tracker.Tracker
	Sizer     Sizer
	Locks     domain.LockManager
	Bus       domain.SignalBus
	Audit     domain.AuditStore
	Notifier  OutcomeNotifier
}

// Worker is the single logical copy worker.
type Worker struct {
	cfg    Config
	deps   Deps
	dedup  *Dedup
	logger *slog.Logger

	// lock is held for the whole run; lockErr is set once it is lost.
	lock    domain.Lock
	lockErr error

	mu    sync.RWMutex
	stats Stats
}

// Stats are the worker counters exposed by the status API.
type Stats struct {
	Running     bool                          `json:"running"`
	StartedAt   time.Time                     `json:"started_at"`
	LastCycleAt time.Time                     `json:"last_cycle_at"`
	Cycles      int64                         `json:"cycles"`
	Dispatched  int64                         `json:"dispatched"`
	Buffered    int64                         `json:"buffered"`
	ByStatus    map[domain.ActivityStatus]int `json:"by_status"`
	Balance     float64                       `json:"balance"`
	LastError   string                        `json:"last_error,omitempty"`
}

// NewWorker creates a Worker.
func NewWorker(cfg Config, deps Deps, logger *slog.Logger) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 10 * time.Minute
	}
	return &Worker{
		cfg:    cfg,
		deps:   deps,
		dedup:  NewDedup(cfg.DedupTTL),
		logger: logger.With(slog.String("component", "copier")),
		stats:  Stats{ByStatus: make(map[domain.ActivityStatus]int)},
	}
}

// Run polls until ctx is cancelled. It returns an error only for
// infrastructure failures: the worker lock is held elsewhere or was lost,
// or startup state could not be loaded.
func (w *Worker) Run(ctx context.Context) error {
	if w.deps.Locks != nil {
		l, err := w.deps.Locks.Acquire(ctx, "copier:"+w.cfg.Wallet, w.cfg.LockTTL)
		if err != nil {
			return fmt.Errorf("copier: acquire worker lock: %w", err)
		}
		w.lock = l
		defer func() {
			l.Release()
			w.lock = nil
		}()
	}

	if err := w.start(ctx); err != nil {
		return err
	}
	defer w.shutdown(ctx)

	w.logger.InfoContext(ctx, "copy worker started",
		slog.Int("traders", len(w.cfg.Traders)),
		slog.Duration("poll_interval", w.cfg.PollInterval),
		slog.Bool("aggregation", w.cfg.AggregationEnabled),
	)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		w.Cycle(ctx)
		if w.lockErr != nil {
			return fmt.Errorf("copier: %w", w.lockErr)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// start restores tracked positions and clears in-flight markers left by a
// previous run.
func (w *Worker) start(ctx context.Context) error {
	if w.deps.Tracker != nil {
		if err := w.deps.Tracker.Load(ctx); err != nil {
			return fmt.Errorf("copier: load tracker: %w", err)
		}
		if w.deps.Gate != nil {
			w.deps.Gate.Seed(w.deps.Tracker.Entries())
		}
	}
	n, err := w.deps.Activity.ReleaseAllInFlight(ctx, w.cfg.Traders)
	if err != nil {
		return fmt.Errorf("copier: release stale in-flight events: %w", err)
	}
	if n > 0 {
		w.logger.InfoContext(ctx, "released stale in-flight events", slog.Int64("count", n))
	}

	w.mu.Lock()
	w.stats.Running = true
	w.stats.StartedAt = time.Now().UTC()
	w.mu.Unlock()
	return nil
}

// shutdown hands buffered, undispatched events back to the store. After
// the lock was lost the new holder owns those rows, so they are left alone.
func (w *Worker) shutdown(ctx context.Context) {
	w.mu.Lock()
	w.stats.Running = false
	w.mu.Unlock()

	var ids []string
	for _, agg := range w.deps.Buffer.Drain() {
		ids = append(ids, agg.EventIDs...)
	}
	if len(ids) == 0 || w.lockErr != nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	n, err := w.deps.Activity.ReleaseInFlight(rctx, ids)
	if err != nil {
		w.logger.ErrorContext(rctx, "release buffered events failed",
			slog.Int("events", len(ids)),
			slog.String("error", err.Error()),
		)
		return
	}
	w.logger.InfoContext(rctx, "released buffered events", slog.Int64("count", n))
}

// Cycle runs one poll: pending events in timestamp order, then any
// aggregations that became ready. Shutdown is honoured between events; an
// execution already started runs to completion.
func (w *Worker) Cycle(ctx context.Context) {
	defer func() {
		w.mu.Lock()
		w.stats.Cycles++
		w.stats.LastCycleAt = time.Now().UTC()
		w.mu.Unlock()
	}()

	if !w.holdLock(ctx) {
		return
	}
	events, err := w.deps.Activity.ListPending(ctx, w.cfg.Traders, w.cfg.BatchSize)
	if err != nil {
		if ctx.Err() == nil {
			w.setError(err)
			w.logger.ErrorContext(ctx, "list pending activity failed", slog.String("error", err.Error()))
		}
		return
	}

	for _, ev := range events {
		if ctx.Err() != nil {
			return
		}
		if w.dedup.Seen(ev.ID) {
			continue
		}
		if !w.holdLock(ctx) {
			w.dedup.Forget(ev.ID)
			return
		}
		w.handle(ctx, ev)
	}

	if w.cfg.AggregationEnabled && ctx.Err() == nil {
		w.flushReady(ctx)
	}
	w.dedup.Cleanup()
}

// holdLock extends the worker lock ahead of a dispatch so that a single
// execution, retries included, never outlives the TTL. It returns false
// once the lock is lost; nothing may be dispatched or released after that.
func (w *Worker) holdLock(ctx context.Context) bool {
	if w.lockErr != nil {
		return false
	}
	if w.lock == nil {
		return true
	}
	err := w.lock.Extend(ctx, w.cfg.LockTTL)
	switch {
	case err == nil:
		return true
	case errors.Is(err, domain.ErrLockLost):
		w.lockErr = err
		w.setError(err)
		w.logger.ErrorContext(ctx, "worker lock lost, stopping dispatch", slog.String("error", err.Error()))
		return false
	default:
		if ctx.Err() == nil {
			w.logger.WarnContext(ctx, "worker lock extend failed", slog.String("error", err.Error()))
		}
		return true
	}
}

func (w *Worker) handle(ctx context.Context, ev domain.TradeEvent) {
	if err := w.deps.Activity.MarkInFlight(ctx, []string{ev.ID}); err != nil {
		w.dedup.Forget(ev.ID)
		w.logger.ErrorContext(ctx, "mark in-flight failed",
			slog.String("event_id", ev.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	w.mu.Lock()
	w.stats.Dispatched++
	w.mu.Unlock()

	execCtx := context.WithoutCancel(ctx)
	var err error
	switch executor.Classify(ev) {
	case domain.RequestMerge:
		err = w.merge(execCtx, ev)
	case domain.RequestSell:
		err = w.sell(execCtx, ev)
	default:
		err = w.buy(execCtx, ev)
	}
	if err != nil {
		// Lookup failures are transient: hand the event back for the next
		// poll.
		w.setError(err)
		w.logger.WarnContext(ctx, "event deferred",
			slog.String("event_id", ev.ID),
			slog.String("error", err.Error()),
		)
		w.release(execCtx, ev.ID)
	}
}

func (w *Worker) release(ctx context.Context, ids ...string) {
	w.dedup.Forget(ids...)
	if _, err := w.deps.Activity.ReleaseInFlight(ctx, ids); err != nil {
		w.logger.ErrorContext(ctx, "release in-flight failed",
			slog.Any("event_ids", ids),
			slog.String("error", err.Error()),
		)
	}
}

func (w *Worker) buy(ctx context.Context, ev domain.TradeEvent) error {
	balance, err := w.deps.Portfolio.Balance(ctx)
	if err != nil {
		return err
	}
	posValue, err := w.deps.Portfolio.PositionValue(ctx, w.cfg.Wallet, ev.ConditionID)
	if err != nil {
		return err
	}

	res := w.deps.Sizer.Size(sizing.Input{
		TraderOrderUSD: ev.UsdcSize,
		Balance:        balance,
		PositionValue:  posValue,
	})
	base := domain.ExecutionOutcome{
		Kind:          domain.RequestBuy,
		ConditionID:   ev.ConditionID,
		Asset:         ev.Asset,
		MarketSlug:    ev.MarketSlug,
		EventIDs:      []string{ev.ID},
		Reason:        res.Reason,
		BalanceBefore: balance,
		BalanceAfter:  balance,
	}

	switch {
	case res.Skip:
		base.Status = domain.StatusSkipped
		if res.BelowMinimum {
			base.Status = domain.StatusBelowMinimum
		}
		w.finish(ctx, base, domain.Annotation{Status: base.Status})
	case res.BelowMinimum && w.cfg.AggregationEnabled:
		if err := w.deps.Buffer.Add(ev, res.TargetUSD); err != nil {
			return fmt.Errorf("buffer event: %w", err)
		}
		w.mu.Lock()
		w.stats.Buffered++
		w.mu.Unlock()
		w.logger.InfoContext(ctx, "buy buffered for aggregation",
			slog.String("event_id", ev.ID),
			slog.String("asset", ev.Asset),
			slog.Float64("target_usd", res.TargetUSD),
		)
	case res.BelowMinimum:
		base.Status = domain.StatusBelowMinimum
		w.finish(ctx, base, domain.Annotation{Status: base.Status})
	default:
		w.executeBuy(ctx, buyJob{
			conditionID: ev.ConditionID,
			asset:       ev.Asset,
			marketSlug:  ev.MarketSlug,
			eventIDs:    []string{ev.ID},
			targetUSD:   res.TargetUSD,
			traderPrice: ev.Price,
		}, balance)
	}
	return nil
}

type buyJob struct {
	conditionID string
	asset       string
	marketSlug  string
	eventIDs    []string
	targetUSD   float64
	traderPrice float64
}

// flushReady dispatches every aggregation that reached the taker minimum,
// oldest first.
func (w *Worker) flushReady(ctx context.Context) {
	for _, agg := range w.deps.Buffer.Ready(domain.TakerMinTokens) {
		if !w.holdLock(ctx) {
			return
		}
		execCtx := context.WithoutCancel(ctx)
		balance, err := w.deps.Portfolio.Balance(execCtx)
		if err != nil {
			w.setError(err)
			w.logger.WarnContext(ctx, "aggregation deferred",
				slog.String("asset", agg.Key.Asset),
				slog.String("error", err.Error()),
			)
			w.release(execCtx, agg.EventIDs...)
			continue
		}
		w.logger.InfoContext(ctx, "aggregation ready",
			slog.String("trader", agg.Key.Trader),
			slog.String("asset", agg.Key.Asset),
			slog.Int("events", len(agg.EventIDs)),
			slog.Float64("scaled_usd", agg.ScaledUsdcSize),
			slog.Float64("avg_price", agg.AveragePrice),
		)
		w.executeBuy(execCtx, buyJob{
			conditionID: agg.Key.ConditionID,
			asset:       agg.Key.Asset,
			marketSlug:  agg.MarketSlug,
			eventIDs:    agg.EventIDs,
			targetUSD:   agg.ScaledUsdcSize,
			traderPrice: agg.AveragePrice,
		}, balance)
		if ctx.Err() != nil {
			return
		}
	}
}

// executeBuy gates and executes one buy. Every contributing event is
// annotated with the realised bought-token total.
func (w *Worker) executeBuy(ctx context.Context, job buyJob, balance float64) {
	if w.deps.Gate != nil && job.traderPrice > 0 {
		dec := w.deps.Gate.Check(job.conditionID, job.asset, job.targetUSD/job.traderPrice, job.traderPrice)
		if !dec.Allowed {
			out := domain.ExecutionOutcome{
				Kind:          domain.RequestBuy,
				ConditionID:   job.conditionID,
				Asset:         job.asset,
				MarketSlug:    job.marketSlug,
				EventIDs:      job.eventIDs,
				Status:        domain.StatusRiskRejected,
				Reason:        dec.Reason,
				BalanceBefore: balance,
				BalanceAfter:  balance,
			}
			w.finish(ctx, out, domain.Annotation{Status: out.Status})
			return
		}
	}

	out := w.deps.Engine.Buy(ctx, executor.BuyRequest{
		ConditionID: job.conditionID,
		Asset:       job.asset,
		EventIDs:    job.eventIDs,
		TargetUSD:   job.targetUSD,
		TraderPrice: job.traderPrice,
	})
	out.MarketSlug = job.marketSlug
	if out.FilledQuantity > 0 && w.deps.Gate != nil {
		w.deps.Gate.RecordBuy(job.conditionID, job.asset, out.FilledQuantity, out.FilledCost)
	}
	out.BalanceBefore = balance
	out.BalanceAfter = w.balanceAfter(ctx, balance, -out.FilledCost)

	bought := out.FilledQuantity
	w.finish(ctx, out, annotation(out, &bought))
}

func (w *Worker) sell(ctx context.Context, ev domain.TradeEvent) error {
	held, err := w.deps.Portfolio.Position(ctx, w.cfg.Wallet, ev.ConditionID, ev.Asset)
	if err != nil {
		return err
	}
	trader, err := w.deps.Portfolio.Position(ctx, ev.TraderAddress, ev.ConditionID, ev.Asset)
	if err != nil {
		return err
	}
	balance, err := w.deps.Portfolio.Balance(ctx)
	if err != nil {
		return err
	}

	sold := ev.Size
	if sold <= 0 && ev.Price > 0 {
		sold = ev.UsdcSize / ev.Price
	}
	out := w.deps.Engine.Sell(ctx, executor.SellRequest{
		ConditionID:           ev.ConditionID,
		Asset:                 ev.Asset,
		EventIDs:              []string{ev.ID},
		TraderSoldTokens:      sold,
		TraderRemainingTokens: trader.Size,
		TraderOrderUSD:        ev.UsdcSize,
		HeldTokens:            held.Size,
	})
	out.MarketSlug = ev.MarketSlug
	w.afterSell(ctx, &out, balance)
	w.finish(ctx, out, annotation(out, nil))
	return nil
}

func (w *Worker) merge(ctx context.Context, ev domain.TradeEvent) error {
	if ev.Asset == "" {
		return w.mergeCondition(ctx, ev)
	}
	held, err := w.deps.Portfolio.Position(ctx, w.cfg.Wallet, ev.ConditionID, ev.Asset)
	if err != nil {
		return err
	}
	balance, err := w.deps.Portfolio.Balance(ctx)
	if err != nil {
		return err
	}

	out := w.deps.Engine.Merge(ctx, executor.MergeRequest{
		ConditionID: ev.ConditionID,
		Asset:       ev.Asset,
		EventIDs:    []string{ev.ID},
		HeldTokens:  held.Size,
	})
	out.MarketSlug = ev.MarketSlug
	w.afterSell(ctx, &out, balance)
	w.finish(ctx, out, annotation(out, nil))
	return nil
}

// mergeCondition handles a merge reported without an asset: every outcome
// token held in the condition is liquidated. Each asset yields its own
// outcome; the event is written back once with the first non-filled
// status, or filled when all assets filled.
func (w *Worker) mergeCondition(ctx context.Context, ev domain.TradeEvent) error {
	positions, err := w.deps.Portfolio.Positions(ctx, w.cfg.Wallet, ev.ConditionID)
	if err != nil {
		return err
	}
	balance, err := w.deps.Portfolio.Balance(ctx)
	if err != nil {
		return err
	}

	var held []domain.Position
	for _, p := range positions {
		if p.ConditionID == ev.ConditionID && p.Asset != "" && p.Size >= domain.AbsoluteMinimum {
			held = append(held, p)
		}
	}
	if len(held) == 0 {
		out := w.deps.Engine.Merge(ctx, executor.MergeRequest{
			ConditionID: ev.ConditionID,
			EventIDs:    []string{ev.ID},
		})
		out.MarketSlug = ev.MarketSlug
		w.afterSell(ctx, &out, balance)
		w.finish(ctx, out, annotation(out, nil))
		return nil
	}

	status := domain.StatusFilled
	var retries *int
	for _, p := range held {
		out := w.deps.Engine.Merge(ctx, executor.MergeRequest{
			ConditionID: ev.ConditionID,
			Asset:       p.Asset,
			EventIDs:    []string{ev.ID},
			HeldTokens:  p.Size,
		})
		out.MarketSlug = ev.MarketSlug
		w.afterSell(ctx, &out, balance)
		w.report(ctx, out)
		if status == domain.StatusFilled && out.Status != domain.StatusFilled {
			status = out.Status
			retries = annotation(out, nil).RetryCount
		}
	}
	w.markProcessed(ctx, []string{ev.ID}, domain.Annotation{Status: status, RetryCount: retries})
	return nil
}

// afterSell updates the risk gate and decays the bought-token annotations
// of earlier buys by the share sold.
func (w *Worker) afterSell(ctx context.Context, out *domain.ExecutionOutcome, balance float64) {
	out.BalanceBefore = balance
	out.BalanceAfter = balance
	if out.FilledQuantity <= 0 {
		return
	}
	if w.deps.Gate != nil {
		w.deps.Gate.RecordSell(out.ConditionID, out.Asset, out.FilledQuantity)
	}
	if out.DecayFraction > 0 {
		factor := 1 - out.DecayFraction
		if out.DecayFraction >= tracker.FullCloseRatio {
			factor = 0
		}
		if err := w.deps.Activity.ScaleBoughtTokens(ctx, out.ConditionID, out.Asset, factor); err != nil {
			w.logger.ErrorContext(ctx, "decay bought tokens failed",
				slog.String("condition_id", out.ConditionID),
				slog.String("asset", out.Asset),
				slog.String("error", err.Error()),
			)
		}
	}
	out.BalanceAfter = w.balanceAfter(ctx, balance, out.FilledCost)
}

// balanceAfter re-reads the balance, falling back to before+delta.
func (w *Worker) balanceAfter(ctx context.Context, before, delta float64) float64 {
	bal, err := w.deps.Portfolio.Balance(ctx)
	if err != nil {
		w.logger.WarnContext(ctx, "balance refresh failed", slog.String("error", err.Error()))
		return before + delta
	}
	return bal
}

func annotation(out domain.ExecutionOutcome, bought *float64) domain.Annotation {
	ann := domain.Annotation{Status: out.Status, BoughtTokens: bought}
	if out.Exhausted {
		retries := out.Retries
		ann.RetryCount = &retries
	}
	return ann
}

// finish writes the outcome back to the store and publishes it. Only the
// store write can leave an event unresolved; it then stays in flight until
// the next restart releases it.
func (w *Worker) finish(ctx context.Context, out domain.ExecutionOutcome, ann domain.Annotation) {
	w.markProcessed(ctx, out.EventIDs, ann)
	w.report(ctx, out)
}

func (w *Worker) markProcessed(ctx context.Context, ids []string, ann domain.Annotation) {
	if err := w.deps.Activity.MarkProcessed(ctx, ids, ann); err != nil {
		w.setError(err)
		w.logger.ErrorContext(ctx, "mark processed failed",
			slog.Any("event_ids", ids),
			slog.String("status", string(ann.Status)),
			slog.String("error", err.Error()),
		)
	}
}

// report counts, logs and publishes one outcome.
func (w *Worker) report(ctx context.Context, out domain.ExecutionOutcome) {
	if out.FinishedAt.IsZero() {
		out.FinishedAt = time.Now().UTC()
	}

	w.mu.Lock()
	w.stats.ByStatus[out.Status]++
	w.stats.Balance = out.BalanceAfter
	w.mu.Unlock()

	level := slog.LevelInfo
	if out.Status != domain.StatusFilled {
		level = slog.LevelWarn
	}
	w.logger.Log(ctx, level, "event processed",
		slog.String("kind", string(out.Kind)),
		slog.String("condition_id", out.ConditionID),
		slog.String("asset", out.Asset),
		slog.String("status", string(out.Status)),
		slog.Int("events", len(out.EventIDs)),
		slog.Float64("filled_tokens", out.FilledQuantity),
		slog.Float64("filled_cost", out.FilledCost),
		slog.Float64("balance_before", out.BalanceBefore),
		slog.Float64("balance_after", out.BalanceAfter),
	)

	w.publish(ctx, out)
}

func (w *Worker) publish(ctx context.Context, out domain.ExecutionOutcome) {
	if w.deps.Bus != nil {
		payload, err := json.Marshal(out)
		if err == nil {
			if err := w.deps.Bus.StreamAppend(ctx, ExecutionsStream, payload); err != nil {
				w.logger.WarnContext(ctx, "stream append failed", slog.String("error", err.Error()))
			}
			if err := w.deps.Bus.Publish(ctx, ExecutionsStream, payload); err != nil {
				w.logger.WarnContext(ctx, "publish outcome failed", slog.String("error", err.Error()))
			}
		}
	}
	if w.deps.Audit != nil {
		if err := w.deps.Audit.Log(ctx, "execution", map[string]any{
			"kind":           string(out.Kind),
			"condition_id":   out.ConditionID,
			"asset":          out.Asset,
			"event_ids":      out.EventIDs,
			"status":         string(out.Status),
			"filled_tokens":  out.FilledQuantity,
			"filled_cost":    out.FilledCost,
			"retries":        out.Retries,
			"error_kind":     string(out.ErrorKind),
			"reason":         out.Reason,
			"balance_before": out.BalanceBefore,
			"balance_after":  out.BalanceAfter,
		}); err != nil {
			w.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	if w.deps.Notifier != nil {
		if err := w.deps.Notifier.NotifyOutcome(ctx, out); err != nil {
			w.logger.WarnContext(ctx, "notify failed", slog.String("error", err.Error()))
		}
	}
}

func (w *Worker) setError(err error) {
	w.mu.Lock()
	w.stats.LastError = err.Error()
	w.mu.Unlock()
}
