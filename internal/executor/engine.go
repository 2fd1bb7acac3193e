// Package executor turns copy requests into exchange orders. It walks the
// book, applies the exchange precision rules, and retries classified
// failures.
package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polycopy/internal/domain"
	"github.com/alanyoungcy/polycopy/internal/tracker"
)

// Config holds engine tunables.
type Config struct {
	RetryLimit        int
	SkipSlippageGuard bool
	SlippageFactor    float64
	RateLimitBackoff  time.Duration
	NetworkBackoff    time.Duration
	ExceptionBackoff  time.Duration
	OtherBackoff      time.Duration
}

// DefaultConfig returns the standard retry table.
func DefaultConfig() Config {
	return Config{
		RetryLimit:       3,
		SlippageFactor:   1.10,
		RateLimitBackoff: 5 * time.Second,
		NetworkBackoff:   2 * time.Second,
		ExceptionBackoff: 3 * time.Second,
		OtherBackoff:     time.Second,
	}
}

// Multiplier returns the sell multiplier for a trader order of the given
// USD size.
type Multiplier interface {
	Multiplier(traderOrderUSD float64) float64
}

// Engine executes MERGE, BUY and SELL requests one at a time.
type Engine struct {
	exchange domain.Exchange
	tracker  *tracker.Tracker
	mult     Multiplier
	cfg      Config
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *slog.Logger
}

// NewEngine creates an Engine. mult may be nil, in which case sells are not
// scaled.
func NewEngine(ex domain.Exchange, tr *tracker.Tracker, mult Multiplier, cfg Config, logger *slog.Logger) *Engine {
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = 1
	}
	if cfg.SlippageFactor <= 0 {
		cfg.SlippageFactor = 1.10
	}
	return &Engine{
		exchange: ex,
		tracker:  tr,
		mult:     mult,
		cfg:      cfg,
		sleep:    sleepCtx,
		logger:   logger.With(slog.String("component", "engine")),
	}
}

// Classify picks the execution path for an observed event.
func Classify(ev domain.TradeEvent) domain.RequestKind {
	switch {
	case ev.Type == domain.ActivityMerge:
		return domain.RequestMerge
	case ev.Side == domain.SideSell:
		return domain.RequestSell
	default:
		return domain.RequestBuy
	}
}

func (e *Engine) multiplier(traderUSD float64) float64 {
	if e.mult == nil {
		return 1
	}
	m := e.mult.Multiplier(traderUSD)
	if m <= 0 {
		return 1
	}
	return m
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (e *Engine) logOutcome(out domain.ExecutionOutcome) {
	attrs := []any{
		slog.String("kind", string(out.Kind)),
		slog.String("condition_id", out.ConditionID),
		slog.String("asset", out.Asset),
		slog.String("status", string(out.Status)),
		slog.Float64("filled_tokens", out.FilledQuantity),
		slog.Float64("filled_cost", out.FilledCost),
		slog.Int("retries", out.Retries),
	}
	if out.ErrorKind != domain.ErrorKindNone {
		attrs = append(attrs, slog.String("error_kind", string(out.ErrorKind)))
	}
	if out.Reason != "" {
		attrs = append(attrs, slog.String("reason", out.Reason))
	}
	if out.Status == domain.StatusFilled {
		e.logger.Info("execution finished", attrs...)
		return
	}
	e.logger.Warn("execution finished", attrs...)
}
