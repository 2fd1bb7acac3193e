package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// attempt tracks the retry counter of one execution loop.
type attempt struct {
	retries int
	limit   int
}

func (a *attempt) exhausted() bool { return a.retries >= a.limit }

// failureSource distinguishes a rejected order result from an error raised
// by the exchange client itself.
type failureSource int

const (
	fromResult failureSource = iota
	fromException
)

// onFailure applies the retry table. It returns true when the loop must
// stop; terminal kinds set the outcome status.
func (e *Engine) onFailure(ctx context.Context, out *domain.ExecutionOutcome, a *attempt, kind domain.ErrorKind, src failureSource, msg string) bool {
	out.ErrorKind = kind
	out.Reason = msg

	var backoff time.Duration
	switch kind {
	case domain.ErrorKindFunds:
		out.Status = domain.StatusAbortedFunds
		e.logger.Error("insufficient balance or allowance, aborting trade",
			slog.String("asset", out.Asset), slog.String("error", msg))
		return true
	case domain.ErrorKindSize:
		out.Status = domain.StatusAbortedSize
		e.logger.Error("order below exchange minimum, check sizing",
			slog.String("asset", out.Asset), slog.String("error", msg))
		return true
	case domain.ErrorKindPrecision:
		out.Status = domain.StatusAbortedPrecision
		e.logger.Error("order amount precision rejected",
			slog.String("asset", out.Asset), slog.String("error", msg))
		return true
	case domain.ErrorKindRateLimit:
		backoff = e.cfg.RateLimitBackoff
	case domain.ErrorKindNetwork:
		backoff = e.cfg.NetworkBackoff
		if src == fromException {
			backoff = e.cfg.ExceptionBackoff
		}
	default:
		if src == fromException {
			backoff = e.cfg.ExceptionBackoff
		} else {
			backoff = e.cfg.OtherBackoff
		}
	}

	a.retries++
	out.Retries = a.retries
	e.logger.Warn("order attempt failed, retrying",
		slog.String("asset", out.Asset),
		slog.String("error_kind", string(kind)),
		slog.Int("retry", a.retries),
		slog.Int("limit", a.limit),
		slog.Duration("backoff", backoff),
		slog.String("error", msg),
	)
	if a.exhausted() {
		return true
	}
	if err := e.sleep(ctx, backoff); err != nil {
		out.Reason = "interrupted during backoff"
		out.Status = domain.StatusSkipped
		if out.FilledQuantity > 0 {
			out.Status = domain.StatusPartial
		}
		return true
	}
	return false
}

// onSuccess resets the retry counter after a fill.
func (a *attempt) onSuccess(out *domain.ExecutionOutcome) {
	a.retries = 0
	out.Retries = 0
	out.ErrorKind = domain.ErrorKindNone
	out.Reason = ""
}

// statusMatched is the exchange status of an order that crossed the book.
// Accepted orders reported as live, delayed or unmatched have filled nothing.
const statusMatched = "matched"

func matched(res domain.SubmitResult) bool {
	return strings.EqualFold(res.Status, statusMatched)
}

// onResting stops the loop after an order was accepted without a fill. The
// order stays on the book, so placing more would overshoot the target.
func (e *Engine) onResting(out *domain.ExecutionOutcome, res domain.SubmitResult, intent domain.OrderIntent) {
	out.Status = domain.StatusPartial
	out.Reason = fmt.Sprintf("order %s accepted as %q, not filled", res.OrderID, res.Status)
	e.logger.Warn("order resting on book, not counted as filled",
		slog.String("asset", out.Asset),
		slog.String("order_id", res.OrderID),
		slog.String("exchange_status", res.Status),
		slog.String("style", string(intent.Style)),
		slog.Float64("tokens", intent.Tokens),
		slog.Float64("price", intent.Price),
	)
}

// finalize derives the outcome status of a loop that did not abort on a
// terminal error.
func finalize(out *domain.ExecutionOutcome, a *attempt, complete bool) {
	out.Success = out.FilledQuantity > 0
	out.FinishedAt = time.Now().UTC()
	if out.Status != "" {
		return
	}
	switch {
	case complete:
		out.Status = domain.StatusFilled
	case a.exhausted():
		out.Exhausted = true
		out.Retries = a.retries
		out.Status = domain.StatusExhausted
	case out.FilledQuantity > 0:
		out.Status = domain.StatusPartial
	default:
		out.Status = domain.StatusAbortedNoLiquidity
	}
}

// submit builds, signs and submits one intent. A returned error came from
// the client itself rather than an order rejection.
func (e *Engine) submit(ctx context.Context, intent domain.OrderIntent) (domain.SubmitResult, error) {
	signed, err := e.exchange.BuildOrder(ctx, intent)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	return e.exchange.Submit(ctx, signed)
}
