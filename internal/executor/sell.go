package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/polycopy/internal/domain"
	"github.com/alanyoungcy/polycopy/internal/precision"
)

// SellRequest mirrors a trader's sale. TraderRemainingTokens is the trader's
// position after the sale.
type SellRequest struct {
	ConditionID           string
	Asset                 string
	EventIDs              []string
	TraderSoldTokens      float64
	TraderRemainingTokens float64
	TraderOrderUSD        float64
	HeldTokens            float64
}

// MergeRequest liquidates the whole held position of Asset.
type MergeRequest struct {
	ConditionID string
	Asset       string
	EventIDs    []string
	HeldTokens  float64
}

// SellQuantity sizes a proportional sell. Tracked buys are the preferred
// basis; the live position is used only when nothing is tracked. The result
// never exceeds HeldTokens.
func (e *Engine) SellQuantity(req SellRequest) float64 {
	if req.HeldTokens <= 0 {
		return 0
	}
	if req.TraderRemainingTokens <= 0 {
		return req.HeldTokens
	}

	total := req.TraderRemainingTokens + req.TraderSoldTokens
	if total <= 0 || req.TraderSoldTokens <= 0 {
		return 0
	}
	p := req.TraderSoldTokens / total

	base := req.HeldTokens * p
	if e.tracker != nil {
		if tracked, ok := e.tracker.Snapshot(req.ConditionID, req.Asset); ok && tracked.Quantity > 0 {
			base = tracked.Quantity * p
		}
	}
	qty := base * e.multiplier(req.TraderOrderUSD)
	return math.Min(qty, req.HeldTokens)
}

// Sell executes a proportional sell and decays tracked buys by the share
// actually sold.
func (e *Engine) Sell(ctx context.Context, req SellRequest) domain.ExecutionOutcome {
	out := domain.ExecutionOutcome{
		Kind:        domain.RequestSell,
		ConditionID: req.ConditionID,
		Asset:       req.Asset,
		EventIDs:    req.EventIDs,
	}

	qty := e.SellQuantity(req)
	if qty < domain.AbsoluteMinimum {
		out.Status = domain.StatusBelowMinimum
		out.Reason = "sell size below minimum"
		if req.HeldTokens <= 0 {
			out.Status = domain.StatusSkipped
			out.Reason = "no position held"
		}
		out.FinishedAt = time.Now().UTC()
		e.logOutcome(out)
		return out
	}

	var tracked domain.TrackerEntry
	hasTracked := false
	if e.tracker != nil {
		tracked, hasTracked = e.tracker.Snapshot(req.ConditionID, req.Asset)
	}

	e.walkBids(ctx, &out, req.Asset, qty)

	if hasTracked && tracked.Quantity > 0 && out.FilledQuantity > 0 {
		out.DecayFraction = out.FilledQuantity / tracked.Quantity
		e.tracker.ReduceProportionally(ctx, req.ConditionID, req.Asset, out.DecayFraction)
	}
	e.logOutcome(out)
	return out
}

// Merge sells the whole held position into the bids. Tracked buys decay by
// the share of the held position sold.
func (e *Engine) Merge(ctx context.Context, req MergeRequest) domain.ExecutionOutcome {
	out := domain.ExecutionOutcome{
		Kind:        domain.RequestMerge,
		ConditionID: req.ConditionID,
		Asset:       req.Asset,
		EventIDs:    req.EventIDs,
	}
	if req.HeldTokens < domain.AbsoluteMinimum {
		out.Status = domain.StatusSkipped
		out.Reason = "no position held"
		out.FinishedAt = time.Now().UTC()
		e.logOutcome(out)
		return out
	}

	e.walkBids(ctx, &out, req.Asset, req.HeldTokens)

	if out.FilledQuantity > 0 && e.tracker != nil {
		if _, ok := e.tracker.Snapshot(req.ConditionID, req.Asset); ok {
			out.DecayFraction = math.Min(out.FilledQuantity/req.HeldTokens, 1)
			e.tracker.ReduceProportionally(ctx, req.ConditionID, req.Asset, out.DecayFraction)
		}
	}
	e.logOutcome(out)
	return out
}

// dustEpsilon ignores float noise when reporting unsold remainders.
const dustEpsilon = 1e-9

// walkBids sells target tokens as GTC orders priced at the best bid, one
// level at a time.
func (e *Engine) walkBids(ctx context.Context, out *domain.ExecutionOutcome, asset string, target float64) {
	a := &attempt{limit: e.cfg.RetryLimit}
	remaining := target
	complete := false

	for !a.exhausted() {
		if remaining < domain.AbsoluteMinimum {
			complete = true
			break
		}

		book, err := e.exchange.OrderBook(ctx, asset)
		if err != nil {
			if e.onFailure(ctx, out, a, domain.KindOf(err), fromException, err.Error()) {
				break
			}
			continue
		}
		bid, ok := book.BestBid()
		if !ok {
			out.Reason = "no bids"
			break
		}

		qty, proceeds := precision.GTC(math.Min(remaining, bid.Size), bid.Price)
		if qty <= 0 {
			out.Reason = "rounding yields zero tokens"
			complete = out.FilledQuantity > 0
			break
		}
		intent := domain.OrderIntent{
			Side:    domain.SideSell,
			TokenID: asset,
			Amount:  qty,
			Tokens:  qty,
			Price:   precision.FloorPrice(bid.Price),
			Style:   domain.OrderStyleGTC,
		}

		res, err := e.submit(ctx, intent)
		if err != nil {
			if e.onFailure(ctx, out, a, domain.KindOf(err), fromException, err.Error()) {
				break
			}
			continue
		}
		if !res.Success {
			if e.onFailure(ctx, out, a, res.Kind, fromResult, res.Message) {
				break
			}
			continue
		}

		if !matched(res) {
			e.onResting(out, res, intent)
			break
		}

		a.onSuccess(out)
		out.FilledQuantity += qty
		out.FilledCost += proceeds
		remaining -= qty
		e.logger.Info("sell order filled",
			slog.String("asset", asset),
			slog.Float64("tokens", qty),
			slog.Float64("price", intent.Price),
			slog.Float64("remaining_tokens", remaining),
		)
	}

	if complete && remaining > dustEpsilon && out.Reason == "" {
		out.Reason = fmt.Sprintf("%.4f tokens left unsold below order precision", remaining)
	}
	finalize(out, a, complete)
}
