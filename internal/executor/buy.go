package executor

import (
	"context"
	"log/slog"
	"math"

	"github.com/alanyoungcy/polycopy/internal/domain"
	"github.com/alanyoungcy/polycopy/internal/precision"
)

// BuyRequest asks the engine to spend TargetUSD on Asset.
type BuyRequest struct {
	ConditionID string
	Asset       string
	EventIDs    []string
	TargetUSD   float64
	TraderPrice float64
}

// Buy walks the ask side until the target is spent. Clips of at least the
// maker USD minimum go out as FOK at the best ask; smaller clips that still
// reach the taker token minimum rest as GTC just below the ask.
func (e *Engine) Buy(ctx context.Context, req BuyRequest) domain.ExecutionOutcome {
	out := domain.ExecutionOutcome{
		Kind:        domain.RequestBuy,
		ConditionID: req.ConditionID,
		Asset:       req.Asset,
		EventIDs:    req.EventIDs,
	}
	a := &attempt{limit: e.cfg.RetryLimit}
	remaining := req.TargetUSD
	complete := false

	for !a.exhausted() {
		if remaining < domain.AbsoluteMinimum {
			complete = true
			break
		}

		book, err := e.exchange.OrderBook(ctx, req.Asset)
		if err != nil {
			if e.onFailure(ctx, &out, a, domain.KindOf(err), fromException, err.Error()) {
				break
			}
			continue
		}
		ask, ok := book.BestAsk()
		if !ok {
			out.Reason = "no asks"
			break
		}

		if !e.cfg.SkipSlippageGuard && req.TraderPrice > 0 && ask.Price > req.TraderPrice*e.cfg.SlippageFactor {
			out.Status = domain.StatusAbortedSlippage
			out.Reason = "best ask above slippage limit"
			e.logger.Warn("slippage guard rejected buy",
				slog.String("asset", req.Asset),
				slog.Float64("best_ask", ask.Price),
				slog.Float64("trader_price", req.TraderPrice),
			)
			break
		}

		intent, cost, ok := e.buyIntent(req, ask, math.Min(remaining, ask.Size*ask.Price))
		if !ok {
			out.Reason = "clip below order minimums"
			if out.FilledQuantity == 0 {
				out.Status = domain.StatusAbortedSize
				out.ErrorKind = domain.ErrorKindSize
				e.logger.Error("buy clip below both order minimums",
					slog.String("asset", req.Asset),
					slog.Float64("remaining_usd", remaining),
					slog.Float64("best_ask", ask.Price),
				)
			}
			break
		}
		if intent.Tokens <= 0 {
			out.Reason = "rounding yields zero tokens"
			break
		}

		res, err := e.submit(ctx, intent)
		if err != nil {
			if e.onFailure(ctx, &out, a, domain.KindOf(err), fromException, err.Error()) {
				break
			}
			continue
		}
		if !res.Success {
			if e.onFailure(ctx, &out, a, res.Kind, fromResult, res.Message) {
				break
			}
			continue
		}

		if !matched(res) {
			e.onResting(&out, res, intent)
			break
		}

		a.onSuccess(&out)
		out.FilledQuantity += intent.Tokens
		out.FilledCost += cost
		remaining -= cost
		e.logger.Info("buy order filled",
			slog.String("asset", req.Asset),
			slog.String("style", string(intent.Style)),
			slog.Float64("tokens", intent.Tokens),
			slog.Float64("price", intent.Price),
			slog.Float64("remaining_usd", remaining),
		)
	}

	finalize(&out, a, complete)
	if out.FilledQuantity > 0 && e.tracker != nil {
		e.tracker.RecordFill(ctx, req.ConditionID, req.Asset, out.FilledQuantity, out.FilledCost)
	}
	e.logOutcome(out)
	return out
}

// buyIntent selects the order style for a clip of clipUSD against ask and
// returns the intent with its USD cost.
func (e *Engine) buyIntent(req BuyRequest, ask domain.PriceLevel, clipUSD float64) (domain.OrderIntent, float64, bool) {
	if ask.Price <= 0 {
		return domain.OrderIntent{}, 0, false
	}

	if clipUSD >= domain.MakerMinUSD {
		amount, tokens := precision.FOK(clipUSD, ask.Price)
		return domain.OrderIntent{
			Side:    domain.SideBuy,
			TokenID: req.Asset,
			Amount:  amount,
			Tokens:  tokens,
			Price:   precision.FloorPrice(ask.Price),
			Style:   domain.OrderStyleFOK,
		}, amount, true
	}

	if clipUSD/ask.Price >= domain.TakerMinTokens {
		limit := precision.MakerLimit(ask.Price, req.TraderPrice)
		if limit <= 0 {
			return domain.OrderIntent{}, 0, false
		}
		qty, cost := precision.GTC(clipUSD/limit, limit)
		return domain.OrderIntent{
			Side:    domain.SideBuy,
			TokenID: req.Asset,
			Amount:  qty,
			Tokens:  qty,
			Price:   limit,
			Style:   domain.OrderStyleGTC,
		}, cost, true
	}

	return domain.OrderIntent{}, 0, false
}
