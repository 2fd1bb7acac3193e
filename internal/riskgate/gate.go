// Package riskgate guards each binary market's combined cost basis and leg
// imbalance before a copied buy is dispatched.
package riskgate

import (
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// Config holds the gate ceilings.
type Config struct {
	Enabled      bool
	MaxCostBasis float64
	MaxImbalance float64
}

// DefaultConfig returns the standard ceilings.
func DefaultConfig() Config {
	return Config{Enabled: true, MaxCostBasis: 0.95, MaxImbalance: 0.30}
}

// Decision is the result of a gate check.
type Decision struct {
	Allowed              bool
	Reason               string
	CurrentBasis         float64
	ProspectiveBasis     float64
	CurrentImbalance     float64
	ProspectiveImbalance float64
}

// Gate tracks up to two side records per market. It is only written by the
// copy worker; the mutex serialises status readers.
type Gate struct {
	mu      sync.Mutex
	cfg     Config
	markets map[string]*domain.RiskState
	logger  *slog.Logger
}

// New creates a Gate.
func New(cfg Config, logger *slog.Logger) *Gate {
	return &Gate{
		cfg:     cfg,
		markets: make(map[string]*domain.RiskState),
		logger:  logger.With(slog.String("component", "risk_gate")),
	}
}

// Check evaluates a prospective buy of qty tokens of asset at price.
func (g *Gate) Check(conditionID, asset string, qty, price float64) Decision {
	if !g.cfg.Enabled {
		return Decision{Allowed: true, Reason: "disabled"}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.markets[conditionID]
	if !ok {
		return Decision{Allowed: true, Reason: "first leg"}
	}
	side, other := findSides(st, asset)
	if side == nil || other == nil {
		return Decision{Allowed: true, Reason: "no complementary side"}
	}

	d := Decision{
		CurrentBasis:     side.AvgPrice() + other.AvgPrice(),
		CurrentImbalance: imbalance(side.Quantity, other.Quantity),
	}

	nextQty := side.Quantity + qty
	nextCost := side.TotalCost + qty*price
	nextAvg := 0.0
	if nextQty > 0 {
		nextAvg = nextCost / nextQty
	}
	d.ProspectiveBasis = nextAvg + other.AvgPrice()
	d.ProspectiveImbalance = imbalance(nextQty, other.Quantity)

	switch {
	case d.ProspectiveBasis > g.cfg.MaxCostBasis && d.CurrentBasis <= g.cfg.MaxCostBasis:
		d.Reason = "cost basis would cross ceiling"
	case d.ProspectiveImbalance > d.CurrentImbalance && d.ProspectiveImbalance > g.cfg.MaxImbalance:
		d.Reason = "imbalance would grow above ceiling"
	default:
		d.Allowed = true
		d.Reason = "within limits"
		return d
	}

	g.logger.Warn("risk gate rejected trade",
		slog.String("condition_id", conditionID),
		slog.String("asset", asset),
		slog.String("reason", d.Reason),
		slog.Float64("current_basis", d.CurrentBasis),
		slog.Float64("prospective_basis", d.ProspectiveBasis),
		slog.Float64("current_imbalance", d.CurrentImbalance),
		slog.Float64("prospective_imbalance", d.ProspectiveImbalance),
	)
	return d
}

// RecordBuy adds a confirmed buy fill to the market state, discovering the
// side if needed. A third distinct asset in one market is ignored.
func (g *Gate) RecordBuy(conditionID, asset string, qty, cost float64) {
	if qty <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	rec := g.sideFor(conditionID, asset)
	if rec == nil {
		g.logger.Warn("risk gate ignoring third outcome",
			slog.String("condition_id", conditionID),
			slog.String("asset", asset),
		)
		return
	}
	rec.Quantity += qty
	rec.TotalCost += math.Max(cost, 0)
}

// RecordSell removes sold tokens from a side, scaling its cost so the
// average price is unchanged.
func (g *Gate) RecordSell(conditionID, asset string, qty float64) {
	if qty <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.markets[conditionID]
	if !ok {
		return
	}
	side, _ := findSides(st, asset)
	if side == nil || side.Quantity <= 0 {
		return
	}
	if qty >= side.Quantity {
		side.Quantity = 0
		side.TotalCost = 0
		return
	}
	keep := (side.Quantity - qty) / side.Quantity
	side.Quantity -= qty
	side.TotalCost *= keep
}

// Seed rebuilds market state from tracked purchases.
func (g *Gate) Seed(entries []domain.TrackerEntry) {
	for _, e := range entries {
		g.RecordBuy(e.ConditionID, e.Asset, e.Quantity, e.Cost)
	}
}

// States returns copies of every market state ordered by condition id.
func (g *Gate) States() []domain.RiskState {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]domain.RiskState, 0, len(g.markets))
	for _, st := range g.markets {
		out = append(out, domain.RiskState{
			ConditionID: st.ConditionID,
			Sides:       append([]domain.SideRecord(nil), st.Sides...),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConditionID < out[j].ConditionID })
	return out
}

// sideFor returns the record for asset, creating it while the market has
// fewer than two sides. Caller holds g.mu.
func (g *Gate) sideFor(conditionID, asset string) *domain.SideRecord {
	st, ok := g.markets[conditionID]
	if !ok {
		st = &domain.RiskState{ConditionID: conditionID}
		g.markets[conditionID] = st
	}
	for i := range st.Sides {
		if st.Sides[i].Asset == asset {
			return &st.Sides[i]
		}
	}
	if len(st.Sides) >= 2 {
		return nil
	}
	st.Sides = append(st.Sides, domain.SideRecord{Asset: asset})
	return &st.Sides[len(st.Sides)-1]
}

func findSides(st *domain.RiskState, asset string) (side, other *domain.SideRecord) {
	for i := range st.Sides {
		if st.Sides[i].Asset == asset {
			side = &st.Sides[i]
		} else if other == nil {
			other = &st.Sides[i]
		}
	}
	if side != nil && side.Quantity <= 0 {
		side = nil
	}
	if other != nil && other.Quantity <= 0 {
		other = nil
	}
	return side, other
}

func imbalance(a, b float64) float64 {
	total := a + b
	if total <= 0 {
		return 0
	}
	return math.Abs(a-b) / total
}
