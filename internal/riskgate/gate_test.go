package riskgate

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

func newGate() *Gate {
	return New(DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestGateCostBasisCrossing(t *testing.T) {
	g := newGate()
	g.RecordBuy("m1", "yes", 10, 4.0) // avg 0.40

	first := g.Check("m1", "no", 10, 0.50)
	require.True(t, first.Allowed, "first leg of the complement is always allowed")
	g.RecordBuy("m1", "no", 10, 5.0)

	// 10 @ 0.50 + 5 @ 0.80 averages 0.60: basis 0.90 -> 1.00.
	d := g.Check("m1", "no", 5, 0.80)
	assert.False(t, d.Allowed)
	assert.InDelta(t, 0.90, d.CurrentBasis, 1e-9)
	assert.InDelta(t, 1.00, d.ProspectiveBasis, 1e-9)
	assert.Equal(t, "cost basis would cross ceiling", d.Reason)
}

// The gate weights averages by value. With a 0.40 leg held, adding 5 @ 0.62
// to 10 @ 0.50 lifts the average to 0.54 only, so the basis reaches 0.94
// and the buy passes a 0.95 ceiling even though a naive last-price basis
// (0.40 + 0.62 = 1.02) would reject it.
func TestGateValueWeightedBasisAllowsSmallPricierBuy(t *testing.T) {
	g := newGate()
	g.RecordBuy("m1", "yes", 10, 4.0)
	g.RecordBuy("m1", "no", 10, 5.0)

	d := g.Check("m1", "no", 5, 0.62)
	assert.True(t, d.Allowed)
	assert.InDelta(t, 0.90, d.CurrentBasis, 1e-9)
	assert.InDelta(t, 0.94, d.ProspectiveBasis, 1e-9)
}

func TestGateImbalance(t *testing.T) {
	g := newGate()
	g.RecordBuy("m1", "yes", 10, 3)
	g.RecordBuy("m1", "no", 10, 3)

	d := g.Check("m1", "yes", 10, 0.30)
	assert.False(t, d.Allowed)
	assert.Equal(t, "imbalance would grow above ceiling", d.Reason)
	assert.InDelta(t, 1.0/3.0, d.ProspectiveImbalance, 1e-9)

	// Growing imbalance that stays under the ceiling is fine.
	d = g.Check("m1", "yes", 2, 0.30)
	assert.True(t, d.Allowed)
}

func TestGateAllowsImprovementsAboveCeilings(t *testing.T) {
	g := newGate()
	g.RecordBuy("m1", "yes", 30, 18) // avg 0.60
	g.RecordBuy("m1", "no", 10, 5)   // avg 0.50, basis 1.10, imbalance 0.5

	d := g.Check("m1", "no", 5, 0.30)
	assert.True(t, d.Allowed)
	assert.Less(t, d.ProspectiveBasis, d.CurrentBasis)
	assert.Greater(t, d.ProspectiveImbalance, g.cfg.MaxImbalance)
	assert.Less(t, d.ProspectiveImbalance, d.CurrentImbalance)
}

func TestGateMissingSides(t *testing.T) {
	g := newGate()
	assert.True(t, g.Check("unknown", "yes", 100, 0.99).Allowed)

	g.RecordBuy("m1", "yes", 10, 9)
	assert.True(t, g.Check("m1", "yes", 100, 0.99).Allowed, "no complement recorded yet")

	g.RecordBuy("m1", "no", 10, 1)
	g.RecordSell("m1", "no", 10)
	assert.True(t, g.Check("m1", "yes", 100, 0.99).Allowed, "emptied complement counts as missing")
}

func TestGateDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	g := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	g.RecordBuy("m1", "yes", 10, 9.5)
	g.RecordBuy("m1", "no", 1, 0.5)
	assert.True(t, g.Check("m1", "no", 100, 0.9).Allowed)
}

func TestGateNeverBlocksImprovingTrades(t *testing.T) {
	qtys := []float64{1, 5, 10, 25, 60}
	avgs := []float64{0.05, 0.2, 0.45, 0.5, 0.7, 0.95}
	incoming := []float64{0.5, 2, 5, 20}
	prices := []float64{0.01, 0.1, 0.3, 0.5, 0.8, 0.99}

	checked := 0
	for _, qa := range qtys {
		for _, qb := range qtys {
			for _, pa := range avgs {
				for _, pb := range avgs {
					g := newGate()
					g.RecordBuy("m", "a", qa, qa*pa)
					g.RecordBuy("m", "b", qb, qb*pb)
					for _, q := range incoming {
						for _, p := range prices {
							d := g.Check("m", "a", q, p)
							improving := d.ProspectiveImbalance <= d.CurrentImbalance &&
								(d.ProspectiveBasis <= d.CurrentBasis || d.CurrentBasis > g.cfg.MaxCostBasis)
							if improving {
								checked++
								assert.True(t, d.Allowed, "qa=%v qb=%v pa=%v pb=%v q=%v p=%v", qa, qb, pa, pb, q, p)
							}
						}
					}
				}
			}
		}
	}
	assert.Positive(t, checked)
}

func TestGateThirdOutcomeIgnored(t *testing.T) {
	g := newGate()
	g.RecordBuy("m1", "a", 1, 0.5)
	g.RecordBuy("m1", "b", 1, 0.5)
	g.RecordBuy("m1", "c", 1, 0.5)

	states := g.States()
	require.Len(t, states, 1)
	assert.Len(t, states[0].Sides, 2)
}

func TestGateSeedAndSell(t *testing.T) {
	g := newGate()
	g.Seed([]domain.TrackerEntry{
		{ConditionID: "m1", Asset: "yes", Quantity: 20, Cost: 8},
		{ConditionID: "m1", Asset: "no", Quantity: 10, Cost: 5},
	})
	g.RecordSell("m1", "yes", 5)

	states := g.States()
	require.Len(t, states, 1)
	yes := states[0].Sides[0]
	assert.Equal(t, "yes", yes.Asset)
	assert.InDelta(t, 15, yes.Quantity, 1e-9)
	assert.InDelta(t, 0.40, yes.AvgPrice(), 1e-9)
}
