// Package sizing converts an observed trader order into the amount the
// controlled account should copy.
package sizing

import (
	"math"
	"sort"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// balanceReserve is the share of the balance a single copy may spend.
const balanceReserve = 0.99

// Tier applies Multiplier to trader orders of at least MinOrderUSD.
type Tier struct {
	MinOrderUSD float64
	Multiplier  float64
}

// Config holds the sizing parameters.
type Config struct {
	BaseMultiplier float64
	Tiers          []Tier
	MinOrderUSD    float64 // below this a buy is not executable on its own
	MaxOrderUSD    float64 // 0 disables
	MaxPositionUSD float64 // 0 disables
}

// Input is the observed trade and the account state it is sized against.
type Input struct {
	TraderOrderUSD float64
	Balance        float64
	PositionValue  float64
}

// Result is the sizing decision. BelowMinimum means the target is too small
// to execute alone; Skip means it must not be copied at all.
type Result struct {
	TargetUSD    float64
	Multiplier   float64
	BelowMinimum bool
	Skip         bool
	Reason       string
}

// Policy is the default proportional sizing policy.
type Policy struct {
	cfg Config
}

// NewPolicy creates a Policy. Tiers are sorted by threshold.
func NewPolicy(cfg Config) *Policy {
	if cfg.BaseMultiplier <= 0 {
		cfg.BaseMultiplier = 1
	}
	if cfg.MinOrderUSD <= 0 {
		cfg.MinOrderUSD = domain.MakerMinUSD
	}
	tiers := append([]Tier(nil), cfg.Tiers...)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MinOrderUSD < tiers[j].MinOrderUSD })
	cfg.Tiers = tiers
	return &Policy{cfg: cfg}
}

// Multiplier returns the multiplier of the highest tier reached by a trader
// order of traderUSD, or the base multiplier.
func (p *Policy) Multiplier(traderUSD float64) float64 {
	m := p.cfg.BaseMultiplier
	for _, t := range p.cfg.Tiers {
		if traderUSD >= t.MinOrderUSD {
			m = t.Multiplier
		}
	}
	return m
}

// Size computes the copy target for a BUY.
func (p *Policy) Size(in Input) Result {
	mult := p.Multiplier(in.TraderOrderUSD)
	res := Result{Multiplier: mult, TargetUSD: math.Max(in.TraderOrderUSD*mult, 0)}

	if p.cfg.MaxOrderUSD > 0 && res.TargetUSD > p.cfg.MaxOrderUSD {
		res.TargetUSD = p.cfg.MaxOrderUSD
	}
	if p.cfg.MaxPositionUSD > 0 {
		room := p.cfg.MaxPositionUSD - in.PositionValue
		if room <= 0 {
			res.TargetUSD = 0
			res.Skip = true
			res.Reason = "position limit reached"
			return res
		}
		res.TargetUSD = math.Min(res.TargetUSD, room)
	}
	if spendable := in.Balance * balanceReserve; res.TargetUSD > spendable {
		res.TargetUSD = math.Max(spendable, 0)
	}

	switch {
	case res.TargetUSD < domain.AbsoluteMinimum:
		res.Skip = true
		res.BelowMinimum = true
		res.Reason = "below absolute minimum"
	case res.TargetUSD < p.cfg.MinOrderUSD:
		res.BelowMinimum = true
		res.Reason = "below order minimum"
	}
	return res
}
