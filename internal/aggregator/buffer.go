// Package aggregator groups small BUY events of the same trader and asset
// until together they reach a tradable size.
package aggregator

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// ErrNotAggregatable is returned for events that must execute immediately.
var ErrNotAggregatable = errors.New("aggregator: only BUY trades are aggregated")

// Buffer holds one accumulator per (trader, condition, asset). The mutex only
// serialises the worker against status readers.
type Buffer struct {
	mu      sync.Mutex
	pending map[domain.AggregationKey]*domain.AggregatedTrade
	logger  *slog.Logger
}

// NewBuffer creates an empty Buffer.
func NewBuffer(logger *slog.Logger) *Buffer {
	return &Buffer{
		pending: make(map[domain.AggregationKey]*domain.AggregatedTrade),
		logger:  logger.With(slog.String("component", "aggregator")),
	}
}

// Add merges ev into its accumulator. scaledUSD is the sizing-policy target
// for this single event.
func (b *Buffer) Add(ev domain.TradeEvent, scaledUSD float64) error {
	if ev.Side != domain.SideBuy || ev.Type == domain.ActivityMerge {
		return ErrNotAggregatable
	}
	if scaledUSD < 0 {
		scaledUSD = 0
	}
	raw := ev.UsdcSize
	if raw < 0 {
		raw = 0
	}

	key := domain.AggregationKey{Trader: ev.TraderAddress, ConditionID: ev.ConditionID, Asset: ev.Asset}

	b.mu.Lock()
	defer b.mu.Unlock()

	agg, ok := b.pending[key]
	if !ok {
		agg = &domain.AggregatedTrade{
			Key:        key,
			MarketSlug: ev.MarketSlug,
			FirstSeen:  ev.Timestamp,
		}
		b.pending[key] = agg
	}

	weighted := agg.RawUsdcSize*agg.AveragePrice + raw*ev.Price
	agg.EventIDs = append(agg.EventIDs, ev.ID)
	agg.RawUsdcSize += raw
	agg.ScaledUsdcSize += scaledUSD
	if agg.RawUsdcSize > 0 {
		agg.AveragePrice = weighted / agg.RawUsdcSize
	} else {
		agg.AveragePrice = ev.Price
	}
	if ev.Timestamp.Before(agg.FirstSeen) {
		agg.FirstSeen = ev.Timestamp
	}
	if ev.Timestamp.After(agg.LastSeen) {
		agg.LastSeen = ev.Timestamp
	}

	b.logger.Debug("trade buffered",
		slog.String("trader", key.Trader),
		slog.String("asset", key.Asset),
		slog.Int("events", len(agg.EventIDs)),
		slog.Float64("scaled_usd", agg.ScaledUsdcSize),
		slog.Float64("avg_price", agg.AveragePrice),
	)
	return nil
}

// Ready removes and returns every accumulator whose scaled token quantity
// meets tokenThreshold, oldest first.
func (b *Buffer) Ready(tokenThreshold float64) []domain.AggregatedTrade {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []domain.AggregatedTrade
	for key, agg := range b.pending {
		if agg.ScaledTokens() >= tokenThreshold {
			out = append(out, cloneAgg(agg))
			delete(b.pending, key)
		}
	}
	sortByFirstSeen(out)
	return out
}

// Drain removes and returns every pending accumulator.
func (b *Buffer) Drain() []domain.AggregatedTrade {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]domain.AggregatedTrade, 0, len(b.pending))
	for key, agg := range b.pending {
		out = append(out, cloneAgg(agg))
		delete(b.pending, key)
	}
	sortByFirstSeen(out)
	return out
}

// Snapshot returns copies of the pending accumulators without removing them.
func (b *Buffer) Snapshot() []domain.AggregatedTrade {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]domain.AggregatedTrade, 0, len(b.pending))
	for _, agg := range b.pending {
		out = append(out, cloneAgg(agg))
	}
	sortByFirstSeen(out)
	return out
}

// Len returns the number of pending accumulators.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func cloneAgg(agg *domain.AggregatedTrade) domain.AggregatedTrade {
	c := *agg
	c.EventIDs = append([]string(nil), agg.EventIDs...)
	return c
}

func sortByFirstSeen(aggs []domain.AggregatedTrade) {
	sort.Slice(aggs, func(i, j int) bool {
		if aggs[i].FirstSeen.Equal(aggs[j].FirstSeen) {
			return aggs[i].Key.Asset < aggs[j].Key.Asset
		}
		return aggs[i].FirstSeen.Before(aggs[j].FirstSeen)
	})
}
