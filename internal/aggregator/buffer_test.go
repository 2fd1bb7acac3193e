package aggregator

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func buyEvent(id string, usdc, price float64, ts time.Time) domain.TradeEvent {
	return domain.TradeEvent{
		ID:            id,
		TraderAddress: "0xtrader",
		Type:          domain.ActivityTrade,
		ConditionID:   "cond-1",
		Asset:         "asset-yes",
		Side:          domain.SideBuy,
		UsdcSize:      usdc,
		Price:         price,
		Timestamp:     ts,
	}
}

func TestBufferReleasesWhenThresholdReached(t *testing.T) {
	b := NewBuffer(testLogger())
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, b.Add(buyEvent("e1", 8, 0.40, t0), 0.80))
	require.NoError(t, b.Add(buyEvent("e2", 7, 0.40, t0.Add(time.Second)), 0.70))
	assert.Empty(t, b.Ready(domain.TakerMinTokens), "3.75 tokens must stay buffered")
	assert.Equal(t, 1, b.Len())

	require.NoError(t, b.Add(buyEvent("e3", 7, 0.40, t0.Add(2*time.Second)), 0.70))
	ready := b.Ready(domain.TakerMinTokens)
	require.Len(t, ready, 1)

	agg := ready[0]
	assert.Equal(t, []string{"e1", "e2", "e3"}, agg.EventIDs)
	assert.InDelta(t, 2.20, agg.ScaledUsdcSize, 1e-9)
	assert.InDelta(t, 0.40, agg.AveragePrice, 1e-9)
	assert.InDelta(t, 5.5, agg.ScaledTokens(), 1e-9)
	assert.Equal(t, t0, agg.FirstSeen)
	assert.Equal(t, t0.Add(2*time.Second), agg.LastSeen)
	assert.Zero(t, b.Len(), "released accumulator must be removed")
	assert.Empty(t, b.Ready(domain.TakerMinTokens), "dispatched at most once")
}

func TestBufferWeightedAveragePriceAndConservation(t *testing.T) {
	b := NewBuffer(testLogger())
	t0 := time.Now()
	raws := []float64{10, 30, 2.5}
	prices := []float64{0.50, 0.30, 0.70}
	for i := range raws {
		require.NoError(t, b.Add(buyEvent(string(rune('a'+i)), raws[i], prices[i], t0), 0.1))
	}

	snap := b.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, 10+30+2.5, snap[0].RawUsdcSize)
	want := (10*0.50 + 30*0.30 + 2.5*0.70) / 42.5
	assert.InDelta(t, want, snap[0].AveragePrice, 1e-12)
}

func TestBufferKeysAreIndependent(t *testing.T) {
	b := NewBuffer(testLogger())
	t0 := time.Now()
	ev := buyEvent("e1", 5, 0.5, t0)
	other := buyEvent("e2", 5, 0.5, t0)
	other.Asset = "asset-no"
	otherTrader := buyEvent("e3", 5, 0.5, t0)
	otherTrader.TraderAddress = "0xsomeone"

	require.NoError(t, b.Add(ev, 3))
	require.NoError(t, b.Add(other, 1))
	require.NoError(t, b.Add(otherTrader, 1))
	assert.Equal(t, 3, b.Len())

	ready := b.Ready(domain.TakerMinTokens)
	require.Len(t, ready, 1)
	assert.Equal(t, "asset-yes", ready[0].Key.Asset)
	assert.Equal(t, 2, b.Len())
}

func TestBufferRejectsSells(t *testing.T) {
	b := NewBuffer(testLogger())
	ev := buyEvent("s1", 5, 0.5, time.Now())
	ev.Side = domain.SideSell
	assert.ErrorIs(t, b.Add(ev, 5), ErrNotAggregatable)

	merge := buyEvent("m1", 5, 0.5, time.Now())
	merge.Type = domain.ActivityMerge
	assert.ErrorIs(t, b.Add(merge, 5), ErrNotAggregatable)
	assert.Zero(t, b.Len())
}

func TestBufferDrain(t *testing.T) {
	b := NewBuffer(testLogger())
	t0 := time.Now()
	require.NoError(t, b.Add(buyEvent("e1", 1, 0.5, t0), 0.2))
	second := buyEvent("e2", 1, 0.5, t0.Add(time.Minute))
	second.Asset = "asset-no"
	require.NoError(t, b.Add(second, 0.2))

	drained := b.Drain()
	require.Len(t, drained, 2)
	assert.Equal(t, "e1", drained[0].EventIDs[0])
	assert.Zero(t, b.Len())
}
