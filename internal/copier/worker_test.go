package copier

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polycopy/internal/aggregator"
	"github.com/alanyoungcy/polycopy/internal/domain"
	"github.com/alanyoungcy/polycopy/internal/executor"
	"github.com/alanyoungcy/polycopy/internal/riskgate"
	"github.com/alanyoungcy/polycopy/internal/sizing"
	"github.com/alanyoungcy/polycopy/internal/tracker"
)

const (
	ownWallet = "0xown"
	trader    = "0xtrader"
)

type activityRow struct {
	ev        domain.TradeEvent
	processed bool
	marker    int
	ann       domain.Annotation
}

type memActivity struct {
	mu         sync.Mutex
	rows       map[string]*activityRow
	released   []string
	releaseAll int
	scaled     []float64
	listErr    error
}

func newMemActivity(events ...domain.TradeEvent) *memActivity {
	m := &memActivity{rows: map[string]*activityRow{}}
	m.add(events...)
	return m
}

func (m *memActivity) add(events ...domain.TradeEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range events {
		m.rows[ev.ID] = &activityRow{ev: ev}
	}
}

func (m *memActivity) row(id string) activityRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.rows[id]
}

func (m *memActivity) ListPending(_ context.Context, _ []string, limit int) ([]domain.TradeEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []domain.TradeEvent
	for _, r := range m.rows {
		if !r.processed && r.marker == 0 {
			out = append(out, r.ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memActivity) MarkInFlight(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.rows[id].marker = 1
	}
	return nil
}

func (m *memActivity) ReleaseInFlight(_ context.Context, ids []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range ids {
		if r, ok := m.rows[id]; ok && !r.processed && r.marker == 1 {
			r.marker = 0
			n++
		}
	}
	m.released = append(m.released, ids...)
	return n, nil
}

func (m *memActivity) ReleaseAllInFlight(context.Context, []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseAll++
	return 0, nil
}

func (m *memActivity) MarkProcessed(_ context.Context, ids []string, ann domain.Annotation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.rows[id].processed = true
		m.rows[id].ann = ann
	}
	return nil
}

func (m *memActivity) ScaleBoughtTokens(_ context.Context, _, _ string, factor float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scaled = append(m.scaled, factor)
	return nil
}

func (m *memActivity) ListProcessedBefore(context.Context, time.Time, int) ([]domain.ProcessedActivity, error) {
	return nil, nil
}

func (m *memActivity) DeleteByIDs(context.Context, []string) (int64, error) { return 0, nil }

type fakePortfolio struct {
	balance    float64
	balanceErr error
	positions  map[string]float64 // wallet|asset -> size
}

func (p *fakePortfolio) Balance(context.Context) (float64, error) {
	return p.balance, p.balanceErr
}

func (p *fakePortfolio) Position(_ context.Context, wallet, conditionID, asset string) (domain.Position, error) {
	return domain.Position{Wallet: wallet, ConditionID: conditionID, Asset: asset, Size: p.positions[wallet+"|"+asset]}, nil
}

func (p *fakePortfolio) Positions(_ context.Context, wallet, conditionID string) ([]domain.Position, error) {
	var out []domain.Position
	for k, size := range p.positions {
		w, asset, _ := strings.Cut(k, "|")
		if w == wallet {
			out = append(out, domain.Position{Wallet: wallet, ConditionID: conditionID, Asset: asset, Size: size})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

func (p *fakePortfolio) PositionValue(context.Context, string, string) (float64, error) {
	return 0, nil
}

type bookExchange struct {
	books   map[string]domain.OrderBook
	intents []domain.OrderIntent
}

func (b *bookExchange) OrderBook(_ context.Context, tokenID string) (domain.OrderBook, error) {
	return b.books[tokenID], nil
}

func (b *bookExchange) BuildOrder(_ context.Context, intent domain.OrderIntent) (domain.SignedOrder, error) {
	return domain.SignedOrder{Intent: intent}, nil
}

func (b *bookExchange) Submit(_ context.Context, order domain.SignedOrder) (domain.SubmitResult, error) {
	b.intents = append(b.intents, order.Intent)
	return domain.SubmitResult{Success: true, OrderID: "o", Status: "matched"}, nil
}

type memBus struct {
	streamed [][]byte
}

func (b *memBus) Publish(context.Context, string, []byte) error { return nil }
func (b *memBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	b.streamed = append(b.streamed, payload)
	return nil
}
func (b *memBus) StreamRevRange(context.Context, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

// fakeLock reports the lock lost from the lostAt-th extension on; zero
// keeps it forever.
type fakeLock struct {
	released bool
	extends  int
	lostAt   int
}

func (l *fakeLock) Extend(context.Context, time.Duration) error {
	l.extends++
	if l.lostAt > 0 && l.extends >= l.lostAt {
		return domain.ErrLockLost
	}
	return nil
}

func (l *fakeLock) Release() { l.released = true }

type fakeLocks struct {
	lock *fakeLock
	err  error
}

func (f *fakeLocks) Acquire(context.Context, string, time.Duration) (domain.Lock, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.lock, nil
}

type harness struct {
	worker    *Worker
	activity  *memActivity
	portfolio *fakePortfolio
	exchange  *bookExchange
	tracker   *tracker.Tracker
	gate      *riskgate.Gate
	buffer    *aggregator.Buffer
	bus       *memBus
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newHarness(t *testing.T, aggregation bool, events ...domain.TradeEvent) *harness {
	t.Helper()
	logger := discard()
	h := &harness{
		activity:  newMemActivity(events...),
		portfolio: &fakePortfolio{balance: 100, positions: map[string]float64{}},
		exchange:  &bookExchange{books: map[string]domain.OrderBook{}},
		tracker:   tracker.New(nil, logger),
		gate:      riskgate.New(riskgate.DefaultConfig(), logger),
		buffer:    aggregator.NewBuffer(logger),
		bus:       &memBus{},
	}
	policy := sizing.NewPolicy(sizing.Config{BaseMultiplier: 1})
	engine := executor.NewEngine(h.exchange, h.tracker, policy, executor.DefaultConfig(), logger)
	h.worker = NewWorker(Config{
		Wallet:             ownWallet,
		Traders:            []string{trader},
		AggregationEnabled: aggregation,
	}, Deps{
		Activity:  h.activity,
		Portfolio: h.portfolio,
		Engine:    engine,
		Buffer:    h.buffer,
		Gate:      h.gate,
		Tracker:   h.tracker,
		Sizer:     policy,
		Bus:       h.bus,
	}, logger)
	return h
}

var t0 = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func buyEvent(id string, usd, price float64, at time.Duration) domain.TradeEvent {
	return domain.TradeEvent{
		ID: id, TraderAddress: trader, Type: domain.ActivityTrade, ConditionID: "c1", Asset: "yes",
		Side: domain.SideBuy, Size: usd / price, UsdcSize: usd, Price: price, Timestamp: t0.Add(at),
	}
}

func TestCycleExecutesDirectBuy(t *testing.T) {
	h := newHarness(t, true, buyEvent("e1", 10, 0.50, 0))
	h.exchange.books["yes"] = domain.OrderBook{Asks: []domain.PriceLevel{{Price: 0.50, Size: 100}}}

	h.worker.Cycle(context.Background())

	require.Len(t, h.exchange.intents, 1)
	assert.Equal(t, domain.OrderStyleFOK, h.exchange.intents[0].Style)
	assert.Equal(t, 10.0, h.exchange.intents[0].Amount)

	row := h.activity.row("e1")
	assert.True(t, row.processed)
	assert.Equal(t, domain.StatusFilled, row.ann.Status)
	require.NotNil(t, row.ann.BoughtTokens)
	assert.Equal(t, 20.0, *row.ann.BoughtTokens)
	assert.Nil(t, row.ann.RetryCount)

	entry, ok := h.tracker.Snapshot("c1", "yes")
	require.True(t, ok)
	assert.Equal(t, 20.0, entry.Quantity)
	require.Len(t, h.gate.States(), 1)
	assert.Len(t, h.bus.streamed, 1)

	st := h.worker.Status()
	assert.Equal(t, int64(1), st.Worker.Cycles)
	assert.Equal(t, 1, st.Worker.ByStatus[domain.StatusFilled])
}

func TestCycleAggregatesSmallBuysAcrossPolls(t *testing.T) {
	h := newHarness(t, true, buyEvent("e1", 0.30, 0.10, 0))
	h.exchange.books["yes"] = domain.OrderBook{Asks: []domain.PriceLevel{{Price: 0.10, Size: 100}}}
	ctx := context.Background()

	h.worker.Cycle(ctx)
	assert.Empty(t, h.exchange.intents)
	row := h.activity.row("e1")
	assert.False(t, row.processed)
	assert.Equal(t, 1, row.marker, "buffered events stay in flight")
	require.Len(t, h.worker.Status().Aggregations, 1)

	h.activity.add(buyEvent("e2", 0.30, 0.10, time.Second))
	h.worker.Cycle(ctx)

	require.Len(t, h.exchange.intents, 1)
	got := h.exchange.intents[0]
	assert.Equal(t, domain.OrderStyleGTC, got.Style)
	assert.Equal(t, 0.09, got.Price)
	assert.InDelta(t, 6.66, got.Tokens, 1e-9)
	for _, id := range []string{"e1", "e2"} {
		r := h.activity.row(id)
		assert.True(t, r.processed, id)
		assert.Equal(t, domain.StatusFilled, r.ann.Status, id)
		require.NotNil(t, r.ann.BoughtTokens)
		assert.InDelta(t, 6.66, *r.ann.BoughtTokens, 1e-9)
	}
	assert.Zero(t, h.buffer.Len())
}

func TestCycleMarksSmallBuyWhenAggregationDisabled(t *testing.T) {
	h := newHarness(t, false, buyEvent("e1", 0.30, 0.10, 0))

	h.worker.Cycle(context.Background())

	assert.Empty(t, h.exchange.intents)
	row := h.activity.row("e1")
	assert.True(t, row.processed)
	assert.Equal(t, domain.StatusBelowMinimum, row.ann.Status)
}

func TestCycleRiskGateRejects(t *testing.T) {
	h := newHarness(t, true, buyEvent("e1", 10, 0.80, 0))
	h.exchange.books["yes"] = domain.OrderBook{Asks: []domain.PriceLevel{{Price: 0.80, Size: 100}}}
	h.gate.RecordBuy("c1", "no", 10, 5)
	h.gate.RecordBuy("c1", "yes", 10, 4)

	h.worker.Cycle(context.Background())

	assert.Empty(t, h.exchange.intents)
	row := h.activity.row("e1")
	assert.True(t, row.processed)
	assert.Equal(t, domain.StatusRiskRejected, row.ann.Status)
}

func TestCycleSellsProportionallyAndDecays(t *testing.T) {
	ev := domain.TradeEvent{
		ID: "s1", TraderAddress: trader, Type: domain.ActivityTrade, ConditionID: "c1", Asset: "yes",
		Side: domain.SideSell, Size: 10, UsdcSize: 6, Price: 0.60, Timestamp: t0,
	}
	h := newHarness(t, true, ev)
	h.exchange.books["yes"] = domain.OrderBook{Bids: []domain.PriceLevel{{Price: 0.60, Size: 100}}}
	h.tracker.RecordFill(context.Background(), "c1", "yes", 20, 10)
	h.gate.RecordBuy("c1", "yes", 20, 10)
	h.portfolio.positions[ownWallet+"|yes"] = 20
	h.portfolio.positions[trader+"|yes"] = 10

	h.worker.Cycle(context.Background())

	require.Len(t, h.exchange.intents, 1)
	assert.Equal(t, domain.SideSell, h.exchange.intents[0].Side)
	assert.Equal(t, 10.0, h.exchange.intents[0].Tokens)
	assert.Equal(t, []float64{0.5}, h.activity.scaled)

	entry, _ := h.tracker.Snapshot("c1", "yes")
	assert.Equal(t, 10.0, entry.Quantity)
	require.Len(t, h.gate.States(), 1)
	assert.Equal(t, 10.0, h.gate.States()[0].Sides[0].Quantity)

	row := h.activity.row("s1")
	assert.Equal(t, domain.StatusFilled, row.ann.Status)
	assert.Nil(t, row.ann.BoughtTokens)
}

func TestCycleMergeWithoutAssetLiquidatesCondition(t *testing.T) {
	ev := domain.TradeEvent{
		ID: "m1", TraderAddress: trader, Type: domain.ActivityMerge, ConditionID: "c1",
		Size: 10, UsdcSize: 10, Timestamp: t0,
	}
	h := newHarness(t, true, ev)
	h.exchange.books["yes"] = domain.OrderBook{Bids: []domain.PriceLevel{{Price: 0.55, Size: 100}}}
	h.exchange.books["no"] = domain.OrderBook{Bids: []domain.PriceLevel{{Price: 0.40, Size: 100}}}
	h.portfolio.positions[ownWallet+"|yes"] = 12
	h.portfolio.positions[ownWallet+"|no"] = 8
	h.portfolio.positions[trader+"|yes"] = 3

	h.worker.Cycle(context.Background())

	require.Len(t, h.exchange.intents, 2)
	assert.Equal(t, "no", h.exchange.intents[0].TokenID)
	assert.Equal(t, 8.0, h.exchange.intents[0].Tokens)
	assert.Equal(t, "yes", h.exchange.intents[1].TokenID)
	assert.Equal(t, 12.0, h.exchange.intents[1].Tokens)

	row := h.activity.row("m1")
	assert.True(t, row.processed)
	assert.Equal(t, domain.StatusFilled, row.ann.Status)
	assert.Len(t, h.bus.streamed, 2, "one outcome per asset")
}

func TestCycleMergeWithoutAssetOrHoldingsIsSkipped(t *testing.T) {
	ev := domain.TradeEvent{
		ID: "m1", TraderAddress: trader, Type: domain.ActivityMerge, ConditionID: "c1", Timestamp: t0,
	}
	h := newHarness(t, true, ev)

	h.worker.Cycle(context.Background())

	assert.Empty(t, h.exchange.intents)
	row := h.activity.row("m1")
	assert.True(t, row.processed)
	assert.Equal(t, domain.StatusSkipped, row.ann.Status)
}

func TestCycleDefersEventOnLookupFailure(t *testing.T) {
	h := newHarness(t, true, buyEvent("e1", 10, 0.50, 0))
	h.portfolio.balanceErr = errors.New("data api down")

	h.worker.Cycle(context.Background())

	row := h.activity.row("e1")
	assert.False(t, row.processed)
	assert.Zero(t, row.marker)
	assert.Equal(t, "data api down", h.worker.Status().Worker.LastError)

	h.portfolio.balanceErr = nil
	h.exchange.books["yes"] = domain.OrderBook{Asks: []domain.PriceLevel{{Price: 0.50, Size: 100}}}
	h.worker.Cycle(context.Background())
	assert.True(t, h.activity.row("e1").processed)
}

func TestCycleSkipsDuplicatesWithinTTL(t *testing.T) {
	h := newHarness(t, true, buyEvent("e1", 10, 0.50, 0))
	h.exchange.books["yes"] = domain.OrderBook{Asks: []domain.PriceLevel{{Price: 0.50, Size: 100}}}
	h.worker.dedup.Seen("e1")

	h.worker.Cycle(context.Background())

	assert.Empty(t, h.exchange.intents)
	assert.False(t, h.activity.row("e1").processed)
}

func TestRunFailsWhenLockHeld(t *testing.T) {
	h := newHarness(t, true)
	h.worker.deps.Locks = &fakeLocks{err: domain.ErrLockHeld}

	err := h.worker.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
}

func TestRunReleasesBufferedEventsOnShutdown(t *testing.T) {
	ev := buyEvent("e1", 0.30, 0.10, 0)
	h := newHarness(t, true, ev)
	lock := &fakeLock{}
	h.worker.deps.Locks = &fakeLocks{lock: lock}
	require.NoError(t, h.activity.MarkInFlight(context.Background(), []string{"e1"}))
	require.NoError(t, h.buffer.Add(ev, 0.30))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, h.worker.Run(ctx))

	assert.Equal(t, 1, h.activity.releaseAll)
	assert.Equal(t, []string{"e1"}, h.activity.released)
	assert.Zero(t, h.activity.row("e1").marker)
	assert.Zero(t, h.buffer.Len())
	assert.True(t, lock.released)
	assert.False(t, h.worker.Status().Worker.Running)
}

func TestRunStopsDispatchingOnceLockIsLost(t *testing.T) {
	h := newHarness(t, true,
		buyEvent("e1", 10, 0.50, 0),
		buyEvent("e2", 10, 0.50, time.Second),
		buyEvent("e3", 10, 0.50, 2*time.Second),
	)
	h.exchange.books["yes"] = domain.OrderBook{Asks: []domain.PriceLevel{{Price: 0.50, Size: 1000}}}
	// Extended at cycle start and before e1; lost before e2.
	lock := &fakeLock{lostAt: 3}
	h.worker.deps.Locks = &fakeLocks{lock: lock}

	err := h.worker.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLockLost)

	require.Len(t, h.exchange.intents, 1)
	assert.True(t, h.activity.row("e1").processed)
	for _, id := range []string{"e2", "e3"} {
		row := h.activity.row(id)
		assert.False(t, row.processed, id)
		assert.Zero(t, row.marker, id)
	}
	assert.Equal(t, 3, lock.extends)
	assert.True(t, lock.released)
	assert.Equal(t, domain.ErrLockLost.Error(), h.worker.Status().Worker.LastError)
}

func TestLockLossLeavesBufferedEventsToNewHolder(t *testing.T) {
	ev := buyEvent("e1", 0.30, 0.10, 0)
	h := newHarness(t, true, ev)
	require.NoError(t, h.activity.MarkInFlight(context.Background(), []string{"e1"}))
	require.NoError(t, h.buffer.Add(ev, 0.30))
	lock := &fakeLock{lostAt: 1}
	h.worker.deps.Locks = &fakeLocks{lock: lock}

	err := h.worker.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrLockLost)
	assert.Empty(t, h.activity.released)
	assert.Equal(t, 1, h.activity.row("e1").marker)
	assert.Zero(t, h.buffer.Len())
}
