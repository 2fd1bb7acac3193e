// Package tracker keeps the controlled account's own purchase history per
// asset, used to size proportional sells.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// FullCloseRatio is the sold fraction at or above which tracked purchases
// are treated as fully closed.
const FullCloseRatio = 0.99

type key struct {
	conditionID string
	asset       string
}

// Tracker is the in-memory ledger, written through to an optional store.
type Tracker struct {
	mu      sync.RWMutex
	entries map[key]*domain.TrackerEntry
	store   domain.TrackerStore
	logger  *slog.Logger
}

// New creates a Tracker. store may be nil.
func New(store domain.TrackerStore, logger *slog.Logger) *Tracker {
	return &Tracker{
		entries: make(map[key]*domain.TrackerEntry),
		store:   store,
		logger:  logger.With(slog.String("component", "tracker")),
	}
}

// Load replaces the in-memory ledger with the persisted entries.
func (t *Tracker) Load(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	rows, err := t.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("tracker: load: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[key]*domain.TrackerEntry, len(rows))
	for i := range rows {
		e := rows[i]
		t.entries[key{e.ConditionID, e.Asset}] = &e
	}
	t.logger.Info("tracker loaded", slog.Int("entries", len(rows)))
	return nil
}

// RecordFill adds a confirmed buy fill.
func (t *Tracker) RecordFill(ctx context.Context, conditionID, asset string, qty, cost float64) {
	if qty <= 0 {
		return
	}
	if cost < 0 {
		cost = 0
	}

	t.mu.Lock()
	k := key{conditionID, asset}
	e, ok := t.entries[k]
	if !ok {
		e = &domain.TrackerEntry{ConditionID: conditionID, Asset: asset}
		t.entries[k] = e
	}
	e.Quantity += qty
	e.Cost += cost
	e.AvgPrice = e.Cost / e.Quantity
	e.UpdatedAt = time.Now().UTC()
	snap := *e
	t.mu.Unlock()

	t.persist(ctx, snap)
}

// ReduceProportionally scales the tracked quantity and cost of an asset by
// (1 - fraction), or zeroes them when fraction >= FullCloseRatio.
func (t *Tracker) ReduceProportionally(ctx context.Context, conditionID, asset string, fraction float64) {
	if fraction <= 0 {
		return
	}

	t.mu.Lock()
	e, ok := t.entries[key{conditionID, asset}]
	if !ok {
		t.mu.Unlock()
		return
	}
	if fraction >= FullCloseRatio {
		e.Quantity = 0
		e.Cost = 0
	} else {
		keep := 1 - fraction
		e.Quantity *= keep
		e.Cost *= keep
	}
	if e.Quantity <= 0 {
		e.Quantity = 0
		e.Cost = 0
	}
	e.UpdatedAt = time.Now().UTC()
	snap := *e
	t.mu.Unlock()

	t.persist(ctx, snap)
}

// Snapshot returns a copy of the entry for an asset.
func (t *Tracker) Snapshot(conditionID, asset string) (domain.TrackerEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[key{conditionID, asset}]
	if !ok {
		return domain.TrackerEntry{}, false
	}
	return *e, true
}

// Entries returns copies of all entries ordered by condition and asset.
func (t *Tracker) Entries() []domain.TrackerEntry {
	t.mu.RLock()
	out := make([]domain.TrackerEntry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ConditionID == out[j].ConditionID {
			return out[i].Asset < out[j].Asset
		}
		return out[i].ConditionID < out[j].ConditionID
	})
	return out
}

// The in-memory ledger stays authoritative when the store write fails.
func (t *Tracker) persist(ctx context.Context, e domain.TrackerEntry) {
	if t.store == nil {
		return
	}
	if err := t.store.Upsert(ctx, e); err != nil {
		t.logger.Error("tracker persist failed",
			slog.String("condition_id", e.ConditionID),
			slog.String("asset", e.Asset),
			slog.String("error", err.Error()),
		)
	}
}
