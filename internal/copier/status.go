package copier

import (
	"github.com/alanyoungcy/polycopy/internal/domain"
)

// Status is a point-in-time view of the worker and its in-memory stores.
type Status struct {
	Worker       Stats                    `json:"worker"`
	Aggregations []domain.AggregatedTrade `json:"aggregations"`
	Positions    []domain.TrackerEntry    `json:"positions"`
	Risk         []domain.RiskState       `json:"risk"`
	DedupSize    int                      `json:"dedup_size"`
}

// Status returns a snapshot safe to serialise.
func (w *Worker) Status() Status {
	w.mu.RLock()
	stats := w.stats
	stats.ByStatus = make(map[domain.ActivityStatus]int, len(w.stats.ByStatus))
	for k, v := range w.stats.ByStatus {
		stats.ByStatus[k] = v
	}
	w.mu.RUnlock()

	st := Status{
		Worker:       stats,
		Aggregations: w.deps.Buffer.Snapshot(),
		DedupSize:    w.dedup.Len(),
	}
	if w.deps.Tracker != nil {
		st.Positions = w.deps.Tracker.Entries()
	}
	if w.deps.Gate != nil {
		st.Risk = w.deps.Gate.States()
	}
	return st
}

// Wallet returns the controlled account the worker trades for.
func (w *Worker) Wallet() string { return w.cfg.Wallet }
