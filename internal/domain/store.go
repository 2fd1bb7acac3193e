package domain

import (
	"context"
	"time"
)

// ActivityStore is the persisted activity feed of followed traders.
type ActivityStore interface {
	// ListPending returns events with processed=false and retry_marker=0,
	// oldest first.
	ListPending(ctx context.Context, traders []string, limit int) ([]TradeEvent, error)
	MarkInFlight(ctx context.Context, ids []string) error
	ReleaseInFlight(ctx context.Context, ids []string) (int64, error)
	// ReleaseAllInFlight clears every in-flight marker of the given traders.
	// Only the lock holder may call it.
	ReleaseAllInFlight(ctx context.Context, traders []string) (int64, error)
	MarkProcessed(ctx context.Context, ids []string, ann Annotation) error
	// ScaleBoughtTokens multiplies the bought-token annotation of every
	// processed BUY of the asset by factor.
	ScaleBoughtTokens(ctx context.Context, conditionID, asset string, factor float64) error
	ListProcessedBefore(ctx context.Context, before time.Time, limit int) ([]ProcessedActivity, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}

// TrackerStore persists position tracker entries.
type TrackerStore interface {
	LoadAll(ctx context.Context) ([]TrackerEntry, error)
	Upsert(ctx context.Context, entry TrackerEntry) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	ListBefore(ctx context.Context, before time.Time, limit int) ([]AuditEntry, error)
	DeleteByIDs(ctx context.Context, ids []int64) (int64, error)
}
