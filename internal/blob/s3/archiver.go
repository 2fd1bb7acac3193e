package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"
	defaultBatchSize = 1000
)

// Archiver implements domain.Archiver: it exports old rows as JSONL, uploads
// them, and only then deletes them from the primary store.
type Archiver struct {
	writer    domain.BlobWriter
	activity  domain.ActivityStore
	audit     domain.AuditStore
	batchSize int
	now       func() time.Time
	logger    *slog.Logger
}

// NewArchiver creates an Archiver. batchSize <= 0 selects the default.
func NewArchiver(writer domain.BlobWriter, activity domain.ActivityStore, audit domain.AuditStore, batchSize int, logger *slog.Logger) *Archiver {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Archiver{
		writer:    writer,
		activity:  activity,
		audit:     audit,
		batchSize: batchSize,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

type activityRecord struct {
	ID            string    `json:"id"`
	TraderAddress string    `json:"trader_address"`
	Type          string    `json:"type"`
	ConditionID   string    `json:"condition_id"`
	Asset         string    `json:"asset"`
	Side          string    `json:"side"`
	Size          float64   `json:"size"`
	UsdcSize      float64   `json:"usdc_size"`
	Price         float64   `json:"price"`
	Timestamp     time.Time `json:"timestamp"`
	MarketSlug    string    `json:"market_slug,omitempty"`
	Outcome       string    `json:"outcome,omitempty"`
	Status        string    `json:"status"`
	BoughtTokens  *float64  `json:"bought_tokens,omitempty"`
	RetryCount    *int      `json:"retry_count,omitempty"`
	ProcessedAt   time.Time `json:"processed_at"`
}

func toActivityRecord(p domain.ProcessedActivity) activityRecord {
	return activityRecord{
		ID:            p.ID,
		TraderAddress: p.TraderAddress,
		Type:          string(p.Type),
		ConditionID:   p.ConditionID,
		Asset:         p.Asset,
		Side:          string(p.Side),
		Size:          p.Size,
		UsdcSize:      p.UsdcSize,
		Price:         p.Price,
		Timestamp:     p.Timestamp,
		MarketSlug:    p.MarketSlug,
		Outcome:       p.Outcome,
		Status:        string(p.Status),
		BoughtTokens:  p.BoughtTokens,
		RetryCount:    p.RetryCount,
		ProcessedAt:   p.ProcessedAt,
	}
}

type auditRecord struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ArchiveActivity moves processed events finished before the cutoff to
// archive/activity/, one object per batch, and returns how many rows were
// removed.
func (a *Archiver) ArchiveActivity(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for part := 0; ; part++ {
		rows, err := a.activity.ListProcessedBefore(ctx, before, a.batchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive activity query: %w", err)
		}
		if len(rows) == 0 {
			break
		}

		records := make([]activityRecord, len(rows))
		ids := make([]string, len(rows))
		for i, r := range rows {
			records[i] = toActivityRecord(r)
			ids[i] = r.ID
		}
		path := a.objectPath("activity", before, part)
		if err := upload(ctx, a.writer, path, records); err != nil {
			return total, fmt.Errorf("s3blob: archive activity: %w", err)
		}

		n, err := a.activity.DeleteByIDs(ctx, ids)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive activity delete: %w", err)
		}
		total += n
		if n == 0 {
			break
		}
		a.logger.InfoContext(ctx, "activity batch archived",
			slog.String("path", path),
			slog.Int("rows", len(rows)),
		)
		if len(rows) < a.batchSize {
			break
		}
	}

	a.recordRun(ctx, "archive.activity", total, before)
	return total, nil
}

// ArchiveAudit moves audit entries created before the cutoff to
// archive/audit/.
func (a *Archiver) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for part := 0; ; part++ {
		entries, err := a.audit.ListBefore(ctx, before, a.batchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive audit query: %w", err)
		}
		if len(entries) == 0 {
			break
		}

		records := make([]auditRecord, len(entries))
		ids := make([]int64, len(entries))
		for i, e := range entries {
			records[i] = auditRecord{ID: e.ID, Event: e.Event, Detail: e.Detail, CreatedAt: e.CreatedAt}
			ids[i] = e.ID
		}
		path := a.objectPath("audit", before, part)
		if err := upload(ctx, a.writer, path, records); err != nil {
			return total, fmt.Errorf("s3blob: archive audit: %w", err)
		}

		n, err := a.audit.DeleteByIDs(ctx, ids)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive audit delete: %w", err)
		}
		total += n
		if n == 0 || len(entries) < a.batchSize {
			break
		}
	}

	a.recordRun(ctx, "archive.audit", total, before)
	return total, nil
}

func upload[T any](ctx context.Context, w domain.BlobWriter, path string, records []T) error {
	buf, err := marshalJSONL(records)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	if err := w.Put(ctx, path, bytes.NewReader(buf), jsonlContentType); err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}
	return nil
}

func (a *Archiver) recordRun(ctx context.Context, event string, count int64, before time.Time) {
	a.logger.InfoContext(ctx, "archive run finished",
		slog.String("event", event),
		slog.Int64("rows", count),
		slog.Time("before", before),
	)
	if a.audit == nil || count == 0 {
		return
	}
	if err := a.audit.Log(ctx, event, map[string]any{
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		a.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
	}
}

// objectPath partitions objects by the cutoff day and stamps them with the
// run time so repeated runs never overwrite each other.
//
//	archive/activity/2026-03-01/20260301T120000Z-000.jsonl
func (a *Archiver) objectPath(kind string, before time.Time, part int) string {
	return fmt.Sprintf("archive/%s/%s/%s-%03d.jsonl",
		kind, before.UTC().Format("2006-01-02"), a.now().UTC().Format("20060102T150405Z"), part)
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)
