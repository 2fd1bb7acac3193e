package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// ActivityStore implements domain.ActivityStore using PostgreSQL.
type ActivityStore struct {
	pool *pgxpool.Pool
}

// NewActivityStore creates a new ActivityStore backed by the given pool.
func NewActivityStore(pool *pgxpool.Pool) *ActivityStore {
	return &ActivityStore{pool: pool}
}

const activitySelectCols = `id, trader_address, activity_type, condition_id, asset,
	side, size, usdc_size, price, timestamp, market_slug, outcome`

func scanActivity(row pgx.Row, ev *domain.TradeEvent, extra ...any) error {
	var typ, side string
	dest := []any{
		&ev.ID, &ev.TraderAddress, &typ, &ev.ConditionID, &ev.Asset,
		&side, &ev.Size, &ev.UsdcSize, &ev.Price, &ev.Timestamp, &ev.MarketSlug, &ev.Outcome,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return err
	}
	ev.Type = domain.ActivityType(typ)
	ev.Side = domain.Side(side)
	return nil
}

// ListPending returns unprocessed events that carry no in-flight marker,
// oldest first. An empty traders slice matches every trader.
func (s *ActivityStore) ListPending(ctx context.Context, traders []string, limit int) ([]domain.TradeEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + activitySelectCols + `
		FROM trader_activity
		WHERE processed = FALSE AND retry_marker = 0`
	args := []any{limit}
	if len(traders) > 0 {
		query += ` AND trader_address = ANY($2)`
		args = append(args, traders)
	}
	query += ` ORDER BY timestamp ASC, id ASC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending activity: %w", err)
	}
	defer rows.Close()

	var events []domain.TradeEvent
	for rows.Next() {
		var ev domain.TradeEvent
		if err := scanActivity(rows, &ev); err != nil {
			return nil, fmt.Errorf("postgres: scan activity: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list pending activity rows: %w", err)
	}
	return events, nil
}

// MarkInFlight sets retry_marker=1 on the given events.
func (s *ActivityStore) MarkInFlight(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	const query = `UPDATE trader_activity SET retry_marker = 1
		WHERE id = ANY($1) AND processed = FALSE`
	if _, err := s.pool.Exec(ctx, query, ids); err != nil {
		return fmt.Errorf("postgres: mark %d events in flight: %w", len(ids), err)
	}
	return nil
}

// ReleaseInFlight clears the in-flight marker of unprocessed events so the
// next poll picks them up again.
func (s *ActivityStore) ReleaseInFlight(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	const query = `UPDATE trader_activity SET retry_marker = 0
		WHERE id = ANY($1) AND processed = FALSE AND retry_marker = 1`
	tag, err := s.pool.Exec(ctx, query, ids)
	if err != nil {
		return 0, fmt.Errorf("postgres: release %d in-flight events: %w", len(ids), err)
	}
	return tag.RowsAffected(), nil
}

// ReleaseAllInFlight clears the marker of every unprocessed in-flight event
// of the given traders, or of all traders when the slice is empty.
func (s *ActivityStore) ReleaseAllInFlight(ctx context.Context, traders []string) (int64, error) {
	query := `UPDATE trader_activity SET retry_marker = 0
		WHERE processed = FALSE AND retry_marker = 1`
	var args []any
	if len(traders) > 0 {
		query += ` AND trader_address = ANY($1)`
		args = append(args, traders)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("postgres: release stale in-flight events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkProcessed sets processed=true and writes the annotation.
func (s *ActivityStore) MarkProcessed(ctx context.Context, ids []string, ann domain.Annotation) error {
	if len(ids) == 0 {
		return nil
	}
	const query = `UPDATE trader_activity SET
			processed = TRUE,
			status = $2,
			bought_tokens = COALESCE($3, bought_tokens),
			retry_count = COALESCE($4, retry_count),
			processed_at = NOW()
		WHERE id = ANY($1)`
	if _, err := s.pool.Exec(ctx, query, ids, string(ann.Status), ann.BoughtTokens, ann.RetryCount); err != nil {
		return fmt.Errorf("postgres: mark %d events processed: %w", len(ids), err)
	}
	return nil
}

// ScaleBoughtTokens multiplies bought_tokens of processed BUY events of the
// asset by factor.
func (s *ActivityStore) ScaleBoughtTokens(ctx context.Context, conditionID, asset string, factor float64) error {
	if factor < 0 {
		factor = 0
	}
	const query = `UPDATE trader_activity SET bought_tokens = bought_tokens * $3
		WHERE condition_id = $1 AND asset = $2 AND side = 'BUY'
		  AND processed = TRUE AND bought_tokens IS NOT NULL`
	if _, err := s.pool.Exec(ctx, query, conditionID, asset, factor); err != nil {
		return fmt.Errorf("postgres: scale bought tokens %s/%s: %w", conditionID, asset, err)
	}
	return nil
}

// ListProcessedBefore returns processed events finished before the cutoff,
// oldest first.
func (s *ActivityStore) ListProcessedBefore(ctx context.Context, before time.Time, limit int) ([]domain.ProcessedActivity, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := `SELECT ` + activitySelectCols + `, status, bought_tokens, retry_count, processed_at
		FROM trader_activity
		WHERE processed = TRUE AND processed_at < $1
		ORDER BY processed_at ASC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list processed activity: %w", err)
	}
	defer rows.Close()

	var out []domain.ProcessedActivity
	for rows.Next() {
		var (
			pa     domain.ProcessedActivity
			status string
		)
		if err := scanActivity(rows, &pa.TradeEvent, &status, &pa.BoughtTokens, &pa.RetryCount, &pa.ProcessedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan processed activity: %w", err)
		}
		pa.Status = domain.ActivityStatus(status)
		out = append(out, pa)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list processed activity rows: %w", err)
	}
	return out, nil
}

// DeleteByIDs removes events, returning the number deleted.
func (s *ActivityStore) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM trader_activity WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete %d activity rows: %w", len(ids), err)
	}
	return tag.RowsAffected(), nil
}

// InsertBatch stores newly observed events. Events already present are
// skipped; the number actually inserted is returned.
func (s *ActivityStore) InsertBatch(ctx context.Context, events []domain.TradeEvent) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO trader_activity (
			id, trader_address, activity_type, condition_id, asset,
			side, size, usdc_size, price, timestamp, market_slug, outcome
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`

	for _, ev := range events {
		batch.Queue(query,
			ev.ID, ev.TraderAddress, string(ev.Type), ev.ConditionID, ev.Asset,
			string(ev.Side), ev.Size, ev.UsdcSize, ev.Price, ev.Timestamp, ev.MarketSlug, ev.Outcome,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	var inserted int64
	for i := range events {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("postgres: insert activity batch item %d: %w", i, err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

// LastTimestamp returns the newest stored event time of trader, or the zero
// time when none exist.
func (s *ActivityStore) LastTimestamp(ctx context.Context, trader string) (time.Time, error) {
	var ts *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT MAX(timestamp) FROM trader_activity WHERE trader_address = $1`, trader).Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("postgres: last activity timestamp: %w", err)
	}
	if ts == nil {
		return time.Time{}, nil
	}
	return *ts, nil
}
