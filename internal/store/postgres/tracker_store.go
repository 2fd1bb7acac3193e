package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// TrackerStore implements domain.TrackerStore using PostgreSQL.
type TrackerStore struct {
	pool *pgxpool.Pool
}

// NewTrackerStore creates a new TrackerStore backed by the given pool.
func NewTrackerStore(pool *pgxpool.Pool) *TrackerStore {
	return &TrackerStore{pool: pool}
}

// LoadAll returns every tracked position.
func (s *TrackerStore) LoadAll(ctx context.Context) ([]domain.TrackerEntry, error) {
	const query = `SELECT condition_id, asset, quantity, cost, avg_price, updated_at
		FROM tracker_positions ORDER BY condition_id, asset`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: load tracker positions: %w", err)
	}
	defer rows.Close()

	var entries []domain.TrackerEntry
	for rows.Next() {
		var e domain.TrackerEntry
		if err := rows.Scan(&e.ConditionID, &e.Asset, &e.Quantity, &e.Cost, &e.AvgPrice, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan tracker position: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load tracker positions rows: %w", err)
	}
	return entries, nil
}

// Upsert writes the entry, replacing any previous row for the same asset.
func (s *TrackerStore) Upsert(ctx context.Context, e domain.TrackerEntry) error {
	const query = `
		INSERT INTO tracker_positions (condition_id, asset, quantity, cost, avg_price, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (condition_id, asset) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			cost = EXCLUDED.cost,
			avg_price = EXCLUDED.avg_price,
			updated_at = EXCLUDED.updated_at`
	if _, err := s.pool.Exec(ctx, query, e.ConditionID, e.Asset, e.Quantity, e.Cost, e.AvgPrice, e.UpdatedAt); err != nil {
		return fmt.Errorf("postgres: upsert tracker position %s/%s: %w", e.ConditionID, e.Asset, err)
	}
	return nil
}
