package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// ActivitySink persists observed trader activity.
type ActivitySink interface {
	InsertBatch(ctx context.Context, events []domain.TradeEvent) (int64, error)
	LastTimestamp(ctx context.Context, trader string) (time.Time, error)
}

// ActivityFetcher reads a page of a trader's activity, oldest first. It
// returns the converted events and the raw page length.
type ActivityFetcher interface {
	Activity(ctx context.Context, wallet string, since time.Time, limit, offset int) ([]domain.TradeEvent, int, error)
}

// ActivityScraper polls followed traders' activity and stores new events
// for the copy worker to pick up.
type ActivityScraper struct {
	sink     ActivitySink
	fetcher  ActivityFetcher
	traders  []string
	lookback time.Duration
	pageSize int
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	cursors map[string]time.Time
}

// NewActivityScraper creates an ActivityScraper. On first sight of a trader
// with no stored activity it starts lookback before now.
func NewActivityScraper(sink ActivitySink, fetcher ActivityFetcher, traders []string, lookback time.Duration, logger *slog.Logger) *ActivityScraper {
	return &ActivityScraper{
		sink:     sink,
		fetcher:  fetcher,
		traders:  traders,
		lookback: lookback,
		pageSize: 100,
		logger:   logger.With(slog.String("component", "activity_scraper")),
		now:      time.Now,
		cursors:  make(map[string]time.Time),
	}
}

// Run scrapes every trader once. A failing trader does not stop the others;
// the first error is returned after all have been tried.
func (s *ActivityScraper) Run(ctx context.Context) error {
	var firstErr error
	for _, trader := range s.traders {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("activity scraper context cancelled: %w", err)
		}
		if err := s.scrapeTrader(ctx, trader); err != nil {
			s.logger.ErrorContext(ctx, "trader scrape failed",
				slog.String("trader", trader),
				slog.String("error", err.Error()),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *ActivityScraper) scrapeTrader(ctx context.Context, trader string) error {
	since, err := s.cursor(ctx, trader)
	if err != nil {
		return err
	}

	offset := 0
	newest := since
	var inserted int64
	for {
		events, n, err := s.fetcher.Activity(ctx, trader, since, s.pageSize, offset)
		if err != nil {
			return fmt.Errorf("fetching activity of %s at offset %d: %w", trader, offset, err)
		}

		if len(events) > 0 {
			c, err := s.sink.InsertBatch(ctx, events)
			if err != nil {
				return fmt.Errorf("storing %d events of %s: %w", len(events), trader, err)
			}
			inserted += c
			for _, ev := range events {
				if ev.Timestamp.After(newest) {
					newest = ev.Timestamp
				}
			}
		}

		if n < s.pageSize {
			break
		}
		offset += s.pageSize
	}

	s.mu.Lock()
	s.cursors[trader] = newest
	s.mu.Unlock()

	if inserted > 0 {
		s.logger.InfoContext(ctx, "stored trader activity",
			slog.String("trader", trader),
			slog.Int64("inserted", inserted),
			slog.Time("newest", newest),
		)
	}
	return nil
}

// cursor returns the start time for the next fetch. The start is inclusive,
// so events sharing the newest second are fetched again and skipped by the
// store.
func (s *ActivityScraper) cursor(ctx context.Context, trader string) (time.Time, error) {
	s.mu.Lock()
	c, ok := s.cursors[trader]
	s.mu.Unlock()
	if ok {
		return c, nil
	}

	last, err := s.sink.LastTimestamp(ctx, trader)
	if err != nil {
		return time.Time{}, fmt.Errorf("loading cursor of %s: %w", trader, err)
	}
	if last.IsZero() {
		last = s.now().Add(-s.lookback)
	}
	return last, nil
}

// RunLoop runs the scraper on a repeating interval until the context is
// cancelled.
func (s *ActivityScraper) RunLoop(ctx context.Context, interval time.Duration) error {
	// Run immediately on start.
	if err := s.Run(ctx); err != nil && ctx.Err() == nil {
		s.logger.ErrorContext(ctx, "activity scrape failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("activity scraper loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Run(ctx); err != nil && ctx.Err() == nil {
				s.logger.ErrorContext(ctx, "activity scrape failed", slog.String("error", err.Error()))
			}
		}
	}
}
