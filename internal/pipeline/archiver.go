// Package pipeline runs the background data-maintenance jobs.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// Archiver moves processed activity and audit rows older than the retention
// window to cold storage.
type Archiver struct {
	blobArchiver domain.Archiver
	retention    time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

// NewArchiver creates an Archiver keeping rows for retention.
func NewArchiver(blobArchiver domain.Archiver, retention time.Duration, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver: blobArchiver,
		retention:    retention,
		now:          time.Now,
		logger:       logger.With(slog.String("component", "archive_job")),
	}
}

// Run executes one archive pass.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := a.now().UTC().Add(-a.retention)
	a.logger.InfoContext(ctx, "starting archive run", slog.Time("cutoff", cutoff))

	activity, err := a.blobArchiver.ArchiveActivity(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving activity before %v: %w", cutoff, err)
	}
	audit, err := a.blobArchiver.ArchiveAudit(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving audit log before %v: %w", cutoff, err)
	}

	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("activity_archived", activity),
		slog.Int64("audit_archived", audit),
	)
	return nil
}

// RunEvery runs the archiver immediately and then every interval until ctx
// is cancelled. Failed runs are logged and retried on the next tick.
func (a *Archiver) RunEvery(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := a.Run(ctx); err != nil && ctx.Err() == nil {
			a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			a.logger.InfoContext(ctx, "archive job stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
