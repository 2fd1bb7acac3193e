package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polycopy/internal/aggregator"
	"github.com/alanyoungcy/polycopy/internal/copier"
	"github.com/alanyoungcy/polycopy/internal/crypto"
	"github.com/alanyoungcy/polycopy/internal/executor"
	"github.com/alanyoungcy/polycopy/internal/pipeline"
	"github.com/alanyoungcy/polycopy/internal/platform/polymarket"
	"github.com/alanyoungcy/polycopy/internal/riskgate"
	"github.com/alanyoungcy/polycopy/internal/server"
	"github.com/alanyoungcy/polycopy/internal/server/handler"
	"github.com/alanyoungcy/polycopy/internal/service"
	"github.com/alanyoungcy/polycopy/internal/sizing"
	"github.com/alanyoungcy/polycopy/internal/tracker"
)

// CopyMode runs the copy worker and, when enabled, the status server.
func (a *App) CopyMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting copy mode", slog.String("component", "app"))

	worker, err := a.buildWorker(ctx, deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(ctx)
	})
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, worker)
	}
	a.startIngester(ctx, g, deps)
	return g.Wait()
}

// ArchiveMode runs one archive pass and returns.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode", slog.String("component", "app"))
	if deps.Archiver == nil {
		return fmt.Errorf("app: archive mode requires s3 configuration")
	}
	return pipeline.NewArchiver(deps.Archiver, a.cfg.S3.ArchiveAfter.Duration, a.logger).Run(ctx)
}

// FullMode runs the copy worker, the status server and the periodic
// archiver.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode", slog.String("component", "app"))

	worker, err := a.buildWorker(ctx, deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(ctx)
	})
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, worker)
	}
	a.startIngester(ctx, g, deps)
	if deps.Archiver != nil {
		job := pipeline.NewArchiver(deps.Archiver, a.cfg.S3.ArchiveAfter.Duration, a.logger)
		g.Go(func() error {
			return job.RunEvery(ctx, a.cfg.S3.ArchiveInterval.Duration)
		})
	} else {
		a.logger.InfoContext(ctx, "archiving disabled", slog.String("component", "app"))
	}
	return g.Wait()
}

// buildWorker creates the trading pipeline: signer -> CLOB client -> order
// service -> engine, plus the sizing policy, tracker, gate and buffer the
// worker owns.
func (a *App) buildWorker(ctx context.Context, deps *Dependencies) (*copier.Worker, error) {
	cfg := a.cfg

	key, err := cfg.PrivateKey()
	if err != nil {
		return nil, fmt.Errorf("app: resolve wallet key: %w", err)
	}
	signer, err := crypto.NewSigner(key, cfg.Wallet.ChainID)
	if err != nil {
		return nil, fmt.Errorf("app: create signer: %w", err)
	}

	var creds *crypto.HMACAuth
	if cfg.Polymarket.APIKey != "" {
		creds = &crypto.HMACAuth{
			Key:        cfg.Polymarket.APIKey,
			Secret:     cfg.Polymarket.APISecret,
			Passphrase: cfg.Polymarket.APIPassphrase,
		}
	}
	clob := polymarket.NewClobClient(cfg.Polymarket.ClobHost, signer, creds)
	if creds == nil {
		if creds, err = clob.DeriveAPIKey(ctx); err != nil {
			return nil, fmt.Errorf("app: derive api key: %w", err)
		}
		a.logger.InfoContext(ctx, "derived CLOB API credentials",
			slog.String("component", "app"),
			slog.String("address", signer.Address().Hex()),
		)
	}

	wallet := cfg.Wallet.FunderAddress
	if wallet == "" {
		wallet = signer.Address().Hex()
	}

	orders := service.NewOrderService(clob, signer, deps.RateLimiter, deps.SignalBus, deps.AuditStore,
		service.OrderConfig{
			Owner:         creds.Key,
			Funder:        cfg.Wallet.FunderAddress,
			SignatureType: cfg.Wallet.SignatureType,
			NegRisk:       cfg.Polymarket.NegRisk,
			RateLimit:     cfg.Copy.OrderRateLimit,
			RateWindow:    time.Second,
			DryRun:        cfg.Copy.DryRun,
		}, a.logger)
	portfolio := service.NewPortfolioService(clob, polymarket.NewDataClient(cfg.Polymarket.DataAPIHost),
		cfg.Wallet.SignatureType, a.logger)

	tiers := make([]sizing.Tier, 0, len(cfg.Copy.MultiplierTiers))
	for _, t := range cfg.Copy.MultiplierTiers {
		tiers = append(tiers, sizing.Tier{MinOrderUSD: t.MinOrderUSD, Multiplier: t.Multiplier})
	}
	policy := sizing.NewPolicy(sizing.Config{
		BaseMultiplier: cfg.Copy.BaseMultiplier,
		Tiers:          tiers,
		MinOrderUSD:    cfg.Copy.MinOrderUSD,
		MaxOrderUSD:    cfg.Copy.MaxOrderUSD,
		MaxPositionUSD: cfg.Copy.MaxPositionUSD,
	})

	tr := tracker.New(deps.TrackerStore, a.logger)
	engine := executor.NewEngine(orders, tr, policy, executor.Config{
		RetryLimit:        cfg.Copy.RetryLimit,
		SkipSlippageGuard: cfg.Copy.SkipSlippageGuard,
		SlippageFactor:    cfg.Copy.SlippageFactor,
		RateLimitBackoff:  cfg.Copy.RateLimitBackoff.Duration,
		NetworkBackoff:    cfg.Copy.NetworkBackoff.Duration,
		ExceptionBackoff:  cfg.Copy.ExceptionBackoff.Duration,
		OtherBackoff:      cfg.Copy.OtherBackoff.Duration,
	}, a.logger)

	gate := riskgate.New(riskgate.Config{
		Enabled:      cfg.Risk.Enabled,
		MaxCostBasis: cfg.Risk.MaxCostBasis,
		MaxImbalance: cfg.Risk.MaxImbalance,
	}, a.logger)

	if cfg.Copy.DryRun {
		a.logger.WarnContext(ctx, "dry run: orders are built and logged but not submitted",
			slog.String("component", "app"))
	}

	return copier.NewWorker(copier.Config{
		Wallet:             wallet,
		Traders:            cfg.Copy.Traders,
		PollInterval:       cfg.Copy.PollInterval.Duration,
		BatchSize:          cfg.Copy.BatchSize,
		AggregationEnabled: cfg.Copy.AggregationEnabled,
		LockTTL:            cfg.Redis.LockTTL.Duration,
		DedupTTL:           cfg.Copy.DedupTTL.Duration,
	}, copier.Deps{
		Activity:  deps.ActivityStore,
		Portfolio: portfolio,
		Engine:    engine,
		Buffer:    aggregator.NewBuffer(a.logger),
		Gate:      gate,
		Tracker:   tr,
		Sizer:     policy,
		Locks:     deps.LockManager,
		Bus:       deps.SignalBus,
		Audit:     deps.AuditStore,
		Notifier:  deps.Notifier,
	}, a.logger), nil
}

// startIngester polls the followed traders' activity into the activity
// store when ingestion is enabled.
func (a *App) startIngester(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Copy.IngestEnabled || deps.ActivitySink == nil {
		a.logger.InfoContext(ctx, "activity ingestion disabled", slog.String("component", "app"))
		return
	}
	scraper := pipeline.NewActivityScraper(deps.ActivitySink,
		polymarket.NewDataClient(a.cfg.Polymarket.DataAPIHost),
		a.cfg.Copy.Traders, a.cfg.Copy.IngestLookback.Duration, a.logger)
	g.Go(func() error {
		return scraper.RunLoop(ctx, a.cfg.Copy.IngestInterval.Duration)
	})
}

// startHTTPServer registers the status API on g and shuts it down when ctx
// is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, worker *copier.Worker) {
	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Status:     handler.NewStatusHandler(a.cfg.Mode, worker.Wallet(), worker),
		Executions: handler.NewExecutionsHandler(copier.ExecutionsStream, deps.SignalBus, a.logger),
	}
	srv := server.NewServer(server.Config{
		Host:         a.cfg.Server.Host,
		Port:         a.cfg.Server.Port,
		APIKey:       a.cfg.Server.APIKey,
		ReadTimeout:  a.cfg.Server.ReadTimeout.Duration,
		WriteTimeout: a.cfg.Server.WriteTimeout.Duration,
		RateLimit:    a.cfg.Server.RateLimit,
	}, handlers, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
