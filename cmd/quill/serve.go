package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/quill/internal/analysis"
	"github.com/MikeSquared-Agency/quill/internal/analytics"
	"github.com/MikeSquared-Agency/quill/internal/anthropic"
	"github.com/MikeSquared-Agency/quill/internal/api"
	"github.com/MikeSquared-Agency/quill/internal/audit"
	"github.com/MikeSquared-Agency/quill/internal/backfill"
	"github.com/MikeSquared-Agency/quill/internal/cache"
	"github.com/MikeSquared-Agency/quill/internal/conditioning"
	"github.com/MikeSquared-Agency/quill/internal/edits"
	"github.com/MikeSquared-Agency/quill/internal/hermes"
	"github.com/MikeSquared-Agency/quill/internal/learning"
	"github.com/MikeSquared-Agency/quill/internal/profiles"
	"github.com/MikeSquared-Agency/quill/internal/store"
	"github.com/MikeSquared-Agency/quill/internal/style"
)

// app holds the wired services shared by every command.
type app struct {
	db         *store.Store
	bus        *hermes.Client
	profiles   *profiles.Service
	pipeline   *learning.Pipeline
	aggregator *analytics.Aggregator
	closers    []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newApp connects to the database and wires the services. The NATS
// connection is only made when withBus is set.
func newApp(ctx context.Context, withBus bool) (*app, error) {
	logger := slog.Default()
	a := &app{}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if err := store.Migrate(cfg.DatabaseURL, logger); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, db.Close)
	logger.Info("database connected")

	// Audit events and profile updates fan out on the bus when there is one.
	var pub audit.Publisher
	if withBus {
		bus, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to NATS: %w", err)
		}
		a.bus = bus
		a.closers = append(a.closers, bus.Close)
		pub = bus
		logger.Info("NATS connected", "url", cfg.NatsURL)
	}

	profileCache, globalCache, err := newCaches(ctx, a)
	if err != nil {
		a.Close()
		return nil, err
	}

	auditLog := audit.New(db, pub, logger)
	a.profiles = profiles.NewService(db, profileCache, globalCache, auditLog, logger)

	llm := anthropic.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel, logger)
	analyzer := analysis.New(llm, cfg.MaxEditsPerAnalysis, logger)
	recorder := edits.NewRecorder(db, auditLog, logger)
	a.pipeline = learning.New(db, recorder, analyzer, a.profiles, auditLog, pub, learning.Thresholds{
		MinEdits: cfg.MinEditsForAnalysis,
		Interval: cfg.AnalysisInterval,
		MaxEdits: cfg.MaxEditsPerAnalysis,
	}, logger)

	a.aggregator = analytics.New(db, auditLog, analytics.Thresholds{
		MinClinicians: cfg.MinCliniciansForAggregation,
		MinEdits:      cfg.MinLettersForAggregation,
		MaxPatterns:   cfg.MaxPatternsPerCategory,
		MinFrequency:  cfg.MinPatternFrequency,
	}, logger)

	return a, nil
}

// newCaches returns Redis-backed profile caches when REDIS_URL is set, so
// replicas share invalidations, and in-process LRU caches otherwise.
func newCaches(ctx context.Context, a *app) (cache.Cache[*style.Profile], cache.Cache[*style.GlobalProfile], error) {
	if cfg.RedisURL != "" {
		rdb, err := cache.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		slog.Info("redis profile cache ready", "ttl", cfg.ProfileCacheTTL)
		return cache.NewRedis[*style.Profile](rdb, "quill:profile:", cfg.ProfileCacheTTL, slog.Default()),
			cache.NewRedis[*style.GlobalProfile](rdb, "quill:global:", cfg.ProfileCacheTTL, slog.Default()),
			nil
	}

	pc, err := cache.NewMemory[*style.Profile](cfg.ProfileCacheSize, cfg.ProfileCacheTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("create profile cache: %w", err)
	}
	gc, err := cache.NewMemory[*style.GlobalProfile](cfg.ProfileCacheSize, cfg.ProfileCacheTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("create global profile cache: %w", err)
	}
	return pc, gc, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	slog.Info("quill starting", "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.AnthropicAPIKey == "" {
		return errors.New("ANTHROPIC_API_KEY is required")
	}

	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.bus.Subscribe(hermes.SubjectLetterFinalized, a.pipeline.HandleLetterFinalized); err != nil {
		return fmt.Errorf("subscribe to %s: %w", hermes.SubjectLetterFinalized, err)
	}

	sched, err := analytics.NewScheduler(a.aggregator, cfg.AggregationSchedule, cfg.AggregationWindow, slog.Default())
	if err != nil {
		return err
	}
	go sched.Run(ctx)

	srv := api.NewServer(cfg.Port, cfg.APIToken, api.Deps{
		Learning:          a.pipeline,
		Profiles:          a.profiles,
		Conditioner:       conditioning.NewService(a.profiles, conditioning.Options{Threshold: cfg.MinConfidenceThreshold}, slog.Default()),
		Aggregator:        a.aggregator,
		Patterns:          a.db,
		DB:                a.db,
		AggregationWindow: cfg.AggregationWindow,
	}, slog.Default())
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	if cfg.APIToken == "" {
		slog.Warn("QUILL_API_TOKEN not set, API is unauthenticated")
	}
	slog.Info("quill ready", "port", cfg.Port, "next_aggregation", sched.Next(time.Now()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}
	slog.Info("shutting down")
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown incomplete", "error", err)
	}
	slog.Info("quill stopped")
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	return store.Migrate(cfg.DatabaseURL, slog.Default())
}

func runSeed(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if seedAnalyze && !seedDryRun && cfg.AnthropicAPIKey == "" {
		return errors.New("ANTHROPIC_API_KEY is required with --analyze")
	}

	// A dry run only walks the directory, so it needs no database.
	var seeds backfill.Seeds
	if !seedDryRun {
		a, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()
		seeds = a.pipeline
	}

	statePath := seedStatePath
	if statePath == "" {
		statePath = cfg.SeedStatePath
	}
	runner := backfill.NewRunner(backfill.Config{
		Dir:          seedDir,
		UserID:       seedUser,
		Subspecialty: seedSubspecialty,
		StatePath:    statePath,
		DryRun:       seedDryRun,
		Analyze:      seedAnalyze,
		Out:          cmd.OutOrStdout(),
	}, seeds, slog.Default())

	_, err := runner.Run(ctx)
	return err
}

func runAggregate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	window := aggregateWindow
	if window <= 0 {
		window = cfg.AggregationWindow
	}
	to := time.Now().UTC()
	from := to.Add(-window)
	period := analytics.Period(to)

	if aggregateSubspecialty == "" {
		n, err := a.aggregator.AggregateAll(ctx, period, from, to)
		fmt.Fprintf(cmd.OutOrStdout(), "period %s: %d subspecialties written\n", period, n)
		return err
	}

	p, err := a.aggregator.Aggregate(ctx, aggregateSubspecialty, period, from, to)
	if err != nil {
		return err
	}
	if p == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "period %s: %s below privacy threshold, nothing written\n", period, aggregateSubspecialty)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "period %s: %s aggregated from %d edits across %d clinicians\n",
		period, aggregateSubspecialty, p.SampleSize, p.ClinicianCount)
	return nil
}
