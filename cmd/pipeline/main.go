package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/techmart/pipeline/internal/application/extract"
	"github.com/techmart/pipeline/internal/application/pipeline"
	"github.com/techmart/pipeline/internal/application/transform"
	"github.com/techmart/pipeline/internal/domain/quality"
	"github.com/techmart/pipeline/internal/domain/run"
	"github.com/techmart/pipeline/internal/domain/shared"
	"github.com/techmart/pipeline/internal/infrastructure/config"
	"github.com/techmart/pipeline/internal/infrastructure/lease"
	"github.com/techmart/pipeline/internal/infrastructure/logger"
	"github.com/techmart/pipeline/internal/infrastructure/persistence"
	"github.com/techmart/pipeline/internal/infrastructure/warehouse"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting TechMart pipeline",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env))

	os.Exit(runPipeline(cfg, log))
}

func runPipeline(cfg *config.Config, log *zap.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Operational store
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Error("Failed to connect to database", zap.Error(err))
		return 1
	}
	defer db.Close()

	if err := persistence.Migrate(db.DB); err != nil {
		log.Error("Failed to migrate database schema", zap.Error(err))
		return 1
	}

	// Analytical store
	store, err := warehouse.Open(cfg.Warehouse.Path, log)
	if err != nil {
		log.Error("Failed to open analytical store", zap.Error(err))
		return 1
	}
	defer store.Close()

	// Run lease
	var runLease lease.RunLease
	if cfg.Redis.Enabled {
		redisLease, err := lease.NewRedisLease(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Error("Failed to connect to Redis", zap.Error(err))
			return 1
		}
		defer redisLease.Close()
		runLease = redisLease
	} else {
		runLease = lease.NewInMemoryLease()
	}

	// Quality rules
	rules := quality.DefaultRules()
	if cfg.Quality.RulesPath != "" {
		rules, err = quality.LoadRules(cfg.Quality.RulesPath)
		if err != nil {
			log.Error("Failed to load quality rules", zap.Error(err))
			return 1
		}
	}
	rules.FreshnessWindow = cfg.Quality.FreshnessWindow

	// Extract sources
	retry := extract.RetryPolicy{
		MaxAttempts:   cfg.Sources.RetryMaxAttempts,
		BaseDelay:     cfg.Sources.RetryBaseDelay,
		BackoffFactor: cfg.Sources.RetryBackoff,
		Cooldown:      cfg.Sources.RateLimitCooldown,
	}
	adapters := []extract.SourceAdapter{
		extract.NewEventBatchAdapter(cfg.Sources.EventBatchPath, log),
		extract.NewUserRosterAdapter(cfg.Sources.UserRosterPath, time.Now().UTC(), log),
	}
	if cfg.Sources.CatalogURL != "" {
		client := &http.Client{Timeout: cfg.Sources.CatalogTimeout}
		adapters = append(adapters, extract.NewCatalogAdapter(cfg.Sources.CatalogURL, client, retry, log))
	}

	orchestrator := pipeline.NewOrchestrator(
		pipeline.Config{
			PipelineName:   cfg.App.Name,
			LeaseKey:       cfg.Pipeline.LeaseKey,
			LeaseTTL:       cfg.Pipeline.LeaseTTL,
			PhaseRetries:   cfg.Pipeline.PhaseRetries,
			RetryBaseDelay: cfg.Pipeline.RetryBaseDelay,
			BackoffFactor:  cfg.Sources.RetryBackoff,
		},
		adapters,
		quality.NewScorer(rules),
		transform.NewTransformer(log, transform.WithOutlierMultiple(cfg.Pipeline.OutlierMultiple)),
		persistence.NewTransactionalLoader(db.DB, persistence.ReferencePolicy(cfg.Pipeline.ReferencePolicy), log),
		store,
		pipeline.NewRunLedger(persistence.NewRunLedgerRepository(db.DB), store, log),
		runLease,
		log,
	)

	pr, err := orchestrator.Run(ctx)
	switch {
	case err == nil:
		log.Info("Pipeline run succeeded",
			zap.String("run_id", pr.RunID.String()),
			zap.Int64("records_processed", pr.RecordsProcessed),
			zap.Int64("records_failed", pr.RecordsFailed),
			zap.Float64("quality_score", pr.QualityScore))
		return 0
	case errors.Is(err, shared.ErrLeaseHeld):
		log.Warn("Another pipeline run is already in progress")
		return 2
	case pr != nil && pr.Status == run.StatusCancelled:
		log.Warn("Pipeline run cancelled", zap.String("run_id", pr.RunID.String()))
		return 3
	default:
		log.Error("Pipeline run failed", zap.Error(err))
		return 1
	}
}
