package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	_ "github.com/lib/pq"

	"github.com/akulov/exit-engine/internal/adapters/config"
	"github.com/akulov/exit-engine/internal/adapters/database"
	chmetrics "github.com/akulov/exit-engine/internal/adapters/metrics"
	redisAdapter "github.com/akulov/exit-engine/internal/adapters/redis"
	"github.com/akulov/exit-engine/internal/adapters/telegram"
	"github.com/akulov/exit-engine/internal/engine"
	"github.com/akulov/exit-engine/internal/exit"
	"github.com/akulov/exit-engine/internal/features"
	"github.com/akulov/exit-engine/internal/risk"
	"github.com/akulov/exit-engine/internal/valueestim"
	"github.com/akulov/exit-engine/internal/workers"
	"github.com/akulov/exit-engine/pkg/logger"
	"github.com/akulov/exit-engine/pkg/metrics"
	"github.com/akulov/exit-engine/pkg/worker"
)

// marketFeatures is the indicator set supplied by the upstream feed, in no
// particular order; the extractor sorts them.
var marketFeatures = []string{
	"atr_norm", "bb_width", "ema_slope_fast", "ema_slope_slow",
	"momentum", "rsi_norm", "spread_norm", "trend_strength",
	"volatility_score", "volume_ratio", "session_phase",
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nReceived interrupt signal, shutting down...")
		cancel()
	}()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := initConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("exit engine starting",
		zap.String("account_id", cfg.AccountID),
		zap.String("estimator_backend", cfg.Estimator.Backend),
	)

	db, err := initDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// Optional distributed account lock: two engine instances mutating the
	// same breaker record would race the read-modify-persist cycle.
	lock, err := initLock(ctx, cfg)
	if err != nil {
		return err
	}
	defer lock.Release(context.Background())

	audit := initAudit(cfg)
	if audit != nil {
		defer audit.Close(context.Background())
	}

	notifier, err := initNotifier(cfg)
	if err != nil {
		return err
	}

	core, err := buildEngine(ctx, cfg, db, audit, notifier)
	if err != nil {
		return err
	}

	if notifier != nil {
		notifier.SetController(core.engine)
		go func() {
			if err := notifier.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("telegram notifier stopped", zap.Error(err))
			}
		}()
	}

	group := worker.NewWorkerGroup(ctx)
	if cfg.Training.Enabled {
		group.Add(workers.NewTrainingWorker(
			&cfg.Training, core.trainer, core.estimator, core.repo, core.repo, audit,
		), cfg.Training.Interval)
	}
	group.Start()

	logger.Info("exit engine started")

	<-ctx.Done()

	group.Stop(30 * time.Second)
	logger.Info("exit engine stopped")

	return nil
}

// initConfig loads configuration and initializes logging
func initConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return cfg, nil
}

// initDatabase connects to postgres and applies migrations
func initDatabase(cfg *config.Config) (*database.DB, error) {
	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, err
	}

	if err := database.RunMigrations(db.Conn(), "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// initLock acquires the distributed account lock when enabled. Failing to
// acquire is fatal: a second instance must not start.
func initLock(ctx context.Context, cfg *config.Config) (redisAdapter.AccountLock, error) {
	if !cfg.Redis.LockEnabled {
		return redisAdapter.NoopLock{}, nil
	}

	lock, err := redisAdapter.NewAccountLock(&cfg.Redis, cfg.AccountID)
	if err != nil {
		return nil, err
	}

	acquired, err := lock.TryAcquire(ctx)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, fmt.Errorf("account %s is locked by another instance", cfg.AccountID)
	}

	return lock, nil
}

// initAudit wires the ClickHouse decision-audit sink when enabled
func initAudit(cfg *config.Config) metrics.Buffer {
	if !cfg.ClickHouse.Enabled {
		return nil
	}

	chDB, err := database.NewClickHouse(cfg.ClickHouse.GetDSN())
	if err != nil {
		logger.Warn("ClickHouse not available, decision audit disabled", zap.Error(err))
		return nil
	}

	writer := chmetrics.NewWriter(chmetrics.NewClickHouseRepository(chDB.DB()))
	return metrics.NewBufferedMetrics(metrics.BufferConfig{
		Writer:        writer,
		BatchSize:     cfg.ClickHouse.BatchSize,
		FlushInterval: cfg.ClickHouse.FlushInterval,
	})
}

// initNotifier wires telegram alerts when a bot token is configured
func initNotifier(cfg *config.Config) (*telegram.Notifier, error) {
	if cfg.Telegram.BotToken == "" || cfg.Telegram.ChatID == 0 {
		return nil, nil
	}
	return telegram.NewNotifier(&cfg.Telegram)
}

// core bundles the engine with the training-side components main wires into
// workers.
type core struct {
	engine    *engine.Engine
	estimator *valueestim.Estimator
	trainer   *valueestim.Trainer
	repo      *valueestim.Repository
}

// buildEngine assembles the decision core and restores the latest estimator
// snapshot from storage.
func buildEngine(
	ctx context.Context,
	cfg *config.Config,
	db *database.DB,
	audit metrics.Buffer,
	notifier *telegram.Notifier,
) (*core, error) {
	backend, err := valueestim.NewBackend(&cfg.Estimator)
	if err != nil {
		return nil, err
	}

	estimatorRepo := valueestim.NewRepository(db.DB())
	if payload, err := estimatorRepo.LoadLatestSnapshot(ctx, backend.Name()); err != nil {
		logger.Warn("failed to load estimator snapshot, starting cold", zap.Error(err))
	} else if payload != nil {
		if err := backend.Restore(payload); err != nil {
			logger.Warn("failed to restore estimator snapshot, starting cold", zap.Error(err))
		} else {
			logger.Info("estimator snapshot restored", zap.String("backend", backend.Name()))
		}
	}

	estimator := valueestim.NewEstimator(backend)
	buffer := valueestim.NewReplayBuffer(cfg.Estimator.BufferSize)
	trainer := valueestim.NewTrainer(&cfg.Estimator, buffer, estimator, time.Now().UnixNano())

	riskRepo := risk.NewRepository(db.DB())
	breaker := risk.NewCircuitBreaker(&cfg.Risk, riskRepo, riskRepo, cfg.AccountID)

	var haltNotifier engine.HaltNotifier
	if notifier != nil {
		haltNotifier = notifier
	}

	eng := engine.New(engine.Deps{
		AccountID:   cfg.AccountID,
		Extractor:   features.NewExtractor(cfg.Estimator.StateDim, marketFeatures),
		Estimator:   estimator,
		Combiner:    exit.NewCombiner(&cfg.Exit),
		Sizer:       risk.NewPositionSizer(&cfg.Sizing),
		Breaker:     breaker,
		Volatility:  features.NewVolatilityCalculator(),
		Experiences: estimatorRepo,
		Audit:       audit,
		Notifier:    haltNotifier,
	})

	return &core{
		engine:    eng,
		estimator: estimator,
		trainer:   trainer,
		repo:      estimatorRepo,
	}, nil
}
