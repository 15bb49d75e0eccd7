package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	_ "github.com/lib/pq"

	"github.com/akulov/exit-engine/internal/adapters/config"
	"github.com/akulov/exit-engine/internal/adapters/database"
	"github.com/akulov/exit-engine/internal/valueestim"
	"github.com/akulov/exit-engine/internal/workers"
	"github.com/akulov/exit-engine/pkg/logger"
)

// One-shot offline training run: drain every stored experience into the
// replay buffer, train, persist the snapshot, exit.
func main() {
	rounds := flag.Int("rounds", 1, "number of training iterations to run")
	seed := flag.Int64("seed", time.Now().UnixNano(), "rng seed for sampling reproducibility")
	flag.Parse()

	if err := run(context.Background(), *rounds, *seed); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, rounds int, seed int64) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	db, err := database.New(&cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.RunMigrations(db.Conn(), "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	backend, err := valueestim.NewBackend(&cfg.Estimator)
	if err != nil {
		return err
	}

	repo := valueestim.NewRepository(db.DB())
	if payload, err := repo.LoadLatestSnapshot(ctx, backend.Name()); err != nil {
		return err
	} else if payload != nil {
		if err := backend.Restore(payload); err != nil {
			return fmt.Errorf("failed to restore snapshot: %w", err)
		}
		logger.Info("snapshot restored", zap.String("backend", backend.Name()))
	}

	estimator := valueestim.NewEstimator(backend)
	buffer := valueestim.NewReplayBuffer(cfg.Estimator.BufferSize)
	trainer := valueestim.NewTrainer(&cfg.Estimator, buffer, estimator, seed)

	tw := workers.NewTrainingWorker(&cfg.Training, trainer, estimator, repo, repo, nil)

	for i := 0; i < rounds; i++ {
		if err := tw.Run(ctx); err != nil {
			return fmt.Errorf("training round %d failed: %w", i+1, err)
		}
	}

	logger.Info("offline training finished",
		zap.Int("rounds", rounds),
		zap.Float64("epsilon", trainer.Epsilon()),
	)

	return nil
}
