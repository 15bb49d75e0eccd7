package workers

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/akulov/exit-engine/internal/adapters/config"
	"github.com/akulov/exit-engine/internal/valueestim"
	"github.com/akulov/exit-engine/pkg/logger"
	"github.com/akulov/exit-engine/pkg/metrics"
	"github.com/akulov/exit-engine/pkg/models"
)

const experienceFetchLimit = 5000

// ExperienceSource streams stored transitions into the replay buffer
type ExperienceSource interface {
	LoadExperiencesAfter(ctx context.Context, afterID int64, limit int) ([]models.Experience, int64, error)
}

// SnapshotSink persists trained backends
type SnapshotSink interface {
	SaveSnapshot(ctx context.Context, backend string, payload []byte) error
}

// TrainingWorker periodically drains new experiences from storage into the
// replay buffer, runs a training round against a clone of the serving
// backend, and persists the resulting snapshot.
type TrainingWorker struct {
	cfg       *config.TrainingConfig
	trainer   *valueestim.Trainer
	estimator *valueestim.Estimator
	source    ExperienceSource
	sink      SnapshotSink
	sinkBuf   metrics.Buffer
	cursor    int64
}

// NewTrainingWorker creates new training worker. sinkBuf may be nil.
func NewTrainingWorker(
	cfg *config.TrainingConfig,
	trainer *valueestim.Trainer,
	estimator *valueestim.Estimator,
	source ExperienceSource,
	sink SnapshotSink,
	sinkBuf metrics.Buffer,
) *TrainingWorker {
	return &TrainingWorker{
		cfg:       cfg,
		trainer:   trainer,
		estimator: estimator,
		source:    source,
		sink:      sink,
		sinkBuf:   sinkBuf,
	}
}

// Name returns worker name
func (tw *TrainingWorker) Name() string {
	return "training"
}

// Run executes one training iteration: ingest, train, snapshot
func (tw *TrainingWorker) Run(ctx context.Context) error {
	ingested, err := tw.ingest(ctx)
	if err != nil {
		return err
	}

	if tw.trainer.Buffer().Len() == 0 {
		logger.Debug("replay buffer empty, skipping training round")
		return nil
	}

	stats := tw.trainer.TrainRound(tw.cfg.Batches)

	backend, payload, err := tw.estimator.SnapshotBackend()
	if err != nil {
		return err
	}
	if err := tw.sink.SaveSnapshot(ctx, backend, payload); err != nil {
		return fmt.Errorf("failed to persist snapshot: %w", err)
	}

	logger.Info("training iteration completed",
		zap.Int("ingested", ingested),
		zap.Int("samples", stats.Samples),
		zap.Float64("mean_loss", stats.MeanLoss),
	)

	if tw.sinkBuf != nil {
		_ = tw.sinkBuf.Add(&metrics.TrainingMetric{
			Timestamp: time.Now(),
			Backend:   backend,
			Batches:   stats.Batches,
			Samples:   stats.Samples,
			Epsilon:   stats.Epsilon,
			MeanLoss:  stats.MeanLoss,
		})
	}

	return nil
}

// ingest moves experiences stored since the last iteration into the replay
// buffer, advancing the cursor past everything it read.
func (tw *TrainingWorker) ingest(ctx context.Context) (int, error) {
	total := 0

	for {
		batch, lastID, err := tw.source.LoadExperiencesAfter(ctx, tw.cursor, experienceFetchLimit)
		if err != nil {
			return total, fmt.Errorf("failed to load experiences: %w", err)
		}
		if len(batch) == 0 {
			return total, nil
		}

		for _, exp := range batch {
			tw.trainer.Buffer().Add(exp)
		}

		tw.cursor = lastID
		total += len(batch)

		if len(batch) < experienceFetchLimit {
			return total, nil
		}
	}
}
