package valueestim

import (
	"math/rand"

	"go.uber.org/zap"

	"github.com/akulov/exit-engine/internal/adapters/config"
	"github.com/akulov/exit-engine/pkg/logger"
	"github.com/akulov/exit-engine/pkg/models"
)

// TrainStats summarizes one training round
type TrainStats struct {
	Batches  int
	Samples  int
	Epsilon  float64
	MeanLoss float64
}

// Trainer runs offline batch training against the replay buffer. It never
// mutates the serving backend: each round trains a clone and atomically
// swaps it in when done.
type Trainer struct {
	cfg     *config.EstimatorConfig
	buffer  *ReplayBuffer
	serving *Estimator
	rng     *rand.Rand
	epsilon float64
}

// NewTrainer creates a trainer for the given serving estimator
func NewTrainer(cfg *config.EstimatorConfig, buffer *ReplayBuffer, serving *Estimator, seed int64) *Trainer {
	return &Trainer{
		cfg:     cfg,
		buffer:  buffer,
		serving: serving,
		rng:     rand.New(rand.NewSource(seed)),
		epsilon: cfg.EpsilonStart,
	}
}

// Epsilon returns the current exploration rate
func (t *Trainer) Epsilon() float64 { return t.epsilon }

// Buffer returns the trainer's replay buffer
func (t *Trainer) Buffer() *ReplayBuffer { return t.buffer }

// ExploreAction picks an epsilon-greedy action against the given backend.
// Only the training path calls this; serving inference is always greedy.
func (t *Trainer) ExploreAction(backend Backend, state []float64) models.Action {
	if t.rng.Float64() < t.epsilon {
		return models.Actions[t.rng.Intn(len(models.Actions))]
	}
	action, _ := backend.Predict(state).ArgMax()
	return action
}

// TrainRound samples the requested number of batches, applies Bellman
// updates to a clone of the serving backend, then swaps the clone in.
// Returns zero-value stats when the buffer is empty.
func (t *Trainer) TrainRound(batches int) TrainStats {
	if t.buffer.Len() == 0 || batches < 1 {
		return TrainStats{Epsilon: t.epsilon}
	}

	clone := t.serving.CloneBackend()

	var samples int
	var lossSum float64

	for i := 0; i < batches; i++ {
		batch := t.buffer.Sample(t.cfg.BatchSize, t.rng)
		for _, exp := range batch {
			target := exp.Reward
			if !exp.Terminal {
				_, nextBest := clone.Predict(exp.NextState).ArgMax()
				target += t.cfg.Gamma * nextBest
			}

			predicted := clone.Predict(exp.State).Get(exp.Action)
			diff := target - predicted
			lossSum += diff * diff

			clone.Update(exp.State, exp.Action, target, t.cfg.LearningRate)
			samples++
		}

		t.epsilon *= t.cfg.EpsilonDecay
		if t.epsilon < t.cfg.EpsilonFloor {
			t.epsilon = t.cfg.EpsilonFloor
		}
	}

	t.serving.Swap(clone)

	stats := TrainStats{
		Batches: batches,
		Samples: samples,
		Epsilon: t.epsilon,
	}
	if samples > 0 {
		stats.MeanLoss = lossSum / float64(samples)
	}

	logger.Info("training round completed",
		zap.Int("batches", stats.Batches),
		zap.Int("samples", stats.Samples),
		zap.Float64("epsilon", stats.Epsilon),
		zap.Float64("mean_loss", stats.MeanLoss),
	)

	return stats
}
