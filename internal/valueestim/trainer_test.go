package valueestim

import (
	"math"
	"testing"

	"github.com/akulov/exit-engine/internal/adapters/config"
	"github.com/akulov/exit-engine/pkg/models"
)

func trainerConfig() *config.EstimatorConfig {
	return &config.EstimatorConfig{
		Backend:      "tabular",
		StateDim:     testStateDim,
		Gamma:        0.9,
		LearningRate: 0.5,
		EpsilonStart: 1.0,
		EpsilonDecay: 0.5,
		EpsilonFloor: 0.1,
		BufferSize:   100,
		BatchSize:    8,
	}
}

func TestTrainer_TrainRound(t *testing.T) {
	cfg := trainerConfig()
	state := testState(0.5)

	t.Run("terminal reward propagates into serving backend", func(t *testing.T) {
		estimator := NewEstimator(NewTabularBackend(testStateDim))
		buffer := NewReplayBuffer(cfg.BufferSize)
		buffer.Add(models.Experience{
			State:    state,
			Action:   models.ActionCloseAll,
			Reward:   10,
			Terminal: true,
		})

		trainer := NewTrainer(cfg, buffer, estimator, 1)
		stats := trainer.TrainRound(3)

		if stats.Samples != 3 {
			t.Errorf("one experience per batch, expected 3 samples, got %d", stats.Samples)
		}

		got := estimator.Predict(state).Get(models.ActionCloseAll)
		if got <= 0 || got > 10 {
			t.Errorf("expected value pulled toward reward 10, got %.4f", got)
		}

		_, action := estimator.Decide(state)
		if action != models.ActionCloseAll {
			t.Errorf("trained action should win, got %s", action)
		}
	})

	t.Run("bellman target bootstraps from next state", func(t *testing.T) {
		backend := NewTabularBackend(testStateDim)
		next := testState(-0.5)
		backend.Update(next, models.ActionHold, 10, 1.0)

		estimator := NewEstimator(backend)
		buffer := NewReplayBuffer(cfg.BufferSize)
		buffer.Add(models.Experience{
			State:     state,
			Action:    models.ActionHold,
			Reward:    0,
			NextState: next,
			Terminal:  false,
		})

		trainer := NewTrainer(cfg, buffer, estimator, 1)
		trainer.TrainRound(1)

		// target = 0 + 0.9 * 10, one step at lr 0.5 gives 4.5
		got := estimator.Predict(state).Get(models.ActionHold)
		if math.Abs(got-4.5) > 1e-9 {
			t.Errorf("expected 4.5 from bootstrapped target, got %.4f", got)
		}
	})

	t.Run("epsilon decays to floor", func(t *testing.T) {
		estimator := NewEstimator(NewTabularBackend(testStateDim))
		buffer := NewReplayBuffer(cfg.BufferSize)
		buffer.Add(expWithReward(1))

		trainer := NewTrainer(cfg, buffer, estimator, 1)
		trainer.TrainRound(10)

		if trainer.Epsilon() != cfg.EpsilonFloor {
			t.Errorf("expected epsilon at floor %.2f, got %.4f", cfg.EpsilonFloor, trainer.Epsilon())
		}
	})

	t.Run("empty buffer is a no-op", func(t *testing.T) {
		estimator := NewEstimator(NewTabularBackend(testStateDim))
		trainer := NewTrainer(cfg, NewReplayBuffer(cfg.BufferSize), estimator, 1)

		stats := trainer.TrainRound(5)
		if stats.Samples != 0 || stats.Batches != 0 {
			t.Errorf("expected zero stats, got %+v", stats)
		}
	})

	t.Run("loss shrinks as estimates converge", func(t *testing.T) {
		estimator := NewEstimator(NewTabularBackend(testStateDim))
		buffer := NewReplayBuffer(cfg.BufferSize)
		buffer.Add(models.Experience{
			State:    state,
			Action:   models.ActionScaleOut50,
			Reward:   5,
			Terminal: true,
		})

		trainer := NewTrainer(cfg, buffer, estimator, 1)
		first := trainer.TrainRound(2)
		second := trainer.TrainRound(2)

		if second.MeanLoss >= first.MeanLoss {
			t.Errorf("loss should shrink: %.4f then %.4f", first.MeanLoss, second.MeanLoss)
		}
	})
}

func TestTrainer_ExploreAction(t *testing.T) {
	cfg := trainerConfig()
	state := testState(0.5)

	backend := NewTabularBackend(testStateDim)
	backend.Update(state, models.ActionCloseAll, 10, 1.0)

	t.Run("zero epsilon is greedy", func(t *testing.T) {
		cfg := *cfg
		cfg.EpsilonStart = 0
		trainer := NewTrainer(&cfg, NewReplayBuffer(10), NewEstimator(backend), 1)

		for i := 0; i < 20; i++ {
			if action := trainer.ExploreAction(backend, state); action != models.ActionCloseAll {
				t.Fatalf("epsilon 0 must always be greedy, got %s", action)
			}
		}
	})

	t.Run("full epsilon explores", func(t *testing.T) {
		trainer := NewTrainer(cfg, NewReplayBuffer(10), NewEstimator(backend), 1)

		seen := map[models.Action]bool{}
		for i := 0; i < 200; i++ {
			seen[trainer.ExploreAction(backend, state)] = true
		}
		if len(seen) != len(models.Actions) {
			t.Errorf("epsilon 1 should visit every action, saw %d", len(seen))
		}
	})
}
