package valueestim

import (
	"math/rand"
	"testing"

	"github.com/akulov/exit-engine/pkg/models"
)

func expWithReward(reward float64) models.Experience {
	return models.Experience{
		State:    testState(0),
		Action:   models.ActionHold,
		Reward:   reward,
		Terminal: true,
	}
}

func TestReplayBuffer(t *testing.T) {
	t.Run("evicts oldest at capacity", func(t *testing.T) {
		b := NewReplayBuffer(3)
		for i := 1; i <= 5; i++ {
			b.Add(expWithReward(float64(i)))
		}

		if b.Len() != 3 {
			t.Fatalf("expected len 3, got %d", b.Len())
		}

		rng := rand.New(rand.NewSource(1))
		rewards := map[float64]bool{}
		for _, exp := range b.Sample(3, rng) {
			rewards[exp.Reward] = true
		}
		if rewards[1] || rewards[2] {
			t.Errorf("oldest entries should be evicted, got %v", rewards)
		}
		if !rewards[3] || !rewards[4] || !rewards[5] {
			t.Errorf("expected rewards 3..5, got %v", rewards)
		}
	})

	t.Run("sample without replacement", func(t *testing.T) {
		b := NewReplayBuffer(10)
		for i := 0; i < 10; i++ {
			b.Add(expWithReward(float64(i)))
		}

		rng := rand.New(rand.NewSource(42))
		seen := map[float64]bool{}
		for _, exp := range b.Sample(5, rng) {
			if seen[exp.Reward] {
				t.Fatalf("duplicate sample %v", exp.Reward)
			}
			seen[exp.Reward] = true
		}
		if len(seen) != 5 {
			t.Errorf("expected 5 distinct samples, got %d", len(seen))
		}
	})

	t.Run("oversized request returns everything", func(t *testing.T) {
		b := NewReplayBuffer(10)
		b.Add(expWithReward(1))
		b.Add(expWithReward(2))

		rng := rand.New(rand.NewSource(7))
		if got := len(b.Sample(100, rng)); got != 2 {
			t.Errorf("expected all 2 experiences, got %d", got)
		}
	})

	t.Run("empty buffer samples nothing", func(t *testing.T) {
		b := NewReplayBuffer(10)
		rng := rand.New(rand.NewSource(7))
		if got := b.Sample(5, rng); got != nil {
			t.Errorf("expected nil, got %v", got)
		}
	})
}
