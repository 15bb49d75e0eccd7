package valueestim

import (
	"testing"

	"github.com/akulov/exit-engine/internal/adapters/config"
	"github.com/akulov/exit-engine/pkg/models"
)

// panicBackend always panics on Predict
type panicBackend struct{ TabularBackend }

func (p *panicBackend) Predict(state []float64) models.QValues {
	panic("broken backend")
}

func TestNewBackend(t *testing.T) {
	for _, tc := range []struct {
		backend string
		want    string
	}{
		{"tabular", "tabular"},
		{"linear", "linear"},
	} {
		t.Run(tc.backend, func(t *testing.T) {
			b, err := NewBackend(&config.EstimatorConfig{Backend: tc.backend, StateDim: testStateDim})
			if err != nil {
				t.Fatalf("NewBackend failed: %v", err)
			}
			if b.Name() != tc.want {
				t.Errorf("expected %s, got %s", tc.want, b.Name())
			}
		})
	}

	t.Run("unknown backend", func(t *testing.T) {
		if _, err := NewBackend(&config.EstimatorConfig{Backend: "deep"}); err == nil {
			t.Error("expected error for unknown backend")
		}
	})
}

func TestEstimator(t *testing.T) {
	t.Run("greedy tie prefers HOLD", func(t *testing.T) {
		e := NewEstimator(NewTabularBackend(testStateDim))

		_, action := e.Decide(testState(0.5))
		if action != models.ActionHold {
			t.Errorf("neutral prior should decide HOLD, got %s", action)
		}
	})

	t.Run("backend panic degrades to neutral", func(t *testing.T) {
		e := NewEstimator(&panicBackend{})

		q := e.Predict(testState(0.5))
		if q != (models.QValues{}) {
			t.Errorf("expected neutral prior on panic, got %+v", q)
		}
	})

	t.Run("swap replaces serving backend", func(t *testing.T) {
		state := testState(0.5)

		e := NewEstimator(NewTabularBackend(testStateDim))

		trained := NewTabularBackend(testStateDim)
		trained.Update(state, models.ActionCloseAll, 1.0, 1.0)
		e.Swap(trained)

		_, action := e.Decide(state)
		if action != models.ActionCloseAll {
			t.Errorf("expected CLOSE_ALL from swapped backend, got %s", action)
		}
	})
}
