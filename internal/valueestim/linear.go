package valueestim

import (
	"encoding/json"
	"fmt"

	"github.com/akulov/exit-engine/pkg/models"
)

// LinearBackend approximates Q(state, action) with one linear function per
// action (weights plus bias), trained by stochastic gradient descent on the
// squared Bellman error.
type LinearBackend struct {
	StateDim int          `json:"state_dim"`
	Weights  [4][]float64 `json:"weights"` // per action: StateDim weights + trailing bias
}

// NewLinearBackend creates a zero-initialized linear backend. Zero weights
// reproduce the neutral prior, matching the tabular backend's unseen-bucket
// behavior.
func NewLinearBackend(stateDim int) *LinearBackend {
	b := &LinearBackend{StateDim: stateDim}
	for i := range b.Weights {
		b.Weights[i] = make([]float64, stateDim+1)
	}
	return b
}

// Name returns the backend identifier
func (l *LinearBackend) Name() string { return "linear" }

// Predict returns the Q-vector for a state
func (l *LinearBackend) Predict(state []float64) models.QValues {
	var q models.QValues
	for i := range l.Weights {
		q[i] = l.dot(i, state)
	}
	return q
}

// Update performs one SGD step on the squared error for (state, action)
func (l *LinearBackend) Update(state []float64, action models.Action, target float64, learningRate float64) {
	idx := action.Index()
	if idx < 0 {
		return
	}

	prediction := l.dot(idx, state)
	gradient := learningRate * (target - prediction)

	w := l.Weights[idx]
	for i := 0; i < l.StateDim && i < len(state); i++ {
		w[i] += gradient * state[i]
	}
	w[l.StateDim] += gradient // bias
}

// Clone returns a deep copy of the weights
func (l *LinearBackend) Clone() Backend {
	clone := &LinearBackend{StateDim: l.StateDim}
	for i := range l.Weights {
		clone.Weights[i] = make([]float64, len(l.Weights[i]))
		copy(clone.Weights[i], l.Weights[i])
	}
	return clone
}

// Snapshot serializes the weights to JSON
func (l *LinearBackend) Snapshot() ([]byte, error) {
	return json.Marshal(l)
}

// Restore loads serialized weights
func (l *LinearBackend) Restore(payload []byte) error {
	var restored LinearBackend
	if err := json.Unmarshal(payload, &restored); err != nil {
		return fmt.Errorf("failed to restore linear snapshot: %w", err)
	}
	for i := range restored.Weights {
		if len(restored.Weights[i]) != restored.StateDim+1 {
			return fmt.Errorf("corrupt linear snapshot: action %d has %d weights, want %d",
				i, len(restored.Weights[i]), restored.StateDim+1)
		}
	}

	l.StateDim = restored.StateDim
	l.Weights = restored.Weights
	return nil
}

func (l *LinearBackend) dot(action int, state []float64) float64 {
	w := l.Weights[action]
	sum := w[l.StateDim] // bias
	for i := 0; i < l.StateDim && i < len(state); i++ {
		sum += w[i] * state[i]
	}
	return sum
}
