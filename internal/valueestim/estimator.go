package valueestim

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/akulov/exit-engine/internal/adapters/config"
	"github.com/akulov/exit-engine/pkg/logger"
	"github.com/akulov/exit-engine/pkg/models"
)

// Backend is one swappable Q-value representation. Implementations must be
// safe for concurrent Predict calls; Update is only ever invoked on a
// training clone, never on the serving instance.
type Backend interface {
	// Name returns the backend identifier used for snapshot storage
	Name() string
	// Predict returns the Q-vector for a state. A lookup miss returns the
	// neutral zero vector, never an error.
	Predict(state []float64) models.QValues
	// Update nudges the estimate for (state, action) toward target
	Update(state []float64, action models.Action, target float64, learningRate float64)
	// Clone returns a deep copy for offline training
	Clone() Backend
	// Snapshot serializes the backend for persistence
	Snapshot() ([]byte, error)
	// Restore loads a previously serialized snapshot
	Restore(payload []byte) error
}

// NewBackend constructs the configured backend
func NewBackend(cfg *config.EstimatorConfig) (Backend, error) {
	switch cfg.Backend {
	case "tabular":
		return NewTabularBackend(cfg.StateDim), nil
	case "linear":
		return NewLinearBackend(cfg.StateDim), nil
	default:
		return nil, fmt.Errorf("unknown estimator backend: %s", cfg.Backend)
	}
}

// Estimator serves Q-value lookups for the live decision path. Inference is
// greedy (epsilon = 0); exploration exists only on the training side. The
// backend is replaced wholesale via Swap so a reader never observes a
// half-trained representation.
type Estimator struct {
	mu      sync.RWMutex
	backend Backend
}

// NewEstimator creates an estimator serving the given backend
func NewEstimator(backend Backend) *Estimator {
	return &Estimator{backend: backend}
}

// Predict returns the Q-vector for a state. Backend failures degrade to the
// neutral prior instead of propagating into the decision path.
func (e *Estimator) Predict(state []float64) (q models.QValues) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("estimator backend panic, degrading to neutral prior",
				zap.Any("panic", r),
			)
			q = models.QValues{}
		}
	}()

	e.mu.RLock()
	backend := e.backend
	e.mu.RUnlock()

	return backend.Predict(state)
}

// Decide returns the Q-vector and the greedy action for a state
func (e *Estimator) Decide(state []float64) (models.QValues, models.Action) {
	q := e.Predict(state)
	action, _ := q.ArgMax()
	return q, action
}

// Swap atomically replaces the serving backend with a freshly trained one
func (e *Estimator) Swap(backend Backend) {
	e.mu.Lock()
	e.backend = backend
	e.mu.Unlock()

	logger.Info("estimator backend swapped",
		zap.String("backend", backend.Name()),
	)
}

// CloneBackend returns a deep copy of the current backend for training
func (e *Estimator) CloneBackend() Backend {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.backend.Clone()
}

// SnapshotBackend serializes the current backend
func (e *Estimator) SnapshotBackend() (string, []byte, error) {
	e.mu.RLock()
	backend := e.backend
	e.mu.RUnlock()

	payload, err := backend.Snapshot()
	if err != nil {
		return "", nil, fmt.Errorf("failed to snapshot backend: %w", err)
	}
	return backend.Name(), payload, nil
}
