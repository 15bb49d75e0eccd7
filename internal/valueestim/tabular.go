package valueestim

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/akulov/exit-engine/internal/features"
	"github.com/akulov/exit-engine/pkg/models"
)

// Discretization widths and ranges. Position features arrive normalized by
// the extractor (profit points / 100), so the profit range below corresponds
// to -5%..+5% in 0.5% bins.
const (
	marketBinWidth = 0.25
	marketBinMin   = -2.0
	marketBinMax   = 2.0

	profitBinWidth = 0.005
	profitBinMin   = -0.05
	profitBinMax   = 0.05

	ageBinWidth = 0.05 // 5 bars per bin at the /100 normalization
	ageBinMax   = 1.0

	scoreBinWidth = 0.1 // confidence / drawdown-fraction bins
)

// TabularBackend stores Q-values in a sparse table keyed by the discretized
// state. Unseen buckets read as the neutral zero vector.
type TabularBackend struct {
	StateDim int                       `json:"state_dim"`
	Cells    map[string]models.QValues `json:"cells"`
}

// NewTabularBackend creates an empty tabular backend
func NewTabularBackend(stateDim int) *TabularBackend {
	return &TabularBackend{
		StateDim: stateDim,
		Cells:    make(map[string]models.QValues),
	}
}

// Name returns the backend identifier
func (t *TabularBackend) Name() string { return "tabular" }

// Predict returns the stored Q-vector for the state's bucket, or the
// neutral prior when the bucket has never been visited.
func (t *TabularBackend) Predict(state []float64) models.QValues {
	return t.Cells[t.bucketKey(state)]
}

// Update moves the bucket cell for (state, action) toward target in place
func (t *TabularBackend) Update(state []float64, action models.Action, target float64, learningRate float64) {
	idx := action.Index()
	if idx < 0 {
		return
	}

	key := t.bucketKey(state)
	q := t.Cells[key]
	q[idx] += learningRate * (target - q[idx])
	t.Cells[key] = q
}

// Clone returns a deep copy of the table
func (t *TabularBackend) Clone() Backend {
	cells := make(map[string]models.QValues, len(t.Cells))
	for k, v := range t.Cells {
		cells[k] = v
	}
	return &TabularBackend{StateDim: t.StateDim, Cells: cells}
}

// Snapshot serializes the table to JSON
func (t *TabularBackend) Snapshot() ([]byte, error) {
	return json.Marshal(t)
}

// Restore loads a serialized table
func (t *TabularBackend) Restore(payload []byte) error {
	var restored TabularBackend
	if err := json.Unmarshal(payload, &restored); err != nil {
		return fmt.Errorf("failed to restore tabular snapshot: %w", err)
	}
	if restored.Cells == nil {
		restored.Cells = make(map[string]models.QValues)
	}

	t.StateDim = restored.StateDim
	t.Cells = restored.Cells
	return nil
}

// Size returns the number of visited buckets
func (t *TabularBackend) Size() int { return len(t.Cells) }

// bucketKey discretizes every dimension and joins the bucket indices into a
// stable string key. Market dimensions share one coarse binning; the five
// trailing position dimensions get the bins described in the header.
func (t *TabularBackend) bucketKey(state []float64) string {
	marketDim := t.StateDim - features.PositionFeatureCount

	var sb strings.Builder
	for i, v := range state {
		if i > 0 {
			sb.WriteByte('|')
		}

		var bucket int
		switch {
		case i < marketDim:
			bucket = bin(v, marketBinWidth, marketBinMin, marketBinMax)
		case i == marketDim: // profit
			bucket = bin(v, profitBinWidth, profitBinMin, profitBinMax)
		case i == marketDim+1: // bars held
			bucket = bin(v, ageBinWidth, 0, ageBinMax)
		case i == marketDim+2: // peak profit
			bucket = bin(v, profitBinWidth, 0, profitBinMax)
		default: // drawdown fraction, entry confidence
			bucket = bin(v, scoreBinWidth, 0, 1)
		}
		sb.WriteString(strconv.Itoa(bucket))
	}

	return sb.String()
}

func bin(value, width, min, max float64) int {
	if value < min {
		value = min
	}
	if value > max {
		value = max
	}
	return int(math.Floor((value - min) / width))
}
