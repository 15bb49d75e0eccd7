package features

import (
	"sort"

	"go.uber.org/zap"

	"github.com/akulov/exit-engine/pkg/logger"
	"github.com/akulov/exit-engine/pkg/models"
)

// PositionFeatureCount is the number of position-derived dimensions
// appended after the market features.
const PositionFeatureCount = 5

// Extractor builds the fixed-dimension state vector consumed by the value
// estimator. Extraction is deterministic: market features are laid out in
// sorted name order, so identical inputs always produce identical vectors.
type Extractor struct {
	stateDim     int
	featureNames []string // sorted
}

// NewExtractor creates an extractor for the given total state dimension.
// featureNames is the set of market indicators the caller promises to supply;
// a name missing from a feature map is substituted with 0.
func NewExtractor(stateDim int, featureNames []string) *Extractor {
	names := make([]string, len(featureNames))
	copy(names, featureNames)
	sort.Strings(names)

	return &Extractor{
		stateDim:     stateDim,
		featureNames: names,
	}
}

// StateDim returns the total vector dimension
func (e *Extractor) StateDim() int {
	return e.stateDim
}

// Extract builds the state vector: sorted market features padded/truncated
// to stateDim - PositionFeatureCount slots, followed by the five normalized
// position features. It never fails; absent features contribute 0.
func (e *Extractor) Extract(featureMap map[string]float64, pos models.PositionState) []float64 {
	marketDim := e.stateDim - PositionFeatureCount
	state := make([]float64, e.stateDim)

	for i, name := range e.featureNames {
		if i >= marketDim {
			break
		}
		value, ok := featureMap[name]
		if !ok {
			logger.Debug("missing feature substituted with 0",
				zap.String("feature", name),
			)
			continue
		}
		state[i] = value
	}

	// Position features, normalized into roughly unit scale. Profit-style
	// values are expressed in points and divided by 100 so a 100-point move
	// maps to 1.0; bar count by 100 bars.
	state[marketDim] = pos.ProfitPoints / 100.0
	state[marketDim+1] = float64(pos.BarsHeld) / 100.0
	state[marketDim+2] = pos.PeakProfitPoints / 100.0
	state[marketDim+3] = pos.DrawdownFromPeak()
	state[marketDim+4] = pos.EntryConfidence

	return state
}
