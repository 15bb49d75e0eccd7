package metrics

import "time"

// ExitDecisionMetric is the full audit record of one exit decision
type ExitDecisionMetric struct {
	Timestamp      time.Time
	AccountID      string
	Symbol         string
	Action         string
	EstimatorValue float64
	RuleValue      float64
	CombinedValue  float64
	BlendWeight    float64
	Uncertainty    float64
	Provenance     string
	SafetyOverride bool
	ProfitPoints   float64
	BarsHeld       int
	DecisionTimeMs int
}

func (m *ExitDecisionMetric) TableName() string {
	return "exit_decision_metrics"
}

func (m *ExitDecisionMetric) Values() []interface{} {
	return []interface{}{
		m.Timestamp,
		m.AccountID,
		m.Symbol,
		m.Action,
		m.EstimatorValue,
		m.RuleValue,
		m.CombinedValue,
		m.BlendWeight,
		m.Uncertainty,
		m.Provenance,
		m.SafetyOverride,
		m.ProfitPoints,
		m.BarsHeld,
		m.DecisionTimeMs,
	}
}

// SizingMetric records one position sizing calculation
type SizingMetric struct {
	Timestamp    time.Time
	AccountID    string
	Symbol       string
	SymbolClass  string
	LotSize      float64
	RiskDollars  float64
	RiskPercent  float64
	RewardRisk   float64
	InvalidInput bool
	Reasoning    string
}

func (m *SizingMetric) TableName() string {
	return "sizing_metrics"
}

func (m *SizingMetric) Values() []interface{} {
	return []interface{}{
		m.Timestamp,
		m.AccountID,
		m.Symbol,
		m.SymbolClass,
		m.LotSize,
		m.RiskDollars,
		m.RiskPercent,
		m.RewardRisk,
		m.InvalidInput,
		m.Reasoning,
	}
}

// TrainingMetric records one offline training round
type TrainingMetric struct {
	Timestamp time.Time
	Backend   string
	Batches   int
	Samples   int
	Epsilon   float64
	MeanLoss  float64
}

func (m *TrainingMetric) TableName() string {
	return "training_metrics"
}

func (m *TrainingMetric) Values() []interface{} {
	return []interface{}{
		m.Timestamp,
		m.Backend,
		m.Batches,
		m.Samples,
		m.Epsilon,
		m.MeanLoss,
	}
}
