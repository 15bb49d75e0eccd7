package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// NewDecimal creates decimal from float64
func NewDecimal(value float64) decimal.Decimal {
	return decimal.NewFromFloat(value)
}

// Action represents an exit decision for an open position
type Action string

const (
	ActionHold       Action = "HOLD"
	ActionCloseAll   Action = "CLOSE_ALL"
	ActionScaleOut50 Action = "SCALE_OUT_50"
	ActionScaleOut25 Action = "SCALE_OUT_25"
)

// Actions lists all exit actions in canonical Q-vector order.
var Actions = [4]Action{ActionHold, ActionCloseAll, ActionScaleOut50, ActionScaleOut25}

// Index returns the action's position in the canonical Q-vector order,
// or -1 for an unknown action.
func (a Action) Index() int {
	for i, action := range Actions {
		if a == action {
			return i
		}
	}
	return -1
}

// IsReduce reports whether the action closes or shrinks the position
func (a Action) IsReduce() bool {
	return a == ActionCloseAll || a == ActionScaleOut50 || a == ActionScaleOut25
}

// QValues holds one learned value estimate per exit action,
// indexed by the canonical order of Actions.
type QValues [4]float64

// Get returns the value for the given action (0 for unknown actions)
func (q QValues) Get(a Action) float64 {
	idx := a.Index()
	if idx < 0 {
		return 0
	}
	return q[idx]
}

// ArgMax returns the best action and its value. Ties resolve to the
// earliest action in canonical order, so HOLD wins a fully neutral vector.
func (q QValues) ArgMax() (Action, float64) {
	best := 0
	for i := 1; i < len(q); i++ {
		if q[i] > q[best] {
			best = i
		}
	}
	return Actions[best], q[best]
}

// Spread returns max - min across the four values
func (q QValues) Spread() float64 {
	minV, maxV := q[0], q[0]
	for _, v := range q[1:] {
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}
	return maxV - minV
}

// PositionState carries the open-position scalars supplied by the
// position tracker for one decision call.
type PositionState struct {
	ProfitPoints     float64 `json:"profit_points"`
	BarsHeld         int     `json:"bars_held"`
	PeakProfitPoints float64 `json:"peak_profit_points"`
	EntryConfidence  float64 `json:"entry_confidence"` // 0..1
}

// DrawdownFromPeak returns the fractional retrace from the peak profit,
// 0 if no positive peak was ever reached or profit still sits at the peak.
func (p PositionState) DrawdownFromPeak() float64 {
	if p.PeakProfitPoints <= 0 || p.ProfitPoints >= p.PeakProfitPoints {
		return 0
	}
	return (p.PeakProfitPoints - p.ProfitPoints) / p.PeakProfitPoints
}

// Provenance tags how the final exit action was chosen
type Provenance string

const (
	ProvenanceFullAgreement   Provenance = "full_agreement"
	ProvenanceEstimatorDriven Provenance = "estimator_driven"
	ProvenanceRuleDriven      Provenance = "rule_driven"
	ProvenanceHybrid          Provenance = "hybrid"
	ProvenanceSafetyOverride  Provenance = "safety_override"
)

// ExitDecision is the auditable output of one decide-exit call
type ExitDecision struct {
	Action         Action     `json:"action"`
	EstimatorValue float64    `json:"estimator_value"`
	RuleValue      float64    `json:"rule_value"`
	CombinedValue  float64    `json:"combined_value"`
	BlendWeight    float64    `json:"blend_weight"`
	Uncertainty    float64    `json:"uncertainty"`
	Provenance     Provenance `json:"provenance"`
	SafetyOverride bool       `json:"safety_override"`
}

// Experience is one stored transition for replay training
type Experience struct {
	ID        int64     `json:"id" db:"id"`
	State     []float64 `json:"state" db:"-"`
	Action    Action    `json:"action" db:"action"`
	Reward    float64   `json:"reward" db:"reward"`
	NextState []float64 `json:"next_state" db:"-"`
	Terminal  bool      `json:"terminal" db:"terminal"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// BreakerRecord is the persisted per-account, per-day circuit breaker state.
// PeakBalance carries across days for the lifetime of the account.
type BreakerRecord struct {
	AccountID         string          `db:"account_id"`
	Day               time.Time       `db:"day"`
	DailyStartBalance decimal.Decimal `db:"daily_start_balance"`
	DailyPnL          decimal.Decimal `db:"daily_pnl"`
	ConsecutiveLosses int             `db:"consecutive_losses"`
	PeakBalance       decimal.Decimal `db:"peak_balance"`
	TradesToday       int             `db:"trades_today"`
	Halted            bool            `db:"halted"`
	HaltReasons       pq.StringArray  `db:"halt_reasons"`
	UpdatedAt         time.Time       `db:"updated_at"`
}

// BreakerStatus is what the serving layer consults before permitting
// any new trading instruction.
type BreakerStatus struct {
	AllowTrading      bool     `json:"allow_trading"`
	TriggeredReasons  []string `json:"triggered_reasons"`
	DailyLossPct      float64  `json:"daily_loss_pct"`
	ConsecutiveLosses int      `json:"consecutive_losses"`
	DrawdownPct       float64  `json:"drawdown_pct"`
	TradesToday       int      `json:"trades_today"`
}

// SymbolClass groups instruments by their lot conventions
type SymbolClass string

const (
	ClassForex     SymbolClass = "forex"     // fractional lots, 0.01 steps
	ClassIndex     SymbolClass = "index"     // whole-unit lots
	ClassCommodity SymbolClass = "commodity" // whole-unit lots
)

// SizingRequest carries everything the sizer needs for a new entry
type SizingRequest struct {
	Balance           float64     `json:"balance"`
	TickValue         float64     `json:"tick_value"`
	StopDistanceTicks float64     `json:"stop_distance_ticks"`
	TradeQuality      float64     `json:"trade_quality"` // 0..1
	MLConfidence      float64     `json:"ml_confidence"` // 0..1
	VolatilityScore   float64     `json:"volatility_score"`
	PlannedRewardRisk float64     `json:"planned_reward_risk"`
	SymbolClass       SymbolClass `json:"symbol_class"`
	// External hard caps in dollars; <= 0 means no budget supplied.
	RemainingDailyRisk    float64 `json:"remaining_daily_risk"`
	RemainingDrawdownRisk float64 `json:"remaining_drawdown_risk"`
	BrokerMaxLot          float64 `json:"broker_max_lot"`
	// Recent market history; used to derive VolatilityScore when the
	// caller leaves it unset.
	RecentCandles []Candle `json:"recent_candles,omitempty"`
}

// SizingResult is the sizer's concrete, bounded answer
type SizingResult struct {
	LotSize             float64 `json:"lot_size"`
	RiskDollars         float64 `json:"risk_dollars"`
	ProfitTargetDollars float64 `json:"profit_target_dollars"`
	RiskRewardRatio     float64 `json:"risk_reward_ratio"`
	Reasoning           string  `json:"reasoning"`
	InvalidInput        bool    `json:"invalid_input"`
}

// ScaleInRequest sizes an addition to a winning position
type ScaleInRequest struct {
	CurrentLots            float64     `json:"current_lots"`
	UnrealizedProfitPoints float64     `json:"unrealized_profit_points"`
	MomentumScore          float64     `json:"momentum_score"` // 0..1
	SymbolClass            SymbolClass `json:"symbol_class"`
	BrokerMaxLot           float64     `json:"broker_max_lot"`
}

// RecoveryRequest sizes a DCA addition to a losing position
type RecoveryRequest struct {
	CurrentLots         float64     `json:"current_lots"`
	LossPoints          float64     `json:"loss_points"` // magnitude, >= 0
	RecoveryProbability float64     `json:"recovery_probability"`
	SymbolClass         SymbolClass `json:"symbol_class"`
	BrokerMaxLot        float64     `json:"broker_max_lot"`
}

// AddResult is the outcome of a scale-in or recovery sizing call
type AddResult struct {
	Approved  bool    `json:"approved"`
	AddLots   float64 `json:"add_lots"`
	Reasoning string  `json:"reasoning"`
}

// Candle represents OHLCV candlestick data used for volatility scoring
type Candle struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}
