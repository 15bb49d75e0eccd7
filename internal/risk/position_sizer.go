package risk

import (
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/akulov/exit-engine/internal/adapters/config"
	"github.com/akulov/exit-engine/pkg/logger"
	"github.com/akulov/exit-engine/pkg/models"
)

// lotSpec describes an instrument class's lot conventions
type lotSpec struct {
	min  float64
	max  float64
	step float64
}

// Currency-pair-like instruments trade fractional lots; index and
// commodity-like instruments trade whole units.
var lotSpecs = map[models.SymbolClass]lotSpec{
	models.ClassForex:     {min: 0.01, max: 5.0, step: 0.01},
	models.ClassIndex:     {min: 1, max: 20, step: 1},
	models.ClassCommodity: {min: 1, max: 10, step: 1},
}

var defaultLotSpec = lotSpec{min: 0.01, max: 1.0, step: 0.01}

// PositionSizer converts quality signals into a concrete lot size under
// simultaneous constraints. Every applied step lands in the result's
// reasoning string.
type PositionSizer struct {
	cfg *config.SizingConfig
}

// NewPositionSizer creates new position sizer
func NewPositionSizer(cfg *config.SizingConfig) *PositionSizer {
	return &PositionSizer{cfg: cfg}
}

// CalculateSize sizes a new entry. It never divides by zero and never
// returns a lot size outside the instrument class bounds.
func (ps *PositionSizer) CalculateSize(req *models.SizingRequest) *models.SizingResult {
	spec := specFor(req.SymbolClass)
	var steps []string

	// 1-2. Base risk, scaled continuously by quality
	quality := (req.TradeQuality + req.MLConfidence) / 2
	quality = clamp(quality, 0, 1)
	riskPct := ps.cfg.BaseRiskPercent + quality*(ps.cfg.MaxRiskPercent-ps.cfg.BaseRiskPercent)
	steps = append(steps, fmt.Sprintf("base %.2f%%, quality %.2f -> risk %.3f%%",
		ps.cfg.BaseRiskPercent, quality, riskPct))

	// 3. Reward:risk bonus, bounded
	if req.PlannedRewardRisk > 2.0 {
		factor := math.Min(req.PlannedRewardRisk/2.0, ps.cfg.RewardRiskBonusCap)
		riskPct *= factor
		steps = append(steps, fmt.Sprintf("rr %.2f bonus x%.2f", req.PlannedRewardRisk, factor))
	}

	// 4. Volatility dampening
	if req.VolatilityScore > ps.cfg.VolatilityThreshold {
		riskPct *= ps.cfg.VolatilityDampener
		steps = append(steps, fmt.Sprintf("volatility %.2f dampener x%.2f",
			req.VolatilityScore, ps.cfg.VolatilityDampener))
	}

	// 5. Dollar risk, clamped to external budgets
	riskDollars := req.Balance * riskPct / 100
	if req.RemainingDailyRisk > 0 && riskDollars > req.RemainingDailyRisk {
		riskDollars = req.RemainingDailyRisk
		steps = append(steps, fmt.Sprintf("capped by daily budget $%.2f", req.RemainingDailyRisk))
	}
	if req.RemainingDrawdownRisk > 0 && riskDollars > req.RemainingDrawdownRisk {
		riskDollars = req.RemainingDrawdownRisk
		steps = append(steps, fmt.Sprintf("capped by drawdown budget $%.2f", req.RemainingDrawdownRisk))
	}

	// 6. Guard non-positive risk-per-lot
	riskPerLot := req.TickValue * req.StopDistanceTicks
	if riskPerLot <= 0 {
		logger.Warn("invalid sizing input, returning minimum lot",
			zap.Float64("tick_value", req.TickValue),
			zap.Float64("stop_distance_ticks", req.StopDistanceTicks),
		)

		steps = append(steps, "invalid input: non-positive risk per lot, minimum lot")
		return &models.SizingResult{
			LotSize:      spec.min,
			InvalidInput: true,
			Reasoning:    strings.Join(steps, "; "),
		}
	}

	// 7. Lots, bounded by class and broker
	lots := riskDollars / riskPerLot
	maxLot := spec.max
	if req.BrokerMaxLot > 0 && req.BrokerMaxLot < maxLot {
		maxLot = req.BrokerMaxLot
		steps = append(steps, fmt.Sprintf("broker max %.2f lots", req.BrokerMaxLot))
	}
	lots = clamp(roundToStep(lots, spec.step), spec.min, maxLot)
	steps = append(steps, fmt.Sprintf("%.2f lots (%s bounds %.2f..%.2f)",
		lots, req.SymbolClass, spec.min, maxLot))

	actualRisk := math.Min(lots*riskPerLot, riskDollars)

	// 8. Profit target from a quality-scaled reward:risk target
	rrRatio := ps.cfg.BaseRewardRisk + quality*(ps.cfg.MaxRewardRisk-ps.cfg.BaseRewardRisk)
	profitTarget := actualRisk * rrRatio
	steps = append(steps, fmt.Sprintf("target rr %.2f", rrRatio))

	return &models.SizingResult{
		LotSize:             lots,
		RiskDollars:         actualRisk,
		ProfitTargetDollars: profitTarget,
		RiskRewardRatio:     rrRatio,
		Reasoning:           strings.Join(steps, "; "),
	}
}

// ScaleIn sizes an addition to a winning position. Both the unrealized
// profit and the momentum score must clear their gates; the add is 25-50%
// of current size, never less than one lot step.
func (ps *PositionSizer) ScaleIn(req *models.ScaleInRequest) *models.AddResult {
	if req.UnrealizedProfitPoints < ps.cfg.ScaleInMinProfitPoints {
		return &models.AddResult{
			Reasoning: fmt.Sprintf("profit %.1f below scale-in floor %.1f",
				req.UnrealizedProfitPoints, ps.cfg.ScaleInMinProfitPoints),
		}
	}
	if req.MomentumScore < ps.cfg.ScaleInMinMomentum {
		return &models.AddResult{
			Reasoning: fmt.Sprintf("momentum %.2f below gate %.2f",
				req.MomentumScore, ps.cfg.ScaleInMinMomentum),
		}
	}

	fraction := addFraction(req.MomentumScore, ps.cfg.ScaleInMinMomentum)
	return ps.sizeAdd(req.CurrentLots, fraction, req.SymbolClass, req.BrokerMaxLot,
		fmt.Sprintf("scale-in %.0f%% of %.2f lots", fraction*100, req.CurrentLots))
}

// RecoveryAdd sizes a DCA addition to a losing position. The loss must be
// meaningful and the estimated recovery probability must clear its gate.
func (ps *PositionSizer) RecoveryAdd(req *models.RecoveryRequest) *models.AddResult {
	if req.LossPoints < ps.cfg.RecoveryMinLossPoints {
		return &models.AddResult{
			Reasoning: fmt.Sprintf("loss %.1f below recovery floor %.1f",
				req.LossPoints, ps.cfg.RecoveryMinLossPoints),
		}
	}
	if req.RecoveryProbability < ps.cfg.RecoveryMinProbability {
		return &models.AddResult{
			Reasoning: fmt.Sprintf("recovery probability %.2f below gate %.2f",
				req.RecoveryProbability, ps.cfg.RecoveryMinProbability),
		}
	}

	fraction := addFraction(req.RecoveryProbability, ps.cfg.RecoveryMinProbability)
	return ps.sizeAdd(req.CurrentLots, fraction, req.SymbolClass, req.BrokerMaxLot,
		fmt.Sprintf("recovery add %.0f%% of %.2f lots", fraction*100, req.CurrentLots))
}

// sizeAdd applies the shared add rules: round to the lot step, enforce the
// one-step minimum, and never push the total past the class or broker max.
func (ps *PositionSizer) sizeAdd(currentLots, fraction float64, class models.SymbolClass, brokerMax float64, why string) *models.AddResult {
	if currentLots <= 0 {
		return &models.AddResult{Reasoning: "no existing position to add to"}
	}

	spec := specFor(class)
	maxLot := spec.max
	if brokerMax > 0 && brokerMax < maxLot {
		maxLot = brokerMax
	}

	add := roundToStep(currentLots*fraction, spec.step)
	if add < spec.step {
		add = spec.step
	}

	if currentLots+add > maxLot {
		add = roundToStep(maxLot-currentLots, spec.step)
	}
	if add < spec.step {
		return &models.AddResult{Reasoning: fmt.Sprintf("at maximum size %.2f lots", maxLot)}
	}

	return &models.AddResult{
		Approved:  true,
		AddLots:   add,
		Reasoning: fmt.Sprintf("%s -> +%.2f lots", why, add),
	}
}

// addFraction maps a gate score into the 25-50% add range: right at the
// gate adds 25%, a perfect score adds 50%.
func addFraction(score, gate float64) float64 {
	if gate >= 1 {
		return 0.25
	}
	return 0.25 + 0.25*clamp((score-gate)/(1-gate), 0, 1)
}

func specFor(class models.SymbolClass) lotSpec {
	if spec, ok := lotSpecs[class]; ok {
		return spec
	}
	return defaultLotSpec
}

func roundToStep(lots, step float64) float64 {
	if step <= 0 {
		return lots
	}
	return math.Floor(lots/step+1e-9) * step
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
