package exit

import (
	"math"

	"go.uber.org/zap"

	"github.com/akulov/exit-engine/internal/adapters/config"
	"github.com/akulov/exit-engine/pkg/logger"
	"github.com/akulov/exit-engine/pkg/models"
)

// Combiner merges the value estimator's Q-values with the rule-based
// expected values and applies the hard safety overrides. Every call returns
// exactly one action together with the full audit trail of how it was
// chosen — a system that risks capital must expose why it acted.
type Combiner struct {
	cfg *config.ExitConfig
}

// NewCombiner creates new exit decision combiner
func NewCombiner(cfg *config.ExitConfig) *Combiner {
	return &Combiner{cfg: cfg}
}

// Decide produces the final exit action for one position snapshot
func (c *Combiner) Decide(pos models.PositionState, q models.QValues) *models.ExitDecision {
	rule := RuleEVs(pos, q)

	// Override 1: profit protection. A meaningful peak that has retraced
	// past the allowed excursion forces a full close, bypassing all blending.
	if pos.PeakProfitPoints >= c.cfg.PeakMinPoints && pos.DrawdownFromPeak() > c.cfg.MaxAdverseExcursion {
		logger.Warn("profit protection override triggered",
			zap.Float64("peak_points", pos.PeakProfitPoints),
			zap.Float64("profit_points", pos.ProfitPoints),
			zap.Float64("retrace", pos.DrawdownFromPeak()),
		)

		return &models.ExitDecision{
			Action:         models.ActionCloseAll,
			EstimatorValue: q.Get(models.ActionCloseAll),
			RuleValue:      rule.Get(models.ActionCloseAll),
			CombinedValue:  rule.Get(models.ActionCloseAll),
			BlendWeight:    0,
			Uncertainty:    math.Abs(q.Get(models.ActionCloseAll) - rule.Get(models.ActionCloseAll)),
			Provenance:     models.ProvenanceSafetyOverride,
			SafetyOverride: true,
		}
	}

	confidence := c.confidence(q)

	// Override 2: time-decay agreement. A short-duration position held past
	// the bar limit with profit above the floor takes the estimator's
	// reduce/close recommendation at elevated confidence, no blending.
	if pos.BarsHeld >= c.cfg.TimeDecayBars && pos.ProfitPoints >= c.cfg.TimeDecayProfitFloor {
		if action, value := q.ArgMax(); action.IsReduce() {
			weight := confidence + c.cfg.AgreementBonus
			if weight > 1 {
				weight = 1
			}

			return &models.ExitDecision{
				Action:         action,
				EstimatorValue: value,
				RuleValue:      rule.Get(action),
				CombinedValue:  value,
				BlendWeight:    weight,
				Uncertainty:    math.Abs(value - rule.Get(action)),
				Provenance:     models.ProvenanceFullAgreement,
			}
		}
	}

	// Default path: adaptive blend weighted by estimator confidence.
	wRL := c.blendWeight(confidence)

	var combined models.QValues
	for i := range combined {
		combined[i] = wRL*q[i] + (1-wRL)*rule[i]
	}

	action, combinedValue := combined.ArgMax()

	return &models.ExitDecision{
		Action:         action,
		EstimatorValue: q.Get(action),
		RuleValue:      rule.Get(action),
		CombinedValue:  combinedValue,
		BlendWeight:    wRL,
		Uncertainty:    math.Abs(q.Get(action) - rule.Get(action)),
		Provenance:     provenance(action, q, rule),
	}
}

// confidence maps the Q-vector spread into [0, 1]. This is an uncalibrated
// heuristic, exposed in the audit record rather than reported as a
// probability.
func (c *Combiner) confidence(q models.QValues) float64 {
	conf := q.Spread() / c.cfg.SpreadScale
	if conf < 0 {
		return 0
	}
	if conf > 1 {
		return 1
	}
	return conf
}

// blendWeight rises from the configured base toward 1 as confidence climbs
// above the floor, and falls toward 0 below it.
func (c *Combiner) blendWeight(confidence float64) float64 {
	base := c.cfg.BaseBlendWeight
	floor := c.cfg.ConfidenceFloor

	if confidence >= floor {
		return base + (1-base)*(confidence-floor)/(1-floor)
	}
	return base * confidence / floor
}

func provenance(chosen models.Action, q, rule models.QValues) models.Provenance {
	qBest, _ := q.ArgMax()
	ruleBest, _ := rule.ArgMax()

	switch {
	case chosen == qBest && chosen == ruleBest:
		return models.ProvenanceFullAgreement
	case chosen == qBest:
		return models.ProvenanceEstimatorDriven
	case chosen == ruleBest:
		return models.ProvenanceRuleDriven
	default:
		return models.ProvenanceHybrid
	}
}
