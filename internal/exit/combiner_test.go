package exit

import (
	"math"
	"reflect"
	"testing"

	"github.com/akulov/exit-engine/internal/adapters/config"
	"github.com/akulov/exit-engine/pkg/models"
)

func testExitConfig() *config.ExitConfig {
	return &config.ExitConfig{
		PeakMinPoints:       20.0,
		MaxAdverseExcursion: 0.30,

		TimeDecayBars:        12,
		TimeDecayProfitFloor: 5.0,
		AgreementBonus:       0.15,

		BaseBlendWeight: 0.35,
		ConfidenceFloor: 0.30,
		SpreadScale:     2.0,
	}
}

func qv(hold, closeAll, out50, out25 float64) models.QValues {
	var q models.QValues
	q[models.ActionHold.Index()] = hold
	q[models.ActionCloseAll.Index()] = closeAll
	q[models.ActionScaleOut50.Index()] = out50
	q[models.ActionScaleOut25.Index()] = out25
	return q
}

func TestCombiner_ProfitProtectionOverride(t *testing.T) {
	c := NewCombiner(testExitConfig())

	// 40-point peak retraced to 25 is a 37.5% giveback against a 30% limit
	pos := models.PositionState{
		ProfitPoints:     25,
		PeakProfitPoints: 40,
		BarsHeld:         6,
	}
	// Estimator screaming HOLD must not matter
	q := qv(5.0, 0, 0, 0)

	decision := c.Decide(pos, q)

	if decision.Action != models.ActionCloseAll {
		t.Errorf("expected CLOSE_ALL, got %s", decision.Action)
	}
	if !decision.SafetyOverride {
		t.Error("expected safety override flag")
	}
	if decision.Provenance != models.ProvenanceSafetyOverride {
		t.Errorf("expected safety_override provenance, got %s", decision.Provenance)
	}
	if decision.BlendWeight != 0 {
		t.Errorf("override must not blend, got weight %.2f", decision.BlendWeight)
	}
}

func TestCombiner_OverrideBoundaries(t *testing.T) {
	c := NewCombiner(testExitConfig())
	q := qv(5.0, 0, 0, 0)

	t.Run("peak below threshold never triggers", func(t *testing.T) {
		// 19-point peak fully retraced is still below the minimum
		pos := models.PositionState{ProfitPoints: 1, PeakProfitPoints: 19}
		decision := c.Decide(pos, q)
		if decision.SafetyOverride {
			t.Error("peak below minimum must not trigger the override")
		}
	})

	t.Run("retrace at the limit does not trigger", func(t *testing.T) {
		// exactly 30% giveback, limit is strict
		pos := models.PositionState{ProfitPoints: 28, PeakProfitPoints: 40}
		decision := c.Decide(pos, q)
		if decision.SafetyOverride {
			t.Error("retrace equal to the limit must not trigger")
		}
	})
}

func TestCombiner_TimeDecayAgreement(t *testing.T) {
	c := NewCombiner(testExitConfig())

	pos := models.PositionState{
		ProfitPoints:     6,
		PeakProfitPoints: 6,
		BarsHeld:         12,
	}
	// Estimator prefers SCALE_OUT_50 with a 0.8 spread: confidence 0.4
	q := qv(0.1, 0.2, 0.9, 0.3)

	decision := c.Decide(pos, q)

	if decision.Action != models.ActionScaleOut50 {
		t.Errorf("expected SCALE_OUT_50, got %s", decision.Action)
	}
	if decision.Provenance != models.ProvenanceFullAgreement {
		t.Errorf("expected full_agreement provenance, got %s", decision.Provenance)
	}
	if !approx(decision.BlendWeight, 0.55) {
		t.Errorf("expected confidence 0.4 + bonus 0.15, got %.2f", decision.BlendWeight)
	}

	t.Run("estimator preferring hold blends normally", func(t *testing.T) {
		held := c.Decide(pos, qv(0.9, 0.1, 0.2, 0.3))
		if held.Provenance == models.ProvenanceSafetyOverride {
			t.Error("no override applies when the estimator prefers HOLD")
		}
	})

	t.Run("profit below floor blends normally", func(t *testing.T) {
		shallow := models.PositionState{ProfitPoints: 3, PeakProfitPoints: 3, BarsHeld: 20}
		decision := c.Decide(shallow, q)
		if decision.Provenance == models.ProvenanceFullAgreement && decision.BlendWeight > 0.54 {
			t.Error("time-decay path requires profit above the floor")
		}
	})
}

func TestCombiner_AdaptiveBlend(t *testing.T) {
	c := NewCombiner(testExitConfig())

	t.Run("neutral estimator defers to rules", func(t *testing.T) {
		pos := models.PositionState{ProfitPoints: 10, PeakProfitPoints: 10, BarsHeld: 2}
		decision := c.Decide(pos, models.QValues{})

		// Zero spread means zero confidence: weight collapses to 0 and the
		// certain realized profit wins.
		if decision.Action != models.ActionCloseAll {
			t.Errorf("expected CLOSE_ALL from rule EVs, got %s", decision.Action)
		}
		if decision.Provenance != models.ProvenanceRuleDriven {
			t.Errorf("expected rule_driven, got %s", decision.Provenance)
		}
		if decision.BlendWeight != 0 {
			t.Errorf("zero confidence should zero the weight, got %.2f", decision.BlendWeight)
		}
	})

	t.Run("confident estimator dominates", func(t *testing.T) {
		pos := models.PositionState{ProfitPoints: 1, PeakProfitPoints: 1, BarsHeld: 2}
		// Spread 2.0 saturates confidence at 1.0, weight at 1.0
		decision := c.Decide(pos, qv(0, 0, 0, 2.0))

		if decision.Action != models.ActionScaleOut25 {
			t.Errorf("expected SCALE_OUT_25, got %s", decision.Action)
		}
		if decision.Provenance != models.ProvenanceEstimatorDriven {
			t.Errorf("expected estimator_driven, got %s", decision.Provenance)
		}
		if !approx(decision.BlendWeight, 1.0) {
			t.Errorf("saturated confidence should give weight 1, got %.2f", decision.BlendWeight)
		}
	})

	t.Run("agreement is reported", func(t *testing.T) {
		pos := models.PositionState{ProfitPoints: 20, PeakProfitPoints: 20, BarsHeld: 2}
		// Both estimator and rules prefer CLOSE_ALL
		decision := c.Decide(pos, qv(0.1, 1.5, 0.4, 0.2))

		if decision.Action != models.ActionCloseAll {
			t.Errorf("expected CLOSE_ALL, got %s", decision.Action)
		}
		if decision.Provenance != models.ProvenanceFullAgreement {
			t.Errorf("expected full_agreement, got %s", decision.Provenance)
		}
	})
}

func TestCombiner_Deterministic(t *testing.T) {
	c := NewCombiner(testExitConfig())

	pos := models.PositionState{
		ProfitPoints:     14,
		PeakProfitPoints: 18,
		BarsHeld:         7,
		EntryConfidence:  0.6,
	}
	q := qv(0.4, 0.7, 0.55, 0.3)

	first := c.Decide(pos, q)
	second := c.Decide(pos, q)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("identical inputs must produce identical decisions:\n%+v\n%+v", first, second)
	}
}

func TestCombiner_ActionClosure(t *testing.T) {
	c := NewCombiner(testExitConfig())

	valid := map[models.Action]bool{
		models.ActionHold:       true,
		models.ActionCloseAll:   true,
		models.ActionScaleOut50: true,
		models.ActionScaleOut25: true,
	}

	for _, profit := range []float64{-30, -5, 0, 5, 25, 80} {
		for _, bars := range []int{0, 5, 12, 40} {
			for _, q := range []models.QValues{
				{},
				qv(1, 0, 0, 0),
				qv(-1, 2, 0.5, 0.1),
				qv(0.2, 0.2, 0.2, 0.2),
			} {
				pos := models.PositionState{
					ProfitPoints:     profit,
					PeakProfitPoints: math.Max(profit, 0) + 10,
					BarsHeld:         bars,
				}
				decision := c.Decide(pos, q)
				if !valid[decision.Action] {
					t.Fatalf("unknown action %q for profit=%.0f bars=%d", decision.Action, profit, bars)
				}
			}
		}
	}
}

func TestRuleEVs(t *testing.T) {
	pos := models.PositionState{ProfitPoints: 10}
	q := qv(4, 0, 0, 0)

	rule := RuleEVs(pos, q)

	if got := rule.Get(models.ActionHold); got != 4 {
		t.Errorf("HOLD baseline should be the estimator's, got %.2f", got)
	}
	if got := rule.Get(models.ActionCloseAll); got != 10 {
		t.Errorf("CLOSE_ALL should be realized profit, got %.2f", got)
	}
	if got := rule.Get(models.ActionScaleOut50); got != 7 {
		t.Errorf("SCALE_OUT_50 should be 0.5p + 0.5hold = 7, got %.2f", got)
	}
	if got := rule.Get(models.ActionScaleOut25); got != 5.5 {
		t.Errorf("SCALE_OUT_25 should be 0.25p + 0.75hold = 5.5, got %.2f", got)
	}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
