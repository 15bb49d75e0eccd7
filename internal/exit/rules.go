package exit

import (
	"github.com/akulov/exit-engine/pkg/models"
)

// RuleEVs computes the deterministic expected value of each exit action,
// independent of the learned estimate except for the HOLD baseline:
//   - HOLD uses the estimator's own HOLD value as a neutral baseline
//   - CLOSE_ALL is the certain realized profit
//   - scale-outs blend the realized fraction with the held remainder's
//     baseline value
func RuleEVs(pos models.PositionState, q models.QValues) models.QValues {
	hold := q.Get(models.ActionHold)
	profit := pos.ProfitPoints

	var rule models.QValues
	rule[models.ActionHold.Index()] = hold
	rule[models.ActionCloseAll.Index()] = profit
	rule[models.ActionScaleOut50.Index()] = 0.5*profit + 0.5*hold
	rule[models.ActionScaleOut25.Index()] = 0.25*profit + 0.75*hold
	return rule
}
