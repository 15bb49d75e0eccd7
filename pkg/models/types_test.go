package models

import "testing"

func TestAction(t *testing.T) {
	t.Run("canonical order", func(t *testing.T) {
		for i, action := range Actions {
			if action.Index() != i {
				t.Errorf("action %s: index %d != position %d", action, action.Index(), i)
			}
		}
	})

	t.Run("unknown action has no index", func(t *testing.T) {
		if Action("OPEN_LONG").Index() != -1 {
			t.Error("unknown action should index -1")
		}
	})

	t.Run("reduce classification", func(t *testing.T) {
		if ActionHold.IsReduce() {
			t.Error("HOLD is not a reduce action")
		}
		for _, action := range []Action{ActionCloseAll, ActionScaleOut50, ActionScaleOut25} {
			if !action.IsReduce() {
				t.Errorf("%s should be a reduce action", action)
			}
		}
	})
}

func TestQValues(t *testing.T) {
	t.Run("argmax ties prefer HOLD", func(t *testing.T) {
		action, value := (QValues{}).ArgMax()
		if action != ActionHold || value != 0 {
			t.Errorf("neutral vector should resolve to HOLD, got %s %.2f", action, value)
		}
	})

	t.Run("argmax picks the maximum", func(t *testing.T) {
		var q QValues
		q[ActionScaleOut25.Index()] = 2.5

		action, value := q.ArgMax()
		if action != ActionScaleOut25 || value != 2.5 {
			t.Errorf("got %s %.2f", action, value)
		}
	})

	t.Run("spread is max minus min", func(t *testing.T) {
		var q QValues
		q[ActionHold.Index()] = -1
		q[ActionCloseAll.Index()] = 3

		if got := q.Spread(); got != 4 {
			t.Errorf("expected spread 4, got %.2f", got)
		}
	})
}
