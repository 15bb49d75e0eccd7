package features

import (
	"reflect"
	"testing"

	"github.com/akulov/exit-engine/pkg/models"
)

func TestExtractor_Extract(t *testing.T) {
	names := []string{"momentum", "atr_norm", "rsi_norm"}
	e := NewExtractor(16, names)

	pos := models.PositionState{
		ProfitPoints:     25,
		BarsHeld:         8,
		PeakProfitPoints: 40,
		EntryConfidence:  0.7,
	}
	featureMap := map[string]float64{
		"momentum": 0.5,
		"atr_norm": -1.2,
		"rsi_norm": 0.9,
	}

	state := e.Extract(featureMap, pos)

	t.Run("dimension is fixed", func(t *testing.T) {
		if len(state) != 16 {
			t.Fatalf("expected 16 dims, got %d", len(state))
		}
	})

	t.Run("market features in sorted name order", func(t *testing.T) {
		// sorted: atr_norm, momentum, rsi_norm
		if state[0] != -1.2 || state[1] != 0.5 || state[2] != 0.9 {
			t.Errorf("unexpected market layout: %v", state[:3])
		}
		for i := 3; i < 11; i++ {
			if state[i] != 0 {
				t.Errorf("unsupplied slot %d should be 0, got %v", i, state[i])
			}
		}
	})

	t.Run("position features normalized", func(t *testing.T) {
		if state[11] != 0.25 {
			t.Errorf("profit/100: expected 0.25, got %v", state[11])
		}
		if state[12] != 0.08 {
			t.Errorf("bars/100: expected 0.08, got %v", state[12])
		}
		if state[13] != 0.40 {
			t.Errorf("peak/100: expected 0.40, got %v", state[13])
		}
		if state[14] != pos.DrawdownFromPeak() {
			t.Errorf("drawdown: expected %v, got %v", pos.DrawdownFromPeak(), state[14])
		}
		if state[15] != 0.7 {
			t.Errorf("entry confidence: expected 0.7, got %v", state[15])
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		again := e.Extract(featureMap, pos)
		if !reflect.DeepEqual(state, again) {
			t.Errorf("identical inputs must produce identical vectors")
		}
	})

	t.Run("missing features read as zero", func(t *testing.T) {
		sparse := e.Extract(map[string]float64{"momentum": 0.5}, pos)
		if sparse[0] != 0 {
			t.Errorf("missing atr_norm should be 0, got %v", sparse[0])
		}
		if sparse[1] != 0.5 {
			t.Errorf("momentum should survive, got %v", sparse[1])
		}
	})
}

func TestPositionState_DrawdownFromPeak(t *testing.T) {
	for _, tc := range []struct {
		name   string
		profit float64
		peak   float64
		want   float64
	}{
		{"no peak", 5, 0, 0},
		{"at peak", 40, 40, 0},
		{"above peak", 45, 40, 0},
		{"37.5 percent retrace", 25, 40, 0.375},
		{"full retrace", 0, 40, 1.0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			pos := models.PositionState{ProfitPoints: tc.profit, PeakProfitPoints: tc.peak}
			if got := pos.DrawdownFromPeak(); got != tc.want {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}
}
