package features

import (
	"fmt"

	"github.com/cinar/indicator"

	"github.com/akulov/exit-engine/pkg/models"
)

const volatilityMinCandles = 21 // Bollinger period (20) + 1

// VolatilityCalculator derives the [0, 1] volatility score consumed by the
// position sizer's dampener and the scale-in gates.
type VolatilityCalculator struct{}

// NewVolatilityCalculator creates new volatility calculator
func NewVolatilityCalculator() *VolatilityCalculator {
	return &VolatilityCalculator{}
}

// Score computes a normalized volatility score from recent candles by
// blending ATR (as a percent of price) with Bollinger band width.
func (c *VolatilityCalculator) Score(candles []models.Candle) (float64, error) {
	if len(candles) < volatilityMinCandles {
		return 0, fmt.Errorf("insufficient candles for volatility score (need at least %d, got %d)",
			volatilityMinCandles, len(candles))
	}

	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))

	for i, candle := range candles {
		closes[i], _ = candle.Close.Float64()
		highs[i], _ = candle.High.Float64()
		lows[i], _ = candle.Low.Float64()
	}

	_, atr := indicator.Atr(14, highs, lows, closes)
	bbMiddle, bbUpper, bbLower := indicator.BollingerBands(closes)

	lastClose := closes[len(closes)-1]
	lastATR := atr[len(atr)-1]
	lastMiddle := bbMiddle[len(bbMiddle)-1]
	if lastClose <= 0 || lastMiddle <= 0 {
		return 0, fmt.Errorf("non-positive price in volatility inputs")
	}

	atrPct := lastATR / lastClose * 100
	bbWidthPct := (bbUpper[len(bbUpper)-1] - bbLower[len(bbLower)-1]) / lastMiddle * 100

	// 2% ATR or 10% band width each saturate their half of the score.
	score := 0.5*clamp(atrPct/2.0, 0, 1) + 0.5*clamp(bbWidthPct/10.0, 0, 1)

	return score, nil
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
