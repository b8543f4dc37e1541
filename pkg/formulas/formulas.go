// Package formulas wraps go-talib technical indicators, returning nil
// on insufficient data rather than a zero value that could be mistaken
// for a real reading.
package formulas

import (
	"github.com/markcheno/go-talib"

	"github.com/aristath/sentinel/internal/domain"
)

// RSI calculates the Relative Strength Index over length periods
// RSI(14) feeds the deep-dive stage.
func RSI(closes []float64, length int) *float64 {
	if len(closes) < length+1 {
		return nil
	}
	rsi := talib.Rsi(closes, length)
	if len(rsi) > 0 && !isNaN(rsi[len(rsi)-1]) {
		result := rsi[len(rsi)-1]
		return &result
	}
	return nil
}

// MACD calculates the Moving Average Convergence Divergence using the
// standard (12, 26, 9) parameters.
func MACD(closes []float64, fast, slow, signal int) *domain.MACDValue {
	if len(closes) < slow+signal {
		return nil
	}
	macd, macdSignal, hist := talib.Macd(closes, fast, slow, signal)
	if len(macd) == 0 || isNaN(macd[len(macd)-1]) {
		return nil
	}
	return &domain.MACDValue{
		MACD:      macd[len(macd)-1],
		Signal:    macdSignal[len(macdSignal)-1],
		Histogram: hist[len(hist)-1],
	}
}

// ATR calculates the Average True Range over length sessions (deep
// dive and strategy evaluator both use ATR(14)).
func ATR(highs, lows, closes []float64, length int) *float64 {
	if len(closes) < length+1 || len(highs) != len(closes) || len(lows) != len(closes) {
		return nil
	}
	atr := talib.Atr(highs, lows, closes, length)
	if len(atr) > 0 && !isNaN(atr[len(atr)-1]) {
		result := atr[len(atr)-1]
		return &result
	}
	return nil
}

// EMA calculates the Exponential Moving Average over length periods,
// falling back to a simple mean when there isn't enough history for a
// true EMA.
func EMA(closes []float64, length int) *float64 {
	if len(closes) == 0 {
		return nil
	}
	if len(closes) < length {
		m := mean(closes)
		return &m
	}
	ema := talib.Ema(closes, length)
	if len(ema) > 0 && !isNaN(ema[len(ema)-1]) {
		result := ema[len(ema)-1]
		return &result
	}
	m := mean(closes[len(closes)-length:])
	return &m
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func isNaN(f float64) bool {
	return f != f
}

// BarsToOHLC splits a bar slice into parallel high/low/close slices
// for indicator functions that need more than closes.
func BarsToOHLC(bars []domain.Bar) (highs, lows, closes []float64) {
	highs = make([]float64, len(bars))
	lows = make([]float64, len(bars))
	closes = make([]float64, len(bars))
	for i, b := range bars {
		highs[i] = b.High
		lows[i] = b.Low
		closes[i] = b.Close
	}
	return
}
