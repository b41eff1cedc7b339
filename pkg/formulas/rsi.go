// Package formulas provides technical indicators over price series.
package formulas

import (
	"math"

	"github.com/markcheno/go-talib"
)

// RSIPeriod is the conventional RSI lookback
const RSIPeriod = 14

// CalculateRSI calculates the Relative Strength Index
//
//	RSI = 100 - (100 / (1 + RS))
//	where RS = Average Gain / Average Loss over N periods
//
// Returns the latest RSI value (0-100) or nil if there are fewer than length+1 closes.
func CalculateRSI(closes []float64, length int) *float64 {
	if length < 2 || len(closes) < length+1 {
		return nil
	}

	rsi := talib.Rsi(closes, length)
	if len(rsi) == 0 {
		return nil
	}

	last := rsi[len(rsi)-1]
	if math.IsNaN(last) {
		return nil
	}
	return &last
}
