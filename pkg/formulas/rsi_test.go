package formulas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateRSI_InsufficientData(t *testing.T) {
	assert.Nil(t, CalculateRSI([]float64{1, 2, 3}, RSIPeriod))
	assert.Nil(t, CalculateRSI(nil, RSIPeriod))
}

func TestCalculateRSI_OnlyGains(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = float64(100 + i)
	}

	rsi := CalculateRSI(closes, RSIPeriod)
	require.NotNil(t, rsi)
	assert.InDelta(t, 100.0, *rsi, 0.0001)
}

func TestCalculateRSI_Range(t *testing.T) {
	closes := []float64{
		44.34, 44.09, 44.15, 43.61, 44.33, 44.83, 45.10, 45.42,
		45.84, 46.08, 45.89, 46.03, 45.61, 46.28, 46.28, 46.00,
		46.03, 46.41, 46.22, 45.64,
	}

	rsi := CalculateRSI(closes, RSIPeriod)
	require.NotNil(t, rsi)
	assert.Greater(t, *rsi, 0.0)
	assert.Less(t, *rsi, 100.0)
}
