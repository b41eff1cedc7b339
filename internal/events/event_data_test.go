package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTradingStateData_EventType(t *testing.T) {
	assert.Equal(t, TradingStarted, (&TradingStateData{IsTrading: true}).EventType())
	assert.Equal(t, TradingStopped, (&TradingStateData{IsTrading: false}).EventType())
}

func TestEventWithData_RoundTripKeepsConcreteType(t *testing.T) {
	event := EventWithData{
		Type:      TradeCompleted,
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Module:    "trading",
		Data: &TradeCompletedData{
			TradeID:   "t1",
			ProcessID: "job-1",
			Ticker:    "AAPL",
			BuyAmount: 20000,
			Balance:   80000,
		},
	}

	raw, err := json.Marshal(&event)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"TRADE_COMPLETED"`)
	assert.Contains(t, string(raw), `"buyAmount":20000`)

	var decoded EventWithData
	require.NoError(t, json.Unmarshal(raw, &decoded))

	data, ok := decoded.Data.(*TradeCompletedData)
	require.True(t, ok, "expected *TradeCompletedData, got %T", decoded.Data)
	assert.Equal(t, "AAPL", data.Ticker)
	assert.Equal(t, 80000.0, data.Balance)
	assert.Equal(t, "trading", decoded.Module)
}

func TestEventWithData_UnknownTypeFallsBackToGeneric(t *testing.T) {
	raw := []byte(`{"type":"SOMETHING_NEW","module":"x","timestamp":"2024-01-01T00:00:00Z","data":{"k":"v"}}`)

	var decoded EventWithData
	require.NoError(t, json.Unmarshal(raw, &decoded))

	generic, ok := decoded.Data.(*GenericEventData)
	require.True(t, ok)
	assert.Equal(t, EventType("SOMETHING_NEW"), generic.EventType())
	assert.Equal(t, "v", generic.Data["k"])
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "papertrader.trade_failed", RoutingKey(TradeFailed))
	assert.Equal(t, "papertrader.trade_completed", RoutingKey(TradeCompleted))
	assert.Equal(t, "papertrader.trading_stopped", RoutingKey(TradingStopped))
}
