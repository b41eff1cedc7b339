// Package events provides typed application events, an in-process bus and broker fan-out.
package events

import (
	"encoding/json"
	"time"
)

// EventType represents different event types
type EventType string

const (
	TradingStarted   EventType = "TRADING_STARTED"
	TradingStopped   EventType = "TRADING_STOPPED"
	TradeStarted     EventType = "TRADE_STARTED"
	TradeCompleted   EventType = "TRADE_COMPLETED"
	TradeFailed      EventType = "TRADE_FAILED"
	PortfolioChanged EventType = "PORTFOLIO_CHANGED"
	ErrorOccurred    EventType = "ERROR_OCCURRED"
)

// EventData is the interface that all event data types must implement
// This allows for type-safe event data while maintaining flexibility
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// TradingStateData contains data for TradingStarted and TradingStopped events
type TradingStateData struct {
	IsTrading    bool `json:"isTrading"`
	FailedTrades int  `json:"failedTrades,omitempty"`
}

// EventType returns the event type for TradingStateData
func (d *TradingStateData) EventType() EventType {
	if d.IsTrading {
		return TradingStarted
	}
	return TradingStopped
}

// TradeStartedData contains data for TradeStarted events
type TradeStartedData struct {
	TradeID   string `json:"tradeId"`
	ProcessID string `json:"processId"`
}

// EventType returns the event type for TradeStartedData
func (d *TradeStartedData) EventType() EventType {
	return TradeStarted
}

// TradeCompletedData contains data for TradeCompleted events
type TradeCompletedData struct {
	TradeID   string  `json:"tradeId"`
	ProcessID string  `json:"processId"`
	Ticker    string  `json:"ticker"`
	BuyAmount float64 `json:"buyAmount"`
	BuyPrice  float64 `json:"buyPrice,omitempty"`
	Balance   float64 `json:"balance"`
}

// EventType returns the event type for TradeCompletedData
func (d *TradeCompletedData) EventType() EventType {
	return TradeCompleted
}

// TradeFailedData contains data for TradeFailed events
type TradeFailedData struct {
	TradeID   string `json:"tradeId"`
	ProcessID string `json:"processId"`
	Reason    string `json:"reason"`
}

// EventType returns the event type for TradeFailedData
func (d *TradeFailedData) EventType() EventType {
	return TradeFailed
}

// PortfolioChangedData contains data for PortfolioChanged events
type PortfolioChangedData struct {
	Balance     float64 `json:"balance"`
	TotalTrades int     `json:"totalTrades"`
	Reason      string  `json:"reason"`
}

// EventType returns the event type for PortfolioChangedData
func (d *PortfolioChangedData) EventType() EventType {
	return PortfolioChanged
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}

// EventWithData represents an event with typed data
type EventWithData struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      EventData `json:"data"`
}

// MarshalJSON customizes JSON serialization for EventWithData
func (e *EventWithData) MarshalJSON() ([]byte, error) {
	type Alias EventWithData
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	if e.Data != nil {
		dataBytes, err := json.Marshal(e.Data)
		if err != nil {
			return nil, err
		}
		aux.Data = dataBytes
	}

	return json.Marshal(aux)
}

// UnmarshalJSON customizes JSON deserialization for EventWithData
func (e *EventWithData) UnmarshalJSON(data []byte) error {
	type Alias EventWithData
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	if len(aux.Data) == 0 {
		return nil
	}

	var eventData EventData
	switch aux.Type {
	case TradingStarted, TradingStopped:
		eventData = &TradingStateData{}
	case TradeStarted:
		eventData = &TradeStartedData{}
	case TradeCompleted:
		eventData = &TradeCompletedData{}
	case TradeFailed:
		eventData = &TradeFailedData{}
	case PortfolioChanged:
		eventData = &PortfolioChangedData{}
	case ErrorOccurred:
		eventData = &ErrorEventData{}
	default:
		eventData = &GenericEventData{Type: aux.Type}
	}

	if err := json.Unmarshal(aux.Data, eventData); err != nil {
		return err
	}
	e.Data = eventData
	return nil
}

// GenericEventData is a fallback for events that don't have a specific type
type GenericEventData struct {
	Type EventType              `json:"-"`
	Data map[string]interface{} `json:"-"`
}

// EventType returns the event type for GenericEventData
func (d *GenericEventData) EventType() EventType {
	return d.Type
}

// MarshalJSON customizes JSON serialization for GenericEventData
func (d *GenericEventData) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Data)
}

// UnmarshalJSON customizes JSON deserialization for GenericEventData
func (d *GenericEventData) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &d.Data)
}
