// Package domain provides core domain models and types.
package domain

import (
	"encoding/json"
	"time"
)

// TradeStatus is the lifecycle state of a simulated trade
type TradeStatus string

const (
	TradeStatusProcessing TradeStatus = "processing"
	TradeStatusCompleted  TradeStatus = "completed"
	TradeStatusFailed     TradeStatus = "failed"
)

// IsValid checks if the status is one of the known states
func (s TradeStatus) IsValid() bool {
	return s == TradeStatusProcessing || s == TradeStatusCompleted || s == TradeStatusFailed
}

// IsTerminal reports whether no further transition is allowed
func (s TradeStatus) IsTerminal() bool {
	return s == TradeStatusCompleted || s == TradeStatusFailed
}

// CanTransitionTo reports whether s -> next is a legal transition.
// The only legal moves are processing -> completed and processing -> failed.
func (s TradeStatus) CanTransitionTo(next TradeStatus) bool {
	return s == TradeStatusProcessing && next.IsTerminal()
}

// Trade is one simulated buy decision driven by an external recommendation
type Trade struct {
	ID             string          `json:"id"`
	ProcessID      string          `json:"processId"`
	Status         TradeStatus     `json:"status"`
	Ticker         string          `json:"ticker,omitempty"`
	Name           string          `json:"name,omitempty"`
	Sector         string          `json:"sector,omitempty"`
	SubIndustry    string          `json:"subIndustry,omitempty"`
	Recommendation string          `json:"recommendation,omitempty"`
	Conviction     string          `json:"conviction,omitempty"`
	ExpectedReturn *float64        `json:"expectedReturn,omitempty"`
	Timeframe      string          `json:"timeframe,omitempty"`
	RiskLevel      string          `json:"riskLevel,omitempty"`
	RiskFactors    []string        `json:"riskFactors,omitempty"`
	BuyAmount      *float64        `json:"buyAmount,omitempty"`
	BuyPrice       *float64        `json:"buyPrice,omitempty"`
	KeyDrivers     []string        `json:"keyDrivers,omitempty"`
	TradeData      json.RawMessage `json:"tradeData,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty"`
	Transactions   []Transaction   `json:"transactions,omitempty"`
}

// HasTransaction reports whether a balance-affecting transaction is attached
func (t *Trade) HasTransaction() bool {
	return len(t.Transactions) > 0
}

// IsInFlight reports whether the trade occupies an admission slot
func (t *Trade) IsInFlight() bool {
	return t.Status == TradeStatusProcessing && !t.HasTransaction()
}

// Clone returns a deep copy safe to hand out of the orchestrator
func (t Trade) Clone() Trade {
	c := t
	if t.ExpectedReturn != nil {
		v := *t.ExpectedReturn
		c.ExpectedReturn = &v
	}
	if t.BuyAmount != nil {
		v := *t.BuyAmount
		c.BuyAmount = &v
	}
	if t.BuyPrice != nil {
		v := *t.BuyPrice
		c.BuyPrice = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		c.CompletedAt = &v
	}
	c.RiskFactors = append([]string(nil), t.RiskFactors...)
	c.KeyDrivers = append([]string(nil), t.KeyDrivers...)
	c.TradeData = append(json.RawMessage(nil), t.TradeData...)
	c.Transactions = append([]Transaction(nil), t.Transactions...)
	return c
}

// TransactionType is the kind of balance-affecting event
type TransactionType string

const (
	TransactionTypeBuy        TransactionType = "buy"
	TransactionTypeSell       TransactionType = "sell"
	TransactionTypeDeposit    TransactionType = "deposit"
	TransactionTypeWithdrawal TransactionType = "withdrawal"
)

// TransactionStatus is the settlement state of a transaction
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// Transaction is an immutable ledger entry
type Transaction struct {
	ID        string            `json:"id"`
	TradeID   string            `json:"tradeId,omitempty"`
	Type      TransactionType   `json:"type"`
	Amount    float64           `json:"amount"`
	Price     float64           `json:"price"`
	Total     float64           `json:"total"`
	Status    TransactionStatus `json:"status"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Portfolio is the singleton cash balance and trade counter
type Portfolio struct {
	ID          string    `json:"id"`
	Balance     float64   `json:"balance"`
	TotalTrades int       `json:"totalTrades"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// BalanceChangeType is the direction of a manual balance mutation
type BalanceChangeType string

const (
	BalanceDeposit    BalanceChangeType = "deposit"
	BalanceWithdrawal BalanceChangeType = "withdrawal"
)

// PortfolioUpdate is a manual deposit or withdrawal.
// A withdrawal tied to TradeID records a buy transaction for that trade.
type PortfolioUpdate struct {
	Amount  float64
	Type    BalanceChangeType
	TradeID string
}

// TradeUpdate carries the partial fields of a trade update
type TradeUpdate struct {
	Status      *TradeStatus
	CompletedAt *time.Time
}

// TradeCompletion is everything the ledger needs to complete a trade atomically
type TradeCompletion struct {
	TradeID        string
	Recommendation Recommendation
	Transaction    Transaction
	CompletedAt    time.Time
}

// Holding is one line of the portfolio distribution
type Holding struct {
	Ticker     string  `json:"ticker"`
	Name       string  `json:"name"`
	Sector     string  `json:"sector"`
	TotalValue float64 `json:"totalValue"`
	Percentage float64 `json:"percentage"`
}

// Distribution is the portfolio composition report
type Distribution struct {
	TotalPortfolioValue float64   `json:"totalPortfolioValue"`
	Holdings            []Holding `json:"holdings"`
}

// HoldingTransaction is a completed transaction joined with its trade's identity
type HoldingTransaction struct {
	Transaction
	Ticker string
	Name   string
	Sector string
}
