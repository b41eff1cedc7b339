package domain

import "context"

// RecommendationService starts recommendation jobs and reports their status
type RecommendationService interface {
	// StartJob requests a new job and returns its id.
	// Fails with ErrServiceUnavailable when the service cannot accept work.
	StartJob(ctx context.Context) (string, error)

	// CheckJob returns the current status of a job.
	// A returned error is a transport failure; service-reported failures are JobErrored.
	CheckJob(ctx context.Context, jobID string) (JobStatus, error)
}

// LedgerStore is the durable record of trades, transactions and the portfolio
type LedgerStore interface {
	CreateTrade(ctx context.Context, processID string) (*Trade, error)
	GetTrade(ctx context.Context, id string) (*Trade, error)
	GetTradeByProcessID(ctx context.Context, processID string) (*Trade, error)
	UpdateTrade(ctx context.Context, id string, update TradeUpdate) (*Trade, error)
	ListTrades(ctx context.Context) ([]Trade, error)
	GetPortfolio(ctx context.Context) (*Portfolio, error)

	// CompleteTrade debits the portfolio, increments its trade counter, records the
	// buy transaction and marks the trade completed as one atomic unit.
	CompleteTrade(ctx context.Context, completion TradeCompletion) (*Trade, *Portfolio, error)
}
