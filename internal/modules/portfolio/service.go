// Package portfolio provides the cash balance operations and the portfolio composition report.
package portfolio

import (
	"context"
	"fmt"

	"github.com/aristath/papertrader/internal/domain"
	"github.com/aristath/papertrader/internal/events"
	"github.com/rs/zerolog"
)

// Ledger is the slice of the ledger store the portfolio service needs
type Ledger interface {
	GetPortfolio(ctx context.Context) (*domain.Portfolio, error)
	UpdatePortfolio(ctx context.Context, update domain.PortfolioUpdate) (*domain.Portfolio, *domain.Transaction, error)
	ListCompletedHoldings(ctx context.Context) ([]domain.HoldingTransaction, error)
}

// PortfolioService runs manual balance changes and builds the distribution report.
//
// Balance mutations go through the ledger's transactional path, the same one
// trade completion uses, so a deposit or withdrawal never races a debit.
type PortfolioService struct {
	ledger Ledger
	events *events.Manager
	log    zerolog.Logger
}

// NewPortfolioService creates a new portfolio service. eventManager may be nil.
func NewPortfolioService(ledger Ledger, eventManager *events.Manager, log zerolog.Logger) *PortfolioService {
	return &PortfolioService{
		ledger: ledger,
		events: eventManager,
		log:    log.With().Str("service", "portfolio").Logger(),
	}
}

// Get returns the portfolio, creating it with the starting balance on first use
func (s *PortfolioService) Get(ctx context.Context) (*domain.Portfolio, error) {
	return s.ledger.GetPortfolio(ctx)
}

// Update applies a deposit or withdrawal
func (s *PortfolioService) Update(ctx context.Context, update domain.PortfolioUpdate) (*domain.Portfolio, *domain.Transaction, error) {
	portfolio, txn, err := s.ledger.UpdatePortfolio(ctx, update)
	if err != nil {
		return nil, nil, err
	}

	s.events.Emit("portfolio", &events.PortfolioChangedData{
		Balance:     portfolio.Balance,
		TotalTrades: portfolio.TotalTrades,
		Reason:      string(update.Type),
	})
	return portfolio, txn, nil
}

// Distribution reports holdings and cash as shares of the balance
func (s *PortfolioService) Distribution(ctx context.Context) (domain.Distribution, error) {
	portfolio, err := s.ledger.GetPortfolio(ctx)
	if err != nil {
		return domain.Distribution{}, fmt.Errorf("failed to get portfolio: %w", err)
	}
	txns, err := s.ledger.ListCompletedHoldings(ctx)
	if err != nil {
		return domain.Distribution{}, fmt.Errorf("failed to list holdings: %w", err)
	}
	return Distribution(portfolio.Balance, txns), nil
}
