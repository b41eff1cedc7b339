package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/papertrader/internal/database"
	"github.com/aristath/papertrader/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Store is the SQLite-backed ledger. Every balance mutation runs inside a
// single SQL transaction, which is the one serialization point for the balance.
type Store struct {
	db           *sql.DB
	trades       *TradeRepository
	portfolio    *PortfolioRepository
	transactions *TransactionRepository
	log          zerolog.Logger
}

var _ domain.LedgerStore = (*Store)(nil)

// NewStore creates a ledger store over the ledger database
func NewStore(db *sql.DB, startingBalance float64, log zerolog.Logger) *Store {
	return &Store{
		db:           db,
		trades:       NewTradeRepository(db, log),
		portfolio:    NewPortfolioRepository(db, startingBalance, log),
		transactions: NewTransactionRepository(db, log),
		log:          log.With().Str("service", "ledger").Logger(),
	}
}

// CreateTrade records a new processing trade for a recommendation job
func (s *Store) CreateTrade(ctx context.Context, processID string) (*domain.Trade, error) {
	return s.trades.Create(ctx, processID)
}

// GetTrade returns a trade with its transactions
func (s *Store) GetTrade(ctx context.Context, id string) (*domain.Trade, error) {
	trade, err := s.trades.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	txns, err := s.transactions.ListByTrade(ctx, trade.ID)
	if err != nil {
		return nil, err
	}
	trade.Transactions = txns
	return trade, nil
}

// GetTradeByProcessID returns a trade by its recommendation job id
func (s *Store) GetTradeByProcessID(ctx context.Context, processID string) (*domain.Trade, error) {
	trade, err := s.trades.GetByProcessID(ctx, processID)
	if err != nil {
		return nil, err
	}
	txns, err := s.transactions.ListByTrade(ctx, trade.ID)
	if err != nil {
		return nil, err
	}
	trade.Transactions = txns
	return trade, nil
}

// UpdateTrade applies a partial update. The only status change accepted here
// is processing -> failed; completion must go through CompleteTrade so the
// balance debit and the status change stay atomic.
func (s *Store) UpdateTrade(ctx context.Context, id string, update domain.TradeUpdate) (*domain.Trade, error) {
	if update.Status == nil {
		return s.GetTrade(ctx, id)
	}

	next := *update.Status
	completedAt := time.Now().UTC()
	if update.CompletedAt != nil {
		completedAt = *update.CompletedAt
	}

	err := database.WithTransactionContext(ctx, s.db, func(tx *sql.Tx) error {
		current, err := s.trades.getByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if !current.Status.CanTransitionTo(next) || next == domain.TradeStatusCompleted {
			return fmt.Errorf("trade %s cannot move from %s to %s: %w",
				id, current.Status, next, domain.ErrInvalidTransition)
		}
		return s.trades.setStatus(ctx, tx, id, next, completedAt)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("trade_id", id).
		Str("status", string(next)).
		Msg("Trade status updated")

	return s.GetTrade(ctx, id)
}

// ListTrades returns all trades newest first, each with its transactions
func (s *Store) ListTrades(ctx context.Context) ([]domain.Trade, error) {
	trades, err := s.trades.List(ctx)
	if err != nil {
		return nil, err
	}
	grouped, err := s.transactions.GroupByTrade(ctx)
	if err != nil {
		return nil, err
	}
	for i := range trades {
		trades[i].Transactions = grouped[trades[i].ID]
	}
	return trades, nil
}

// GetPortfolio returns the portfolio, creating it on first use
func (s *Store) GetPortfolio(ctx context.Context) (*domain.Portfolio, error) {
	return s.portfolio.Get(ctx)
}

// CompleteTrade debits the buy total from the balance, increments the trade
// counter, records the buy transaction and marks the trade completed. Either
// all of it is committed or none of it is.
func (s *Store) CompleteTrade(ctx context.Context, completion domain.TradeCompletion) (*domain.Trade, *domain.Portfolio, error) {
	txn := completion.Transaction
	if txn.Total <= 0 {
		return nil, nil, fmt.Errorf("buy total %.2f: %w", txn.Total, domain.ErrInvalidAmount)
	}
	txn.TradeID = completion.TradeID
	txn.Type = domain.TransactionTypeBuy
	completedAt := completion.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = completedAt
	}

	var trade *domain.Trade
	var portfolio *domain.Portfolio

	err := database.WithTransactionContext(ctx, s.db, func(tx *sql.Tx) error {
		current, err := s.trades.getByID(ctx, tx, completion.TradeID)
		if err != nil {
			return err
		}
		if current.Status != domain.TradeStatusProcessing {
			return fmt.Errorf("trade %s is %s: %w", current.ID, current.Status, domain.ErrInvalidTransition)
		}
		hasBuy, err := s.transactions.hasBuy(ctx, tx, current.ID)
		if err != nil {
			return err
		}
		if hasBuy {
			return fmt.Errorf("trade %s already has a buy transaction: %w", current.ID, domain.ErrInvalidTransition)
		}

		portfolio, err = s.portfolio.adjust(ctx, tx, decimal.NewFromFloat(txn.Total).Neg(), true)
		if err != nil {
			return err
		}
		if _, err := s.transactions.insert(ctx, tx, txn); err != nil {
			return err
		}
		if err := s.trades.applyRecommendation(ctx, tx, current.ID, completion.Recommendation, txn.Total, completedAt); err != nil {
			return err
		}

		trade, err = s.trades.getByID(ctx, tx, current.ID)
		if err != nil {
			return err
		}
		trade.Transactions, err = s.transactions.listByTrade(ctx, tx, current.ID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	s.log.Info().
		Str("trade_id", trade.ID).
		Str("ticker", trade.Ticker).
		Float64("buy_amount", txn.Total).
		Float64("balance", portfolio.Balance).
		Msg("Trade completed")

	return trade, portfolio, nil
}

// UpdatePortfolio applies a manual deposit or withdrawal. A withdrawal tied to
// a trade records a buy transaction for that trade instead of a withdrawal.
func (s *Store) UpdatePortfolio(ctx context.Context, update domain.PortfolioUpdate) (*domain.Portfolio, *domain.Transaction, error) {
	if update.Amount <= 0 {
		return nil, nil, fmt.Errorf("amount %.2f: %w", update.Amount, domain.ErrInvalidAmount)
	}

	amount := decimal.NewFromFloat(update.Amount)
	txn := domain.Transaction{
		Amount: update.Amount,
		Price:  update.Amount,
		Total:  update.Amount,
		Status: domain.TransactionStatusCompleted,
	}

	var delta decimal.Decimal
	switch update.Type {
	case domain.BalanceDeposit:
		delta = amount
		txn.Type = domain.TransactionTypeDeposit
	case domain.BalanceWithdrawal:
		delta = amount.Neg()
		txn.Type = domain.TransactionTypeWithdrawal
	default:
		return nil, nil, fmt.Errorf("unknown balance change type %q", update.Type)
	}

	var portfolio *domain.Portfolio
	var recorded *domain.Transaction

	err := database.WithTransactionContext(ctx, s.db, func(tx *sql.Tx) error {
		if update.Type == domain.BalanceWithdrawal && update.TradeID != "" {
			trade, err := s.trades.getByID(ctx, tx, update.TradeID)
			if err != nil {
				return err
			}
			hasBuy, err := s.transactions.hasBuy(ctx, tx, trade.ID)
			if err != nil {
				return err
			}
			if hasBuy {
				return fmt.Errorf("trade %s already has a buy transaction: %w", trade.ID, domain.ErrInvalidTransition)
			}
			txn.TradeID = trade.ID
			txn.Type = domain.TransactionTypeBuy
		}

		var err error
		portfolio, err = s.portfolio.adjust(ctx, tx, delta, false)
		if err != nil {
			return err
		}
		recorded, err = s.transactions.insert(ctx, tx, txn)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	s.log.Info().
		Str("type", string(update.Type)).
		Float64("amount", update.Amount).
		Str("trade_id", update.TradeID).
		Float64("balance", portfolio.Balance).
		Msg("Portfolio balance updated")

	return portfolio, recorded, nil
}

// ListTransactions returns every transaction newest first
func (s *Store) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	return s.transactions.List(ctx)
}

// ListCompletedHoldings returns completed transactions joined with trade identity
func (s *Store) ListCompletedHoldings(ctx context.Context) ([]domain.HoldingTransaction, error) {
	return s.transactions.ListCompletedHoldings(ctx)
}
