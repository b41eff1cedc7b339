package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/papertrader/internal/database"
	"github.com/aristath/papertrader/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PortfolioRepository handles the singleton portfolio row
type PortfolioRepository struct {
	db              *sql.DB
	startingBalance float64
	log             zerolog.Logger
}

// NewPortfolioRepository creates a new portfolio repository.
// startingBalance seeds the portfolio the first time it is read.
func NewPortfolioRepository(db *sql.DB, startingBalance float64, log zerolog.Logger) *PortfolioRepository {
	return &PortfolioRepository{
		db:              db,
		startingBalance: startingBalance,
		log:             log.With().Str("repo", "portfolio").Logger(),
	}
}

// Get returns the portfolio, creating it with the starting balance if missing
func (r *PortfolioRepository) Get(ctx context.Context) (*domain.Portfolio, error) {
	var portfolio *domain.Portfolio
	err := database.WithTransactionContext(ctx, r.db, func(tx *sql.Tx) error {
		p, err := r.getOrCreate(ctx, tx)
		portfolio = p
		return err
	})
	if err != nil {
		return nil, err
	}
	return portfolio, nil
}

func (r *PortfolioRepository) getOrCreate(ctx context.Context, q querier) (*domain.Portfolio, error) {
	portfolio, err := r.find(ctx, q)
	if err == nil {
		return portfolio, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	portfolio = &domain.Portfolio{
		ID:        uuid.New().String(),
		Balance:   r.startingBalance,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO portfolio (id, balance, total_trades, created_at, updated_at) VALUES (?, ?, 0, ?, ?)`,
		portfolio.ID, portfolio.Balance, toMillis(now), toMillis(now),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create portfolio: %w", err)
	}

	r.log.Info().
		Float64("balance", portfolio.Balance).
		Msg("Portfolio created")

	return portfolio, nil
}

func (r *PortfolioRepository) find(ctx context.Context, q querier) (*domain.Portfolio, error) {
	var p domain.Portfolio
	var createdAt, updatedAt int64
	err := q.QueryRowContext(ctx,
		`SELECT id, balance, total_trades, created_at, updated_at FROM portfolio ORDER BY created_at LIMIT 1`,
	).Scan(&p.ID, &p.Balance, &p.TotalTrades, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("portfolio: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get portfolio: %w", err)
	}
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	return &p, nil
}

// adjust applies a signed balance delta and optionally counts a trade.
// A delta that would make the balance negative is rejected with ErrInsufficientFunds.
func (r *PortfolioRepository) adjust(ctx context.Context, q querier, delta decimal.Decimal, countTrade bool) (*domain.Portfolio, error) {
	portfolio, err := r.getOrCreate(ctx, q)
	if err != nil {
		return nil, err
	}

	newBalance := decimal.NewFromFloat(portfolio.Balance).Add(delta)
	if newBalance.IsNegative() {
		return nil, fmt.Errorf("balance %.2f cannot cover %s: %w",
			portfolio.Balance, delta.Neg().StringFixed(2), domain.ErrInsufficientFunds)
	}

	portfolio.Balance = newBalance.InexactFloat64()
	if countTrade {
		portfolio.TotalTrades++
	}
	portfolio.UpdatedAt = time.Now().UTC().Truncate(time.Millisecond)

	_, err = q.ExecContext(ctx,
		`UPDATE portfolio SET balance = ?, total_trades = ?, updated_at = ? WHERE id = ?`,
		portfolio.Balance, portfolio.TotalTrades, toMillis(portfolio.UpdatedAt), portfolio.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update portfolio balance: %w", err)
	}

	return portfolio, nil
}
