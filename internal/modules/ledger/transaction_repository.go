package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/papertrader/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TransactionRepository handles the append-only transactions table
type TransactionRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

const transactionsColumns = `id, trade_id, type, amount, price, total, status, created_at`

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *sql.DB, log zerolog.Logger) *TransactionRepository {
	return &TransactionRepository{
		db:  db,
		log: log.With().Str("repo", "transaction").Logger(),
	}
}

// insert records a transaction, filling in id, status and timestamp when missing
func (r *TransactionRepository) insert(ctx context.Context, q querier, txn domain.Transaction) (*domain.Transaction, error) {
	if txn.ID == "" {
		txn.ID = uuid.New().String()
	}
	if txn.Status == "" {
		txn.Status = domain.TransactionStatusCompleted
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now().UTC()
	}
	txn.CreatedAt = txn.CreatedAt.Truncate(time.Millisecond)

	_, err := q.ExecContext(ctx,
		`INSERT INTO transactions (`+transactionsColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID, nullString(txn.TradeID), string(txn.Type), txn.Amount, txn.Price, txn.Total,
		string(txn.Status), toMillis(txn.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert transaction: %w", err)
	}

	r.log.Debug().
		Str("transaction_id", txn.ID).
		Str("trade_id", txn.TradeID).
		Str("type", string(txn.Type)).
		Float64("total", txn.Total).
		Msg("Transaction recorded")

	return &txn, nil
}

// hasBuy reports whether a trade already has its buy transaction
func (r *TransactionRepository) hasBuy(ctx context.Context, q querier, tradeID string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE trade_id = ? AND type = 'buy'`, tradeID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check buy transaction: %w", err)
	}
	return count > 0, nil
}

// List returns all transactions, newest first
func (r *TransactionRepository) List(ctx context.Context) ([]domain.Transaction, error) {
	return r.query(ctx, r.db,
		`SELECT `+transactionsColumns+` FROM transactions ORDER BY created_at DESC, rowid DESC`)
}

// ListByTrade returns the transactions attached to a trade
func (r *TransactionRepository) ListByTrade(ctx context.Context, tradeID string) ([]domain.Transaction, error) {
	return r.listByTrade(ctx, r.db, tradeID)
}

func (r *TransactionRepository) listByTrade(ctx context.Context, q querier, tradeID string) ([]domain.Transaction, error) {
	return r.query(ctx, q,
		`SELECT `+transactionsColumns+` FROM transactions WHERE trade_id = ? ORDER BY created_at`, tradeID)
}

// GroupByTrade returns every trade-linked transaction keyed by trade id
func (r *TransactionRepository) GroupByTrade(ctx context.Context) (map[string][]domain.Transaction, error) {
	txns, err := r.query(ctx, r.db,
		`SELECT `+transactionsColumns+` FROM transactions WHERE trade_id IS NOT NULL ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	grouped := make(map[string][]domain.Transaction)
	for _, txn := range txns {
		grouped[txn.TradeID] = append(grouped[txn.TradeID], txn)
	}
	return grouped, nil
}

// ListCompletedHoldings returns completed transactions joined with their trade's identity
func (r *TransactionRepository) ListCompletedHoldings(ctx context.Context) ([]domain.HoldingTransaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT tx.id, tx.trade_id, tx.type, tx.amount, tx.price, tx.total, tx.status, tx.created_at,
		       t.ticker, t.name, t.sector
		FROM transactions tx
		LEFT JOIN trades t ON t.id = tx.trade_id
		WHERE tx.status = 'completed'
		ORDER BY tx.created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list completed holdings: %w", err)
	}
	defer rows.Close()

	holdings := make([]domain.HoldingTransaction, 0)
	for rows.Next() {
		var h domain.HoldingTransaction
		var tradeID, ticker, name, sector sql.NullString
		var txnType, status string
		var createdAt int64
		if err := rows.Scan(&h.ID, &tradeID, &txnType, &h.Amount, &h.Price, &h.Total, &status, &createdAt,
			&ticker, &name, &sector); err != nil {
			return nil, fmt.Errorf("failed to scan holding transaction: %w", err)
		}
		h.TradeID = tradeID.String
		h.Type = domain.TransactionType(txnType)
		h.Status = domain.TransactionStatus(status)
		h.CreatedAt = fromMillis(createdAt)
		h.Ticker = ticker.String
		h.Name = name.String
		h.Sector = sector.String
		holdings = append(holdings, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating holding transactions: %w", err)
	}
	return holdings, nil
}

func (r *TransactionRepository) query(ctx context.Context, q querier, query string, args ...interface{}) ([]domain.Transaction, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	txns := make([]domain.Transaction, 0)
	for rows.Next() {
		var txn domain.Transaction
		var tradeID sql.NullString
		var txnType, status string
		var createdAt int64
		if err := rows.Scan(&txn.ID, &tradeID, &txnType, &txn.Amount, &txn.Price, &txn.Total, &status, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txn.TradeID = tradeID.String
		txn.Type = domain.TransactionType(txnType)
		txn.Status = domain.TransactionStatus(status)
		txn.CreatedAt = fromMillis(createdAt)
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return txns, nil
}
