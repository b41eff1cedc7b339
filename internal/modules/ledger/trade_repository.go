package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/papertrader/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TradeRepository handles trade database operations
type TradeRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// tradesColumns is the list of columns for the trades table.
// Column order must match scanTrade().
const tradesColumns = `id, process_id, status, ticker, name, sector, sub_industry, recommendation,
	conviction, expected_return, timeframe, risk_level, risk_factors, buy_amount, buy_price,
	key_drivers, trade_data, created_at, completed_at`

// NewTradeRepository creates a new trade repository
func NewTradeRepository(db *sql.DB, log zerolog.Logger) *TradeRepository {
	return &TradeRepository{
		db:  db,
		log: log.With().Str("repo", "trade").Logger(),
	}
}

// Create inserts a new trade in the processing state
func (r *TradeRepository) Create(ctx context.Context, processID string) (*domain.Trade, error) {
	return r.create(ctx, r.db, processID)
}

func (r *TradeRepository) create(ctx context.Context, q querier, processID string) (*domain.Trade, error) {
	if processID == "" {
		return nil, fmt.Errorf("failed to create trade: process id is required")
	}

	trade := &domain.Trade{
		ID:        uuid.New().String(),
		ProcessID: processID,
		Status:    domain.TradeStatusProcessing,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	_, err := q.ExecContext(ctx,
		`INSERT INTO trades (id, process_id, status, created_at) VALUES (?, ?, ?, ?)`,
		trade.ID, trade.ProcessID, string(trade.Status), toMillis(trade.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trade: %w", err)
	}

	r.log.Info().
		Str("trade_id", trade.ID).
		Str("process_id", processID).
		Msg("Trade created")

	return trade, nil
}

// GetByID retrieves a trade by id. Returns domain.ErrNotFound if it does not exist.
func (r *TradeRepository) GetByID(ctx context.Context, id string) (*domain.Trade, error) {
	return r.getByID(ctx, r.db, id)
}

func (r *TradeRepository) getByID(ctx context.Context, q querier, id string) (*domain.Trade, error) {
	row := q.QueryRowContext(ctx, "SELECT "+tradesColumns+" FROM trades WHERE id = ?", id)
	trade, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("trade %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade: %w", err)
	}
	return &trade, nil
}

// GetByProcessID retrieves a trade by its recommendation job id
func (r *TradeRepository) GetByProcessID(ctx context.Context, processID string) (*domain.Trade, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+tradesColumns+" FROM trades WHERE process_id = ?", processID)
	trade, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("trade with process id %s: %w", processID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade by process id: %w", err)
	}
	return &trade, nil
}

// List returns all trades, newest first
func (r *TradeRepository) List(ctx context.Context) ([]domain.Trade, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+tradesColumns+" FROM trades ORDER BY created_at DESC, rowid DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	defer rows.Close()

	trades := make([]domain.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, trade)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}
	return trades, nil
}

// setStatus moves a trade out of processing. The WHERE clause makes the
// transition a compare-and-set against concurrent writers.
func (r *TradeRepository) setStatus(ctx context.Context, q querier, id string, status domain.TradeStatus, completedAt time.Time) error {
	result, err := q.ExecContext(ctx,
		`UPDATE trades SET status = ?, completed_at = ? WHERE id = ? AND status = ?`,
		string(status), toMillis(completedAt), id, string(domain.TradeStatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("failed to update trade status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update trade status: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("trade %s is no longer processing: %w", id, domain.ErrInvalidTransition)
	}
	return nil
}

// applyRecommendation writes the completed recommendation onto a processing trade
func (r *TradeRepository) applyRecommendation(ctx context.Context, q querier, id string, rec domain.Recommendation, buyAmount float64, completedAt time.Time) error {
	expectedReturn := rec.ExpectedReturn
	tradeData := rec.Raw
	if len(tradeData) == 0 {
		tradeData, _ = json.Marshal(rec)
	}

	result, err := q.ExecContext(ctx, `
		UPDATE trades SET
			status = ?, ticker = ?, name = ?, sector = ?, sub_industry = ?,
			recommendation = ?, conviction = ?, expected_return = ?, timeframe = ?,
			risk_level = ?, risk_factors = ?, buy_amount = ?, buy_price = ?,
			key_drivers = ?, trade_data = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		string(domain.TradeStatusCompleted),
		nullString(rec.Ticker),
		nullString(rec.Name),
		nullString(rec.Sector),
		nullString(rec.SubIndustry),
		nullString(rec.Recommendation),
		nullString(rec.Conviction),
		nullFloat64Ptr(&expectedReturn),
		nullString(rec.Timeframe),
		nullString(rec.RiskLevel),
		encodeStrings(rec.RiskFactors),
		buyAmount,
		nullFloat64Ptr(rec.CurrentPrice),
		encodeStrings(rec.KeyDrivers),
		nullString(string(tradeData)),
		toMillis(completedAt),
		id,
		string(domain.TradeStatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("failed to apply recommendation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to apply recommendation: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("trade %s is no longer processing: %w", id, domain.ErrInvalidTransition)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(row rowScanner) (domain.Trade, error) {
	var trade domain.Trade
	var status string
	var ticker, name, sector, subIndustry, recommendation, conviction sql.NullString
	var timeframe, riskLevel, riskFactors, keyDrivers, tradeData sql.NullString
	var expectedReturn, buyAmount, buyPrice sql.NullFloat64
	var createdAt int64
	var completedAt sql.NullInt64

	err := row.Scan(
		&trade.ID, &trade.ProcessID, &status,
		&ticker, &name, &sector, &subIndustry, &recommendation, &conviction,
		&expectedReturn, &timeframe, &riskLevel, &riskFactors,
		&buyAmount, &buyPrice, &keyDrivers, &tradeData,
		&createdAt, &completedAt,
	)
	if err != nil {
		return trade, err
	}

	trade.Status = domain.TradeStatus(status)
	trade.Ticker = ticker.String
	trade.Name = name.String
	trade.Sector = sector.String
	trade.SubIndustry = subIndustry.String
	trade.Recommendation = recommendation.String
	trade.Conviction = conviction.String
	trade.Timeframe = timeframe.String
	trade.RiskLevel = riskLevel.String
	trade.RiskFactors = decodeStrings(riskFactors)
	trade.KeyDrivers = decodeStrings(keyDrivers)
	trade.CreatedAt = fromMillis(createdAt)

	if expectedReturn.Valid {
		v := expectedReturn.Float64
		trade.ExpectedReturn = &v
	}
	if buyAmount.Valid {
		v := buyAmount.Float64
		trade.BuyAmount = &v
	}
	if buyPrice.Valid {
		v := buyPrice.Float64
		trade.BuyPrice = &v
	}
	if tradeData.Valid && tradeData.String != "" {
		trade.TradeData = json.RawMessage(tradeData.String)
	}
	if completedAt.Valid {
		t := fromMillis(completedAt.Int64)
		trade.CompletedAt = &t
	}

	return trade, nil
}
