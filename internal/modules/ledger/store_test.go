package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aristath/papertrader/internal/domain"
	testingpkg "github.com/aristath/papertrader/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, "ledger")
	t.Cleanup(cleanup)
	return NewStore(db.Conn(), 100000, zerolog.New(nil).Level(zerolog.Disabled))
}

func buyCompletion(tradeID string, total float64) domain.TradeCompletion {
	rec := testingpkg.NewRecommendationFixture("job")
	return domain.TradeCompletion{
		TradeID:        tradeID,
		Recommendation: rec,
		Transaction: domain.Transaction{
			Type:   domain.TransactionTypeBuy,
			Amount: total,
			Price:  *rec.CurrentPrice,
			Total:  total,
			Status: domain.TransactionStatusCompleted,
		},
		CompletedAt: time.Now(),
	}
}

func TestGetPortfolio_CreatesWithStartingBalance(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.GetPortfolio(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100000.0, first.Balance)
	assert.Equal(t, 0, first.TotalTrades)

	second, err := store.GetPortfolio(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "portfolio is a singleton")
}

func TestCreateTrade(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	trade, err := store.CreateTrade(ctx, "job-1")
	require.NoError(t, err)
	assert.NotEmpty(t, trade.ID)
	assert.Equal(t, domain.TradeStatusProcessing, trade.Status)

	_, err = store.CreateTrade(ctx, "job-1")
	assert.Error(t, err, "process id is unique")

	byProcess, err := store.GetTradeByProcessID(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, trade.ID, byProcess.ID)
}

func TestGetTrade_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetTrade(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListTrades_NewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"job-1", "job-2", "job-3"} {
		_, err := store.CreateTrade(ctx, id)
		require.NoError(t, err)
	}

	trades, err := store.ListTrades(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 3)
	assert.Equal(t, "job-3", trades[0].ProcessID)
	assert.Equal(t, "job-1", trades[2].ProcessID)
}

func TestCompleteTrade_DebitsBalanceAtomically(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	trade, err := store.CreateTrade(ctx, "job-1")
	require.NoError(t, err)

	completed, portfolio, err := store.CompleteTrade(ctx, buyCompletion(trade.ID, 20000))
	require.NoError(t, err)

	assert.Equal(t, domain.TradeStatusCompleted, completed.Status)
	assert.Equal(t, "AAPL", completed.Ticker)
	require.NotNil(t, completed.BuyAmount)
	assert.Equal(t, 20000.0, *completed.BuyAmount)
	require.NotNil(t, completed.BuyPrice)
	assert.Equal(t, 187.5, *completed.BuyPrice)
	assert.Equal(t, []string{"services growth", "buybacks"}, completed.KeyDrivers)
	assert.NotNil(t, completed.CompletedAt)
	require.Len(t, completed.Transactions, 1)
	assert.Equal(t, domain.TransactionTypeBuy, completed.Transactions[0].Type)

	assert.Equal(t, 80000.0, portfolio.Balance)
	assert.Equal(t, 1, portfolio.TotalTrades)

	stored, err := store.GetPortfolio(ctx)
	require.NoError(t, err)
	assert.Equal(t, 80000.0, stored.Balance)
}

func TestCompleteTrade_InsufficientFundsLeavesNoTrace(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	trade, err := store.CreateTrade(ctx, "job-1")
	require.NoError(t, err)

	_, _, err = store.CompleteTrade(ctx, buyCompletion(trade.ID, 150000))
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	portfolio, err := store.GetPortfolio(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100000.0, portfolio.Balance)
	assert.Equal(t, 0, portfolio.TotalTrades)

	reloaded, err := store.GetTrade(ctx, trade.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusProcessing, reloaded.Status)
	assert.Empty(t, reloaded.Transactions)

	txns, err := store.ListTransactions(ctx)
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestCompleteTrade_RejectsTerminalTrade(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	trade, err := store.CreateTrade(ctx, "job-1")
	require.NoError(t, err)

	_, _, err = store.CompleteTrade(ctx, buyCompletion(trade.ID, 1000))
	require.NoError(t, err)

	_, _, err = store.CompleteTrade(ctx, buyCompletion(trade.ID, 1000))
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	portfolio, err := store.GetPortfolio(ctx)
	require.NoError(t, err)
	assert.Equal(t, 99000.0, portfolio.Balance, "second completion must not debit")
}

func TestCompleteTrade_InvalidAmount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	trade, err := store.CreateTrade(ctx, "job-1")
	require.NoError(t, err)

	_, _, err = store.CompleteTrade(ctx, buyCompletion(trade.ID, 0))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestCompleteTrade_ConcurrentCompletionsNeverOverdraw(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 6; i++ {
		trade, err := store.CreateTrade(ctx, "job-"+string(rune('a'+i)))
		require.NoError(t, err)
		ids = append(ids, trade.ID)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, _, _ = store.CompleteTrade(ctx, buyCompletion(id, 30000))
		}(id)
	}
	wg.Wait()

	portfolio, err := store.GetPortfolio(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10000.0, portfolio.Balance)
	assert.Equal(t, 3, portfolio.TotalTrades)
}

func TestUpdateTrade_Transitions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	trade, err := store.CreateTrade(ctx, "job-1")
	require.NoError(t, err)

	failed := domain.TradeStatusFailed
	updated, err := store.UpdateTrade(ctx, trade.ID, domain.TradeUpdate{Status: &failed})
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusFailed, updated.Status)
	assert.NotNil(t, updated.CompletedAt)

	processing := domain.TradeStatusProcessing
	_, err = store.UpdateTrade(ctx, trade.ID, domain.TradeUpdate{Status: &processing})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = store.UpdateTrade(ctx, trade.ID, domain.TradeUpdate{Status: &failed})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "terminal states are final")

	_, _, err = store.CompleteTrade(ctx, buyCompletion(trade.ID, 100))
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestUpdateTrade_CompletionRequiresLedgerPath(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	trade, err := store.CreateTrade(ctx, "job-1")
	require.NoError(t, err)

	completed := domain.TradeStatusCompleted
	_, err = store.UpdateTrade(ctx, trade.ID, domain.TradeUpdate{Status: &completed})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestUpdatePortfolio(t *testing.T) {
	testCases := []struct {
		name            string
		update          domain.PortfolioUpdate
		expectedErr     error
		expectedBalance float64
		expectedType    domain.TransactionType
	}{
		{
			name:            "deposit",
			update:          domain.PortfolioUpdate{Amount: 500, Type: domain.BalanceDeposit},
			expectedBalance: 100500,
			expectedType:    domain.TransactionTypeDeposit,
		},
		{
			name:            "withdrawal",
			update:          domain.PortfolioUpdate{Amount: 500, Type: domain.BalanceWithdrawal},
			expectedBalance: 99500,
			expectedType:    domain.TransactionTypeWithdrawal,
		},
		{
			name:            "overdraw rejected",
			update:          domain.PortfolioUpdate{Amount: 100000.01, Type: domain.BalanceWithdrawal},
			expectedErr:     domain.ErrInsufficientFunds,
			expectedBalance: 100000,
		},
		{
			name:            "zero amount rejected",
			update:          domain.PortfolioUpdate{Amount: 0, Type: domain.BalanceDeposit},
			expectedErr:     domain.ErrInvalidAmount,
			expectedBalance: 100000,
		},
		{
			name:            "unknown trade rejected",
			update:          domain.PortfolioUpdate{Amount: 10, Type: domain.BalanceWithdrawal, TradeID: "missing"},
			expectedErr:     domain.ErrNotFound,
			expectedBalance: 100000,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store := newTestStore(t)
			ctx := context.Background()

			portfolio, txn, err := store.UpdatePortfolio(ctx, tc.update)
			if tc.expectedErr != nil {
				assert.ErrorIs(t, err, tc.expectedErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tc.expectedBalance, portfolio.Balance)
				assert.Equal(t, tc.expectedType, txn.Type)
			}

			stored, err := store.GetPortfolio(ctx)
			require.NoError(t, err)
			assert.Equal(t, tc.expectedBalance, stored.Balance)
		})
	}
}

func TestUpdatePortfolio_WithdrawalForTradeRecordsBuy(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	trade, err := store.CreateTrade(ctx, "job-1")
	require.NoError(t, err)

	portfolio, txn, err := store.UpdatePortfolio(ctx, domain.PortfolioUpdate{
		Amount:  2500,
		Type:    domain.BalanceWithdrawal,
		TradeID: trade.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, 97500.0, portfolio.Balance)
	assert.Equal(t, domain.TransactionTypeBuy, txn.Type)
	assert.Equal(t, trade.ID, txn.TradeID)

	_, _, err = store.UpdatePortfolio(ctx, domain.PortfolioUpdate{
		Amount:  2500,
		Type:    domain.BalanceWithdrawal,
		TradeID: trade.ID,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "one buy per trade")
}

func TestListCompletedHoldings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	trade, err := store.CreateTrade(ctx, "job-1")
	require.NoError(t, err)
	_, _, err = store.CompleteTrade(ctx, buyCompletion(trade.ID, 20000))
	require.NoError(t, err)
	_, _, err = store.UpdatePortfolio(ctx, domain.PortfolioUpdate{Amount: 100, Type: domain.BalanceDeposit})
	require.NoError(t, err)

	holdings, err := store.ListCompletedHoldings(ctx)
	require.NoError(t, err)
	require.Len(t, holdings, 2)

	byType := map[domain.TransactionType]domain.HoldingTransaction{}
	for _, h := range holdings {
		byType[h.Type] = h
	}
	assert.Equal(t, "AAPL", byType[domain.TransactionTypeBuy].Ticker)
	assert.Equal(t, "Technology", byType[domain.TransactionTypeBuy].Sector)
	assert.Empty(t, byType[domain.TransactionTypeDeposit].Ticker)
}
