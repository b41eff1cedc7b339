package portfolio

import (
	"testing"

	"github.com/aristath/papertrader/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func holdingTxn(ticker string, typ domain.TransactionType, total float64) domain.HoldingTransaction {
	return domain.HoldingTransaction{
		Transaction: domain.Transaction{Type: typ, Total: total, Status: domain.TransactionStatusCompleted},
		Ticker:      ticker,
		Name:        ticker + " Corp",
		Sector:      "Technology",
	}
}

func percentSum(d domain.Distribution) float64 {
	sum := 0.0
	for _, h := range d.Holdings {
		sum += h.Percentage
	}
	return sum
}

func TestDistribution_HoldingsAndCash(t *testing.T) {
	txns := []domain.HoldingTransaction{
		holdingTxn("AAPL", domain.TransactionTypeBuy, 20000),
		holdingTxn("MSFT", domain.TransactionTypeBuy, 10000),
		holdingTxn("AAPL", domain.TransactionTypeBuy, 5000),
	}

	d := Distribution(100000, txns)

	assert.Equal(t, 100000.0, d.TotalPortfolioValue)
	require.Len(t, d.Holdings, 3)

	assert.Equal(t, "AAPL", d.Holdings[0].Ticker)
	assert.Equal(t, 25000.0, d.Holdings[0].TotalValue)
	assert.InDelta(t, 25.0, d.Holdings[0].Percentage, 1e-9)

	assert.Equal(t, "MSFT", d.Holdings[1].Ticker)
	assert.InDelta(t, 10.0, d.Holdings[1].Percentage, 1e-9)

	cash := d.Holdings[2]
	assert.Equal(t, CashTicker, cash.Ticker)
	assert.Equal(t, "Cash", cash.Name)
	assert.Equal(t, "Cash", cash.Sector)
	assert.Equal(t, 65000.0, cash.TotalValue)

	assert.InDelta(t, 100.0, percentSum(d), 1e-9)
}

func TestDistribution_SellsNetAndNonPositiveHoldingsDropped(t *testing.T) {
	txns := []domain.HoldingTransaction{
		holdingTxn("AAPL", domain.TransactionTypeBuy, 1000),
		holdingTxn("AAPL", domain.TransactionTypeSell, 1000),
		holdingTxn("MSFT", domain.TransactionTypeBuy, 3000),
		holdingTxn("MSFT", domain.TransactionTypeSell, 1000),
		holdingTxn("XOM", domain.TransactionTypeSell, 500),
	}

	d := Distribution(10000, txns)

	require.Len(t, d.Holdings, 2)
	assert.Equal(t, "MSFT", d.Holdings[0].Ticker)
	assert.Equal(t, 2000.0, d.Holdings[0].TotalValue)
	assert.Equal(t, CashTicker, d.Holdings[1].Ticker)
	assert.Equal(t, 8000.0, d.Holdings[1].TotalValue)
	for _, h := range d.Holdings {
		assert.Positive(t, h.TotalValue)
	}
	assert.InDelta(t, 100.0, percentSum(d), 1e-9)
}

func TestDistribution_DefaultsAndSkips(t *testing.T) {
	txns := []domain.HoldingTransaction{
		{Transaction: domain.Transaction{Type: domain.TransactionTypeDeposit, Total: 5000}},
		{Transaction: domain.Transaction{Type: domain.TransactionTypeBuy, Total: 400}, Ticker: "NVDA"},
	}

	d := Distribution(1000, txns)

	require.Len(t, d.Holdings, 2)
	assert.Equal(t, "NVDA", d.Holdings[0].Name, "name defaults to ticker")
	assert.Equal(t, "Unknown", d.Holdings[0].Sector)
	assert.InDelta(t, 40.0, d.Holdings[0].Percentage, 1e-9)
}

func TestDistribution_NoCashWhenFullyInvested(t *testing.T) {
	txns := []domain.HoldingTransaction{
		holdingTxn("AAPL", domain.TransactionTypeBuy, 1000),
	}

	d := Distribution(1000, txns)

	require.Len(t, d.Holdings, 1)
	assert.Equal(t, "AAPL", d.Holdings[0].Ticker)
}

func TestDistribution_ZeroBalance(t *testing.T) {
	txns := []domain.HoldingTransaction{
		holdingTxn("AAPL", domain.TransactionTypeBuy, 1000),
	}

	d := Distribution(0, txns)

	assert.Equal(t, 0.0, d.TotalPortfolioValue)
	require.Len(t, d.Holdings, 1)
	assert.Equal(t, 0.0, d.Holdings[0].Percentage)
}

func TestDistribution_Empty(t *testing.T) {
	d := Distribution(500, nil)

	require.Len(t, d.Holdings, 1)
	assert.Equal(t, CashTicker, d.Holdings[0].Ticker)
	assert.InDelta(t, 100.0, d.Holdings[0].Percentage, 1e-9)

	none := Distribution(0, nil)
	assert.NotNil(t, none.Holdings)
	assert.Empty(t, none.Holdings)
}
