package portfolio

import (
	"github.com/aristath/papertrader/internal/domain"
	"github.com/shopspring/decimal"
)

// CashTicker identifies the synthetic holding for uninvested balance
const CashTicker = "CASH"

var hundred = decimal.NewFromInt(100)

type position struct {
	ticker string
	name   string
	sector string
	value  decimal.Decimal
}

// Distribution nets completed transactions per ticker and reports each
// positive holding as a share of balance. The residual balance is reported as
// a CASH holding when positive. Holdings keep the order their ticker was first
// seen in txns.
func Distribution(balance float64, txns []domain.HoldingTransaction) domain.Distribution {
	total := decimal.NewFromFloat(balance)

	positions := make(map[string]*position)
	order := make([]string, 0)

	for _, txn := range txns {
		if txn.Ticker == "" {
			continue
		}

		p, ok := positions[txn.Ticker]
		if !ok {
			p = &position{ticker: txn.Ticker, name: txn.Name, sector: txn.Sector}
			if p.name == "" {
				p.name = txn.Ticker
			}
			if p.sector == "" {
				p.sector = "Unknown"
			}
			positions[txn.Ticker] = p
			order = append(order, txn.Ticker)
		}

		amount := decimal.NewFromFloat(txn.Total)
		if txn.Type == domain.TransactionTypeBuy {
			p.value = p.value.Add(amount)
		} else {
			p.value = p.value.Sub(amount)
		}
	}

	holdings := make([]domain.Holding, 0, len(order)+1)
	invested := decimal.Zero

	for _, ticker := range order {
		p := positions[ticker]
		if !p.value.IsPositive() {
			continue
		}
		invested = invested.Add(p.value)
		holdings = append(holdings, holding(p.ticker, p.name, p.sector, p.value, total))
	}

	if cash := total.Sub(invested); cash.IsPositive() {
		holdings = append(holdings, holding(CashTicker, "Cash", "Cash", cash, total))
	}

	return domain.Distribution{
		TotalPortfolioValue: balance,
		Holdings:            holdings,
	}
}

func holding(ticker, name, sector string, value, total decimal.Decimal) domain.Holding {
	pct := decimal.Zero
	if !total.IsZero() {
		pct = value.Div(total).Mul(hundred)
	}
	return domain.Holding{
		Ticker:     ticker,
		Name:       name,
		Sector:     sector,
		TotalValue: value.InexactFloat64(),
		Percentage: pct.InexactFloat64(),
	}
}
