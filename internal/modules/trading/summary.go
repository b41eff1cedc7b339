package trading

import (
	"math"

	"github.com/aristath/papertrader/internal/domain"
	"gonum.org/v1/gonum/stat"
)

// TradeSummary aggregates the trade history
type TradeSummary struct {
	Total         int     `json:"total"`
	Processing    int     `json:"processing"`
	Completed     int     `json:"completed"`
	Failed        int     `json:"failed"`
	SuccessRate   float64 `json:"successRate"` // completed / terminal, in percent
	TotalInvested float64 `json:"totalInvested"`
	MeanBuy       float64 `json:"meanBuy"`
	StdDevBuy     float64 `json:"stdDevBuy"`
	LargestBuy    float64 `json:"largestBuy"`

	MeanExpectedReturn   float64 `json:"meanExpectedReturn"`
	StdDevExpectedReturn float64 `json:"stdDevExpectedReturn"`
}

// Summarize computes counts and buy-size statistics over trades
func Summarize(trades []domain.Trade) TradeSummary {
	summary := TradeSummary{Total: len(trades)}

	buys := make([]float64, 0, len(trades))
	returns := make([]float64, 0, len(trades))
	for _, trade := range trades {
		switch trade.Status {
		case domain.TradeStatusProcessing:
			summary.Processing++
		case domain.TradeStatusCompleted:
			summary.Completed++
			if trade.BuyAmount != nil {
				buys = append(buys, *trade.BuyAmount)
			}
			if trade.ExpectedReturn != nil {
				returns = append(returns, *trade.ExpectedReturn)
			}
		case domain.TradeStatusFailed:
			summary.Failed++
		}
	}

	if terminal := summary.Completed + summary.Failed; terminal > 0 {
		summary.SuccessRate = float64(summary.Completed) / float64(terminal) * 100
	}

	if len(returns) > 0 {
		summary.MeanExpectedReturn, summary.StdDevExpectedReturn = meanStdDev(returns)
	}
	if len(buys) == 0 {
		return summary
	}

	for _, b := range buys {
		summary.TotalInvested += b
		summary.LargestBuy = math.Max(summary.LargestBuy, b)
	}
	summary.MeanBuy, summary.StdDevBuy = meanStdDev(buys)

	return summary
}

// meanStdDev returns the mean and sample standard deviation. The deviation
// of a single value is reported as 0 rather than NaN.
func meanStdDev(values []float64) (float64, float64) {
	mean, std := stat.MeanStdDev(values, nil)
	if math.IsNaN(std) {
		std = 0
	}
	return mean, std
}

// Summary summarizes the orchestrator's trade history
func (o *Orchestrator) Summary() TradeSummary {
	return Summarize(o.Snapshot().Trades)
}
