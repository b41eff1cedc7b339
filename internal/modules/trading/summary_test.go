package trading

import (
	"testing"

	"github.com/aristath/papertrader/internal/domain"
	"github.com/stretchr/testify/assert"
)

func completedTrade(amount float64) domain.Trade {
	return domain.Trade{Status: domain.TradeStatusCompleted, BuyAmount: &amount}
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name   string
		trades []domain.Trade
		want   TradeSummary
	}{
		{
			name:   "empty history",
			trades: nil,
			want:   TradeSummary{},
		},
		{
			name: "single completed trade has no deviation",
			trades: []domain.Trade{
				completedTrade(20000),
			},
			want: TradeSummary{
				Total: 1, Completed: 1, SuccessRate: 100,
				TotalInvested: 20000, MeanBuy: 20000, LargestBuy: 20000,
			},
		},
		{
			name: "mixed statuses",
			trades: []domain.Trade{
				completedTrade(10000),
				completedTrade(20000),
				{Status: domain.TradeStatusFailed},
				{Status: domain.TradeStatusFailed},
				{Status: domain.TradeStatusProcessing},
			},
			want: TradeSummary{
				Total: 5, Processing: 1, Completed: 2, Failed: 2, SuccessRate: 50,
				TotalInvested: 30000, MeanBuy: 15000, LargestBuy: 20000,
				StdDevBuy: 7071.067811865475,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Summarize(tt.trades)
			assert.Equal(t, tt.want.Total, got.Total)
			assert.Equal(t, tt.want.Processing, got.Processing)
			assert.Equal(t, tt.want.Completed, got.Completed)
			assert.Equal(t, tt.want.Failed, got.Failed)
			assert.InDelta(t, tt.want.SuccessRate, got.SuccessRate, 1e-9)
			assert.InDelta(t, tt.want.TotalInvested, got.TotalInvested, 1e-9)
			assert.InDelta(t, tt.want.MeanBuy, got.MeanBuy, 1e-9)
			assert.InDelta(t, tt.want.StdDevBuy, got.StdDevBuy, 1e-6)
			assert.InDelta(t, tt.want.LargestBuy, got.LargestBuy, 1e-9)
		})
	}
}
