// Package stocks reports price performance for a symbol since a start date.
package stocks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/papertrader/internal/clients/yahoo"
	"github.com/aristath/papertrader/pkg/formulas"
	"github.com/rs/zerolog"
)

const dateLayout = "2006-01-02"

// ErrInvalidQuery means the symbol or start date is missing or malformed
var ErrInvalidQuery = errors.New("symbol and startDate are required")

// ChartSource provides daily price history
type ChartSource interface {
	GetDailyChart(ctx context.Context, symbol string, start time.Time) (*yahoo.Chart, error)
}

// ChartDataPoint represents a single point on a chart
type ChartDataPoint struct {
	Date  string  `json:"date"` // YYYY-MM-DD
	Price float64 `json:"price"`
}

// Performance summarises a symbol's price movement since StartDate
type Performance struct {
	Symbol             string           `json:"symbol"`
	StartDate          string           `json:"startDate"`
	EndDate            string           `json:"endDate"`
	InitialPrice       float64          `json:"initialPrice"`
	CurrentPrice       float64          `json:"currentPrice"`
	PriceChangePercent float64          `json:"priceChangePercent"`
	RSI                *float64         `json:"rsi"`
	ChartData          []ChartDataPoint `json:"chartData"`
}

// Service computes stock performance from chart history
type Service struct {
	charts ChartSource
	now    func() time.Time
	log    zerolog.Logger
}

// NewService creates a new stocks service
func NewService(charts ChartSource, log zerolog.Logger) *Service {
	return &Service{
		charts: charts,
		now:    time.Now,
		log:    log.With().Str("service", "stocks").Logger(),
	}
}

// Performance returns price performance for symbol since startDate.
// startDate accepts YYYY-MM-DD or a full RFC 3339 timestamp.
func (s *Service) Performance(ctx context.Context, symbol, startDate string) (*Performance, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" || startDate == "" {
		return nil, ErrInvalidQuery
	}

	start, err := parseStartDate(startDate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}

	chart, err := s.charts.GetDailyChart(ctx, symbol, start)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chart for %s: %w", symbol, err)
	}

	closes := make([]float64, len(chart.Points))
	points := make([]ChartDataPoint, len(chart.Points))
	for i, p := range chart.Points {
		closes[i] = p.Close
		points[i] = ChartDataPoint{Date: p.Time.Format(dateLayout), Price: p.Close}
	}

	perf := &Performance{
		Symbol:    symbol,
		StartDate: start.Format(dateLayout),
		EndDate:   s.now().UTC().Format(dateLayout),
		RSI:       formulas.CalculateRSI(closes, formulas.RSIPeriod),
		ChartData: points,
	}
	if len(closes) > 0 {
		perf.InitialPrice = closes[0]
		perf.CurrentPrice = closes[len(closes)-1]
		if perf.InitialPrice != 0 {
			perf.PriceChangePercent = (perf.CurrentPrice - perf.InitialPrice) / perf.InitialPrice * 100
		}
	}

	return perf, nil
}

func parseStartDate(value string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start date %q", value)
	}
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}
