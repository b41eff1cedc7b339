package testing

import (
	"encoding/json"

	"github.com/aristath/papertrader/internal/domain"
)

// NewRecommendationFixture returns a completed recommendation sized at 25% capped at 20000
func NewRecommendationFixture(processID string) domain.Recommendation {
	price := 187.5
	rec := domain.Recommendation{
		ProcessID:      processID,
		Ticker:         "AAPL",
		Name:           "Apple Inc.",
		Sector:         "Technology",
		SubIndustry:    "Consumer Electronics",
		Recommendation: "BUY",
		Conviction:     "HIGH",
		KeyDrivers:     []string{"services growth", "buybacks"},
		ExpectedReturn: 12.5,
		Timeframe:      "12 months",
		RiskLevel:      "MEDIUM",
		RiskFactors:    []string{"regulation"},
		CurrentPrice:   &price,
		Sizing: domain.PositionSizing{
			AllocationPercentage: 25,
			MinimumDollarAmount:  1000,
			MaximumDollarAmount:  20000,
		},
	}
	rec.Raw, _ = json.Marshal(rec)
	return rec
}

// NewRecommendationFixtures returns recommendations across several sectors
func NewRecommendationFixtures() []domain.Recommendation {
	apple := NewRecommendationFixture("job-aapl")

	msft := NewRecommendationFixture("job-msft")
	msft.Ticker = "MSFT"
	msft.Name = "Microsoft Corporation"
	msft.Sizing.AllocationPercentage = 10
	msft.ExpectedReturn = 8

	xom := NewRecommendationFixture("job-xom")
	xom.Ticker = "XOM"
	xom.Name = "Exxon Mobil Corporation"
	xom.Sector = "Energy"
	xom.SubIndustry = "Integrated Oil & Gas"
	xom.CurrentPrice = nil
	xom.Sizing.AllocationPercentage = 5
	xom.ExpectedReturn = 4

	return []domain.Recommendation{apple, msft, xom}
}
