package recommendation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aristath/papertrader/internal/domain"
)

// ErrIncompletePayload means a payload lacks the fields of a finished recommendation
var ErrIncompletePayload = errors.New("recommendation payload is incomplete")

// envelope is the common response body of the recommendation service
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type startData struct {
	ProcessID string `json:"processId"`
}

// payload is the wire shape of a completed job. Every nested block is optional.
type payload struct {
	ProcessID    string   `json:"processId"`
	Name         string   `json:"name"`
	Ticker       string   `json:"ticker"`
	CurrentPrice *float64 `json:"currentPrice"`
	Industry     *struct {
		Sector      string `json:"sector"`
		SubIndustry string `json:"subIndustry"`
	} `json:"industry"`
	InvestmentThesis *struct {
		Recommendation string   `json:"recommendation"`
		Conviction     string   `json:"conviction"`
		KeyDrivers     []string `json:"keyDrivers"`
		ExpectedReturn *struct {
			Value     float64 `json:"value"`
			Timeframe string  `json:"timeframe"`
		} `json:"expectedReturn"`
		RiskAssessment *struct {
			Level   string   `json:"level"`
			Factors []string `json:"factors"`
		} `json:"riskAssessment"`
	} `json:"investmentThesis"`
	PositionSizing *domain.PositionSizing `json:"positionSizing"`
}

// DecodePayload turns a completed job payload into a Recommendation.
// The raw bytes are kept on the result for auditing.
func DecodePayload(raw []byte) (domain.Recommendation, error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.Recommendation{}, fmt.Errorf("failed to decode recommendation payload: %w", err)
	}
	if strings.TrimSpace(p.Ticker) == "" {
		return domain.Recommendation{}, ErrIncompletePayload
	}

	rec := domain.Recommendation{
		ProcessID:    p.ProcessID,
		Ticker:       strings.ToUpper(strings.TrimSpace(p.Ticker)),
		Name:         p.Name,
		CurrentPrice: p.CurrentPrice,
		Raw:          append(json.RawMessage(nil), raw...),
	}
	if p.Industry != nil {
		rec.Sector = p.Industry.Sector
		rec.SubIndustry = p.Industry.SubIndustry
	}
	if t := p.InvestmentThesis; t != nil {
		rec.Recommendation = t.Recommendation
		rec.Conviction = t.Conviction
		rec.KeyDrivers = t.KeyDrivers
		if t.ExpectedReturn != nil {
			rec.ExpectedReturn = t.ExpectedReturn.Value
			rec.Timeframe = t.ExpectedReturn.Timeframe
		}
		if t.RiskAssessment != nil {
			rec.RiskLevel = t.RiskAssessment.Level
			rec.RiskFactors = t.RiskAssessment.Factors
		}
	}
	if p.PositionSizing != nil {
		rec.Sizing = *p.PositionSizing
	}

	return rec, nil
}

// decodeStatus maps a status response body onto the closed JobStatus set
func decodeStatus(body []byte) (domain.JobStatus, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return domain.JobStatus{}, fmt.Errorf("failed to decode status response: %w", err)
	}

	switch strings.ToLower(env.Status) {
	case "success", "completed", "complete", "done":
		if len(env.Data) == 0 || string(env.Data) == "null" {
			return domain.Pending(), nil
		}
		rec, err := DecodePayload(env.Data)
		if errors.Is(err, ErrIncompletePayload) {
			// Accepted but still running: the service echoes only the process id
			return domain.Pending(), nil
		}
		if err != nil {
			return domain.JobStatus{}, err
		}
		return domain.Completed(rec), nil
	case "error", "failed", "failure":
		reason := env.Message
		if reason == "" {
			reason = "recommendation job failed"
		}
		return domain.Errored(reason), nil
	default:
		return domain.Pending(), nil
	}
}
