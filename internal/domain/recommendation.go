package domain

import "encoding/json"

// PositionSizing is the recommendation's guidance for how much to buy
type PositionSizing struct {
	AllocationPercentage float64 `json:"allocationPercentage"`
	MinimumDollarAmount  float64 `json:"minimumDollarAmount"`
	MaximumDollarAmount  float64 `json:"maximumDollarAmount"`
}

// Recommendation is the completed payload of a recommendation job
type Recommendation struct {
	ProcessID      string          `json:"processId"`
	Ticker         string          `json:"ticker"`
	Name           string          `json:"name"`
	Sector         string          `json:"sector"`
	SubIndustry    string          `json:"subIndustry"`
	Recommendation string          `json:"recommendation"`
	Conviction     string          `json:"conviction"`
	KeyDrivers     []string        `json:"keyDrivers"`
	ExpectedReturn float64         `json:"expectedReturn"`
	Timeframe      string          `json:"timeframe"`
	RiskLevel      string          `json:"riskLevel"`
	RiskFactors    []string        `json:"riskFactors"`
	CurrentPrice   *float64        `json:"currentPrice,omitempty"`
	Sizing         PositionSizing  `json:"positionSizing"`
	Raw            json.RawMessage `json:"-"`
}

// JobState discriminates the JobStatus variant
type JobState int

const (
	JobPending JobState = iota
	JobCompleted
	JobErrored
)

func (s JobState) String() string {
	switch s {
	case JobPending:
		return "pending"
	case JobCompleted:
		return "completed"
	case JobErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// JobStatus is the closed set of answers to a status check:
// Pending, Completed(Recommendation) or Errored(Reason).
type JobStatus struct {
	State          JobState
	Recommendation *Recommendation
	Reason         string
}

// Pending builds the pending variant
func Pending() JobStatus {
	return JobStatus{State: JobPending}
}

// Completed builds the completed variant
func Completed(rec Recommendation) JobStatus {
	return JobStatus{State: JobCompleted, Recommendation: &rec}
}

// Errored builds the terminal error variant
func Errored(reason string) JobStatus {
	return JobStatus{State: JobErrored, Reason: reason}
}
