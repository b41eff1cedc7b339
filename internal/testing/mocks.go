package testing

import (
	"context"
	"fmt"
	"sync"

	"github.com/aristath/papertrader/internal/domain"
)

// MockRecommendationService is a scripted, thread-safe RecommendationService for testing.
// Jobs report Pending until a result is set for them.
type MockRecommendationService struct {
	mu       sync.Mutex
	next     int
	startErr error
	checkErr error
	results  map[string]domain.JobStatus
	started  []string
	checks   map[string]int
}

// NewMockRecommendationService creates a new mock recommendation service
func NewMockRecommendationService() *MockRecommendationService {
	return &MockRecommendationService{
		results: make(map[string]domain.JobStatus),
		checks:  make(map[string]int),
	}
}

// SetStartError makes StartJob fail with err (nil clears it)
func (m *MockRecommendationService) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
}

// SetCheckError makes CheckJob fail with err (nil clears it)
func (m *MockRecommendationService) SetCheckError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkErr = err
}

// SetResult sets the status reported for a job
func (m *MockRecommendationService) SetResult(jobID string, status domain.JobStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[jobID] = status
}

// CompleteAll marks every started job as completed with a fixture recommendation
func (m *MockRecommendationService) CompleteAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.started {
		if _, ok := m.results[id]; !ok {
			m.results[id] = domain.Completed(NewRecommendationFixture(id))
		}
	}
}

// Started returns the ids of all jobs started so far
func (m *MockRecommendationService) Started() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.started...)
}

// Checks returns how many status checks a job received
func (m *MockRecommendationService) Checks(jobID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checks[jobID]
}

// StartJob returns sequential job ids job-1, job-2, ...
func (m *MockRecommendationService) StartJob(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return "", m.startErr
	}
	m.next++
	id := fmt.Sprintf("job-%d", m.next)
	m.started = append(m.started, id)
	return id, nil
}

// CheckJob returns the scripted status, Pending by default
func (m *MockRecommendationService) CheckJob(ctx context.Context, jobID string) (domain.JobStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[jobID]++
	if m.checkErr != nil {
		return domain.JobStatus{}, m.checkErr
	}
	if status, ok := m.results[jobID]; ok {
		return status, nil
	}
	return domain.Pending(), nil
}
