package trading

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/papertrader/internal/domain"
	"github.com/aristath/papertrader/internal/events"
	"github.com/aristath/papertrader/internal/modules/ledger"
	testingpkg "github.com/aristath/papertrader/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

var quiet = zerolog.New(nil).Level(zerolog.Disabled)

type harness struct {
	orch    *Orchestrator
	service *testingpkg.MockRecommendationService
	store   *ledger.Store
	bus     *events.Bus
}

// fastConfig polls immediately and often
func fastConfig(attempts int) Config {
	return Config{
		MaxActiveTrades: 3,
		PollGraceDelay:  0,
		PollInterval:    5 * time.Millisecond,
		PollMaxAttempts: attempts,
	}
}

// idleConfig never reaches a status check within a test
func idleConfig() Config {
	return Config{
		MaxActiveTrades: 3,
		PollGraceDelay:  time.Hour,
		PollInterval:    time.Hour,
		PollMaxAttempts: 24,
	}
}

func newHarness(t *testing.T, cfg Config, startingBalance float64) *harness {
	t.Helper()
	return newHarnessWithService(t, cfg, startingBalance, nil)
}

func newHarnessWithService(t *testing.T, cfg Config, startingBalance float64, service domain.RecommendationService) *harness {
	t.Helper()

	db, cleanup := testingpkg.NewTestDB(t, "ledger")
	store := ledger.NewStore(db.Conn(), startingBalance, quiet)
	mock := testingpkg.NewMockRecommendationService()
	if service == nil {
		service = mock
	}
	bus := events.NewBus()

	orch := NewOrchestrator(service, store, cfg, events.NewManager(bus, nil, quiet), nil, quiet)
	require.NoError(t, orch.Recover(context.Background()))

	// Registered after the DB cleanup so it runs first
	t.Cleanup(cleanup)
	t.Cleanup(func() { orch.Shutdown(context.Background()) })

	return &harness{orch: orch, service: mock, store: store, bus: bus}
}

func (h *harness) balance(t *testing.T) *domain.Portfolio {
	t.Helper()
	p, err := h.store.GetPortfolio(context.Background())
	require.NoError(t, err)
	return p
}

func (h *harness) tradeStatus(t *testing.T, id string) domain.TradeStatus {
	t.Helper()
	trade, err := h.store.GetTrade(context.Background(), id)
	require.NoError(t, err)
	return trade.Status
}

func TestStartTrade_RequiresTrading(t *testing.T) {
	h := newHarness(t, idleConfig(), 100000)

	_, err := h.orch.StartTrade(context.Background())
	assert.ErrorIs(t, err, domain.ErrTradingStopped)
	assert.Empty(t, h.service.Started())
}

func TestTick_NeverExceedsCapacity(t *testing.T) {
	h := newHarness(t, idleConfig(), 100000)
	ctx := context.Background()
	h.orch.Start()

	for i := 0; i < 10; i++ {
		h.orch.Tick(ctx)
		assert.LessOrEqual(t, h.orch.ActiveCount(), 3)
	}

	assert.Equal(t, 3, h.orch.ActiveCount())
	assert.Len(t, h.service.Started(), 3)

	_, err := h.orch.TrackJob(ctx, "external-job")
	assert.ErrorIs(t, err, domain.ErrAtCapacity)
}

func TestTick_ConcurrentAdmissionRespectsCapacity(t *testing.T) {
	h := newHarness(t, idleConfig(), 100000)
	h.orch.Start()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.orch.Tick(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, h.orch.ActiveCount())
	assert.Len(t, h.service.Started(), 3)
}

func TestTick_StartFailureSkipsCycle(t *testing.T) {
	h := newHarness(t, idleConfig(), 100000)
	h.orch.Start()
	h.service.SetStartError(domain.ErrServiceUnavailable)

	h.orch.Tick(context.Background())
	assert.Equal(t, 0, h.orch.ActiveCount())

	h.service.SetStartError(nil)
	h.orch.Tick(context.Background())
	assert.Equal(t, 1, h.orch.ActiveCount())
}

func TestPolling_CompletionDebitsBalance(t *testing.T) {
	h := newHarness(t, fastConfig(24), 100000)
	h.orch.Start()

	trade, err := h.orch.StartTrade(context.Background())
	require.NoError(t, err)
	h.service.CompleteAll()

	require.Eventually(t, func() bool {
		return h.tradeStatus(t, trade.ID) == domain.TradeStatusCompleted
	}, waitFor, tick)

	portfolio := h.balance(t)
	assert.Equal(t, 80000.0, portfolio.Balance)
	assert.Equal(t, 1, portfolio.TotalTrades)

	stored, err := h.store.GetTrade(context.Background(), trade.ID)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", stored.Ticker)
	require.NotNil(t, stored.BuyAmount)
	assert.Equal(t, 20000.0, *stored.BuyAmount)
	require.Len(t, stored.Transactions, 1)
	assert.Equal(t, domain.TransactionTypeBuy, stored.Transactions[0].Type)
	assert.Equal(t, 187.5, stored.Transactions[0].Price)

	require.Eventually(t, func() bool { return h.orch.ActiveCount() == 0 }, waitFor, tick)
	snap := h.orch.Snapshot()
	assert.Equal(t, 80000.0, snap.Portfolio.Balance)
	assert.Equal(t, domain.TradeStatusCompleted, snap.Trades[0].Status)
}

func TestPolling_PriceFallsBackToBuyAmount(t *testing.T) {
	h := newHarness(t, fastConfig(24), 100000)
	h.orch.Start()

	trade, err := h.orch.StartTrade(context.Background())
	require.NoError(t, err)

	rec := testingpkg.NewRecommendationFixtures()[2]
	h.service.SetResult(trade.ProcessID, domain.Completed(rec))

	require.Eventually(t, func() bool {
		return h.tradeStatus(t, trade.ID) == domain.TradeStatusCompleted
	}, waitFor, tick)

	stored, err := h.store.GetTrade(context.Background(), trade.ID)
	require.NoError(t, err)
	require.Len(t, stored.Transactions, 1)
	// 5% of 100000
	assert.Equal(t, 5000.0, stored.Transactions[0].Total)
	assert.Equal(t, 5000.0, stored.Transactions[0].Price)
}

func TestPolling_TimeoutFailsTrade(t *testing.T) {
	h := newHarness(t, fastConfig(4), 100000)
	h.orch.Start()

	trade, err := h.orch.StartTrade(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return h.tradeStatus(t, trade.ID) == domain.TradeStatusFailed
	}, waitFor, tick)

	assert.Equal(t, 4, h.service.Checks(trade.ProcessID))
	assert.Equal(t, 100000.0, h.balance(t).Balance)

	stored, err := h.store.GetTrade(context.Background(), trade.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Transactions, "failed trades record no transaction")
}

func TestPolling_TransportErrorsAreRetried(t *testing.T) {
	h := newHarness(t, fastConfig(24), 100000)
	h.orch.Start()
	h.service.SetCheckError(errors.New("connection refused"))

	trade, err := h.orch.StartTrade(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.service.Checks(trade.ProcessID) >= 3 }, waitFor, tick)
	assert.Equal(t, domain.TradeStatusProcessing, h.tradeStatus(t, trade.ID))

	h.service.SetCheckError(nil)
	h.service.CompleteAll()

	require.Eventually(t, func() bool {
		return h.tradeStatus(t, trade.ID) == domain.TradeStatusCompleted
	}, waitFor, tick)
}

func TestPolling_ErroredJobFailsTrade(t *testing.T) {
	h := newHarness(t, fastConfig(24), 100000)
	h.orch.Start()
	h.service.SetResult("job-1", domain.Errored("model crashed"))

	trade, err := h.orch.StartTrade(context.Background())
	require.NoError(t, err)
	require.Equal(t, "job-1", trade.ProcessID)

	require.Eventually(t, func() bool {
		return h.tradeStatus(t, trade.ID) == domain.TradeStatusFailed
	}, waitFor, tick)
	assert.Equal(t, 1, h.service.Checks("job-1"))
	assert.Equal(t, 100000.0, h.balance(t).Balance)
}

func TestPolling_InsufficientFundsFailsTrade(t *testing.T) {
	h := newHarness(t, fastConfig(24), 100)
	h.orch.Start()

	rec := testingpkg.NewRecommendationFixture("job-1")
	rec.Sizing.AllocationPercentage = 150
	h.service.SetResult("job-1", domain.Completed(rec))

	trade, err := h.orch.StartTrade(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return h.tradeStatus(t, trade.ID) == domain.TradeStatusFailed
	}, waitFor, tick)

	portfolio := h.balance(t)
	assert.Equal(t, 100.0, portfolio.Balance)
	assert.Equal(t, 0, portfolio.TotalTrades)
}

func TestStop_FailsInFlightTradesWithoutResidualMutation(t *testing.T) {
	h := newHarness(t, fastConfig(100000), 100000)
	ctx := context.Background()
	h.orch.Start()

	for i := 0; i < 3; i++ {
		h.orch.Tick(ctx)
	}
	require.Equal(t, 3, h.orch.ActiveCount())
	require.Eventually(t, func() bool { return h.service.Checks("job-3") > 0 }, waitFor, tick)

	failed := h.orch.Stop(ctx)
	assert.Equal(t, 3, failed)
	assert.False(t, h.orch.IsTrading())
	assert.Equal(t, 0, h.orch.ActiveCount())

	// A result arriving after stop must not touch the ledger
	h.service.CompleteAll()
	time.Sleep(50 * time.Millisecond)

	trades, err := h.store.ListTrades(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 3)
	for _, trade := range trades {
		assert.Equal(t, domain.TradeStatusFailed, trade.Status)
		assert.Empty(t, trade.Transactions)
	}
	portfolio := h.balance(t)
	assert.Equal(t, 100000.0, portfolio.Balance)
	assert.Equal(t, 0, portfolio.TotalTrades)

	h.orch.Tick(ctx)
	assert.Len(t, h.service.Started(), 3, "no admission after stop")
}

func TestStop_CancelledContextStillSettlesLedger(t *testing.T) {
	h := newHarness(t, idleConfig(), 100000)
	h.orch.Start()

	trade, err := h.orch.StartTrade(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, 1, h.orch.Stop(ctx))
	assert.Equal(t, domain.TradeStatusFailed, h.tradeStatus(t, trade.ID))

	require.NoError(t, h.orch.Refresh(context.Background()))
	for _, got := range h.orch.Snapshot().Trades {
		if got.ID == trade.ID {
			assert.Equal(t, domain.TradeStatusFailed, got.Status)
		}
	}
}

// unreliableLedger rejects trade updates while failUpdates is set
type unreliableLedger struct {
	domain.LedgerStore
	failUpdates atomic.Bool
}

func (l *unreliableLedger) UpdateTrade(ctx context.Context, id string, update domain.TradeUpdate) (*domain.Trade, error) {
	if l.failUpdates.Load() {
		return nil, errors.New("database is locked")
	}
	return l.LedgerStore.UpdateTrade(ctx, id, update)
}

func TestRefresh_RetriesUnpersistedFailures(t *testing.T) {
	h := newHarness(t, idleConfig(), 100000)
	ctx := context.Background()

	store := &unreliableLedger{LedgerStore: h.store}
	orch := NewOrchestrator(h.service, store, idleConfig(), nil, nil, quiet)
	require.NoError(t, orch.Recover(ctx))
	t.Cleanup(func() { orch.Shutdown(context.Background()) })

	orch.Start()
	trade, err := orch.StartTrade(ctx)
	require.NoError(t, err)

	store.failUpdates.Store(true)
	assert.Equal(t, 1, orch.Stop(ctx))
	assert.Equal(t, 0, orch.ActiveCount())
	assert.Equal(t, domain.TradeStatusProcessing, h.tradeStatus(t, trade.ID))

	// Still unavailable: the trade stays failed locally and pending
	require.NoError(t, orch.Refresh(ctx))
	assert.Equal(t, domain.TradeStatusProcessing, h.tradeStatus(t, trade.ID))

	store.failUpdates.Store(false)
	require.NoError(t, orch.Refresh(ctx))
	assert.Equal(t, domain.TradeStatusFailed, h.tradeStatus(t, trade.ID))

	orch.mu.Lock()
	assert.Empty(t, orch.unsynced)
	orch.mu.Unlock()

	portfolio := h.balance(t)
	assert.Equal(t, 100000.0, portfolio.Balance)
}

func TestStop_RestartAdmitsAgain(t *testing.T) {
	h := newHarness(t, idleConfig(), 100000)
	ctx := context.Background()

	h.orch.Start()
	h.orch.Tick(ctx)
	assert.Equal(t, 1, h.orch.SetTrading(ctx, false))

	assert.Equal(t, 0, h.orch.SetTrading(ctx, true))
	h.orch.Tick(ctx)
	assert.Equal(t, 1, h.orch.ActiveCount())
}

// gatedService blocks StartJob until released
type gatedService struct {
	*testingpkg.MockRecommendationService
	entered chan struct{}
	release chan struct{}
}

func (g *gatedService) StartJob(ctx context.Context) (string, error) {
	close(g.entered)
	<-g.release
	return g.MockRecommendationService.StartJob(ctx)
}

func TestStop_DuringInFlightStartFailsNewTrade(t *testing.T) {
	gated := &gatedService{
		MockRecommendationService: testingpkg.NewMockRecommendationService(),
		entered:                   make(chan struct{}),
		release:                   make(chan struct{}),
	}
	h := newHarnessWithService(t, idleConfig(), 100000, gated)
	ctx := context.Background()
	h.orch.Start()

	type result struct {
		trade *domain.Trade
		err   error
	}
	done := make(chan result, 1)
	go func() {
		trade, err := h.orch.StartTrade(ctx)
		done <- result{trade, err}
	}()

	<-gated.entered
	assert.Equal(t, 0, h.orch.Stop(ctx))
	close(gated.release)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, domain.TradeStatusFailed, res.trade.Status)
	assert.Equal(t, domain.TradeStatusFailed, h.tradeStatus(t, res.trade.ID))
	assert.Equal(t, 0, h.orch.ActiveCount())
}

func TestApplyCompletion(t *testing.T) {
	h := newHarness(t, idleConfig(), 100000)
	ctx := context.Background()
	h.orch.Start()

	trade, err := h.orch.StartTrade(ctx)
	require.NoError(t, err)

	completed, err := h.orch.ApplyCompletion(ctx, trade.ProcessID, testingpkg.NewRecommendationFixture(trade.ProcessID))
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusCompleted, completed.Status)
	assert.Equal(t, 0, h.orch.ActiveCount())
	assert.Equal(t, 80000.0, h.balance(t).Balance)

	_, err = h.orch.ApplyCompletion(ctx, trade.ProcessID, testingpkg.NewRecommendationFixture(trade.ProcessID))
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, 80000.0, h.balance(t).Balance, "completion is applied once")

	_, err = h.orch.ApplyCompletion(ctx, "unknown-job", testingpkg.NewRecommendationFixture("unknown-job"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRecover_FailsOrphanedTrades(t *testing.T) {
	db, cleanup := testingpkg.NewTestDB(t, "ledger")
	t.Cleanup(cleanup)
	store := ledger.NewStore(db.Conn(), 100000, quiet)
	ctx := context.Background()

	orphan, err := store.CreateTrade(ctx, "job-before-restart")
	require.NoError(t, err)

	orch := NewOrchestrator(testingpkg.NewMockRecommendationService(), store, idleConfig(), nil, nil, quiet)
	require.NoError(t, orch.Recover(ctx))

	stored, err := store.GetTrade(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusFailed, stored.Status)
	assert.Equal(t, 0, orch.ActiveCount())
	assert.Len(t, orch.Snapshot().Trades, 1)
}

func TestRefresh_NeverRegressesTerminalTrades(t *testing.T) {
	h := newHarness(t, idleConfig(), 100000)
	ctx := context.Background()

	stale, err := h.store.CreateTrade(ctx, "job-stale")
	require.NoError(t, err)

	h.orch.mu.Lock()
	local := stale.Clone()
	local.Status = domain.TradeStatusFailed
	h.orch.history[stale.ID] = &local
	h.orch.mu.Unlock()

	require.NoError(t, h.orch.Refresh(ctx))

	for _, trade := range h.orch.Snapshot().Trades {
		if trade.ID == stale.ID {
			assert.Equal(t, domain.TradeStatusFailed, trade.Status)
		}
	}
}

func TestRefresh_ReleasesTradesSettledElsewhere(t *testing.T) {
	h := newHarness(t, idleConfig(), 100000)
	ctx := context.Background()
	h.orch.Start()

	trade, err := h.orch.StartTrade(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, h.orch.ActiveCount())

	failed := domain.TradeStatusFailed
	_, err = h.store.UpdateTrade(ctx, trade.ID, domain.TradeUpdate{Status: &failed})
	require.NoError(t, err)

	require.NoError(t, h.orch.Refresh(ctx))
	assert.Equal(t, 0, h.orch.ActiveCount())
}

func TestEvents_TradeLifecycle(t *testing.T) {
	h := newHarness(t, fastConfig(24), 100000)
	stream, unsubscribe := h.bus.Subscribe()
	defer unsubscribe()

	h.orch.Start()
	_, err := h.orch.StartTrade(context.Background())
	require.NoError(t, err)
	h.service.CompleteAll()

	want := []events.EventType{
		events.TradingStarted,
		events.TradeStarted,
		events.TradeCompleted,
		events.PortfolioChanged,
	}
	var got []events.EventType
	timeout := time.After(waitFor)
	for len(got) < len(want) {
		select {
		case event := <-stream:
			got = append(got, event.Type)
		case <-timeout:
			t.Fatalf("timed out waiting for events, got %v", got)
		}
	}
	assert.Equal(t, want, got)
}
