// Package trading runs the simulated trading loop: admission of new trades,
// per-trade polling of the recommendation service and settlement into the ledger.
package trading

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aristath/papertrader/internal/domain"
	"github.com/aristath/papertrader/internal/events"
	"github.com/aristath/papertrader/internal/metrics"
	"github.com/rs/zerolog"
)

const module = "trading"

// Config tunes admission and polling
type Config struct {
	MaxActiveTrades int
	PollGraceDelay  time.Duration
	PollInterval    time.Duration
	PollMaxAttempts int
}

// DefaultConfig returns the production tuning: 3 slots, 60s grace, 24 checks 5s apart
func DefaultConfig() Config {
	return Config{
		MaxActiveTrades: 3,
		PollGraceDelay:  60 * time.Second,
		PollInterval:    5 * time.Second,
		PollMaxAttempts: 24,
	}
}

// Snapshot is a consistent copy of the orchestrator state
type Snapshot struct {
	IsTrading       bool              `json:"isTrading"`
	MaxActiveTrades int               `json:"maxActiveTrades"`
	Portfolio       *domain.Portfolio `json:"portfolio"`
	ActiveTrades    []domain.Trade    `json:"activeTrades"`
	Trades          []domain.Trade    `json:"trades"`
}

// Orchestrator owns the active set, the trade history mirror and the polling tasks.
//
// All state lives behind mu. Recommendation service calls are made without
// holding mu; ledger writes that change orchestrator state are made with it
// held, so stop and completion never interleave. A polling task applies a
// result only while it is still registered in tasks, which makes
// cancellation race-free.
type Orchestrator struct {
	service domain.RecommendationService
	ledger  domain.LedgerStore
	cfg     Config
	events  *events.Manager
	metrics *metrics.Metrics
	log     zerolog.Logger

	mu         sync.Mutex
	isTrading  bool
	generation uint64 // bumped on every start and stop
	reserved   int    // slots held by start requests still in flight
	active     map[string]struct{}
	history    map[string]*domain.Trade
	portfolio  *domain.Portfolio
	tasks      map[string]*pollTask
	unsynced   map[string]struct{} // failed locally, not yet in the ledger
	outbox     []events.EventData
}

// NewOrchestrator creates an orchestrator. eventManager and m may be nil.
func NewOrchestrator(
	service domain.RecommendationService,
	ledger domain.LedgerStore,
	cfg Config,
	eventManager *events.Manager,
	m *metrics.Metrics,
	log zerolog.Logger,
) *Orchestrator {
	if cfg.MaxActiveTrades < 1 {
		cfg.MaxActiveTrades = 1
	}
	if cfg.PollMaxAttempts < 1 {
		cfg.PollMaxAttempts = 1
	}

	return &Orchestrator{
		service:  service,
		ledger:   ledger,
		cfg:      cfg,
		events:   eventManager,
		metrics:  m,
		log:      log.With().Str("service", "orchestrator").Logger(),
		active:   make(map[string]struct{}),
		history:  make(map[string]*domain.Trade),
		tasks:    make(map[string]*pollTask),
		unsynced: make(map[string]struct{}),
	}
}

// unlock releases mu and then emits the events queued while it was held
func (o *Orchestrator) unlock() {
	queued := o.outbox
	o.outbox = nil
	o.mu.Unlock()

	for _, data := range queued {
		o.events.Emit(module, data)
	}
}

func (o *Orchestrator) emitLocked(data events.EventData) {
	if o.events != nil {
		o.outbox = append(o.outbox, data)
	}
}

// Recover loads the ledger into the mirror and fails trades left processing
// by a previous run, since nothing polls them anymore.
func (o *Orchestrator) Recover(ctx context.Context) error {
	portfolio, err := o.ledger.GetPortfolio(ctx)
	if err != nil {
		return fmt.Errorf("failed to load portfolio: %w", err)
	}
	trades, err := o.ledger.ListTrades(ctx)
	if err != nil {
		return fmt.Errorf("failed to load trades: %w", err)
	}

	o.mu.Lock()
	defer o.unlock()

	o.portfolio = portfolio
	o.metrics.SetBalance(portfolio.Balance)

	orphaned := 0
	for i := range trades {
		trade := trades[i]
		o.history[trade.ID] = &trade
		if trade.Status != domain.TradeStatusProcessing {
			continue
		}
		if _, tracked := o.tasks[trade.ID]; tracked {
			continue
		}
		o.failLocked(ctx, trade.ID, "interrupted by restart")
		orphaned++
	}

	if orphaned > 0 {
		o.log.Warn().Int("count", orphaned).Msg("Failed trades orphaned by a previous run")
	}
	return nil
}

// IsTrading reports whether admission is switched on
func (o *Orchestrator) IsTrading() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.isTrading
}

// SetTrading switches trading on or off. Switching off returns the number of
// trades that were failed.
func (o *Orchestrator) SetTrading(ctx context.Context, on bool) int {
	if on {
		o.Start()
		return 0
	}
	return o.Stop(ctx)
}

// Start switches admission on. The next admission tick starts the first trade.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	defer o.unlock()

	if o.isTrading {
		return
	}
	o.isTrading = true
	o.generation++

	o.log.Info().Msg("Trading started")
	o.emitLocked(&events.TradingStateData{IsTrading: true})
}

// Stop switches admission off, cancels every polling task and fails every
// trade still processing. It returns once all polling goroutines have exited.
func (o *Orchestrator) Stop(ctx context.Context) int {
	o.mu.Lock()

	wasTrading := o.isTrading
	o.isTrading = false
	o.generation++

	stopping := make([]*pollTask, 0, len(o.tasks))
	for _, task := range o.tasks {
		task.cancel()
		stopping = append(stopping, task)
	}

	failed := 0
	for _, id := range o.activeIDsLocked() {
		o.failLocked(ctx, id, "trading stopped")
		failed++
	}
	// Tasks whose trade already left the active set still need unregistering
	for id := range o.tasks {
		o.unregisterLocked(id)
	}

	if wasTrading || failed > 0 {
		o.log.Info().Int("failed_trades", failed).Msg("Trading stopped")
		o.emitLocked(&events.TradingStateData{IsTrading: false, FailedTrades: failed})
	}
	o.unlock()

	for _, task := range stopping {
		<-task.done
	}
	return failed
}

// Shutdown stops trading and waits for all polling tasks
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.Stop(ctx)
}

// Tick runs one admission cycle: while trading and below the cap it starts
// exactly one trade. Start failures are logged and the cycle is skipped.
func (o *Orchestrator) Tick(ctx context.Context) {
	if _, err := o.StartTrade(ctx); err != nil {
		if errors.Is(err, domain.ErrTradingStopped) || errors.Is(err, domain.ErrAtCapacity) {
			return
		}
		o.log.Warn().Err(err).Msg("Admission cycle skipped")
	}
}

// StartTrade requests a new recommendation job and enrolls a trade for it.
// If trading is switched off while the request is in flight, the new trade
// is failed immediately.
func (o *Orchestrator) StartTrade(ctx context.Context) (*domain.Trade, error) {
	o.mu.Lock()
	if !o.isTrading {
		o.unlock()
		return nil, domain.ErrTradingStopped
	}
	if len(o.active)+o.reserved >= o.cfg.MaxActiveTrades {
		o.unlock()
		return nil, domain.ErrAtCapacity
	}
	o.reserved++
	generation := o.generation
	o.unlock()

	processID, err := o.service.StartJob(ctx)

	o.mu.Lock()
	defer o.unlock()
	o.reserved--

	if err != nil {
		return nil, fmt.Errorf("failed to start recommendation job: %w", err)
	}

	return o.enrollLocked(ctx, processID, generation)
}

// TrackJob enrolls a trade for a job started outside the orchestrator.
// It is subject to the same trading flag and capacity rules as admission.
func (o *Orchestrator) TrackJob(ctx context.Context, processID string) (*domain.Trade, error) {
	o.mu.Lock()
	defer o.unlock()

	if !o.isTrading {
		return nil, domain.ErrTradingStopped
	}
	if len(o.active)+o.reserved >= o.cfg.MaxActiveTrades {
		return nil, domain.ErrAtCapacity
	}
	return o.enrollLocked(ctx, processID, o.generation)
}

// enrollLocked records the trade and schedules its polling task
func (o *Orchestrator) enrollLocked(ctx context.Context, processID string, generation uint64) (*domain.Trade, error) {
	trade, err := o.ledger.CreateTrade(ctx, processID)
	if err != nil {
		return nil, fmt.Errorf("failed to record trade: %w", err)
	}
	o.history[trade.ID] = trade

	if !o.isTrading || o.generation != generation {
		o.log.Info().
			Str("trade_id", trade.ID).
			Str("process_id", processID).
			Msg("Trading stopped while trade was starting")
		o.failLocked(ctx, trade.ID, "trading stopped")
		return clonePtr(o.history[trade.ID]), nil
	}

	o.active[trade.ID] = struct{}{}
	o.metrics.TradeStarted()
	o.metrics.SetActiveTrades(len(o.active))

	task := o.newTaskLocked(trade)
	go o.poll(task)

	o.log.Info().
		Str("trade_id", trade.ID).
		Str("process_id", processID).
		Int("active", len(o.active)).
		Msg("Trade admitted")
	o.emitLocked(&events.TradeStartedData{TradeID: trade.ID, ProcessID: processID})

	return clonePtr(trade), nil
}

// ApplyCompletion settles a trade from a completed recommendation delivered
// directly (not by polling). It uses the same sizing and atomic ledger path.
func (o *Orchestrator) ApplyCompletion(ctx context.Context, processID string, rec domain.Recommendation) (*domain.Trade, error) {
	trade, err := o.ledger.GetTradeByProcessID(ctx, processID)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.unlock()

	completed, err := o.completeLocked(ctx, trade.ID, rec)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			o.reloadLocked(ctx, trade.ID)
		}
		return nil, err
	}
	return clonePtr(completed), nil
}

// Refresh reloads the portfolio and trade history from the ledger. A trade
// that is terminal locally is never replaced by an older non-terminal copy;
// if its failure never reached the ledger, the write is retried.
func (o *Orchestrator) Refresh(ctx context.Context) error {
	portfolio, err := o.ledger.GetPortfolio(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh portfolio: %w", err)
	}
	trades, err := o.ledger.ListTrades(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh trades: %w", err)
	}

	o.mu.Lock()
	defer o.unlock()

	if o.portfolio == nil || !portfolio.UpdatedAt.Before(o.portfolio.UpdatedAt) {
		o.portfolio = portfolio
		o.metrics.SetBalance(portfolio.Balance)
	}

	for i := range trades {
		stored := trades[i]
		local, known := o.history[stored.ID]
		if known && local.Status.IsTerminal() && !stored.Status.IsTerminal() {
			if _, pending := o.unsynced[stored.ID]; pending {
				o.resyncFailureLocked(ctx, stored.ID)
			}
			continue
		}
		o.history[stored.ID] = &stored

		// Settled elsewhere: release the slot and stop polling
		if stored.Status.IsTerminal() {
			if _, isActive := o.active[stored.ID]; isActive {
				delete(o.active, stored.ID)
				o.unregisterLocked(stored.ID)
				o.metrics.SetActiveTrades(len(o.active))
			}
		}
	}

	return nil
}

// Snapshot returns a copy of the current state, trades newest first
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	snap := Snapshot{
		IsTrading:       o.isTrading,
		MaxActiveTrades: o.cfg.MaxActiveTrades,
		ActiveTrades:    make([]domain.Trade, 0, len(o.active)),
		Trades:          make([]domain.Trade, 0, len(o.history)),
	}
	if o.portfolio != nil {
		p := *o.portfolio
		snap.Portfolio = &p
	}
	for _, trade := range o.history {
		snap.Trades = append(snap.Trades, trade.Clone())
	}
	sortNewestFirst(snap.Trades)
	for _, id := range o.activeIDsLocked() {
		snap.ActiveTrades = append(snap.ActiveTrades, o.history[id].Clone())
	}
	return snap
}

// ActiveCount returns the number of trades occupying a slot
func (o *Orchestrator) ActiveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

// activeIDsLocked returns active trade ids in admission order
func (o *Orchestrator) activeIDsLocked() []string {
	trades := make([]domain.Trade, 0, len(o.active))
	for id := range o.active {
		if trade, ok := o.history[id]; ok {
			trades = append(trades, *trade)
		}
	}
	sort.Slice(trades, func(i, j int) bool {
		return trades[i].CreatedAt.Before(trades[j].CreatedAt)
	})
	ids := make([]string, len(trades))
	for i := range trades {
		ids[i] = trades[i].ID
	}
	return ids
}

func clonePtr(trade *domain.Trade) *domain.Trade {
	c := trade.Clone()
	return &c
}

func sortNewestFirst(trades []domain.Trade) {
	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].CreatedAt.After(trades[j].CreatedAt)
	})
}
