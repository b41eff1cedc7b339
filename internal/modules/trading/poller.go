package trading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/papertrader/internal/domain"
	"github.com/aristath/papertrader/internal/events"
)

// ledgerWriteTimeout bounds a failure write made on a detached context
const ledgerWriteTimeout = 10 * time.Second

// pollTask is the cancellable unit of work polling one trade's job
type pollTask struct {
	tradeID   string
	processID string
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

func (o *Orchestrator) newTaskLocked(trade *domain.Trade) *pollTask {
	ctx, cancel := context.WithCancel(context.Background())
	task := &pollTask{
		tradeID:   trade.ID,
		processID: trade.ProcessID,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	o.tasks[trade.ID] = task
	return task
}

// unregisterLocked cancels and forgets a trade's polling task, if any
func (o *Orchestrator) unregisterLocked(tradeID string) {
	if task, ok := o.tasks[tradeID]; ok {
		task.cancel()
		delete(o.tasks, tradeID)
	}
}

// ownsLocked reports whether task is still the registered task for its trade
func (o *Orchestrator) ownsLocked(task *pollTask) bool {
	return o.tasks[task.tradeID] == task
}

// poll waits the grace delay, then checks the job up to PollMaxAttempts times,
// PollInterval apart. Each check completes before the next wait starts.
func (o *Orchestrator) poll(task *pollTask) {
	defer close(task.done)

	if !sleep(task.ctx, o.cfg.PollGraceDelay) {
		return
	}

	for attempt := 1; attempt <= o.cfg.PollMaxAttempts; attempt++ {
		status, err := o.service.CheckJob(task.ctx, task.processID)
		if task.ctx.Err() != nil {
			return
		}
		if o.handleCheck(task, attempt, status, err) {
			return
		}
		if attempt < o.cfg.PollMaxAttempts && !sleep(task.ctx, o.cfg.PollInterval) {
			return
		}
	}

	o.mu.Lock()
	defer o.unlock()
	if !o.ownsLocked(task) {
		return
	}
	o.log.Warn().
		Str("trade_id", task.tradeID).
		Int("attempts", o.cfg.PollMaxAttempts).
		Msg("Recommendation polling timed out")
	o.failLocked(task.ctx, task.tradeID, domain.ErrPollTimeout.Error())
}

// handleCheck applies one status check. It returns true when polling is over.
func (o *Orchestrator) handleCheck(task *pollTask, attempt int, status domain.JobStatus, checkErr error) bool {
	o.mu.Lock()
	defer o.unlock()

	if !o.ownsLocked(task) {
		return true
	}

	log := o.log.With().
		Str("trade_id", task.tradeID).
		Str("process_id", task.processID).
		Int("attempt", attempt).
		Logger()

	if checkErr != nil {
		o.metrics.PollCheck("error")
		log.Warn().Err(checkErr).Msg("Status check failed, will retry")
		return false
	}

	o.metrics.PollCheck(status.State.String())

	switch status.State {
	case domain.JobPending:
		log.Debug().Msg("Recommendation still pending")
		return false

	case domain.JobErrored:
		log.Warn().Str("reason", status.Reason).Msg("Recommendation job failed")
		o.failLocked(task.ctx, task.tradeID, status.Reason)
		return true

	case domain.JobCompleted:
		if status.Recommendation == nil {
			log.Warn().Msg("Completed status without a recommendation")
			return false
		}
		_, err := o.completeLocked(task.ctx, task.tradeID, *status.Recommendation)
		switch {
		case err == nil:
			return true
		case errors.Is(err, domain.ErrInvalidAmount), errors.Is(err, domain.ErrInsufficientFunds):
			log.Warn().Err(err).Msg("Trade cannot be funded")
			o.failLocked(task.ctx, task.tradeID, err.Error())
			return true
		case errors.Is(err, domain.ErrInvalidTransition):
			log.Info().Msg("Trade was settled elsewhere")
			o.reloadLocked(task.ctx, task.tradeID)
			return true
		case errors.Is(err, domain.ErrNotFound):
			log.Error().Err(err).Msg("Trade disappeared from the ledger")
			o.failLocked(task.ctx, task.tradeID, "trade record missing")
			return true
		default:
			log.Error().Err(err).Msg("Failed to settle trade, will retry")
			return false
		}
	}

	return false
}

// completeLocked sizes the buy from the ledger balance and settles the trade
// atomically. The mirror only changes when the ledger commit succeeded.
func (o *Orchestrator) completeLocked(ctx context.Context, tradeID string, rec domain.Recommendation) (*domain.Trade, error) {
	portfolio, err := o.ledger.GetPortfolio(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}

	buyAmount := domain.BuyAmount(portfolio.Balance, rec.Sizing)
	if buyAmount <= 0 {
		return nil, fmt.Errorf("position sizing produced no buy amount: %w", domain.ErrInvalidAmount)
	}

	price := buyAmount
	if rec.CurrentPrice != nil && *rec.CurrentPrice > 0 {
		price = *rec.CurrentPrice
	}

	now := time.Now().UTC()
	trade, updated, err := o.ledger.CompleteTrade(ctx, domain.TradeCompletion{
		TradeID:        tradeID,
		Recommendation: rec,
		Transaction: domain.Transaction{
			Type:      domain.TransactionTypeBuy,
			Amount:    buyAmount,
			Price:     price,
			Total:     buyAmount,
			Status:    domain.TransactionStatusCompleted,
			CreatedAt: now,
		},
		CompletedAt: now,
	})
	if err != nil {
		return nil, err
	}

	o.history[trade.ID] = trade
	o.portfolio = updated
	delete(o.active, trade.ID)
	delete(o.unsynced, trade.ID)
	o.unregisterLocked(trade.ID)

	o.metrics.TradeFinished(string(domain.TradeStatusCompleted), "")
	o.metrics.TradeInvested(buyAmount)
	o.metrics.SetActiveTrades(len(o.active))
	o.metrics.SetBalance(updated.Balance)

	o.log.Info().
		Str("trade_id", trade.ID).
		Str("ticker", trade.Ticker).
		Float64("buy_amount", buyAmount).
		Float64("balance", updated.Balance).
		Msg("Trade completed")

	o.emitLocked(&events.TradeCompletedData{
		TradeID:   trade.ID,
		ProcessID: trade.ProcessID,
		Ticker:    trade.Ticker,
		BuyAmount: buyAmount,
		BuyPrice:  price,
		Balance:   updated.Balance,
	})
	o.emitLocked(&events.PortfolioChangedData{
		Balance:     updated.Balance,
		TotalTrades: updated.TotalTrades,
		Reason:      "trade_completed",
	})

	return trade, nil
}

// failLocked moves a trade to failed in the ledger and the mirror and
// releases its slot. No transaction is recorded and the balance is untouched.
//
// The write ignores ctx cancellation. A write that fails is kept in unsynced
// and retried by Refresh.
func (o *Orchestrator) failLocked(ctx context.Context, tradeID, reason string) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerWriteTimeout)
	defer cancel()

	failed := domain.TradeStatusFailed
	now := time.Now().UTC()

	updated, err := o.ledger.UpdateTrade(writeCtx, tradeID, domain.TradeUpdate{Status: &failed, CompletedAt: &now})
	switch {
	case err == nil:
		o.history[tradeID] = updated
	case errors.Is(err, domain.ErrInvalidTransition):
		// Already terminal in the ledger; adopt whatever it settled on
		o.reloadLocked(writeCtx, tradeID)
		return
	default:
		o.log.Error().Err(err).Str("trade_id", tradeID).Msg("Failed to persist trade failure, will retry on refresh")
		o.unsynced[tradeID] = struct{}{}
		if local, ok := o.history[tradeID]; ok && !local.Status.IsTerminal() {
			local.Status = domain.TradeStatusFailed
			local.CompletedAt = &now
		}
	}

	delete(o.active, tradeID)
	o.unregisterLocked(tradeID)

	o.metrics.TradeFinished(string(domain.TradeStatusFailed), failureLabel(reason))
	o.metrics.SetActiveTrades(len(o.active))

	processID := ""
	if trade, ok := o.history[tradeID]; ok {
		processID = trade.ProcessID
	}
	o.log.Info().Str("trade_id", tradeID).Str("reason", reason).Msg("Trade failed")
	o.emitLocked(&events.TradeFailedData{TradeID: tradeID, ProcessID: processID, Reason: reason})
}

// resyncFailureLocked retries writing a failure the ledger did not record
func (o *Orchestrator) resyncFailureLocked(ctx context.Context, tradeID string) {
	local, ok := o.history[tradeID]
	if !ok {
		delete(o.unsynced, tradeID)
		return
	}

	failed := domain.TradeStatusFailed
	updated, err := o.ledger.UpdateTrade(ctx, tradeID, domain.TradeUpdate{Status: &failed, CompletedAt: local.CompletedAt})
	switch {
	case err == nil:
		o.history[tradeID] = updated
		delete(o.unsynced, tradeID)
		o.log.Info().Str("trade_id", tradeID).Msg("Trade failure persisted")
	case errors.Is(err, domain.ErrInvalidTransition):
		delete(o.unsynced, tradeID)
		o.reloadLocked(ctx, tradeID)
	default:
		o.log.Warn().Err(err).Str("trade_id", tradeID).Msg("Trade failure still not persisted")
	}
}

// reloadLocked replaces the mirror copy with the ledger's and drops the trade
// from the active set when the ledger has it terminal.
func (o *Orchestrator) reloadLocked(ctx context.Context, tradeID string) {
	stored, err := o.ledger.GetTrade(ctx, tradeID)
	if err != nil {
		o.log.Error().Err(err).Str("trade_id", tradeID).Msg("Failed to reload trade")
		return
	}
	o.history[tradeID] = stored
	if stored.Status.IsTerminal() {
		delete(o.active, tradeID)
		o.unregisterLocked(tradeID)
		o.metrics.SetActiveTrades(len(o.active))
	}
}

// failureLabel keeps the metrics label set small
func failureLabel(reason string) string {
	switch {
	case reason == domain.ErrPollTimeout.Error():
		return "timeout"
	case reason == "trading stopped":
		return "stopped"
	case reason == "interrupted by restart":
		return "restart"
	default:
		return "error"
	}
}

// sleep waits for d or until ctx is done. It reports whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
