// Package handlers provides HTTP handlers for the trading loop and trade history.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/aristath/papertrader/internal/clients/recommendation"
	"github.com/aristath/papertrader/internal/domain"
	"github.com/aristath/papertrader/internal/modules/trading"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// maxPayloadBytes bounds a completion payload body
const maxPayloadBytes = 1 << 20

// Orchestrator is the part of the trade orchestrator the handlers drive
type Orchestrator interface {
	Snapshot() trading.Snapshot
	SetTrading(ctx context.Context, on bool) int
	TrackJob(ctx context.Context, processID string) (*domain.Trade, error)
	ApplyCompletion(ctx context.Context, processID string, rec domain.Recommendation) (*domain.Trade, error)
	Summary() trading.TradeSummary
}

// TradeReader reads trades from the ledger
type TradeReader interface {
	ListTrades(ctx context.Context) ([]domain.Trade, error)
	GetTrade(ctx context.Context, id string) (*domain.Trade, error)
}

// TradingHandlers contains HTTP handlers for trading API
type TradingHandlers struct {
	orchestrator Orchestrator
	trades       TradeReader
	validate     *validator.Validate
	log          zerolog.Logger
}

// NewTradingHandlers creates a new trading handlers instance
func NewTradingHandlers(orchestrator Orchestrator, trades TradeReader, log zerolog.Logger) *TradingHandlers {
	return &TradingHandlers{
		orchestrator: orchestrator,
		trades:       trades,
		validate:     validator.New(),
		log:          log.With().Str("handler", "trading").Logger(),
	}
}

type trackJobRequest struct {
	ProcessID string `json:"processId" validate:"required,max=128"`
}

type stopResponse struct {
	FailedTrades int              `json:"failedTrades"`
	State        trading.Snapshot `json:"state"`
}

// HandleGetState returns the orchestrator snapshot
// GET /api/trading
func (h *TradingHandlers) HandleGetState(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.orchestrator.Snapshot())
}

// HandleStart switches trading on
// POST /api/trading/start
func (h *TradingHandlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	h.orchestrator.SetTrading(r.Context(), true)
	h.writeJSON(w, http.StatusOK, h.orchestrator.Snapshot())
}

// HandleStop switches trading off and fails every in-flight trade
// POST /api/trading/stop
func (h *TradingHandlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	failed := h.orchestrator.SetTrading(r.Context(), false)
	h.writeJSON(w, http.StatusOK, stopResponse{
		FailedTrades: failed,
		State:        h.orchestrator.Snapshot(),
	})
}

// HandleGetTrades returns trade history, newest first
// GET /api/trades
func (h *TradingHandlers) HandleGetTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := h.trades.ListTrades(r.Context())
	if err != nil {
		h.handleError(w, err, "Failed to list trades")
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	h.writeJSON(w, http.StatusOK, trades)
}

// HandleGetTrade returns one trade with its transactions
// GET /api/trades/{id}
func (h *TradingHandlers) HandleGetTrade(w http.ResponseWriter, r *http.Request) {
	trade, err := h.trades.GetTrade(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, err, "Failed to get trade")
		return
	}
	h.writeJSON(w, http.StatusOK, trade)
}

// HandleCreateTrade enrolls a trade for an externally started job
// POST /api/trades
func (h *TradingHandlers) HandleCreateTrade(w http.ResponseWriter, r *http.Request) {
	var req trackJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.ProcessID = strings.TrimSpace(req.ProcessID)
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, "processId is required")
		return
	}

	trade, err := h.orchestrator.TrackJob(r.Context(), req.ProcessID)
	if err != nil {
		h.handleError(w, err, "Failed to create trade")
		return
	}
	h.writeJSON(w, http.StatusCreated, trade)
}

// HandleCompleteTrade applies a completed recommendation payload to the
// trade tracking that job
// PUT /api/trades/{processId}
func (h *TradingHandlers) HandleCompleteTrade(w http.ResponseWriter, r *http.Request) {
	processID := chi.URLParam(r, "id")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	rec, err := recommendation.DecodePayload(body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec.ProcessID = processID

	trade, err := h.orchestrator.ApplyCompletion(r.Context(), processID, rec)
	if err != nil {
		h.handleError(w, err, "Failed to complete trade")
		return
	}
	h.writeJSON(w, http.StatusOK, trade)
}

// HandleGetSummary returns trade statistics
// GET /api/trades/summary
func (h *TradingHandlers) HandleGetSummary(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.orchestrator.Summary())
}

// handleError maps domain errors to status codes. Unexpected errors are
// logged and answered with a generic message.
func (h *TradingHandlers) handleError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "Trade not found")
	case errors.Is(err, domain.ErrInvalidAmount), errors.Is(err, domain.ErrInsufficientFunds):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrTradingStopped),
		errors.Is(err, domain.ErrAtCapacity):
		h.writeError(w, http.StatusConflict, err.Error())
	default:
		h.log.Error().Err(err).Msg(message)
		h.writeError(w, http.StatusInternalServerError, message)
	}
}

// writeJSON writes a JSON response
func (h *TradingHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (h *TradingHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
