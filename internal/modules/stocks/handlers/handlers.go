// Package handlers provides HTTP handlers for stock performance lookups.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aristath/papertrader/internal/modules/stocks"
	"github.com/rs/zerolog"
)

// Handler handles stock HTTP requests
type Handler struct {
	service *stocks.Service
	log     zerolog.Logger
}

// NewHandler creates a new stocks handler
func NewHandler(service *stocks.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "stocks").Logger(),
	}
}

// HandleGetPerformance returns price history and performance for a symbol
// GET /api/stocks?symbol=AAPL&startDate=2024-01-01
func (h *Handler) HandleGetPerformance(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	perf, err := h.service.Performance(r.Context(), query.Get("symbol"), query.Get("startDate"))
	if err != nil {
		if errors.Is(err, stocks.ErrInvalidQuery) {
			h.writeError(w, http.StatusBadRequest, "Symbol and startDate are required")
			return
		}
		h.log.Error().Err(err).Str("symbol", query.Get("symbol")).Msg("Failed to fetch stock data")
		h.writeError(w, http.StatusBadGateway, "Failed to fetch stock data")
		return
	}

	h.writeJSON(w, http.StatusOK, perf)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
