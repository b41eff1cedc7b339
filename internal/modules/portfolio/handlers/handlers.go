// Package handlers provides HTTP handlers for the portfolio balance and composition.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aristath/papertrader/internal/domain"
	"github.com/aristath/papertrader/internal/modules/portfolio"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Handler handles portfolio HTTP requests
type Handler struct {
	service  *portfolio.PortfolioService
	validate *validator.Validate
	log      zerolog.Logger
}

// NewHandler creates a new portfolio handler
func NewHandler(service *portfolio.PortfolioService, log zerolog.Logger) *Handler {
	return &Handler{
		service:  service,
		validate: validator.New(),
		log:      log.With().Str("handler", "portfolio").Logger(),
	}
}

type updateRequest struct {
	Amount  float64 `json:"amount" validate:"gt=0"`
	Type    string  `json:"type" validate:"required,oneof=deposit withdrawal"`
	TradeID string  `json:"tradeId" validate:"omitempty,max=64"`
}

type updateResponse struct {
	Portfolio   *domain.Portfolio   `json:"portfolio"`
	Transaction *domain.Transaction `json:"transaction"`
}

// HandleGetPortfolio returns the portfolio, creating it on first use
// GET /api/portfolio
func (h *Handler) HandleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Get(r.Context())
	if err != nil {
		h.handleError(w, err, "Failed to get portfolio")
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

// HandleUpdatePortfolio applies a deposit or withdrawal
// POST /api/portfolio
func (h *Handler) HandleUpdatePortfolio(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	p, txn, err := h.service.Update(r.Context(), domain.PortfolioUpdate{
		Amount:  req.Amount,
		Type:    domain.BalanceChangeType(req.Type),
		TradeID: req.TradeID,
	})
	if err != nil {
		h.handleError(w, err, "Failed to update portfolio")
		return
	}
	h.writeJSON(w, http.StatusOK, updateResponse{Portfolio: p, Transaction: txn})
}

// HandleGetDistribution returns holdings and cash as shares of the balance
// GET /api/portfolio/distribution
func (h *Handler) HandleGetDistribution(w http.ResponseWriter, r *http.Request) {
	dist, err := h.service.Distribution(r.Context())
	if err != nil {
		h.handleError(w, err, "Failed to fetch portfolio distribution")
		return
	}
	h.writeJSON(w, http.StatusOK, dist)
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid request"
	}
	switch verrs[0].Field() {
	case "Amount":
		return "amount must be positive"
	case "Type":
		return "type must be deposit or withdrawal"
	default:
		return "invalid " + verrs[0].Field()
	}
}

func (h *Handler) handleError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "Trade not found")
	case errors.Is(err, domain.ErrInsufficientFunds), errors.Is(err, domain.ErrInvalidAmount):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		h.writeError(w, http.StatusConflict, err.Error())
	default:
		h.log.Error().Err(err).Msg(message)
		h.writeError(w, http.StatusInternalServerError, message)
	}
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
