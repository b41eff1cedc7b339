// Package handlers provides HTTP handlers for ledger operations.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/aristath/papertrader/internal/domain"
	"github.com/rs/zerolog"
)

// TransactionLister reads the transaction log
type TransactionLister interface {
	ListTransactions(ctx context.Context) ([]domain.Transaction, error)
}

// Handler handles ledger HTTP requests
type Handler struct {
	transactions TransactionLister
	log          zerolog.Logger
}

// NewHandler creates a new ledger handler
func NewHandler(
	transactions TransactionLister,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		transactions: transactions,
		log:          log.With().Str("handler", "ledger").Logger(),
	}
}

// HandleGetTransactions handles GET /api/transactions
// Optional filters: type, tradeId, limit.
func (h *Handler) HandleGetTransactions(w http.ResponseWriter, r *http.Request) {
	limit := 0 // no limit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 {
			limit = parsedLimit
		}
	}
	txnType := r.URL.Query().Get("type")
	tradeID := r.URL.Query().Get("tradeId")

	txns, err := h.transactions.ListTransactions(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list transactions")
		h.writeError(w, http.StatusInternalServerError, "Failed to list transactions")
		return
	}

	result := make([]domain.Transaction, 0, len(txns))
	for _, txn := range txns {
		if txnType != "" && string(txn.Type) != txnType {
			continue
		}
		if tradeID != "" && txn.TradeID != tradeID {
			continue
		}
		result = append(result, txn)
		if limit > 0 && len(result) == limit {
			break
		}
	}

	h.writeJSON(w, http.StatusOK, result)
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
