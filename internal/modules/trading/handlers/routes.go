package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all trading routes
func (h *TradingHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/trading", func(r chi.Router) {
		r.Get("/", h.HandleGetState)
		r.Post("/start", h.HandleStart)
		r.Post("/stop", h.HandleStop)
	})

	r.Route("/trades", func(r chi.Router) {
		r.Get("/", h.HandleGetTrades)
		r.Post("/", h.HandleCreateTrade)
		r.Get("/summary", h.HandleGetSummary)
		r.Get("/{id}", h.HandleGetTrade)
		r.Put("/{id}", h.HandleCompleteTrade) // {id} is the job process id here
	})
}
