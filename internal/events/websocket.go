package events

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

// StreamHandler serves the event bus over a websocket
type StreamHandler struct {
	bus          *Bus
	writeTimeout time.Duration
	log          zerolog.Logger
}

// NewStreamHandler creates a websocket handler for the bus
func NewStreamHandler(bus *Bus, log zerolog.Logger) *StreamHandler {
	return &StreamHandler{
		bus:          bus,
		writeTimeout: 5 * time.Second,
		log:          log.With().Str("handler", "events_ws").Logger(),
	}
}

// ServeHTTP handles GET /api/events/ws
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // dashboard may be served from another origin
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to accept websocket")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	events, unsubscribe := h.bus.Subscribe()
	defer unsubscribe()

	// Clients never send; CloseRead cancels ctx when they go away
	ctx := conn.CloseRead(r.Context())

	h.log.Debug().Int("subscribers", h.bus.SubscriberCount()).Msg("Event stream client connected")

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case event, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if err := h.write(ctx, conn, event); err != nil {
				h.log.Debug().Err(err).Msg("Event stream client dropped")
				return
			}
		}
	}
}

func (h *StreamHandler) write(ctx context.Context, conn *websocket.Conn, event EventWithData) error {
	data, err := json.Marshal(&event)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
