package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/cyphercast/internal/domain"
)

// EventLog reads the durable event stream.
type EventLog interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// EventHandler serves the event log.
type EventHandler struct {
	log    EventLog
	stream string
	logger *slog.Logger
}

// NewEventHandler serves events appended to the named durable stream.
func NewEventHandler(log EventLog, stream string, logger *slog.Logger) *EventHandler {
	return &EventHandler{log: log, stream: stream, logger: logger.With(slog.String("handler", "events"))}
}

type eventEntry struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

type eventsResponse struct {
	Events []eventEntry `json:"events"`
	// Next is the cursor to pass as ?after= for the following page.
	Next string `json:"next"`
}

// ListEvents returns events after a cursor.
// GET /api/events?after=0&limit=100
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = min(n, 1000)
		}
	}

	msgs, err := h.log.StreamRead(r.Context(), h.stream, after, limit)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	resp := eventsResponse{Events: make([]eventEntry, 0, len(msgs)), Next: after}
	for _, m := range msgs {
		resp.Events = append(resp.Events, eventEntry{ID: m.ID, Event: json.RawMessage(m.Payload)})
		resp.Next = m.ID
	}
	writeJSON(w, http.StatusOK, resp)
}
