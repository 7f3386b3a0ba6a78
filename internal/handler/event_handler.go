package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"Mansoor88-6/escort-alerts/internal/models"
	"Mansoor88-6/escort-alerts/internal/sanitize"

	"go.uber.org/zap"
)

// EventStore is the alarm_event table as the API sees it
type EventStore interface {
	Insert(ctx context.Context, ev models.AlarmEvent) (*models.AlarmEvent, error)
	List(ctx context.Context, filter models.EventFilter) ([]models.AlarmEvent, error)
}

type EventHandler struct {
	store  EventStore
	logger *zap.Logger
}

func NewEventHandler(store EventStore, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		store:  store,
		logger: logger,
	}
}

// CreateEvent sanitizes the posted payload and stores it. The body is the payload
// itself with a "type" key; whatever the caller sent is bounded before insert.
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := decodeBody(r, &body); err != nil {
		h.logger.Warn("Failed to decode event", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	eventType, _ := body["type"].(string)
	ev := sanitize.Event(eventType, body)
	if !ev.Type.Valid() {
		writeError(w, http.StatusBadRequest, "unknown event type")
		return
	}

	stored, err := h.store.Insert(r.Context(), ev)
	if err != nil {
		h.logger.Error("Failed to store event",
			zap.String("type", string(ev.Type)),
			zap.String("service_id", ev.ServiceIDValue()),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to store event")
		return
	}

	h.logger.Info("Event stored",
		zap.String("id", stored.ID),
		zap.String("type", string(stored.Type)),
		zap.String("service_id", stored.ServiceIDValue()),
	)
	writeJSON(w, http.StatusCreated, stored)
}

// ListEvents returns recent events, newest first
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := models.EventFilter{
		Type:      models.EventType(q.Get("type")),
		ServiceID: q.Get("service_id"),
		Company:   q.Get("company"),
	}
	if filter.Type != "" && !filter.Type.Valid() {
		writeError(w, http.StatusBadRequest, "unknown event type")
		return
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339Nano, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since parameter")
			return
		}
		filter.Since = t
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		filter.Limit = limit
	}

	events, err := h.store.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list events", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []models.AlarmEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}
