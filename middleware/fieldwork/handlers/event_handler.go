package handlers

import (
	"net/http"

	"fieldproof-backend/core/fieldwork"
	fwengine "fieldproof-backend/middleware/fieldwork"
	"fieldproof-backend/middleware/fieldwork/middleware"
)

// EventHandler serves the recent event feed
type EventHandler struct {
	bus *fwengine.EventBus
}

// NewEventHandler creates a new event handler
func NewEventHandler(bus *fwengine.EventBus) *EventHandler {
	return &EventHandler{bus: bus}
}

// Events handles GET /api/events?task=&limit=
func (h *EventHandler) Events(w http.ResponseWriter, r *http.Request) {
	events := h.bus.Recent(r.URL.Query().Get("task"), intFromQuery(r, "limit", 100))
	if events == nil {
		events = []fieldwork.Event{}
	}
	middleware.JSON(w, http.StatusOK, map[string]any{
		"events": events,
		"total":  len(events),
	})
}
