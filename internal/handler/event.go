package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/chefagenda/internal/agenda"
	"github.com/dukerupert/chefagenda/internal/dates"
	"github.com/dukerupert/chefagenda/internal/ics"
	"github.com/dukerupert/chefagenda/internal/model"
	"github.com/dukerupert/chefagenda/internal/websocket"
)

type EventHandler struct {
	agenda *agenda.Agenda
	hub    Broadcaster
	logger *slog.Logger
}

func NewEventHandler(a *agenda.Agenda, hub Broadcaster, logger *slog.Logger) *EventHandler {
	return &EventHandler{agenda: a, hub: orNop(hub), logger: logger}
}

// Create handles POST /api/events. The response lists the primary event
// followed by its dependents.
func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	var draft model.Draft
	if err := decodeJSON(w, r, &draft); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	// Provenance is only set by the bridge.
	draft.IsIES = false

	created, err := h.agenda.AddEvent(draft)
	if err != nil {
		if errors.Is(err, agenda.ErrInvalidDraft) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("add event", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create event")
		return
	}

	h.hub.Broadcast(websocket.NewMessage(websocket.EntityEvent, "created", created[0].ID,
		map[string]any{"count": len(created)}))
	writeJSON(w, http.StatusCreated, created)
}

// List handles GET /api/events. Optional from/to (inclusive) and type
// query parameters narrow the result.
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to, typ := q.Get("from"), q.Get("to"), q.Get("type")
	for _, d := range []string{from, to} {
		if d == "" {
			continue
		}
		if _, err := dates.Parse(d); err != nil {
			writeError(w, http.StatusBadRequest, "from and to must be YYYY-MM-DD")
			return
		}
	}

	events := make([]model.CalendarEvent, 0)
	for _, e := range h.agenda.Events() {
		if from != "" && e.Date < from {
			continue
		}
		if to != "" && e.Date > to {
			continue
		}
		if typ != "" && e.Type != typ {
			continue
		}
		events = append(events, e)
	}
	writeJSON(w, http.StatusOK, events)
}

// Get handles GET /api/events/{id}.
func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	ev, err := h.agenda.Event(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// Delete handles DELETE /api/events/{id}. Dependents of the event are
// removed with it.
func (h *EventHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	removed, err := h.agenda.DeleteEvent(id)
	if err != nil {
		if errors.Is(err, agenda.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		h.logger.Error("delete event", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete event")
		return
	}

	h.hub.Broadcast(websocket.NewMessage(websocket.EntityEvent, "deleted", id,
		map[string]any{"count": removed}))
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// Toggle handles POST /api/events/{id}/toggle.
func (h *EventHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ev, err := h.agenda.ToggleDone(id)
	if err != nil {
		if errors.Is(err, agenda.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		h.logger.Error("toggle event", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update event")
		return
	}

	h.hub.Broadcast(websocket.NewMessage(websocket.EntityEvent, "updated", id, nil))
	writeJSON(w, http.StatusOK, ev)
}

// CalendarLink handles GET /api/events/{id}/calendar-link.
func (h *EventHandler) CalendarLink(w http.ResponseWriter, r *http.Request) {
	ev, err := h.agenda.Event(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	link, err := ics.CalendarLink(ev)
	if err != nil {
		h.logger.Error("calendar link", "id", ev.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to build link")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": link})
}
