package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/chefagenda/internal/agenda"
	"github.com/dukerupert/chefagenda/internal/model"
	"github.com/dukerupert/chefagenda/internal/websocket"
)

type SettingsHandler struct {
	agenda *agenda.Agenda
	hub    Broadcaster
	logger *slog.Logger
}

func NewSettingsHandler(a *agenda.Agenda, hub Broadcaster, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{agenda: a, hub: orNop(hub), logger: logger}
}

// Get handles GET /api/settings.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.agenda.Settings())
}

// Update handles PUT /api/settings. Images are stored as sent.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var s model.Settings
	if err := decodeJSON(w, r, &s); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	s.IESName = strings.TrimSpace(s.IESName)
	s.ProfName = strings.TrimSpace(s.ProfName)

	if err := h.agenda.UpdateSettings(s); err != nil {
		h.logger.Error("update settings", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}

	h.hub.Broadcast(websocket.NewMessage(websocket.EntitySettings, "updated", "", nil))
	writeJSON(w, http.StatusOK, s)
}
