package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/dukerupert/chefagenda/internal/agenda"
	"github.com/dukerupert/chefagenda/internal/bridge"
	"github.com/dukerupert/chefagenda/internal/websocket"
)

type BridgeHandler struct {
	agenda *agenda.Agenda
	hub    Broadcaster
	logger *slog.Logger
}

func NewBridgeHandler(a *agenda.Agenda, hub Broadcaster, logger *slog.Logger) *BridgeHandler {
	return &BridgeHandler{agenda: a, hub: orNop(hub), logger: logger}
}

// Prompt handles GET /api/bridge/prompt.
func (h *BridgeHandler) Prompt(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"prompt": bridge.MasterPrompt})
}

// Import handles POST /api/bridge/import. The body is the text pasted from
// the assistant, fences and citation markers included.
func (h *BridgeHandler) Import(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	res, err := bridge.Import(h.agenda, string(body))
	if err != nil {
		if errors.Is(err, bridge.ErrMalformed) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("bridge import", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to import events")
		return
	}

	h.logger.Info("bridge import", "created", len(res.Created), "skipped", len(res.Skipped))
	if len(res.Created) > 0 {
		h.hub.Broadcast(websocket.NewMessage(websocket.EntityEvent, "imported", "",
			map[string]any{"count": len(res.Created)}))
	}
	writeJSON(w, http.StatusOK, res)
}
