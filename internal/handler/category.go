package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/chefagenda/internal/agenda"
	"github.com/dukerupert/chefagenda/internal/model"
	"github.com/dukerupert/chefagenda/internal/websocket"
)

type CategoryHandler struct {
	agenda *agenda.Agenda
	hub    Broadcaster
	logger *slog.Logger
}

func NewCategoryHandler(a *agenda.Agenda, hub Broadcaster, logger *slog.Logger) *CategoryHandler {
	return &CategoryHandler{agenda: a, hub: orNop(hub), logger: logger}
}

// List handles GET /api/categories. With ?manual=true only the categories
// offered for manual entry are returned.
func (h *CategoryHandler) List(w http.ResponseWriter, r *http.Request) {
	var cats []model.Category
	if r.URL.Query().Get("manual") == "true" {
		cats = h.agenda.ManualCategories()
	} else {
		cats = h.agenda.Categories()
	}
	if cats == nil {
		cats = []model.Category{}
	}
	writeJSON(w, http.StatusOK, cats)
}

// Create handles POST /api/categories.
func (h *CategoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var c model.Category
	if err := decodeJSON(w, r, &c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	created, err := h.agenda.AddCategory(c)
	switch {
	case err == nil:
	case errors.Is(err, agenda.ErrDuplicateCategory):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, agenda.ErrInvalidCategory), errors.Is(err, agenda.ErrSystemCategory):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	default:
		h.logger.Error("add category", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create category")
		return
	}

	h.hub.Broadcast(websocket.NewMessage(websocket.EntityCategory, "created", created.ID, nil))
	writeJSON(w, http.StatusCreated, created)
}

// Delete handles DELETE /api/categories/{id}.
func (h *CategoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := h.agenda.DeleteCategory(id)
	switch {
	case err == nil:
	case errors.Is(err, agenda.ErrCategoryNotFound):
		writeError(w, http.StatusNotFound, "category not found")
		return
	case errors.Is(err, agenda.ErrSystemCategory):
		writeError(w, http.StatusForbidden, "system categories cannot be deleted")
		return
	default:
		h.logger.Error("delete category", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete category")
		return
	}

	h.hub.Broadcast(websocket.NewMessage(websocket.EntityCategory, "deleted", id, nil))
	w.WriteHeader(http.StatusNoContent)
}
