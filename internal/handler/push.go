package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/chefagenda/internal/model"
	"github.com/dukerupert/chefagenda/internal/notify"
	"github.com/dukerupert/chefagenda/internal/store"
)

// PushHandler registers browsers for due-today alerts.
type PushHandler struct {
	subs    *store.PushStore
	service *notify.Service
	logger  *slog.Logger
}

// NewPushHandler accepts a nil service. Subscriptions are still stored so
// they start receiving alerts once VAPID keys are configured.
func NewPushHandler(subs *store.PushStore, svc *notify.Service, logger *slog.Logger) *PushHandler {
	return &PushHandler{subs: subs, service: svc, logger: logger}
}

// subscribeRequest accepts both the flat form and the shape of
// PushSubscription.toJSON() in the browser.
type subscribeRequest struct {
	Endpoint   string `json:"endpoint"`
	P256dh     string `json:"p256dh"`
	Auth       string `json:"auth"`
	DeviceName string `json:"device_name"`
	Keys       struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// Subscribe handles POST /api/push/subscribe. A new endpoint answers 201, a
// refreshed one 200.
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.P256dh == "" {
		req.P256dh = req.Keys.P256dh
	}
	if req.Auth == "" {
		req.Auth = req.Keys.Auth
	}
	req.Endpoint = strings.TrimSpace(req.Endpoint)
	if !strings.HasPrefix(req.Endpoint, "https://") {
		writeError(w, http.StatusBadRequest, "endpoint must be an https URL")
		return
	}
	if err := notify.ValidateKeys(req.P256dh, req.Auth); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sub, created, err := h.subs.Upsert(req.Endpoint, req.P256dh, req.Auth, strings.TrimSpace(req.DeviceName))
	if err != nil {
		h.logger.Error("store push subscription", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save subscription")
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
		h.logger.Info("push subscription added", "id", sub.ID, "device", sub.DeviceName)
	}
	writeJSON(w, status, sub)
}

// Unsubscribe handles DELETE /api/push/subscriptions/{id}
func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	removed, err := h.subs.Delete(id)
	if err != nil {
		h.logger.Error("delete push subscription", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete subscription")
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "subscription not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSubscriptions handles GET /api/push/subscriptions
func (h *PushHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.subs.List()
	if err != nil {
		h.logger.Error("list push subscriptions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}
	if subs == nil {
		subs = []model.PushSubscription{}
	}
	writeJSON(w, http.StatusOK, subs)
}

// GetVAPIDKey handles GET /api/push/vapid-key
func (h *PushHandler) GetVAPIDKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"public_key": h.service.VAPIDPublicKey(),
		"enabled":    h.service != nil,
	})
}

// TestNotification handles POST /api/push/test. Subscriptions the push
// service reports gone are removed.
func (h *PushHandler) TestNotification(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeError(w, http.StatusServiceUnavailable, "push notifications are not configured")
		return
	}

	subs, err := h.subs.List()
	if err != nil {
		h.logger.Error("list push subscriptions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}

	payload := notify.Payload{
		Title: "Notificación de prueba",
		Body:  "Las notificaciones funcionan correctamente.",
		URL:   "/",
		Tag:   "test",
	}

	sent, expired := 0, 0
	for i := range subs {
		err := h.service.Send(&subs[i], payload)
		switch {
		case err == nil:
			sent++
		case errors.Is(err, notify.ErrExpired):
			expired++
			if err := h.subs.DeleteByEndpoint(subs[i].Endpoint); err != nil {
				h.logger.Warn("drop expired subscription", "id", subs[i].ID, "error", err)
			}
		default:
			h.logger.Warn("test push send", "id", subs[i].ID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"sent": sent, "expired": expired})
}
