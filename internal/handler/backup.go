package handler

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/dukerupert/chefagenda/internal/agenda"
	"github.com/dukerupert/chefagenda/internal/backup"
	"github.com/dukerupert/chefagenda/internal/model"
	"github.com/dukerupert/chefagenda/internal/websocket"
)

// passphraseHeader carries the passphrase for encrypted exports and
// restores, keeping it out of URLs and access logs.
const passphraseHeader = "X-Backup-Passphrase"

type BackupHandler struct {
	agenda  *agenda.Agenda
	manager *backup.Manager
	hub     Broadcaster
	logger  *slog.Logger
}

func NewBackupHandler(a *agenda.Agenda, m *backup.Manager, hub Broadcaster, logger *slog.Logger) *BackupHandler {
	return &BackupHandler{agenda: a, manager: m, hub: orNop(hub), logger: logger}
}

// Export handles GET /api/backup. With a passphrase header the file is
// encrypted.
func (h *BackupHandler) Export(w http.ResponseWriter, r *http.Request) {
	data, err := backup.Export(h.agenda.State()).Bytes()
	if err != nil {
		h.logger.Error("export backup", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to export")
		return
	}

	filename := backup.Filename
	contentType := "application/json"
	if pass := r.Header.Get(passphraseHeader); pass != "" {
		if data, err = backup.Encrypt(data, pass); err != nil {
			h.logger.Error("encrypt backup", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to encrypt")
			return
		}
		filename += ".enc"
		contentType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

type restoreResponse struct {
	Events     *int `json:"events,omitempty"`
	Categories *int `json:"categories,omitempty"`
	Settings   bool `json:"settings"`
}

func summarize(d backup.Document) restoreResponse {
	var resp restoreResponse
	if d.Events != nil {
		n := len(*d.Events)
		resp.Events = &n
	}
	if d.Categories != nil {
		n := len(*d.Categories)
		resp.Categories = &n
	}
	resp.Settings = d.Settings != nil
	return resp
}

// Restore handles POST /api/backup/restore. Only the documents present in
// the file are replaced; a malformed file changes nothing.
func (h *BackupHandler) Restore(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "backup too large")
		return
	}
	if pass := r.Header.Get(passphraseHeader); pass != "" {
		if data, err = backup.Decrypt(data, pass); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	d, err := backup.Restore(h.agenda, bytes.TrimSpace(data))
	if err != nil {
		if errors.Is(err, backup.ErrMalformed) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("restore backup", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to restore")
		return
	}

	h.logger.Info("agenda restored from upload")
	h.hub.Broadcast(websocket.NewMessage(websocket.EntityAgenda, "restored", "", nil))
	writeJSON(w, http.StatusOK, summarize(d))
}

// Status handles GET /api/backup/status.
func (h *BackupHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.Status())
}

// ListOffsite handles GET /api/backup/offsite.
func (h *BackupHandler) ListOffsite(w http.ResponseWriter, r *http.Request) {
	list, err := h.manager.List(20)
	if err != nil {
		h.logger.Error("list backups", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list backups")
		return
	}
	if list == nil {
		list = []model.Backup{}
	}
	writeJSON(w, http.StatusOK, list)
}

// RunOffsite handles POST /api/backup/offsite.
func (h *BackupHandler) RunOffsite(w http.ResponseWriter, r *http.Request) {
	id, err := h.manager.RunNow(r.Context(), r.Header.Get(passphraseHeader))
	if err != nil {
		h.offsiteError(w, "run backup", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

// RestoreOffsite handles POST /api/backup/offsite/{id}/restore.
func (h *BackupHandler) RestoreOffsite(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.manager.RestoreOffsite(r.Context(), id, r.Header.Get(passphraseHeader)); err != nil {
		h.offsiteError(w, "restore backup", err)
		return
	}
	h.hub.Broadcast(websocket.NewMessage(websocket.EntityAgenda, "restored", "", nil))
	writeJSON(w, http.StatusOK, map[string]string{"status": "restored"})
}

func (h *BackupHandler) offsiteError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, backup.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, backup.ErrNoPassphrase), errors.Is(err, backup.ErrDecrypt), errors.Is(err, backup.ErrMalformed):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, backup.ErrBackupMissing):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error(op, "error", err)
		writeError(w, http.StatusBadGateway, "offsite storage failed")
	}
}
