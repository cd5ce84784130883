// Package handler holds the JSON endpoints the web UI talks to.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/dukerupert/chefagenda/internal/websocket"
)

// maxBodyBytes bounds request bodies. Settings carry logos as data URIs and
// backups carry the whole agenda, so the limit is generous.
const maxBodyBytes = 16 << 20

// Broadcaster fans change notifications out to connected clients.
type Broadcaster interface {
	Broadcast(msg websocket.Message)
}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(websocket.Message) {}

func orNop(b Broadcaster) Broadcaster {
	if b == nil {
		return nopBroadcaster{}
	}
	return b
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

func parseIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}
