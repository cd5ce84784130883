package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukerupert/chefagenda/internal/agenda"
)

// Dedup remembers which events already triggered an alert. It is stored
// as a JSON object of event id to true.
type Dedup struct {
	mu     sync.Mutex
	store  agenda.DocumentStore
	key    string
	seen   map[string]bool
	logger *slog.Logger
}

// NewDedup loads the map stored under key. A missing or unreadable
// document starts empty.
func NewDedup(store agenda.DocumentStore, key string, logger *slog.Logger) *Dedup {
	d := &Dedup{store: store, key: key, seen: map[string]bool{}, logger: logger}

	doc, ok, err := store.Load(key)
	switch {
	case err != nil:
		logger.Warn("load notified map", "key", key, "error", err)
	case ok:
		var seen map[string]bool
		if err := json.Unmarshal(doc, &seen); err != nil {
			logger.Warn("decode notified map, starting empty", "key", key, "error", err)
		} else if seen != nil {
			d.seen = seen
		}
	}
	return d
}

func (d *Dedup) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[id]
}

// Mark records ids as notified and saves the map.
func (d *Dedup) Mark(ids ...string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}
	for _, id := range ids {
		d.seen[id] = true
	}
	return d.saveLocked()
}

// Prune drops every id for which keep returns false.
func (d *Dedup) Prune(keep func(id string) bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	changed := false
	for id := range d.seen {
		if !keep(id) {
			delete(d.seen, id)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return d.saveLocked()
}

func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func (d *Dedup) saveLocked() error {
	doc, err := json.Marshal(d.seen)
	if err != nil {
		return fmt.Errorf("encode notified map: %w", err)
	}
	if err := d.store.Save(d.key, doc); err != nil {
		return fmt.Errorf("save notified map: %w", err)
	}
	return nil
}
