package backup

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/dukerupert/chefagenda/internal/agenda"
	"github.com/dukerupert/chefagenda/internal/dates"
	"github.com/dukerupert/chefagenda/internal/model"
)

// ErrMalformed is returned when a backup file cannot be restored.
var ErrMalformed = errors.New("malformed backup")

// Version is written into every export. Restores ignore it.
const Version = "1"

// Filename is the suggested name for a plain export.
const Filename = "backup_ies.json"

// Document is the export format. Each part is optional on restore; a
// missing part leaves the current state alone.
type Document struct {
	Version    string                 `json:"version,omitempty"`
	Events     *[]model.CalendarEvent `json:"events,omitempty"`
	Categories *[]model.Category      `json:"categories,omitempty"`
	Settings   *model.Settings        `json:"settings,omitempty"`
}

// Export builds a full document from st.
func Export(st agenda.State) Document {
	events := st.Events
	if events == nil {
		events = []model.CalendarEvent{}
	}
	categories := st.Categories
	if categories == nil {
		categories = []model.Category{}
	}
	settings := st.Settings
	return Document{
		Version:    Version,
		Events:     &events,
		Categories: &categories,
		Settings:   &settings,
	}
}

// Write encodes d as indented JSON.
func (d Document) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d); err != nil {
		return fmt.Errorf("encode backup: %w", err)
	}
	return nil
}

// Bytes returns the encoded document.
func (d Document) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := d.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Parse decodes and checks a backup file. Nothing is returned unless every
// present part is well formed.
func Parse(data []byte) (Document, error) {
	trimmed := bytes.TrimSpace(data)
	if !bytes.HasPrefix(trimmed, []byte("{")) {
		return Document{}, fmt.Errorf("%w: expected a JSON object", ErrMalformed)
	}

	var d Document
	if err := json.Unmarshal(trimmed, &d); err != nil {
		return Document{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	if d.Events != nil {
		for i, ev := range *d.Events {
			if ev.ID == "" {
				return Document{}, fmt.Errorf("%w: event %d has no id", ErrMalformed, i)
			}
			if _, err := dates.Parse(ev.Date); err != nil {
				return Document{}, fmt.Errorf("%w: event %s: %w", ErrMalformed, ev.ID, err)
			}
		}
	}
	if d.Categories != nil {
		for i, c := range *d.Categories {
			if c.ID == "" {
				return Document{}, fmt.Errorf("%w: category %d has no id", ErrMalformed, i)
			}
		}
	}
	return d, nil
}

// Replacement returns the parts of d to apply.
func (d Document) Replacement() agenda.Replacement {
	return agenda.Replacement{
		Events:     d.Events,
		Categories: d.Categories,
		Settings:   d.Settings,
	}
}

// Restorer applies a replacement to the live state.
type Restorer interface {
	Replace(r agenda.Replacement) error
}

// Restore parses data and applies it to r. A malformed file changes
// nothing.
func Restore(r Restorer, data []byte) (Document, error) {
	d, err := Parse(data)
	if err != nil {
		return Document{}, err
	}
	if err := r.Replace(d.Replacement()); err != nil {
		return Document{}, fmt.Errorf("replace state: %w", err)
	}
	return d, nil
}
