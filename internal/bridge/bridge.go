// Package bridge imports events pasted from an external extraction
// assistant. The pasted text is cleaned of code fences and citation
// markers, read as lenient JSON and turned into drafts one item at a time.
package bridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/tailscale/hujson"

	"github.com/dukerupert/chefagenda/internal/agenda"
	"github.com/dukerupert/chefagenda/internal/model"
)

// ErrMalformed is returned when the cleaned payload is not a JSON array.
var ErrMalformed = errors.New("malformed bridge payload")

// MasterPrompt is the instruction handed to the extraction assistant.
const MasterPrompt = `Actúa como un experto en extracción de datos. Analiza el calendario escolar 2025-26 del IES. Identifica eventos (Evaluaciones, Exámenes, Festivos, Servicios de Comedor). Devuelve un array JSON: { "title": string, "date": "YYYY-MM-DD", "type": "DINING_SERVICE"|"EXAM"|"THEORY"|"LOGISTICS" }. IMPORTANTE: Solo JSON, sin texto extra.`

var (
	fences    = regexp.MustCompile("```json|```")
	citations = regexp.MustCompile(`\[cite.*?\]`)
)

// Clean removes code fences and citation markers.
func Clean(text string) string {
	text = strings.TrimSpace(fences.ReplaceAllString(text, ""))
	return citations.ReplaceAllString(text, "")
}

// item is the loose shape of one payload entry. Fields that are not strings
// are ignored rather than failing the batch.
type item struct {
	Title any `json:"title"`
	Date  any `json:"date"`
	Type  any `json:"type"`
	Notes any `json:"notes"`
}

func str(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// Parse cleans text and returns one draft per array element, in order. An
// element that is not an object yields an empty draft, which fails on its
// own when expanded.
func Parse(text string) ([]model.Draft, error) {
	standardized, err := hujson.Standardize([]byte(Clean(text)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if !bytes.HasPrefix(bytes.TrimSpace(standardized), []byte("[")) {
		return nil, fmt.Errorf("%w: expected a JSON array", ErrMalformed)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(standardized, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	drafts := make([]model.Draft, len(raw))
	for i, r := range raw {
		var it item
		if err := json.Unmarshal(r, &it); err != nil {
			continue
		}
		drafts[i] = model.Draft{
			Title: str(it.Title),
			Date:  str(it.Date),
			Type:  str(it.Type),
			Notes: str(it.Notes),
		}
	}
	return drafts, nil
}

// Importer stores a batch of drafts as imported events.
type Importer interface {
	ImportDrafts(drafts []model.Draft) ([]model.CalendarEvent, []agenda.ItemError, error)
}

// Result summarises one import.
type Result struct {
	Created []model.CalendarEvent `json:"created"`
	Skipped []agenda.ItemError    `json:"skipped"`
}

// Import parses text and hands the drafts to imp. A malformed payload leaves
// imp untouched.
func Import(imp Importer, text string) (Result, error) {
	drafts, err := Parse(text)
	if err != nil {
		return Result{}, err
	}
	created, skipped, err := imp.ImportDrafts(drafts)
	if err != nil {
		return Result{}, fmt.Errorf("import drafts: %w", err)
	}
	if created == nil {
		created = []model.CalendarEvent{}
	}
	if skipped == nil {
		skipped = []agenda.ItemError{}
	}
	return Result{Created: created, Skipped: skipped}, nil
}
