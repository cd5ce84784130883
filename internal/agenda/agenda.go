// Package agenda owns the event collection: it expands drafts into events,
// applies deletes and toggles, and writes every change through a
// DocumentStore.
package agenda

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/dukerupert/chefagenda/internal/model"
)

var (
	ErrCategoryNotFound  = errors.New("category not found")
	ErrDuplicateCategory = errors.New("category already exists")
	ErrInvalidCategory   = errors.New("invalid category")
)

// DocumentStore persists one JSON document per key. Load reports ok=false
// when the key has never been written.
type DocumentStore interface {
	Load(key string) (doc []byte, ok bool, err error)
	Save(key string, doc []byte) error
}

// Keys names the documents that make up the agenda.
type Keys struct {
	Events     string
	Categories string
	Settings   string
	Notified   string
}

// KeysWithPrefix builds the document keys under a common prefix.
func KeysWithPrefix(prefix string) Keys {
	return Keys{
		Events:     prefix + "events",
		Categories: prefix + "categories",
		Settings:   prefix + "settings",
		Notified:   prefix + "notified",
	}
}

// DefaultPrefix matches the keys used by earlier versions of the agenda.
const DefaultPrefix = "ies_murcia_v4_"

// State is a copy of everything the agenda holds.
type State struct {
	Events     []model.CalendarEvent `json:"events"`
	Categories []model.Category      `json:"categories"`
	Settings   model.Settings        `json:"settings"`
}

// Replacement carries the parts of the state to overwrite. Nil fields are
// left as they are.
type Replacement struct {
	Events     *[]model.CalendarEvent
	Categories *[]model.Category
	Settings   *model.Settings
}

type Option func(*Agenda)

// WithIDFunc replaces the event id generator.
func WithIDFunc(f IDFunc) Option {
	return func(a *Agenda) { a.newID = f }
}

// WithKeys replaces the document keys.
func WithKeys(k Keys) Option {
	return func(a *Agenda) { a.keys = k }
}

type Agenda struct {
	mu     sync.RWMutex
	store  DocumentStore
	keys   Keys
	newID  IDFunc
	logger *slog.Logger

	events     []model.CalendarEvent
	categories []model.Category
	settings   model.Settings
}

// New loads the agenda from store. Missing or unreadable documents fall back
// to an empty collection, the default catalog and default settings.
func New(store DocumentStore, logger *slog.Logger, opts ...Option) *Agenda {
	a := &Agenda{
		store:  store,
		keys:   KeysWithPrefix(DefaultPrefix),
		newID:  NewID,
		logger: logger,
	}
	for _, opt := range opts {
		opt(a)
	}

	var events []model.CalendarEvent
	if a.load(a.keys.Events, &events) && events != nil {
		a.events = events
	} else {
		a.events = []model.CalendarEvent{}
	}

	var categories []model.Category
	if a.load(a.keys.Categories, &categories) && categories != nil {
		a.categories = categories
	} else {
		a.categories = model.DefaultCategories()
	}

	var settings model.Settings
	if a.load(a.keys.Settings, &settings) {
		a.settings = settings
	} else {
		a.settings = model.DefaultSettings()
	}

	a.logger.Info("agenda loaded",
		"events", len(a.events),
		"categories", len(a.categories),
	)
	return a
}

func (a *Agenda) load(key string, v any) bool {
	doc, ok, err := a.store.Load(key)
	if err != nil {
		a.logger.Warn("load document", "key", key, "error", err)
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(doc, v); err != nil {
		a.logger.Warn("decode document, using defaults", "key", key, "error", err)
		return false
	}
	return true
}

func (a *Agenda) save(key string, v any) error {
	doc, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := a.store.Save(key, doc); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// commitEvents persists next and swaps it in. Callers hold a.mu.
func (a *Agenda) commitEvents(next []model.CalendarEvent) error {
	if err := a.save(a.keys.Events, next); err != nil {
		return err
	}
	a.events = next
	return nil
}

// AddEvent expands the draft and stores the primary event with its
// dependents.
func (a *Agenda) AddEvent(draft model.Draft) ([]model.CalendarEvent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	created, err := Expand(draft, a.categories, a.newID)
	if err != nil {
		return nil, err
	}

	next := make([]model.CalendarEvent, 0, len(a.events)+len(created))
	next = append(next, a.events...)
	next = append(next, created...)
	if err := a.commitEvents(next); err != nil {
		return nil, err
	}
	return created, nil
}

// ItemError reports one import item that could not be expanded.
type ItemError struct {
	Index int    `json:"index"`
	Title string `json:"title,omitempty"`
	Err   string `json:"error"`
}

// ImportDrafts runs every draft through Expand as an imported event and
// stores the whole batch with a single write. Drafts that fail are reported
// and skipped.
func (a *Agenda) ImportDrafts(drafts []model.Draft) ([]model.CalendarEvent, []ItemError, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var created []model.CalendarEvent
	var skipped []ItemError
	for i, d := range drafts {
		d.IsIES = true
		d.CustomReminders = nil
		evs, err := Expand(d, a.categories, a.newID)
		if err != nil {
			skipped = append(skipped, ItemError{Index: i, Title: d.Title, Err: err.Error()})
			continue
		}
		created = append(created, evs...)
	}

	if len(created) == 0 {
		return nil, skipped, nil
	}

	next := make([]model.CalendarEvent, 0, len(a.events)+len(created))
	next = append(next, a.events...)
	next = append(next, created...)
	if err := a.commitEvents(next); err != nil {
		return nil, nil, err
	}
	return created, skipped, nil
}

// DeleteEvent removes the event and its dependents. It returns how many
// events were removed.
func (a *Agenda) DeleteEvent(id string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := Find(a.events, id); !ok {
		return 0, ErrNotFound
	}
	next, removed := Delete(a.events, id)
	if err := a.commitEvents(next); err != nil {
		return 0, err
	}
	return removed, nil
}

// ToggleDone flips the completion flag of one event.
func (a *Agenda) ToggleDone(id string) (model.CalendarEvent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	next, ok := ToggleDone(a.events, id)
	if !ok {
		return model.CalendarEvent{}, ErrNotFound
	}
	if err := a.commitEvents(next); err != nil {
		return model.CalendarEvent{}, err
	}
	ev, _ := Find(next, id)
	return ev, nil
}

// Event returns one event by id.
func (a *Agenda) Event(id string) (model.CalendarEvent, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	ev, ok := Find(a.events, id)
	if !ok {
		return model.CalendarEvent{}, ErrNotFound
	}
	return ev, nil
}

// Events returns a copy of the collection.
func (a *Agenda) Events() []model.CalendarEvent {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]model.CalendarEvent, len(a.events))
	copy(out, a.events)
	return out
}

// Day returns the events of one date ordered by time.
func (a *Agenda) Day(date string) []model.CalendarEvent {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return OnDate(a.events, date)
}

// Categories returns a copy of the catalog.
func (a *Agenda) Categories() []model.Category {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]model.Category, len(a.categories))
	copy(out, a.categories)
	return out
}

// ManualCategories returns the categories offered for manual entry.
func (a *Agenda) ManualCategories() []model.Category {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []model.Category
	for _, c := range a.categories {
		if !c.IsSystem() {
			out = append(out, c)
		}
	}
	return out
}

var nonIDChars = regexp.MustCompile(`[^A-Z0-9]+`)

// AddCategory appends a user category. An empty id is derived from the
// label.
func (a *Agenda) AddCategory(c model.Category) (model.Category, error) {
	c.Label = strings.TrimSpace(c.Label)
	c.ID = strings.TrimSpace(c.ID)
	if c.Label == "" {
		return model.Category{}, fmt.Errorf("%w: label is required", ErrInvalidCategory)
	}
	if c.Kind == model.KindSystemGenerated {
		return model.Category{}, ErrSystemCategory
	}
	if c.ID == "" {
		c.ID = strings.Trim(nonIDChars.ReplaceAllString(strings.ToUpper(c.Label), "_"), "_")
	}
	if c.ID == "" {
		return model.Category{}, fmt.Errorf("%w: cannot derive id from %q", ErrInvalidCategory, c.Label)
	}
	if c.Color == "" {
		c.Color = model.DefaultColor
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := LookupCategory(a.categories, c.ID); ok {
		return model.Category{}, fmt.Errorf("%w: %s", ErrDuplicateCategory, c.ID)
	}

	next := make([]model.Category, 0, len(a.categories)+1)
	next = append(next, a.categories...)
	next = append(next, c)
	if err := a.save(a.keys.Categories, next); err != nil {
		return model.Category{}, err
	}
	a.categories = next
	return c, nil
}

// DeleteCategory removes a non-system category. Events keep their type and
// fall back to the uncategorized appearance.
func (a *Agenda) DeleteCategory(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	c, ok := LookupCategory(a.categories, id)
	if !ok {
		return ErrCategoryNotFound
	}
	if c.IsSystem() {
		return ErrSystemCategory
	}

	next := make([]model.Category, 0, len(a.categories))
	for _, existing := range a.categories {
		if existing.ID != id {
			next = append(next, existing)
		}
	}
	if err := a.save(a.keys.Categories, next); err != nil {
		return err
	}
	a.categories = next
	return nil
}

// Settings returns the branding settings.
func (a *Agenda) Settings() model.Settings {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.settings
}

// UpdateSettings replaces the branding settings.
func (a *Agenda) UpdateSettings(s model.Settings) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.save(a.keys.Settings, s); err != nil {
		return err
	}
	a.settings = s
	return nil
}

// State returns a copy of the whole agenda.
func (a *Agenda) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()

	st := State{
		Events:     make([]model.CalendarEvent, len(a.events)),
		Categories: make([]model.Category, len(a.categories)),
		Settings:   a.settings,
	}
	copy(st.Events, a.events)
	copy(st.Categories, a.categories)
	return st
}

// Replace overwrites the parts of the state present in r, writing events,
// categories and settings in that order. Memory is only updated for
// documents that were saved.
func (a *Agenda) Replace(r Replacement) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if r.Events != nil {
		events := *r.Events
		if events == nil {
			events = []model.CalendarEvent{}
		}
		if err := a.save(a.keys.Events, events); err != nil {
			return err
		}
		a.events = events
	}
	if r.Categories != nil {
		categories := *r.Categories
		if categories == nil {
			categories = []model.Category{}
		}
		if err := a.save(a.keys.Categories, categories); err != nil {
			return err
		}
		a.categories = categories
	}
	if r.Settings != nil {
		if err := a.save(a.keys.Settings, *r.Settings); err != nil {
			return err
		}
		a.settings = *r.Settings
	}
	return nil
}

// Keys returns the document keys in use.
func (a *Agenda) Keys() Keys {
	return a.keys
}
