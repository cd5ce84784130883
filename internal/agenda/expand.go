package agenda

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/chefagenda/internal/dates"
	"github.com/dukerupert/chefagenda/internal/model"
)

var (
	ErrInvalidDraft   = errors.New("invalid draft")
	ErrNotFound       = errors.New("event not found")
	ErrSystemCategory = errors.New("system category")
)

// IDFunc returns a fresh, collection-unique event id.
type IDFunc func() string

// NewID returns a time-ordered UUID.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// dependentRule derives one logistics task from the service date.
type dependentRule struct {
	typ   string
	title string
	notes func(title string) string
	date  func(time.Time) time.Time
}

// logisticsCascade is applied, in order, to auto-managed events.
var logisticsCascade = []dependentRule{
	{
		typ:   model.TypeAutoMenuPrep,
		title: "📖 Preparar Recetario",
		notes: func(title string) string { return "Menú para: " + title },
		date:  dates.MenuCreationDate,
	},
	{
		typ:   model.TypeAutoAlarm,
		title: "⚠️ Elaborar Pedido",
		notes: func(title string) string { return "Revisión stock: " + title },
		date:  dates.FridayTwoWeeksBefore,
	},
	{
		typ:   model.TypeAutoCritical,
		title: "🚨 HACER PEDIDO",
		notes: func(title string) string { return "Crítico para: " + title },
		date:  dates.MondayOfPreviousWeek,
	},
}

// LookupCategory finds the category for an event type.
func LookupCategory(categories []model.Category, typ string) (model.Category, bool) {
	for _, c := range categories {
		if c.ID == typ {
			return c, true
		}
	}
	return model.Category{}, false
}

// Expand turns a draft into the primary event followed by its dependents:
// the logistics cascade when the category is auto-managed, then one
// reminder per custom reminder date.
func Expand(draft model.Draft, categories []model.Category, newID IDFunc) ([]model.CalendarEvent, error) {
	draft, service, reminders, err := validateDraft(draft)
	if err != nil {
		return nil, err
	}

	primary := model.CalendarEvent{
		ID:    newID(),
		Title: draft.Title,
		Type:  draft.Type,
		Date:  dates.Format(service),
		Time:  draft.Time,
		Notes: draft.Notes,
		IsIES: draft.IsIES,
	}

	out := make([]model.CalendarEvent, 0, 1+len(logisticsCascade)+len(reminders))
	out = append(out, primary)

	// Unknown types behave as manual categories.
	cat, _ := LookupCategory(categories, draft.Type)
	switch cat.Kind {
	case model.KindAutoManaged:
		for _, rule := range logisticsCascade {
			out = append(out, model.CalendarEvent{
				ID:              newID(),
				ParentID:        primary.ID,
				Title:           rule.title,
				Type:            rule.typ,
				Date:            dates.Format(rule.date(service)),
				Notes:           rule.notes(primary.Title),
				IsAutoGenerated: true,
			})
		}
	case model.KindManual, model.KindSystemGenerated:
	default:
		return nil, fmt.Errorf("category %q has unknown kind %v", cat.ID, cat.Kind)
	}

	for _, r := range reminders {
		out = append(out, model.CalendarEvent{
			ID:              newID(),
			ParentID:        primary.ID,
			Title:           "🔔 Recordatorio: " + primary.Title,
			Type:            model.TypeReminder,
			Date:            dates.Format(r),
			Notes:           primary.Notes,
			IsAutoGenerated: true,
		})
	}

	return out, nil
}

func validateDraft(d model.Draft) (model.Draft, time.Time, []time.Time, error) {
	d.Title = strings.TrimSpace(d.Title)
	d.Type = strings.TrimSpace(d.Type)
	d.Notes = strings.TrimSpace(d.Notes)
	d.Time = strings.TrimSpace(d.Time)

	if d.Title == "" {
		return d, time.Time{}, nil, fmt.Errorf("%w: title is required", ErrInvalidDraft)
	}

	service, err := dates.Parse(strings.TrimSpace(d.Date))
	if err != nil {
		return d, time.Time{}, nil, fmt.Errorf("%w: %w", ErrInvalidDraft, err)
	}

	if d.Time != "" {
		if _, err := time.Parse("15:04", d.Time); err != nil {
			return d, time.Time{}, nil, fmt.Errorf("%w: time must be HH:MM", ErrInvalidDraft)
		}
	}

	reminders := make([]time.Time, 0, len(d.CustomReminders))
	for _, s := range d.CustomReminders {
		r, err := dates.Parse(strings.TrimSpace(s))
		if err != nil {
			return d, time.Time{}, nil, fmt.Errorf("%w: reminder: %w", ErrInvalidDraft, err)
		}
		reminders = append(reminders, r)
	}

	return d, service, reminders, nil
}
