package agenda

import (
	"sort"

	"github.com/dukerupert/chefagenda/internal/model"
)

// Delete removes the event with the given id and every event whose parent
// it is. Dependents never have dependents, so one level is enough. The
// input slice is not modified.
func Delete(events []model.CalendarEvent, id string) ([]model.CalendarEvent, int) {
	out := make([]model.CalendarEvent, 0, len(events))
	for _, e := range events {
		if e.ID == id || e.ParentID == id {
			continue
		}
		out = append(out, e)
	}
	return out, len(events) - len(out)
}

// ToggleDone flips isDone on exactly one event. The input slice is not
// modified.
func ToggleDone(events []model.CalendarEvent, id string) ([]model.CalendarEvent, bool) {
	out := make([]model.CalendarEvent, len(events))
	copy(out, events)
	for i := range out {
		if out[i].ID == id {
			out[i].IsDone = !out[i].IsDone
			return out, true
		}
	}
	return events, false
}

// Find returns the event with the given id.
func Find(events []model.CalendarEvent, id string) (model.CalendarEvent, bool) {
	for _, e := range events {
		if e.ID == id {
			return e, true
		}
	}
	return model.CalendarEvent{}, false
}

// OnDate returns the events of one day ordered by time of day.
func OnDate(events []model.CalendarEvent, date string) []model.CalendarEvent {
	var out []model.CalendarEvent
	for _, e := range events {
		if e.Date == date {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SortTime() < out[j].SortTime()
	})
	return out
}

// Upcoming returns up to limit pending events dated today or later, earliest
// first.
func Upcoming(events []model.CalendarEvent, today string, limit int) []model.CalendarEvent {
	var out []model.CalendarEvent
	for _, e := range events {
		if !e.IsDone && e.Date >= today {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date < out[j].Date
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// PendingAutoTasks counts generated dependents not yet done.
func PendingAutoTasks(events []model.CalendarEvent) int {
	n := 0
	for _, e := range events {
		if e.IsAutoGenerated && !e.IsDone {
			n++
		}
	}
	return n
}

// CategoryCount is the number of events filed under one category.
type CategoryCount struct {
	Category model.Category `json:"category"`
	Count    int            `json:"count"`
}

// CountByCategory counts events per non-system category, in catalog order.
func CountByCategory(events []model.CalendarEvent, categories []model.Category) []CategoryCount {
	byType := make(map[string]int, len(categories))
	for _, e := range events {
		byType[e.Type]++
	}
	out := make([]CategoryCount, 0, len(categories))
	for _, c := range categories {
		if c.IsSystem() {
			continue
		}
		out = append(out, CategoryCount{Category: c, Count: byType[c.ID]})
	}
	return out
}
