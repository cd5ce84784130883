package dates

import (
	"fmt"
	"sort"
	"time"
)

// Holidays is a fixed list of non-teaching days for one academic year.
// The list is data: it is never generated and never consulted by the
// cascade offsets.
type Holidays struct {
	days map[string]struct{}
}

// NewHolidays builds a lookup from YYYY-MM-DD strings. Invalid entries are
// rejected so a typo in configuration is caught at startup.
func NewHolidays(list []string) (Holidays, error) {
	h := Holidays{days: make(map[string]struct{}, len(list))}
	for _, s := range list {
		if _, err := Parse(s); err != nil {
			return Holidays{}, fmt.Errorf("holiday list: %w", err)
		}
		h.days[s] = struct{}{}
	}
	return h, nil
}

// IsHoliday is an exact match on the date string.
func (h Holidays) IsHoliday(date string) bool {
	_, ok := h.days[date]
	return ok
}

// List returns the holidays in calendar order.
func (h Holidays) List() []string {
	out := make([]string, 0, len(h.days))
	for d := range h.days {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// AcademicYear bounds the months shown in the year view.
type AcademicYear struct {
	Start time.Time
	End   time.Time
}

// NewAcademicYear parses the configured bounds.
func NewAcademicYear(start, end string) (AcademicYear, error) {
	s, err := Parse(start)
	if err != nil {
		return AcademicYear{}, fmt.Errorf("academic year start: %w", err)
	}
	e, err := Parse(end)
	if err != nil {
		return AcademicYear{}, fmt.Errorf("academic year end: %w", err)
	}
	if e.Before(s) {
		return AcademicYear{}, fmt.Errorf("academic year ends %s before it starts %s", end, start)
	}
	return AcademicYear{Start: s, End: e}, nil
}

// Contains reports whether d falls within the year, bounds included.
func (y AcademicYear) Contains(d time.Time) bool {
	d = Day(d)
	return !d.Before(y.Start) && !d.After(y.End)
}

// Months returns the first day of every month touched by the year.
func (y AcademicYear) Months() []time.Time {
	var months []time.Time
	m := time.Date(y.Start.Year(), y.Start.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !m.After(y.End) {
		months = append(months, m)
		m = m.AddDate(0, 1, 0)
	}
	return months
}
