// Package dates holds the calendar arithmetic behind the logistics cascade.
// Every function works on local calendar days: values are midnight UTC and
// are never converted between zones.
package dates

import (
	"fmt"
	"time"
)

// Layout is the ISO calendar-date form used for every stored date.
const Layout = "2006-01-02"

const (
	orderPlacementOffset = 7
	orderClosingOffset   = 10
	menuCreationOffset   = 24
)

// Parse reads a YYYY-MM-DD string into a calendar day.
func Parse(s string) (time.Time, error) {
	d, err := time.Parse(Layout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return d, nil
}

// Format writes a calendar day as YYYY-MM-DD.
func Format(d time.Time) string {
	return d.Format(Layout)
}

// Day truncates t to its calendar day, keeping the wall-clock date of t's
// own location.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// AddDays moves d by n calendar days.
func AddDays(d time.Time, n int) time.Time {
	return d.AddDate(0, 0, n)
}

// MondayOfWeekContaining returns the Monday on or before d.
func MondayOfWeekContaining(d time.Time) time.Time {
	d = Day(d)
	// time.Weekday counts from Sunday; shift so Monday is 0.
	offset := (int(d.Weekday()) + 6) % 7
	return AddDays(d, -offset)
}

// MondayOfPreviousWeek is the order-placement date: the Monday one week
// before the week containing d starts.
func MondayOfPreviousWeek(d time.Time) time.Time {
	return AddDays(MondayOfWeekContaining(d), -orderPlacementOffset)
}

// FridayTwoWeeksBefore is the order-closing date: the Friday of the week
// before the order-placement week.
func FridayTwoWeeksBefore(d time.Time) time.Time {
	return AddDays(MondayOfWeekContaining(d), -orderClosingOffset)
}

// MenuCreationDate is the fixed menu/recipe planning deadline for a service
// on d. It ignores week boundaries.
func MenuCreationDate(d time.Time) time.Time {
	return AddDays(Day(d), -menuCreationOffset)
}

// IsUrgent reports whether an event on eventDate falls within window of now.
// Past events are urgent as well.
func IsUrgent(eventDate, now time.Time, window time.Duration) bool {
	return Day(eventDate).Sub(Day(now)) < window
}
