// Package ics hands events to external calendars, either as a one-off
// "add to calendar" link or as a subscribable iCalendar feed.
package ics

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/dukerupert/chefagenda/internal/agenda"
	"github.com/dukerupert/chefagenda/internal/dates"
	"github.com/dukerupert/chefagenda/internal/model"
)

const calendarBase = "https://calendar.google.com/calendar/render"

// escape percent-encodes s, spaces included.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// CalendarLink builds an external calendar entry for ev on its own day.
func CalendarLink(ev model.CalendarEvent) (string, error) {
	d, err := dates.Parse(ev.Date)
	if err != nil {
		return "", fmt.Errorf("calendar link for %s: %w", ev.ID, err)
	}
	day := d.Format("20060102")
	return calendarBase +
		"?action=TEMPLATE" +
		"&text=" + escape(ev.Title) +
		"&dates=" + day + "/" + day +
		"&details=" + escape(ev.Notes), nil
}

// FeedOptions configures the iCalendar feed.
type FeedOptions struct {
	Name     string
	Location *time.Location
}

// Feed renders every event as a VEVENT. Events without a time are all-day;
// timed events last one hour in opts.Location.
func Feed(events []model.CalendarEvent, categories []model.Category, opts FeedOptions) *ical.Calendar {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//chefagenda//agenda//ES")
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}
	cal.SetXWRTimezone(loc.String())

	stamp := time.Now().UTC()
	for _, ev := range events {
		d, err := dates.Parse(ev.Date)
		if err != nil {
			continue
		}

		ve := cal.AddEvent(ev.ID + "@chefagenda")
		ve.SetDtStampTime(stamp)
		ve.SetSummary(ev.Title)
		if ev.Notes != "" {
			ve.SetDescription(ev.Notes)
		}
		if c, ok := agenda.LookupCategory(categories, ev.Type); ok {
			ve.SetProperty(ical.ComponentPropertyCategories, c.Label)
		}

		if t, err := time.ParseInLocation("15:04", ev.Time, loc); err == nil && ev.Time != "" {
			start := time.Date(d.Year(), d.Month(), d.Day(), t.Hour(), t.Minute(), 0, 0, loc)
			ve.SetStartAt(start)
			ve.SetEndAt(start.Add(time.Hour))
		} else {
			ve.SetAllDayStartAt(d)
			ve.SetAllDayEndAt(d.AddDate(0, 0, 1))
		}
	}
	return cal
}

// WriteFeed serializes the feed to w.
func WriteFeed(w io.Writer, events []model.CalendarEvent, categories []model.Category, opts FeedOptions) error {
	if _, err := io.WriteString(w, Feed(events, categories, opts).Serialize()); err != nil {
		return fmt.Errorf("write calendar feed: %w", err)
	}
	return nil
}
