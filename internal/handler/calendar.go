package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/chefagenda/internal/agenda"
	"github.com/dukerupert/chefagenda/internal/dates"
	"github.com/dukerupert/chefagenda/internal/ics"
	"github.com/dukerupert/chefagenda/internal/model"
)

// CalendarConfig holds the calendar data that comes from configuration.
type CalendarConfig struct {
	Holidays      dates.Holidays
	Year          dates.AcademicYear
	Location      *time.Location
	UrgencyWindow time.Duration
	UpcomingLimit int
	FeedName      string
}

// CalendarHandler serves the read-only views: day, dashboard, academic year
// and the iCalendar feed.
type CalendarHandler struct {
	agenda *agenda.Agenda
	cfg    CalendarConfig
	now    func() time.Time
	logger *slog.Logger
}

func NewCalendarHandler(a *agenda.Agenda, cfg CalendarConfig, logger *slog.Logger) *CalendarHandler {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &CalendarHandler{agenda: a, cfg: cfg, now: time.Now, logger: logger}
}

func (h *CalendarHandler) today() time.Time {
	return dates.Day(h.now().In(h.cfg.Location))
}

// eventView is an event with its category appearance resolved.
type eventView struct {
	model.CalendarEvent
	CategoryLabel string `json:"categoryLabel"`
	Color         string `json:"color"`
	Icon          string `json:"icon,omitempty"`
	Urgent        bool   `json:"urgent"`
	DaysLeft      int    `json:"daysLeft"`
}

func (h *CalendarHandler) view(ev model.CalendarEvent, categories []model.Category, today time.Time) eventView {
	v := eventView{CalendarEvent: ev, CategoryLabel: ev.Type, Color: model.DefaultColor}
	if c, ok := agenda.LookupCategory(categories, ev.Type); ok {
		v.CategoryLabel, v.Color, v.Icon = c.Label, c.Color, c.Icon
	}
	if d, err := dates.Parse(ev.Date); err == nil {
		v.DaysLeft = int(d.Sub(today).Hours() / 24)
		v.Urgent = !ev.IsDone && dates.IsUrgent(d, today, h.cfg.UrgencyWindow)
	}
	return v
}

func (h *CalendarHandler) views(events []model.CalendarEvent) []eventView {
	categories := h.agenda.Categories()
	today := h.today()
	out := make([]eventView, 0, len(events))
	for _, ev := range events {
		out = append(out, h.view(ev, categories, today))
	}
	return out
}

type dayResponse struct {
	Date           string      `json:"date"`
	IsHoliday      bool        `json:"isHoliday"`
	InAcademicYear bool        `json:"inAcademicYear"`
	Events         []eventView `json:"events"`
}

// Day handles GET /api/days/{date}.
func (h *CalendarHandler) Day(w http.ResponseWriter, r *http.Request) {
	date := r.PathValue("date")
	d, err := dates.Parse(date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	writeJSON(w, http.StatusOK, dayResponse{
		Date:           date,
		IsHoliday:      h.cfg.Holidays.IsHoliday(date),
		InAcademicYear: h.cfg.Year.Contains(d),
		Events:         h.views(h.agenda.Day(date)),
	})
}

type dashboardResponse struct {
	Today            string                 `json:"today"`
	Upcoming         []eventView            `json:"upcoming"`
	PendingAutoTasks int                    `json:"pendingAutoTasks"`
	UrgentCount      int                    `json:"urgentCount"`
	CategoryCounts   []agenda.CategoryCount `json:"categoryCounts"`
}

// Dashboard handles GET /api/dashboard.
func (h *CalendarHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	events := h.agenda.Events()
	today := dates.Format(h.today())

	upcoming := h.views(agenda.Upcoming(events, today, h.cfg.UpcomingLimit))
	urgent := 0
	for _, v := range upcoming {
		if v.Urgent {
			urgent++
		}
	}

	writeJSON(w, http.StatusOK, dashboardResponse{
		Today:            today,
		Upcoming:         upcoming,
		PendingAutoTasks: agenda.PendingAutoTasks(events),
		UrgentCount:      urgent,
		CategoryCounts:   agenda.CountByCategory(events, h.agenda.Categories()),
	})
}

type monthSummary struct {
	Month  string `json:"month"`
	Events int    `json:"events"`
}

type academicYearResponse struct {
	Start    string         `json:"start"`
	End      string         `json:"end"`
	Months   []monthSummary `json:"months"`
	Holidays []string       `json:"holidays"`
}

// AcademicYear handles GET /api/academic-year.
func (h *CalendarHandler) AcademicYear(w http.ResponseWriter, r *http.Request) {
	perMonth := make(map[string]int)
	for _, ev := range h.agenda.Events() {
		if len(ev.Date) >= 7 {
			perMonth[ev.Date[:7]]++
		}
	}

	months := make([]monthSummary, 0, 12)
	for _, m := range h.cfg.Year.Months() {
		key := m.Format("2006-01")
		months = append(months, monthSummary{Month: key, Events: perMonth[key]})
	}

	writeJSON(w, http.StatusOK, academicYearResponse{
		Start:    dates.Format(h.cfg.Year.Start),
		End:      dates.Format(h.cfg.Year.End),
		Months:   months,
		Holidays: h.cfg.Holidays.List(),
	})
}

// Feed handles GET /calendar.ics.
func (h *CalendarHandler) Feed(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="agenda.ics"`)
	err := ics.WriteFeed(w, h.agenda.Events(), h.agenda.Categories(), ics.FeedOptions{
		Name:     h.cfg.FeedName,
		Location: h.cfg.Location,
	})
	if err != nil {
		h.logger.Error("write calendar feed", "error", err)
	}
}
