package handler

import (
	"bytes"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/chefagenda/internal/agenda"
	"github.com/dukerupert/chefagenda/internal/backup"
	"github.com/dukerupert/chefagenda/internal/database"
	"github.com/dukerupert/chefagenda/internal/dates"
	"github.com/dukerupert/chefagenda/internal/model"
	"github.com/dukerupert/chefagenda/internal/store"
	"github.com/dukerupert/chefagenda/internal/websocket"
)

type recordingHub struct {
	mu   sync.Mutex
	msgs []websocket.Message
}

func (h *recordingHub) Broadcast(msg websocket.Message) {
	h.mu.Lock()
	h.msgs = append(h.msgs, msg)
	h.mu.Unlock()
}

func (h *recordingHub) types() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.msgs))
	for i, m := range h.msgs {
		out[i] = m.Type
	}
	return out
}

type testEnv struct {
	mux    *http.ServeMux
	agenda *agenda.Agenda
	hub    *recordingHub
	pushes *store.PushStore
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	n := 0
	ag := agenda.New(store.NewDocumentStore(db), slog.Default(), agenda.WithIDFunc(func() string {
		n++
		return fmt.Sprintf("ev-%d", n)
	}))

	holidays, err := dates.NewHolidays([]string{"2025-12-08", "2025-12-25"})
	require.NoError(t, err)
	year, err := dates.NewAcademicYear("2025-09-01", "2026-08-31")
	require.NoError(t, err)

	hub := &recordingHub{}
	logger := slog.Default()
	pushes := store.NewPushStore(db)
	manager := backup.NewManager(backup.Config{}, ag, store.NewBackupStore(db), logger, nil)

	events := NewEventHandler(ag, hub, logger)
	cal := NewCalendarHandler(ag, CalendarConfig{
		Holidays:      holidays,
		Year:          year,
		Location:      time.UTC,
		UrgencyWindow: 20 * 24 * time.Hour,
		UpcomingLimit: 8,
		FeedName:      "Agenda",
	}, logger)
	cal.now = func() time.Time { return time.Date(2025, 12, 1, 10, 0, 0, 0, time.UTC) }
	cats := NewCategoryHandler(ag, hub, logger)
	settings := NewSettingsHandler(ag, hub, logger)
	br := NewBridgeHandler(ag, hub, logger)
	bk := NewBackupHandler(ag, manager, hub, logger)
	push := NewPushHandler(pushes, nil, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/events", events.Create)
	mux.HandleFunc("GET /api/events", events.List)
	mux.HandleFunc("GET /api/events/{id}", events.Get)
	mux.HandleFunc("DELETE /api/events/{id}", events.Delete)
	mux.HandleFunc("POST /api/events/{id}/toggle", events.Toggle)
	mux.HandleFunc("GET /api/events/{id}/calendar-link", events.CalendarLink)
	mux.HandleFunc("GET /api/days/{date}", cal.Day)
	mux.HandleFunc("GET /api/dashboard", cal.Dashboard)
	mux.HandleFunc("GET /api/academic-year", cal.AcademicYear)
	mux.HandleFunc("GET /calendar.ics", cal.Feed)
	mux.HandleFunc("GET /api/categories", cats.List)
	mux.HandleFunc("POST /api/categories", cats.Create)
	mux.HandleFunc("DELETE /api/categories/{id}", cats.Delete)
	mux.HandleFunc("GET /api/settings", settings.Get)
	mux.HandleFunc("PUT /api/settings", settings.Update)
	mux.HandleFunc("GET /api/bridge/prompt", br.Prompt)
	mux.HandleFunc("POST /api/bridge/import", br.Import)
	mux.HandleFunc("GET /api/backup", bk.Export)
	mux.HandleFunc("POST /api/backup/restore", bk.Restore)
	mux.HandleFunc("GET /api/backup/status", bk.Status)
	mux.HandleFunc("GET /api/backup/offsite", bk.ListOffsite)
	mux.HandleFunc("POST /api/backup/offsite", bk.RunOffsite)
	mux.HandleFunc("POST /api/backup/offsite/{id}/restore", bk.RestoreOffsite)
	mux.HandleFunc("POST /api/push/subscribe", push.Subscribe)
	mux.HandleFunc("GET /api/push/subscriptions", push.ListSubscriptions)
	mux.HandleFunc("DELETE /api/push/subscriptions/{id}", push.Unsubscribe)
	mux.HandleFunc("GET /api/push/vapid-key", push.GetVAPIDKey)
	mux.HandleFunc("POST /api/push/test", push.TestNotification)

	return &testEnv{mux: mux, agenda: ag, hub: hub, pushes: pushes}
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

const diningDraft = `{"title":"Menú navideño","type":"DINING_SERVICE","date":"2025-12-15","time":"13:30"}`

func TestCreateEventExpandsDiningService(t *testing.T) {
	env := setupTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/events", diningDraft)
	require.Equal(t, http.StatusCreated, rec.Code)

	created := decode[[]model.CalendarEvent](t, rec)
	require.Len(t, created, 4)
	assert.Equal(t, "2025-12-15", created[0].Date)
	assert.Empty(t, created[0].ParentID)

	got := map[string]string{}
	for _, ev := range created[1:] {
		assert.Equal(t, created[0].ID, ev.ParentID)
		assert.True(t, ev.IsAutoGenerated)
		got[ev.Type] = ev.Date
	}
	assert.Equal(t, map[string]string{
		model.TypeAutoMenuPrep: "2025-11-21",
		model.TypeAutoAlarm:    "2025-12-05",
		model.TypeAutoCritical: "2025-12-08",
	}, got)

	assert.Equal(t, []string{"event_created"}, env.hub.types())
	assert.Len(t, env.agenda.Events(), 4)
}

func TestCreateEventRejectsInvalidDraft(t *testing.T) {
	env := setupTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/events", `{"title":"","type":"EXAM","date":"2025-12-15"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/events", `{"title":"Examen","type":"EXAM","date":"15/12/2025"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/events", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, env.agenda.Events())
	assert.Empty(t, env.hub.types())
}

func TestCreateEventIgnoresProvenanceFlag(t *testing.T) {
	env := setupTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/events", `{"title":"Teoría","type":"THEORY","date":"2026-02-02","isIES":true}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	created := decode[[]model.CalendarEvent](t, rec)
	require.Len(t, created, 1)
	assert.False(t, created[0].IsIES)
}

func TestCreateEventWithReminders(t *testing.T) {
	env := setupTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/events",
		`{"title":"Examen","type":"EXAM","date":"2026-01-20","customReminders":["2026-01-13","2026-01-19"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	created := decode[[]model.CalendarEvent](t, rec)
	require.Len(t, created, 3)
	assert.Equal(t, model.TypeReminder, created[1].Type)
	assert.Equal(t, "2026-01-13", created[1].Date)
	assert.Equal(t, "2026-01-19", created[2].Date)
}

func TestListEventsFilters(t *testing.T) {
	env := setupTestEnv(t)
	env.do(t, http.MethodPost, "/api/events", diningDraft)
	env.do(t, http.MethodPost, "/api/events", `{"title":"Examen","type":"EXAM","date":"2026-01-20"}`)

	rec := env.do(t, http.MethodGet, "/api/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.CalendarEvent](t, rec), 5)

	rec = env.do(t, http.MethodGet, "/api/events?from=2025-12-01&to=2025-12-31", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.CalendarEvent](t, rec), 3)

	rec = env.do(t, http.MethodGet, "/api/events?type=EXAM", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.CalendarEvent](t, rec), 1)

	rec = env.do(t, http.MethodGet, "/api/events?from=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListEventsEmptyIsArray(t *testing.T) {
	env := setupTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestGetEvent(t *testing.T) {
	env := setupTestEnv(t)
	env.do(t, http.MethodPost, "/api/events", diningDraft)

	rec := env.do(t, http.MethodGet, "/api/events/ev-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Menú navideño", decode[model.CalendarEvent](t, rec).Title)

	rec = env.do(t, http.MethodGet, "/api/events/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteEventCascades(t *testing.T) {
	env := setupTestEnv(t)
	env.do(t, http.MethodPost, "/api/events", diningDraft)
	env.do(t, http.MethodPost, "/api/events", `{"title":"Examen","type":"EXAM","date":"2026-01-20"}`)

	rec := env.do(t, http.MethodDelete, "/api/events/ev-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]int{"removed": 4}, decode[map[string]int](t, rec))

	remaining := env.agenda.Events()
	require.Len(t, remaining, 1)
	assert.Equal(t, model.TypeExam, remaining[0].Type)

	rec = env.do(t, http.MethodDelete, "/api/events/ev-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, []string{"event_created", "event_created", "event_deleted"}, env.hub.types())
}

func TestToggleEvent(t *testing.T) {
	env := setupTestEnv(t)
	env.do(t, http.MethodPost, "/api/events", diningDraft)

	rec := env.do(t, http.MethodPost, "/api/events/ev-3/toggle", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[model.CalendarEvent](t, rec).IsDone)

	for _, ev := range env.agenda.Events() {
		assert.Equal(t, ev.ID == "ev-3", ev.IsDone, ev.ID)
	}

	rec = env.do(t, http.MethodPost, "/api/events/ev-3/toggle", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[model.CalendarEvent](t, rec).IsDone)

	rec = env.do(t, http.MethodPost, "/api/events/nope/toggle", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCalendarLink(t *testing.T) {
	env := setupTestEnv(t)
	env.do(t, http.MethodPost, "/api/events", `{"title":"Examen 1","type":"EXAM","date":"2025-10-20","notes":"Aula 3"}`)

	rec := env.do(t, http.MethodGet, "/api/events/ev-1/calendar-link", "")
	require.Equal(t, http.StatusOK, rec.Code)
	link := decode[map[string]string](t, rec)["url"]
	assert.Contains(t, link, "text=Examen%201")
	assert.Contains(t, link, "dates=20251020/20251020")
	assert.Contains(t, link, "details=Aula%203")

	rec = env.do(t, http.MethodGet, "/api/events/missing/calendar-link", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDayView(t *testing.T) {
	env := setupTestEnv(t)
	env.do(t, http.MethodPost, "/api/events", `{"title":"Tarde","type":"THEORY","date":"2025-12-08","time":"16:00"}`)
	env.do(t, http.MethodPost, "/api/events", `{"title":"Mañana","type":"THEORY","date":"2025-12-08","time":"09:00"}`)
	env.do(t, http.MethodPost, "/api/events", `{"title":"Sin hora","type":"CUSTOM","date":"2025-12-08"}`)

	rec := env.do(t, http.MethodGet, "/api/days/2025-12-08", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var day struct {
		IsHoliday      bool `json:"isHoliday"`
		InAcademicYear bool `json:"inAcademicYear"`
		Events         []struct {
			Title         string `json:"title"`
			CategoryLabel string `json:"categoryLabel"`
			Color         string `json:"color"`
			Urgent        bool   `json:"urgent"`
			DaysLeft      int    `json:"daysLeft"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &day))
	assert.True(t, day.IsHoliday)
	assert.True(t, day.InAcademicYear)
	require.Len(t, day.Events, 3)
	assert.Equal(t, "Sin hora", day.Events[0].Title)
	assert.Equal(t, "CUSTOM", day.Events[0].CategoryLabel)
	assert.Equal(t, model.DefaultColor, day.Events[0].Color)
	assert.Equal(t, "Mañana", day.Events[1].Title)
	assert.Equal(t, "Tarde", day.Events[2].Title)
	assert.True(t, day.Events[1].Urgent)
	assert.Equal(t, 7, day.Events[1].DaysLeft)

	rec = env.do(t, http.MethodGet, "/api/days/2025-13-40", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDashboard(t *testing.T) {
	env := setupTestEnv(t)
	env.do(t, http.MethodPost, "/api/events", diningDraft)
	env.do(t, http.MethodPost, "/api/events", `{"title":"Examen","type":"EXAM","date":"2026-02-20"}`)
	env.do(t, http.MethodPost, "/api/events/ev-3/toggle", "")

	rec := env.do(t, http.MethodGet, "/api/dashboard", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var dash struct {
		Today    string `json:"today"`
		Upcoming []struct {
			Date   string `json:"date"`
			Urgent bool   `json:"urgent"`
		} `json:"upcoming"`
		PendingAutoTasks int `json:"pendingAutoTasks"`
		UrgentCount      int `json:"urgentCount"`
		CategoryCounts   []struct {
			Category model.Category `json:"category"`
			Count    int            `json:"count"`
		} `json:"categoryCounts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dash))

	assert.Equal(t, "2025-12-01", dash.Today)
	// The menu task (2025-11-21) is past and ev-3 is done.
	var upcomingDates []string
	for _, u := range dash.Upcoming {
		upcomingDates = append(upcomingDates, u.Date)
	}
	assert.Equal(t, []string{"2025-12-08", "2025-12-15", "2026-02-20"}, upcomingDates)
	assert.Equal(t, 2, dash.UrgentCount)
	assert.Equal(t, 2, dash.PendingAutoTasks)

	counts := map[string]int{}
	for _, c := range dash.CategoryCounts {
		counts[c.Category.ID] = c.Count
	}
	assert.Equal(t, 1, counts[model.TypeDiningService])
	assert.Equal(t, 1, counts[model.TypeExam])
	assert.NotContains(t, counts, model.TypeAutoAlarm)
}

func TestAcademicYear(t *testing.T) {
	env := setupTestEnv(t)
	env.do(t, http.MethodPost, "/api/events", diningDraft)

	rec := env.do(t, http.MethodGet, "/api/academic-year", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var year struct {
		Start  string `json:"start"`
		End    string `json:"end"`
		Months []struct {
			Month  string `json:"month"`
			Events int    `json:"events"`
		} `json:"months"`
		Holidays []string `json:"holidays"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &year))
	assert.Equal(t, "2025-09-01", year.Start)
	assert.Equal(t, "2026-08-31", year.End)
	require.Len(t, year.Months, 12)
	assert.Equal(t, "2025-09", year.Months[0].Month)
	assert.Equal(t, 1, year.Months[2].Events)
	assert.Equal(t, 3, year.Months[3].Events)
	assert.Equal(t, []string{"2025-12-08", "2025-12-25"}, year.Holidays)
}

func TestCalendarFeed(t *testing.T) {
	env := setupTestEnv(t)
	env.do(t, http.MethodPost, "/api/events", `{"title":"Examen 1","type":"EXAM","date":"2025-10-20"}`)

	rec := env.do(t, http.MethodGet, "/calendar.ics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/calendar")
	body := rec.Body.String()
	assert.Contains(t, body, "BEGIN:VCALENDAR")
	assert.Contains(t, body, "SUMMARY:Examen 1")
	assert.Contains(t, body, "ev-1@chefagenda")
}

func TestCategories(t *testing.T) {
	env := setupTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/categories?manual=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	manual := decode[[]model.Category](t, rec)
	assert.Len(t, manual, 5)
	for _, c := range manual {
		assert.False(t, c.IsSystem(), c.ID)
	}

	rec = env.do(t, http.MethodPost, "/api/categories", `{"label":"Catering externo","color":"bg-pink-500","hasAutoManagement":true}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[model.Category](t, rec)
	assert.Equal(t, "CATERING_EXTERNO", created.ID)
	assert.Equal(t, model.KindAutoManaged, created.Kind)

	rec = env.do(t, http.MethodPost, "/api/categories", `{"label":"Catering externo"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/categories", `{"label":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/categories/AUTO_ALARM", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/categories/NOPE", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/categories/CATERING_EXTERNO", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/categories", "")
	assert.Len(t, decode[[]model.Category](t, rec), len(model.DefaultCategories()))
}

func TestSettings(t *testing.T) {
	env := setupTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.DefaultSettings(), decode[model.Settings](t, rec))

	rec = env.do(t, http.MethodPut, "/api/settings", `{"iesName":" IES Ingeniero de la Cierva ","profName":"Ana","iesLogo":"data:image/png;base64,AAAA"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	got := env.agenda.Settings()
	assert.Equal(t, "IES Ingeniero de la Cierva", got.IESName)
	assert.Equal(t, "data:image/png;base64,AAAA", got.IESLogo)
	assert.Equal(t, []string{"settings_updated"}, env.hub.types())

	rec = env.do(t, http.MethodPut, "/api/settings", `[]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBridgePrompt(t *testing.T) {
	env := setupTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/bridge/prompt", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["prompt"], "JSON")
}

func TestBridgeImportExam(t *testing.T) {
	env := setupTestEnv(t)

	payload := "```json\n[{\"title\":\"Examen 1\",\"date\":\"2025-10-20\",\"type\":\"EXAM\"}] [cite: 4]\n```"
	rec := env.do(t, http.MethodPost, "/api/bridge/import", payload)
	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		Created []model.CalendarEvent `json:"created"`
		Skipped []agenda.ItemError    `json:"skipped"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Len(t, res.Created, 1)
	assert.True(t, res.Created[0].IsIES)
	assert.False(t, res.Created[0].IsAutoGenerated)
	assert.Empty(t, res.Skipped)
	assert.Len(t, env.agenda.Events(), 1)
	assert.Equal(t, []string{"event_imported"}, env.hub.types())
}

func TestBridgeImportMalformed(t *testing.T) {
	env := setupTestEnv(t)
	env.do(t, http.MethodPost, "/api/events", diningDraft)
	before := env.agenda.Events()

	for _, body := range []string{"not json", `{"title":"x"}`, ""} {
		rec := env.do(t, http.MethodPost, "/api/bridge/import", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
	}
	assert.Equal(t, before, env.agenda.Events())
}

func TestBackupRoundTrip(t *testing.T) {
	env := setupTestEnv(t)
	env.do(t, http.MethodPost, "/api/events", diningDraft)
	env.do(t, http.MethodPut, "/api/settings", `{"iesName":"IES Test","profName":"Ana"}`)
	want := env.agenda.State()

	rec := env.do(t, http.MethodGet, "/api/backup", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), backup.Filename)
	exported := rec.Body.String()

	env.do(t, http.MethodDelete, "/api/events/ev-1", "")
	env.do(t, http.MethodPut, "/api/settings", `{"iesName":"Otro"}`)

	rec = env.do(t, http.MethodPost, "/api/backup/restore", exported)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"events":4,"categories":10,"settings":true}`, rec.Body.String())
	assert.Equal(t, want, env.agenda.State())
	assert.Contains(t, env.hub.types(), "agenda_restored")
}

func TestBackupEncryptedRoundTrip(t *testing.T) {
	env := setupTestEnv(t)
	env.do(t, http.MethodPost, "/api/events", diningDraft)
	want := env.agenda.State()

	rec := env.do(t, http.MethodGet, "/api/backup", "", passphraseHeader, "s3cret")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	sealed := rec.Body.Bytes()
	assert.False(t, bytes.Contains(sealed, []byte("DINING_SERVICE")))

	env.do(t, http.MethodDelete, "/api/events/ev-1", "")

	rec = env.do(t, http.MethodPost, "/api/backup/restore", string(sealed), passphraseHeader, "wrong")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, env.agenda.Events())

	rec = env.do(t, http.MethodPost, "/api/backup/restore", string(sealed), passphraseHeader, "s3cret")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, want, env.agenda.State())
}

func TestBackupRestorePartial(t *testing.T) {
	env := setupTestEnv(t)
	env.do(t, http.MethodPost, "/api/events", diningDraft)

	rec := env.do(t, http.MethodPost, "/api/backup/restore", `{"settings":{"iesName":"Solo ajustes","profName":"Ana"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"settings":true}`, rec.Body.String())
	assert.Len(t, env.agenda.Events(), 4)
	assert.Equal(t, "Solo ajustes", env.agenda.Settings().IESName)
}

func TestBackupRestoreMalformed(t *testing.T) {
	env := setupTestEnv(t)
	env.do(t, http.MethodPost, "/api/events", diningDraft)
	before := env.agenda.State()

	for _, body := range []string{"garbage", `[1,2]`, `{"events":[{"title":"sin id","date":"2025-01-01"}]}`} {
		rec := env.do(t, http.MethodPost, "/api/backup/restore", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
	}
	assert.Equal(t, before, env.agenda.State())
}

func TestOffsiteNotConfigured(t *testing.T) {
	env := setupTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/backup/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "disabled", decode[map[string]any](t, rec)["state"])

	rec = env.do(t, http.MethodPost, "/api/backup/offsite", "", passphraseHeader, "s3cret")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/backup/offsite/1/restore", "", passphraseHeader, "s3cret")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/backup/offsite/abc/restore", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/backup/offsite", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

// browserKeys returns a p256dh and auth pair shaped like a browser's.
func browserKeys(t *testing.T) (string, string) {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()), base64.RawURLEncoding.EncodeToString(auth)
}

func TestPushSubscriptions(t *testing.T) {
	env := setupTestEnv(t)
	p256dh, auth := browserKeys(t)

	body := fmt.Sprintf(`{"endpoint":"https://push.example/1","p256dh":%q,"auth":%q,"device_name":"Móvil"}`, p256dh, auth)
	rec := env.do(t, http.MethodPost, "/api/push/subscribe", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	sub := decode[model.PushSubscription](t, rec)
	assert.Equal(t, "Móvil", sub.DeviceName)

	// Same endpoint in the browser's toJSON shape refreshes the row.
	body = fmt.Sprintf(`{"endpoint":"https://push.example/1","keys":{"p256dh":%q,"auth":%q}}`, p256dh, auth)
	rec = env.do(t, http.MethodPost, "/api/push/subscribe", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, sub.ID, decode[model.PushSubscription](t, rec).ID)

	rec = env.do(t, http.MethodPost, "/api/push/subscribe", `{"endpoint":"https://push.example/2"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/push/subscribe", `{"endpoint":"https://push.example/2","p256dh":"key","auth":"auth"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body = fmt.Sprintf(`{"endpoint":"http://push.example/3","p256dh":%q,"auth":%q}`, p256dh, auth)
	rec = env.do(t, http.MethodPost, "/api/push/subscribe", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/push/subscriptions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.PushSubscription](t, rec), 1)

	rec = env.do(t, http.MethodGet, "/api/push/vapid-key", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"public_key":"","enabled":false}`, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/push/test", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/api/push/subscriptions/%d", sub.ID), "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/api/push/subscriptions/%d", sub.ID), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	subs, err := env.pushes.List()
	require.NoError(t, err)
	assert.Empty(t, subs)
}
