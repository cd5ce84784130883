package server

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/chefagenda/internal/config"
	"github.com/dukerupert/chefagenda/internal/database"
	"github.com/dukerupert/chefagenda/internal/model"
)

func setupTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	srv, err := New(db, cfg, slog.Default())
	require.NoError(t, err)
	return srv
}

func TestHealth(t *testing.T) {
	srv := setupTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRouterCreatesAndListsEvents(t *testing.T) {
	srv := setupTestServer(t, nil)
	router := srv.Router()

	req := httptest.NewRequest(http.MethodPost, "/api/events",
		strings.NewReader(`{"title":"Servicio","type":"DINING_SERVICE","date":"2025-12-15"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	assert.Len(t, srv.Agenda().Events(), 4)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/days/2025-12-08", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"isHoliday":true`)
	assert.Contains(t, rec.Body.String(), "AUTO_CRITICAL")
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.DefaultConfig()
	cfg.Timezone = "Nowhere/Special"
	_, err = New(db, cfg, slog.Default())
	assert.Error(t, err)
}

func TestStoragePrefixIsolatesAgendas(t *testing.T) {
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	a, err := New(db, config.DefaultConfig(), slog.Default())
	require.NoError(t, err)
	_, err = a.Agenda().AddEvent(draftExam())
	require.NoError(t, err)

	other := config.DefaultConfig()
	other.StoragePrefix = "other_"
	b, err := New(db, other, slog.Default())
	require.NoError(t, err)
	assert.Empty(t, b.Agenda().Events())

	again, err := New(db, config.DefaultConfig(), slog.Default())
	require.NoError(t, err)
	assert.Len(t, again.Agenda().Events(), 1)
}

func TestBridgeImportIsRateLimited(t *testing.T) {
	srv := setupTestServer(t, nil)
	router := srv.Router()

	var last int
	for i := 0; i <= expensiveRequestsPerMinute; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/bridge/import", strings.NewReader("not json"))
		req.RemoteAddr = "192.168.1.20:5000"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		last = rec.Code
		if i < expensiveRequestsPerMinute {
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		}
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestStartStopWithoutOptionalServices(t *testing.T) {
	srv := setupTestServer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, srv.Start(ctx))
	srv.Stop()
}

func TestStartRejectsBadNotificationSchedule(t *testing.T) {
	srv := setupTestServer(t, func(c *config.Config) {
		c.Notify.VAPIDPublicKey = "pub"
		c.Notify.VAPIDPrivateKey = "priv"
		c.Notify.Schedule = "every now and then"
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.Error(t, srv.Start(ctx))
	srv.Stop()
}

func draftExam() model.Draft {
	return model.Draft{Title: "Examen 1", Type: model.TypeExam, Date: "2025-10-20"}
}
