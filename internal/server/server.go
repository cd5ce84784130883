package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/chefagenda/internal/agenda"
	"github.com/dukerupert/chefagenda/internal/backup"
	"github.com/dukerupert/chefagenda/internal/config"
	"github.com/dukerupert/chefagenda/internal/handler"
	"github.com/dukerupert/chefagenda/internal/middleware"
	"github.com/dukerupert/chefagenda/internal/notify"
	"github.com/dukerupert/chefagenda/internal/store"
	ws "github.com/dukerupert/chefagenda/internal/websocket"
)

// Requests to the import and restore endpoints allowed per client per minute.
const expensiveRequestsPerMinute = 10

type Server struct {
	agenda        *agenda.Agenda
	hub           *ws.Hub
	eventH        *handler.EventHandler
	calendarH     *handler.CalendarHandler
	categoryH     *handler.CategoryHandler
	settingsH     *handler.SettingsHandler
	bridgeH       *handler.BridgeHandler
	backupH       *handler.BackupHandler
	pushH         *handler.PushHandler
	rateLimiter   *middleware.RateLimiter
	backupManager *backup.Manager
	pushScheduler *notify.Scheduler
	logger        *slog.Logger
}

// New wires the agenda and its collaborators on top of db.
func New(db *sql.DB, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	urgency, err := cfg.UrgencyDuration()
	if err != nil {
		return nil, err
	}
	holidays, err := cfg.HolidayList()
	if err != nil {
		return nil, err
	}
	year, err := cfg.Year()
	if err != nil {
		return nil, err
	}

	hub := ws.NewHub(logger.With("component", "websocket"))
	docs := store.NewDocumentStore(db)
	ag := agenda.New(docs, logger.With("component", "agenda"),
		agenda.WithKeys(agenda.KeysWithPrefix(cfg.StoragePrefix)))

	backupMgr := backup.NewManager(backup.Config{
		S3: backup.S3Config{
			Endpoint:  cfg.Backup.S3.Endpoint,
			Bucket:    cfg.Backup.S3.Bucket,
			Region:    cfg.Backup.S3.Region,
			AccessKey: cfg.Backup.S3.AccessKey,
			SecretKey: cfg.Backup.S3.SecretKey,
			Prefix:    cfg.Backup.S3.Prefix,
		},
		Passphrase:    cfg.Backup.Passphrase,
		Schedule:      cfg.Backup.Schedule,
		RetentionDays: cfg.Backup.RetentionDays,
		Location:      loc,
	}, ag, store.NewBackupStore(db), logger.With("component", "backup"), func(s backup.Status) {
		hub.Broadcast(ws.Message{
			Type:   "backup_status",
			Entity: ws.EntityBackup,
			Action: string(s.State),
			Extra: map[string]any{
				"in_progress": s.InProgress,
				"error":       s.Error,
			},
		})
	})

	pushLogger := logger.With("component", "push")
	pushSt := store.NewPushStore(db)
	pushSvc := notify.NewService(cfg.Notify.VAPIDPublicKey, cfg.Notify.VAPIDPrivateKey, cfg.Notify.Subscriber)
	var sender notify.Sender
	if pushSvc != nil {
		sender = pushSvc
	}
	dedup := notify.NewDedup(docs, ag.Keys().Notified, pushLogger)
	pushSched := notify.NewScheduler(notify.SchedulerConfig{
		Spec:     cfg.Notify.Schedule,
		Location: loc,
	}, sender, pushSt, ag, dedup, pushLogger)

	return &Server{
		agenda:    ag,
		hub:       hub,
		eventH:    handler.NewEventHandler(ag, hub, logger.With("component", "event")),
		calendarH: handler.NewCalendarHandler(ag, handler.CalendarConfig{
			Holidays:      holidays,
			Year:          year,
			Location:      loc,
			UrgencyWindow: urgency,
			UpcomingLimit: cfg.UpcomingLimit,
			FeedName:      ag.Settings().IESName,
		}, logger.With("component", "calendar")),
		categoryH:     handler.NewCategoryHandler(ag, hub, logger.With("component", "category")),
		settingsH:     handler.NewSettingsHandler(ag, hub, logger.With("component", "settings")),
		bridgeH:       handler.NewBridgeHandler(ag, hub, logger.With("component", "bridge")),
		backupH:       handler.NewBackupHandler(ag, backupMgr, hub, logger.With("component", "backup_handler")),
		pushH:         handler.NewPushHandler(pushSt, pushSvc, logger.With("component", "push_handler")),
		rateLimiter:   middleware.NewRateLimiter(expensiveRequestsPerMinute, time.Minute),
		backupManager: backupMgr,
		pushScheduler: pushSched,
		logger:        logger,
	}, nil
}

// Agenda returns the application state.
func (s *Server) Agenda() *agenda.Agenda {
	return s.agenda
}

// Start launches the background jobs: scheduled backups, due-today
// notifications and rate limiter cleanup. They stop when ctx is done or
// Stop is called.
func (s *Server) Start(ctx context.Context) error {
	if err := s.backupManager.Start(ctx); err != nil {
		return fmt.Errorf("start backups: %w", err)
	}
	if err := s.pushScheduler.Start(ctx); err != nil {
		s.backupManager.Stop()
		return fmt.Errorf("start notifications: %w", err)
	}
	go s.rateLimiter.Run(ctx)
	return nil
}

// Stop waits for running background jobs to finish.
func (s *Server) Stop() {
	s.pushScheduler.Stop()
	s.backupManager.Stop()
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	limited := middleware.RateLimit(s.rateLimiter)

	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /calendar.ics", s.calendarH.Feed)
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub))

	// Events
	mux.HandleFunc("POST /api/events", s.eventH.Create)
	mux.HandleFunc("GET /api/events", s.eventH.List)
	mux.HandleFunc("GET /api/events/{id}", s.eventH.Get)
	mux.HandleFunc("DELETE /api/events/{id}", s.eventH.Delete)
	mux.HandleFunc("POST /api/events/{id}/toggle", s.eventH.Toggle)
	mux.HandleFunc("GET /api/events/{id}/calendar-link", s.eventH.CalendarLink)

	// Views
	mux.HandleFunc("GET /api/days/{date}", s.calendarH.Day)
	mux.HandleFunc("GET /api/dashboard", s.calendarH.Dashboard)
	mux.HandleFunc("GET /api/academic-year", s.calendarH.AcademicYear)

	// Categories
	mux.HandleFunc("GET /api/categories", s.categoryH.List)
	mux.HandleFunc("POST /api/categories", s.categoryH.Create)
	mux.HandleFunc("DELETE /api/categories/{id}", s.categoryH.Delete)

	// Settings
	mux.HandleFunc("GET /api/settings", s.settingsH.Get)
	mux.HandleFunc("PUT /api/settings", s.settingsH.Update)

	// Bridge
	mux.HandleFunc("GET /api/bridge/prompt", s.bridgeH.Prompt)
	mux.Handle("POST /api/bridge/import", limited(http.HandlerFunc(s.bridgeH.Import)))

	// Backup
	mux.HandleFunc("GET /api/backup", s.backupH.Export)
	mux.Handle("POST /api/backup/restore", limited(http.HandlerFunc(s.backupH.Restore)))
	mux.HandleFunc("GET /api/backup/status", s.backupH.Status)
	mux.HandleFunc("GET /api/backup/offsite", s.backupH.ListOffsite)
	mux.Handle("POST /api/backup/offsite", limited(http.HandlerFunc(s.backupH.RunOffsite)))
	mux.Handle("POST /api/backup/offsite/{id}/restore", limited(http.HandlerFunc(s.backupH.RestoreOffsite)))

	// Push
	mux.HandleFunc("POST /api/push/subscribe", s.pushH.Subscribe)
	mux.HandleFunc("GET /api/push/subscriptions", s.pushH.ListSubscriptions)
	mux.HandleFunc("DELETE /api/push/subscriptions/{id}", s.pushH.Unsubscribe)
	mux.HandleFunc("GET /api/push/vapid-key", s.pushH.GetVAPIDKey)
	mux.HandleFunc("POST /api/push/test", s.pushH.TestNotification)

	httpLogger := s.logger.With("component", "http")
	return middleware.RequestLogger(httpLogger)(middleware.Recover(httpLogger)(mux))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
