package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dukerupert/chefagenda/internal/dates"
	"github.com/dukerupert/chefagenda/internal/model"
)

// Sender delivers one payload to one subscription.
type Sender interface {
	Send(sub *model.PushSubscription, payload Payload) error
}

// Subscriptions lists and prunes push subscriptions.
type Subscriptions interface {
	List() ([]model.PushSubscription, error)
	DeleteByEndpoint(endpoint string) error
}

// Events supplies the current event collection.
type Events interface {
	Events() []model.CalendarEvent
}

// SchedulerConfig controls when checks run.
type SchedulerConfig struct {
	// Spec is a cron expression, "*/15 * * * *" when empty.
	Spec     string
	Location *time.Location
}

// Scheduler periodically alerts about pending events due today.
type Scheduler struct {
	mu     sync.Mutex
	sender Sender
	subs   Subscriptions
	events Events
	dedup  *Dedup
	cfg    SchedulerConfig
	logger *slog.Logger
	now    func() time.Time
	cron   *cron.Cron
}

// NewScheduler creates a notification scheduler. A nil sender leaves the
// scheduler idle.
func NewScheduler(cfg SchedulerConfig, sender Sender, subs Subscriptions, events Events, dedup *Dedup, logger *slog.Logger) *Scheduler {
	if cfg.Spec == "" {
		cfg.Spec = "*/15 * * * *"
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Scheduler{
		sender: sender,
		subs:   subs,
		events: events,
		dedup:  dedup,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Enabled reports whether alerts can be delivered at all.
func (s *Scheduler) Enabled() bool {
	return s.sender != nil
}

// Start runs Check on the configured schedule.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.Enabled() {
		s.logger.Info("push notifications disabled, no VAPID keys")
		return nil
	}

	c := cron.New(cron.WithLocation(s.cfg.Location))
	if _, err := c.AddFunc(s.cfg.Spec, func() {
		if ctx.Err() != nil {
			return
		}
		s.Check()
	}); err != nil {
		return fmt.Errorf("schedule notifications %q: %w", s.cfg.Spec, err)
	}

	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()

	c.Start()
	s.logger.Info("notification scheduler started", "spec", s.cfg.Spec)
	return nil
}

// Stop waits for a running check and stops the schedule.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

// Check alerts every subscription about pending events dated today that
// have not been alerted yet. It returns how many events were announced.
func (s *Scheduler) Check() int {
	if !s.Enabled() {
		return 0
	}

	today := dates.Format(s.now().In(s.cfg.Location))

	var due []model.CalendarEvent
	todayIDs := map[string]bool{}
	for _, ev := range s.events.Events() {
		if ev.Date != today {
			continue
		}
		todayIDs[ev.ID] = true
		if !ev.IsDone && !s.dedup.Seen(ev.ID) {
			due = append(due, ev)
		}
	}

	// Ids from earlier days can never fire again.
	if err := s.dedup.Prune(func(id string) bool { return todayIDs[id] }); err != nil {
		s.logger.Warn("prune notified map", "error", err)
	}

	if len(due) == 0 {
		return 0
	}

	subs, err := s.subs.List()
	if err != nil {
		s.logger.Error("list push subscriptions", "error", err)
		return 0
	}
	if len(subs) == 0 {
		return 0
	}

	var announced []string
	for _, ev := range due {
		payload := EventPayload(ev)
		for i := range subs {
			if subs[i].Endpoint == "" {
				continue
			}
			if err := s.sender.Send(&subs[i], payload); err != nil {
				if errors.Is(err, ErrExpired) {
					s.subs.DeleteByEndpoint(subs[i].Endpoint)
					subs[i].Endpoint = ""
				} else {
					s.logger.Warn("send due-today alert", "event_id", ev.ID, "error", err)
				}
			}
		}
		announced = append(announced, ev.ID)
	}

	if err := s.dedup.Mark(announced...); err != nil {
		s.logger.Error("record notified events", "error", err)
	}
	s.logger.Info("due-today alerts sent", "events", len(announced), "subscriptions", len(subs))
	return len(announced)
}
