// Package scheduler drives the recurring background work: daily
// notification sends per plan and the nightly maintenance jobs.
package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/kausaltech/kausal-watch-sub001/internal/notifications"
	"github.com/kausaltech/kausal-watch-sub001/internal/store"
)

type planStore interface {
	ListPlans(ctx context.Context) ([]store.Plan, error)
	SetDailyNotificationsTriggeredAt(ctx context.Context, planID string, at time.Time) error
}

// NotificationRunner dispatches one plan's notifications.
type NotificationRunner interface {
	Run(ctx context.Context, planID string, opts notifications.Options) (notifications.Stats, error)
}

// Job is one nightly maintenance task.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

type Service struct {
	store   planStore
	runner  NotificationRunner
	nightly []Job
	loc     *time.Location
	logger  *log.Logger
	done    chan struct{}
}

// NewService builds the scheduler. loc is the timezone clock times are
// evaluated in; nil means the process-local zone.
func NewService(planStore planStore, runner NotificationRunner, nightly []Job, loc *time.Location, logger *log.Logger) *Service {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		store:   planStore,
		runner:  runner,
		nightly: nightly,
		loc:     loc,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Start launches the background loops. Call Stop to end them.
func (s *Service) Start() {
	go s.notificationLoop()
	go s.runDaily(3, 0, s.runNightlyJobs)
	s.logger.Println("scheduler started")
}

func (s *Service) Stop() {
	close(s.done)
}

// notificationLoop checks once a minute which plans have crossed their
// local send time.
func (s *Service) notificationLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.CheckDailyNotifications(context.Background(), time.Now().In(s.loc))
		}
	}
}

// runDaily sleeps until the next local hour:minute and runs the task.
func (s *Service) runDaily(hour, minute int, task func(ctx context.Context)) {
	for {
		now := time.Now().In(s.loc)
		next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, s.loc)
		if next.Before(now) {
			next = next.Add(24 * time.Hour)
		}
		select {
		case <-s.done:
			return
		case <-time.After(next.Sub(now)):
			task(context.Background())
		}
	}
}

// CheckDailyNotifications runs the notification engine for every plan
// whose send time has passed and which has not been triggered today.
// The triggered-at stamp is only advanced on success, so a failed run
// is retried on the next tick.
func (s *Service) CheckDailyNotifications(ctx context.Context, now time.Time) {
	plans, err := s.store.ListPlans(ctx)
	if err != nil {
		s.logger.Printf("scheduler: list plans: %v", err)
		return
	}
	for _, plan := range plans {
		if !plan.ShouldTriggerDailyNotifications(now) {
			continue
		}
		stats, err := s.runner.Run(ctx, plan.ID, notifications.Options{Now: now})
		if err != nil {
			s.logger.Printf("scheduler: notifications for plan %s: %v", plan.Identifier, err)
			continue
		}
		s.logger.Printf("scheduler: plan %s notifications: %d generated, %d sent", plan.Identifier, stats.Generated, stats.Sent)
		if err := s.store.SetDailyNotificationsTriggeredAt(ctx, plan.ID, now); err != nil {
			s.logger.Printf("scheduler: mark plan %s triggered: %v", plan.Identifier, err)
		}
	}
}

func (s *Service) runNightlyJobs(ctx context.Context) {
	for _, job := range s.nightly {
		start := time.Now()
		if err := job.Run(ctx); err != nil {
			s.logger.Printf("scheduler: nightly job %s: %v", job.Name, err)
			continue
		}
		s.logger.Printf("scheduler: nightly job %s done in %s", job.Name, time.Since(start).Round(time.Millisecond))
	}
}
