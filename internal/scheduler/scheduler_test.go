package scheduler

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/kausaltech/kausal-watch-sub001/internal/notifications"
	"github.com/kausaltech/kausal-watch-sub001/internal/store"
)

type fakePlanStore struct {
	plans       []store.Plan
	triggeredFn func(ctx context.Context, planID string, at time.Time) error
	triggered   []string
}

func (f *fakePlanStore) ListPlans(ctx context.Context) ([]store.Plan, error) {
	return f.plans, nil
}

func (f *fakePlanStore) SetDailyNotificationsTriggeredAt(ctx context.Context, planID string, at time.Time) error {
	if f.triggeredFn != nil {
		return f.triggeredFn(ctx, planID, at)
	}
	f.triggered = append(f.triggered, planID)
	return nil
}

type fakeRunner struct {
	runs []string
	err  error
}

func (f *fakeRunner) Run(ctx context.Context, planID string, opts notifications.Options) (notifications.Stats, error) {
	if f.err != nil {
		return notifications.Stats{}, f.err
	}
	f.runs = append(f.runs, planID)
	return notifications.Stats{Generated: 1, Sent: 1}, nil
}

func newTestScheduler(plans []store.Plan, runner *fakeRunner) (*Service, *fakePlanStore) {
	ps := &fakePlanStore{plans: plans}
	svc := NewService(ps, runner, nil, time.UTC, log.New(io.Discard, "", 0))
	return svc, ps
}

func duePlan(id string) store.Plan {
	return store.Plan{
		ID:                   id,
		Identifier:           id,
		Timezone:             "UTC",
		NotificationsEnabled: true,
		NotificationSendAt:   "09:00",
	}
}

func TestCheckDailyNotificationsTriggersDuePlans(t *testing.T) {
	now := time.Date(2026, 8, 28, 9, 30, 0, 0, time.UTC)
	runner := &fakeRunner{}

	triggered := time.Date(2026, 8, 28, 9, 5, 0, 0, time.UTC)
	already := duePlan("plan_done")
	already.DailyNotificationsTriggeredAt = &triggered

	disabled := duePlan("plan_off")
	disabled.NotificationsEnabled = false

	svc, ps := newTestScheduler([]store.Plan{duePlan("plan_1"), already, disabled}, runner)
	svc.CheckDailyNotifications(context.Background(), now)

	if len(runner.runs) != 1 || runner.runs[0] != "plan_1" {
		t.Fatalf("runs = %v, want only plan_1", runner.runs)
	}
	if len(ps.triggered) != 1 || ps.triggered[0] != "plan_1" {
		t.Fatalf("triggered = %v", ps.triggered)
	}
}

func TestCheckDailyNotificationsRetriesAfterFailure(t *testing.T) {
	now := time.Date(2026, 8, 28, 9, 30, 0, 0, time.UTC)
	runner := &fakeRunner{err: errors.New("smtp down")}
	svc, ps := newTestScheduler([]store.Plan{duePlan("plan_1")}, runner)

	svc.CheckDailyNotifications(context.Background(), now)
	if len(ps.triggered) != 0 {
		t.Fatalf("failed run must not advance the stamp, triggered = %v", ps.triggered)
	}

	// The next tick succeeds and stamps the plan.
	runner.err = nil
	svc.CheckDailyNotifications(context.Background(), now.Add(time.Minute))
	if len(ps.triggered) != 1 {
		t.Fatalf("triggered = %v", ps.triggered)
	}
}

func TestRunNightlyJobsContinuesPastFailures(t *testing.T) {
	var ran []string
	jobs := []Job{
		{Name: "first", Run: func(ctx context.Context) error { return errors.New("boom") }},
		{Name: "second", Run: func(ctx context.Context) error {
			ran = append(ran, "second")
			return nil
		}},
	}
	svc := NewService(&fakePlanStore{}, &fakeRunner{}, jobs, time.UTC, log.New(io.Discard, "", 0))
	svc.runNightlyJobs(context.Background())

	if len(ran) != 1 || ran[0] != "second" {
		t.Fatalf("ran = %v", ran)
	}
}
