package notifications

import (
	"errors"
	"testing"
	"time"

	"github.com/kausaltech/kausal-watch-sub001/internal/store"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func activeAction() store.Action {
	return store.Action{ID: "act_1", PlanID: "plan_1", Identifier: "A1", Name: "Bike lanes", UpdatedAt: day(2026, 8, 1)}
}

func TestClassifyTask(t *testing.T) {
	today := day(2026, 8, 28)
	action := activeAction()

	task := store.ActionTask{ID: "task_1", ActionID: action.ID, Name: "Survey", DueAt: day(2026, 8, 27), State: store.TaskNotStarted}
	intent, err := ClassifyTask(action, task, today)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if intent == nil || intent.Type != store.NotificationTaskLate || intent.DaysLate != 1 {
		t.Fatalf("expected task_late with 1 day, got %+v", intent)
	}

	task.DueAt = day(2026, 9, 10)
	intent, err = ClassifyTask(action, task, today)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if intent == nil || intent.Type != store.NotificationTaskDueSoon || intent.DaysLeft != 13 {
		t.Fatalf("expected task_due_soon in 13 days, got %+v", intent)
	}

	task.DueAt = day(2027, 1, 1)
	intent, err = ClassifyTask(action, task, today)
	if err != nil || intent != nil {
		t.Fatalf("task far in the future should produce nothing, got %+v err %v", intent, err)
	}
}

func TestClassifyTaskRejectsCompletedTask(t *testing.T) {
	task := store.ActionTask{ID: "task_1", State: store.TaskCompleted, DueAt: day(2026, 8, 1)}
	_, err := ClassifyTask(activeAction(), task, day(2026, 8, 28))
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestClassifyTaskSkipsMergedAction(t *testing.T) {
	merged := "act_0"
	action := activeAction()
	action.MergedWithID = &merged
	task := store.ActionTask{ID: "task_1", State: store.TaskNotStarted, DueAt: day(2026, 8, 1)}
	intent, err := ClassifyTask(action, task, day(2026, 8, 28))
	if err != nil || intent != nil {
		t.Fatalf("merged action should produce nothing, got %+v err %v", intent, err)
	}
}

func TestClassifyIndicator(t *testing.T) {
	due := day(2026, 8, 20)
	ind := store.Indicator{ID: "ind_1", Name: "CO2", UpdatedValuesDueAt: &due}
	intent := ClassifyIndicator(ind, day(2026, 8, 28))
	if intent == nil || intent.Type != store.NotificationIndicatorValuesLate || intent.DaysLate != 8 {
		t.Fatalf("expected indicator late by 8 days, got %+v", intent)
	}

	ind.UpdatedValuesDueAt = nil
	if ClassifyIndicator(ind, day(2026, 8, 28)) != nil {
		t.Fatal("indicator without due date should produce nothing")
	}
}

func TestClassifyActionTasks(t *testing.T) {
	today := day(2026, 8, 28)
	action := activeAction()

	upcoming := store.ActionTask{ID: "task_1", State: store.TaskNotStarted, DueAt: day(2026, 12, 1)}
	if got := ClassifyActionTasks(action, []store.ActionTask{upcoming}, today); got != nil {
		t.Fatalf("upcoming task within horizon should produce nothing, got %+v", got)
	}

	// A completed task does not count as upcoming.
	done := upcoming
	done.State = store.TaskCompleted
	got := ClassifyActionTasks(action, []store.ActionTask{done}, today)
	if got == nil || got.Type != store.NotificationNotEnoughTasks {
		t.Fatalf("expected not_enough_tasks, got %+v", got)
	}

	beyond := store.ActionTask{ID: "task_2", State: store.TaskNotStarted, DueAt: today.AddDate(0, 0, TaskHorizonDays+1)}
	got = ClassifyActionTasks(action, []store.ActionTask{beyond}, today)
	if got == nil || got.Type != store.NotificationNotEnoughTasks {
		t.Fatalf("task beyond horizon should trigger not_enough_tasks, got %+v", got)
	}
}

func TestClassifyActionFreshness(t *testing.T) {
	plan := store.Plan{ID: "plan_1"}
	action := activeAction()
	action.UpdatedAt = day(2026, 8, 1)
	if got := ClassifyActionFreshness(plan, action, day(2026, 8, 28)); got != nil {
		t.Fatalf("recently updated action should produce nothing, got %+v", got)
	}

	action.UpdatedAt = day(2026, 1, 1)
	got := ClassifyActionFreshness(plan, action, day(2026, 8, 28))
	if got == nil || got.Type != store.NotificationActionNotUpdated {
		t.Fatalf("expected action_not_updated, got %+v", got)
	}

	ten := 10
	plan.ActionDaysUntilStale = &ten
	action.UpdatedAt = day(2026, 8, 1)
	got = ClassifyActionFreshness(plan, action, day(2026, 8, 28))
	if got == nil {
		t.Fatal("plan override of 10 days should flag the action")
	}
}

func TestShouldSend(t *testing.T) {
	today := day(2026, 8, 28)
	at := func(daysAgo int) *time.Time {
		d := today.AddDate(0, 0, -daysAgo)
		return &d
	}
	late := func(d int) *Intent {
		return &Intent{Type: store.NotificationTaskLate, DaysLate: d}
	}
	dueSoon := func(d int) *Intent {
		return &Intent{Type: store.NotificationTaskDueSoon, DaysLeft: d}
	}

	cases := []struct {
		name         string
		intent       *Intent
		lastSent     *time.Time
		sentToAnyone bool
		want         bool
	}{
		{"never sent", late(14), nil, false, true},
		{"sent 3 days ago", late(30), at(3), false, false},
		{"late milestone day 1", late(1), at(10), false, true},
		{"late milestone day 7", late(7), at(6), false, true},
		{"late milestone day 30", late(30), at(10), false, true},
		{"late milestone day 60", late(60), at(10), false, true},
		{"late day 14 is no milestone", late(14), at(10), false, false},
		{"due soon milestone 7", dueSoon(7), at(10), false, true},
		{"due soon 13 is no milestone", dueSoon(13), at(10), false, false},
		{"stale action monthly", &Intent{Type: store.NotificationActionNotUpdated}, at(31), false, true},
		{"stale action too recent", &Intent{Type: store.NotificationActionNotUpdated}, at(20), false, false},
		{"feedback never sent", &Intent{Type: store.NotificationUserFeedbackReceived}, nil, false, true},
		{"feedback sent to someone else", &Intent{Type: store.NotificationUserFeedbackReceived}, nil, true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ShouldSend(tc.intent, tc.lastSent, tc.sentToAnyone, today); got != tc.want {
				t.Fatalf("ShouldSend = %v, want %v", got, tc.want)
			}
		})
	}
}
