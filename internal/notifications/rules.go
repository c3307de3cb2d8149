package notifications

import (
	"errors"
	"fmt"
	"time"

	"github.com/kausaltech/kausal-watch-sub001/internal/store"
)

// ErrInvalidState marks an object whose state should never have reached
// the classifier (a completed task queued as late, for instance). The
// engine logs and skips these.
var ErrInvalidState = errors.New("invalid object state")

const (
	// MinimumNotificationPeriodDays is the floor between two sends of
	// the same notification to the same recipient.
	MinimumNotificationPeriodDays = 5

	// DueSoonWindowDays is how far ahead deadline warnings look.
	DueSoonWindowDays = 30

	// TaskHorizonDays is the window an action must have an upcoming
	// task within.
	TaskHorizonDays = 365
)

// Intent is one planned notification: a type, its target and the
// severity metadata the templates render.
type Intent struct {
	Type       store.NotificationType
	TargetKind string
	TargetID   string
	DaysLate   int
	DaysLeft   int

	Action    *store.Action
	Task      *store.ActionTask
	Indicator *store.Indicator
	Feedback  *store.UserFeedback
}

// Target kinds for sent-notification bookkeeping.
const (
	TargetTask      = "action_task"
	TargetAction    = "action"
	TargetIndicator = "indicator"
	TargetFeedback  = "user_feedback"
)

// daysBetween counts whole days from a to b at date precision.
func daysBetween(a, b time.Time) int {
	ad := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bd := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(bd.Sub(ad).Hours() / 24)
}

// ClassifyTask decides whether a task deserves a deadline notification
// today. Completed or cancelled tasks must not reach this point.
func ClassifyTask(action store.Action, task store.ActionTask, today time.Time) (*Intent, error) {
	if !task.IsActiveTask() {
		return nil, fmt.Errorf("%w: task %s is %s", ErrInvalidState, task.ID, task.State)
	}
	if !action.IsActive() {
		return nil, nil
	}
	diff := daysBetween(today, task.DueAt)
	switch {
	case diff < 0:
		return &Intent{
			Type:       store.NotificationTaskLate,
			TargetKind: TargetTask,
			TargetID:   task.ID,
			DaysLate:   -diff,
			Action:     &action,
			Task:       &task,
		}, nil
	case diff <= DueSoonWindowDays:
		return &Intent{
			Type:       store.NotificationTaskDueSoon,
			TargetKind: TargetTask,
			TargetID:   task.ID,
			DaysLeft:   diff,
			Action:     &action,
			Task:       &task,
		}, nil
	}
	return nil, nil
}

// ClassifyIndicator decides whether an indicator's value-update deadline
// deserves a notification today.
func ClassifyIndicator(ind store.Indicator, today time.Time) *Intent {
	if ind.UpdatedValuesDueAt == nil {
		return nil
	}
	diff := daysBetween(today, *ind.UpdatedValuesDueAt)
	switch {
	case diff < 0:
		return &Intent{
			Type:       store.NotificationIndicatorValuesLate,
			TargetKind: TargetIndicator,
			TargetID:   ind.ID,
			DaysLate:   -diff,
			Indicator:  &ind,
		}
	case diff <= DueSoonWindowDays:
		return &Intent{
			Type:       store.NotificationIndicatorValuesDueSoon,
			TargetKind: TargetIndicator,
			TargetID:   ind.ID,
			DaysLeft:   diff,
			Indicator:  &ind,
		}
	}
	return nil
}

// ClassifyActionTasks flags an active action that has no active task due
// within the horizon.
func ClassifyActionTasks(action store.Action, tasks []store.ActionTask, today time.Time) *Intent {
	if !action.IsActive() {
		return nil
	}
	for _, task := range tasks {
		if !task.IsActiveTask() {
			continue
		}
		diff := daysBetween(today, task.DueAt)
		if diff >= 0 && diff <= TaskHorizonDays {
			return nil
		}
	}
	return &Intent{
		Type:       store.NotificationNotEnoughTasks,
		TargetKind: TargetAction,
		TargetID:   action.ID,
		Action:     &action,
	}
}

// ClassifyActionFreshness flags an active action whose last update is
// older than the plan's staleness threshold.
func ClassifyActionFreshness(plan store.Plan, action store.Action, today time.Time) *Intent {
	if !action.IsActive() {
		return nil
	}
	if daysBetween(action.UpdatedAt, today) < plan.ActionStaleDays() {
		return nil
	}
	return &Intent{
		Type:       store.NotificationActionNotUpdated,
		TargetKind: TargetAction,
		TargetID:   action.ID,
		Action:     &action,
	}
}

// isDeadlineType reports whether a notification type repeats on the
// deadline milestone schedule rather than the 30-day schedule.
func isDeadlineType(t store.NotificationType) bool {
	switch t {
	case store.NotificationTaskLate, store.NotificationTaskDueSoon,
		store.NotificationIndicatorValuesLate, store.NotificationIndicatorValuesDueSoon:
		return true
	}
	return false
}

func isLateType(t store.NotificationType) bool {
	return t == store.NotificationTaskLate || t == store.NotificationIndicatorValuesLate
}

// ShouldSend applies the de-duplication windows for one (recipient,
// type, target). lastSent is that recipient's most recent send for the
// target; sentToAnyone covers all recipients.
func ShouldSend(intent *Intent, lastSent *time.Time, sentToAnyone bool, today time.Time) bool {
	// Feedback notifications go out exactly once, to whoever is first.
	if intent.Type == store.NotificationUserFeedbackReceived {
		return !sentToAnyone
	}
	if lastSent == nil {
		return true
	}
	if daysBetween(*lastSent, today) < MinimumNotificationPeriodDays {
		return false
	}
	if isDeadlineType(intent.Type) {
		// Repeats only at the milestone marks.
		if isLateType(intent.Type) {
			d := intent.DaysLate
			return d == 1 || d == 7 || (d > 0 && d%30 == 0)
		}
		d := intent.DaysLeft
		return d == 1 || d == 7 || d == 30
	}
	// Non-deadline types nag again after a month.
	return daysBetween(*lastSent, today) >= 30
}
