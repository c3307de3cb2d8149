package store

import (
	"context"
	"testing"
	"time"
)

func timePtr(t time.Time) *time.Time { return &t }

func TestShouldTriggerDailyNotifications(t *testing.T) {
	loc := time.UTC
	cases := []struct {
		name        string
		enabled     bool
		sendAt      string
		triggeredAt *time.Time
		now         time.Time
		want        bool
	}{
		{
			name:    "disabled never triggers",
			enabled: false,
			sendAt:  "08:00",
			now:     time.Date(2023, 5, 10, 12, 0, 0, 0, loc),
			want:    false,
		},
		{
			name:    "never triggered before",
			enabled: true,
			sendAt:  "08:00",
			now:     time.Date(2023, 5, 10, 0, 0, 0, 0, loc),
			want:    true,
		},
		{
			name:        "triggered before today's send time, now past it",
			enabled:     true,
			sendAt:      "08:00",
			triggeredAt: timePtr(time.Date(2023, 5, 10, 7, 0, 0, 0, loc)),
			now:         time.Date(2023, 5, 10, 9, 0, 0, 0, loc),
			want:        true,
		},
		{
			name:        "already triggered after send time today",
			enabled:     true,
			sendAt:      "08:00",
			triggeredAt: timePtr(time.Date(2023, 5, 10, 8, 30, 0, 0, loc)),
			now:         time.Date(2023, 5, 10, 14, 0, 0, 0, loc),
			want:        false,
		},
		{
			name:        "triggered after send time yesterday, past send time today",
			enabled:     true,
			sendAt:      "08:00",
			triggeredAt: timePtr(time.Date(2023, 5, 9, 8, 30, 0, 0, loc)),
			now:         time.Date(2023, 5, 10, 8, 0, 0, 0, loc),
			want:        true,
		},
		{
			name:        "triggered after send time yesterday, before send time today",
			enabled:     true,
			sendAt:      "08:00",
			triggeredAt: timePtr(time.Date(2023, 5, 9, 8, 30, 0, 0, loc)),
			now:         time.Date(2023, 5, 10, 7, 0, 0, 0, loc),
			want:        false,
		},
		{
			name:        "unparseable send time falls back to 08:00",
			enabled:     true,
			sendAt:      "bogus",
			triggeredAt: timePtr(time.Date(2023, 5, 9, 9, 0, 0, 0, loc)),
			now:         time.Date(2023, 5, 10, 8, 30, 0, 0, loc),
			want:        true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan := Plan{
				NotificationsEnabled:          tc.enabled,
				NotificationSendAt:            tc.sendAt,
				DailyNotificationsTriggeredAt: tc.triggeredAt,
			}
			got := plan.ShouldTriggerDailyNotifications(tc.now)
			if got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestOrganizationDepthAndDescent(t *testing.T) {
	root := Organization{Path: "00000001"}
	child := Organization{Path: "0000000100000001"}
	grandchild := Organization{Path: "000000010000000100000002"}
	sibling := Organization{Path: "00000002"}

	if root.Depth() != 1 {
		t.Errorf("root depth = %d, want 1", root.Depth())
	}
	if grandchild.Depth() != 3 {
		t.Errorf("grandchild depth = %d, want 3", grandchild.Depth())
	}
	if !child.IsDescendantOf(root) {
		t.Error("child should descend from root")
	}
	if !grandchild.IsDescendantOf(root) {
		t.Error("grandchild should descend from root")
	}
	if root.IsDescendantOf(root) {
		t.Error("a node is not its own descendant")
	}
	if sibling.IsDescendantOf(root) {
		t.Error("sibling should not descend from root")
	}
}

func TestIndicatorRollDueAtForward(t *testing.T) {
	due := time.Date(2023, 3, 31, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		resolution TimeResolution
		want       time.Time
	}{
		{ResolutionYear, time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)},
		{ResolutionMonth, time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)},
		{ResolutionWeek, time.Date(2023, 4, 7, 0, 0, 0, 0, time.UTC)},
		{ResolutionDay, time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		ind := Indicator{TimeResolution: tc.resolution, UpdatedValuesDueAt: &due}
		got := ind.RollDueAtForward()
		if got == nil || !got.Equal(tc.want) {
			t.Errorf("%s: got %v, want %v", tc.resolution, got, tc.want)
		}
	}

	none := Indicator{TimeResolution: ResolutionYear}
	if none.RollDueAtForward() != nil {
		t.Error("unset due date should stay unset")
	}
}

func TestActionAndTaskActivity(t *testing.T) {
	merged := "other"
	if (Action{MergedWithID: &merged}).IsActive() {
		t.Error("merged action should be inactive")
	}
	if !(Action{}).IsActive() {
		t.Error("plain action should be active")
	}
	if (ActionTask{State: TaskCompleted}).IsActiveTask() {
		t.Error("completed task should be inactive")
	}
	if (ActionTask{State: TaskCancelled}).IsActiveTask() {
		t.Error("cancelled task should be inactive")
	}
	if !(ActionTask{State: TaskNotStarted}).IsActiveTask() {
		t.Error("not-started task should be active")
	}
}

func TestDeferredOpsQueueOrder(t *testing.T) {
	d := NewDeferredOps(nil, false)
	for i := 0; i < 3; i++ {
		if err := d.Add(context.Background(), DeferredOp{Kind: OpCreate, Entity: "action"}); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if d.Pending() != 3 {
		t.Errorf("pending = %d, want 3", d.Pending())
	}
}
