package notifications

import (
	"context"
	"errors"
	"fmt"

	"github.com/kausaltech/kausal-watch-sub001/internal/store"
	"github.com/kausaltech/kausal-watch-sub001/internal/util"
)

var defaultSubjects = map[store.NotificationType]string{
	store.NotificationTaskLate:               "Task late",
	store.NotificationTaskDueSoon:            "Task due soon",
	store.NotificationIndicatorValuesLate:    "Indicator update late",
	store.NotificationIndicatorValuesDueSoon: "Indicator update due soon",
	store.NotificationNotEnoughTasks:         "Not enough tasks",
	store.NotificationActionNotUpdated:       "Action has not been updated recently",
	store.NotificationUserFeedbackReceived:   "New feedback received",
}

// InitializeNotifications seeds a plan with a base template, one
// notification template per type and the default content blocks. The
// writes are staged and flushed in one transaction. It is idempotent:
// an existing base template is left alone.
func InitializeNotifications(ctx context.Context, s *store.PostgresStore, planID string) error {
	plan, err := s.GetPlan(ctx, planID)
	if err != nil {
		return fmt.Errorf("get plan: %w", err)
	}

	if _, err := s.GetBaseTemplate(ctx, planID); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("get base template: %w", err)
	}

	ops := store.NewDeferredOps(s, false)

	base := store.BaseTemplate{
		ID:          util.NewID("basetmpl"),
		PlanID:      plan.ID,
		FromName:    DefaultFromName,
		FromAddress: DefaultFromAddress,
	}
	if err := ops.Add(ctx, store.DeferredOp{Kind: store.OpCreate, Entity: "base_template", Apply: func(ctx context.Context, tx *store.PostgresStore) error {
		return tx.InsertBaseTemplate(ctx, base)
	}}); err != nil {
		return err
	}

	for _, typ := range store.AllNotificationTypes() {
		t := store.NotificationTemplate{
			ID:                   util.NewID("ntmpl"),
			BaseID:               base.ID,
			Type:                 typ,
			Subject:              defaultSubjects[typ],
			SendToContactPersons: typ != store.NotificationUserFeedbackReceived,
			SendToPlanAdmins:     typ == store.NotificationUserFeedbackReceived,
		}
		if err := ops.Add(ctx, store.DeferredOp{Kind: store.OpCreate, Entity: "notification_template", Apply: func(ctx context.Context, tx *store.PostgresStore) error {
			return tx.InsertNotificationTemplate(ctx, t)
		}}); err != nil {
			return err
		}
	}

	blocks := []store.ContentBlock{
		{Identifier: "intro", Content: "<p>This is your regular summary from " + plan.SiteTitle + ".</p>"},
		{Identifier: "outro", Content: "<p>You receive this email because you are involved in " + plan.SiteTitle + ".</p>"},
	}
	for _, b := range blocks {
		b.ID = util.NewID("block")
		b.BaseID = base.ID
		if err := ops.Add(ctx, store.DeferredOp{Kind: store.OpCreate, Entity: "content_block", Apply: func(ctx context.Context, tx *store.PostgresStore) error {
			return tx.InsertContentBlock(ctx, b)
		}}); err != nil {
			return err
		}
	}

	if err := ops.Flush(ctx); err != nil {
		return fmt.Errorf("seed notification templates: %w", err)
	}
	return nil
}
