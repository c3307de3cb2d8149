package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kausaltech/kausal-watch-sub001/internal/store"
)

// FeedbackLookbackDays bounds how far back feedback entries are
// considered for notification.
const FeedbackLookbackDays = 30

// StoreLoader prefetches everything one notification run needs from
// Postgres.
type StoreLoader struct {
	store *store.PostgresStore
}

func NewStoreLoader(s *store.PostgresStore) *StoreLoader {
	return &StoreLoader{store: s}
}

func (l *StoreLoader) LoadPlanData(ctx context.Context, planID string) (*PlanData, error) {
	plan, err := l.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	data := &PlanData{
		Plan:               plan,
		Templates:          map[store.NotificationType]store.NotificationTemplate{},
		TasksByAction:      map[string][]store.ActionTask{},
		ActionContacts:     map[string][]store.Person{},
		IndicatorContacts:  map[string][]store.Person{},
		Organizations:      map[string]store.Organization{},
		ResponsibleParties: map[string][]store.ActionResponsibleParty{},
	}

	base, err := l.store.GetBaseTemplate(ctx, planID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("get base template: %w", err)
	}
	data.BaseTemplate = base
	if base.ID != "" {
		templates, err := l.store.ListNotificationTemplates(ctx, base.ID)
		if err != nil {
			return nil, fmt.Errorf("list notification templates: %w", err)
		}
		for _, t := range templates {
			data.Templates[t.Type] = t
		}
		if data.ContentBlocks, err = l.store.ListContentBlocks(ctx, base.ID); err != nil {
			return nil, fmt.Errorf("list content blocks: %w", err)
		}
	}

	if data.Actions, err = l.store.ListActions(ctx, planID); err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	tasks, err := l.store.ListTasksForPlan(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	for _, t := range tasks {
		data.TasksByAction[t.ActionID] = append(data.TasksByAction[t.ActionID], t)
	}
	if data.Indicators, err = l.store.ListIndicators(ctx, planID); err != nil {
		return nil, fmt.Errorf("list indicators: %w", err)
	}

	for _, a := range data.Actions {
		contacts, err := l.store.ListActionContactPersons(ctx, a.ID)
		if err != nil {
			return nil, fmt.Errorf("list contacts for action %s: %w", a.ID, err)
		}
		data.ActionContacts[a.ID] = contacts
	}
	for _, ind := range data.Indicators {
		contacts, err := l.store.ListIndicatorContactPersons(ctx, ind.ID)
		if err != nil {
			return nil, fmt.Errorf("list contacts for indicator %s: %w", ind.ID, err)
		}
		data.IndicatorContacts[ind.ID] = contacts
	}

	if data.GeneralAdmins, err = l.store.ListGeneralAdmins(ctx, planID); err != nil {
		return nil, fmt.Errorf("list general admins: %w", err)
	}
	admins, err := l.store.ListOrganizationPlanAdmins(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("list organization plan admins: %w", err)
	}

	orgs, err := l.store.ListOrganizationsByPathPrefix(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	for _, o := range orgs {
		data.Organizations[o.ID] = o
	}

	for _, admin := range admins {
		person, err := l.store.GetPerson(ctx, admin.PersonID)
		if err != nil {
			return nil, fmt.Errorf("get admin person %s: %w", admin.PersonID, err)
		}
		org, ok := data.Organizations[admin.OrganizationID]
		if !ok {
			continue
		}
		data.OrgPlanAdmins = append(data.OrgPlanAdmins, OrgPlanAdminEntry{Person: person, OrgPath: org.Path})
	}

	parties, err := l.store.ListResponsiblePartiesForPlan(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("list responsible parties: %w", err)
	}
	for _, p := range parties {
		data.ResponsibleParties[p.ActionID] = append(data.ResponsibleParties[p.ActionID], p)
	}

	since := time.Now().AddDate(0, 0, -FeedbackLookbackDays)
	if data.Feedback, err = l.store.ListUserFeedbackSince(ctx, planID, since); err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}

	if err := l.loadSentHistory(ctx, data, tasks); err != nil {
		return nil, err
	}
	return data, nil
}

func (l *StoreLoader) loadSentHistory(ctx context.Context, data *PlanData, tasks []store.ActionTask) error {
	load := func(kind string, ids []string) error {
		if len(ids) == 0 {
			return nil
		}
		sent, err := l.store.ListSentNotifications(ctx, kind, ids)
		if err != nil {
			return fmt.Errorf("list sent notifications for %s: %w", kind, err)
		}
		data.Sent = append(data.Sent, sent...)
		return nil
	}

	taskIDs := make([]string, 0, len(tasks))
	for _, t := range tasks {
		taskIDs = append(taskIDs, t.ID)
	}
	actionIDs := make([]string, 0, len(data.Actions))
	for _, a := range data.Actions {
		actionIDs = append(actionIDs, a.ID)
	}
	indicatorIDs := make([]string, 0, len(data.Indicators))
	for _, ind := range data.Indicators {
		indicatorIDs = append(indicatorIDs, ind.ID)
	}
	feedbackIDs := make([]string, 0, len(data.Feedback))
	for _, fb := range data.Feedback {
		feedbackIDs = append(feedbackIDs, fb.ID)
	}

	if err := load(TargetTask, taskIDs); err != nil {
		return err
	}
	if err := load(TargetAction, actionIDs); err != nil {
		return err
	}
	if err := load(TargetIndicator, indicatorIDs); err != nil {
		return err
	}
	return load(TargetFeedback, feedbackIDs)
}

// StoreSentLog persists deliveries through the store.
type StoreSentLog struct {
	store *store.PostgresStore
}

func NewStoreSentLog(s *store.PostgresStore) *StoreSentLog {
	return &StoreSentLog{store: s}
}

func (l *StoreSentLog) Record(ctx context.Context, n store.SentNotification) error {
	return l.store.InsertSentNotification(ctx, n)
}
