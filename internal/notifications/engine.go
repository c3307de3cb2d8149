package notifications

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/kausaltech/kausal-watch-sub001/internal/email"
	"github.com/kausaltech/kausal-watch-sub001/internal/mjml"
	"github.com/kausaltech/kausal-watch-sub001/internal/store"
	"github.com/kausaltech/kausal-watch-sub001/internal/util"
)

// Options constrain or redirect one notification run.
type Options struct {
	// ForceTo rewrites every delivery to this address; nothing is
	// recorded as sent.
	ForceTo string
	// Limit caps the number of emails sent, 0 = unlimited.
	Limit int
	// OnlyType restricts the run to one notification type.
	OnlyType string
	// OnlyEmail restricts delivery to recipients with this address.
	OnlyEmail string

	IgnoreActions    bool
	IgnoreIndicators bool

	// Noop renders everything but skips sending and recording.
	Noop bool
	// DumpDir writes MJML and HTML side by side for inspection.
	DumpDir string

	// Now overrides the clock, zero = wall clock.
	Now time.Time
}

// OrgPlanAdminEntry links a person to the organization subtree they
// administer, for the bubble-up rule.
type OrgPlanAdminEntry struct {
	Person  store.Person
	OrgPath string
}

// PlanData is the single prefetch for one plan's notification run. The
// engine never goes back to the store afterwards.
type PlanData struct {
	Plan          store.Plan
	BaseTemplate  store.BaseTemplate
	Templates     map[store.NotificationType]store.NotificationTemplate
	ContentBlocks []store.ContentBlock

	Actions            []store.Action
	TasksByAction      map[string][]store.ActionTask
	Indicators         []store.Indicator
	ActionContacts     map[string][]store.Person
	IndicatorContacts  map[string][]store.Person
	GeneralAdmins      []store.Person
	OrgPlanAdmins      []OrgPlanAdminEntry
	Organizations      map[string]store.Organization
	ResponsibleParties map[string][]store.ActionResponsibleParty
	Feedback           []store.UserFeedback

	Sent []store.SentNotification
}

// Loader produces the prefetched plan data.
type Loader interface {
	LoadPlanData(ctx context.Context, planID string) (*PlanData, error)
}

// Renderer converts MJML to HTML.
type Renderer interface {
	Render(ctx context.Context, source string) (string, error)
}

// Sender delivers one email.
type Sender interface {
	Send(msg email.Message) error
}

// SentLog records successful deliveries for de-duplication.
type SentLog interface {
	Record(ctx context.Context, n store.SentNotification) error
}

// Stats summarizes one run.
type Stats struct {
	Generated int
	Sent      int
	Recorded  int
	Skipped   int
}

type Engine struct {
	loader   Loader
	renderer Renderer
	sender   Sender
	sentLog  SentLog
	logger   *log.Logger
}

func NewEngine(loader Loader, renderer Renderer, sender Sender, sentLog SentLog, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{loader: loader, renderer: renderer, sender: sender, sentLog: sentLog, logger: logger}
}

// Run plans and dispatches the notifications of one plan.
func (e *Engine) Run(ctx context.Context, planID string, opts Options) (Stats, error) {
	var stats Stats

	data, err := e.loader.LoadPlanData(ctx, planID)
	if err != nil {
		return stats, fmt.Errorf("load plan data: %w", err)
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	today := now.In(data.Plan.Location())

	intents := e.generate(data, today, opts)
	stats.Generated = len(intents)

	history := buildSentIndex(data.Sent)
	queue := NewQueue()
	for _, intent := range intents {
		tmpl, ok := data.Templates[intent.Type]
		if !ok {
			stats.Skipped++
			continue
		}
		for _, recipient := range e.recipientsFor(intent, tmpl, data) {
			if opts.OnlyEmail != "" && recipient.EmailAddress() != opts.OnlyEmail {
				continue
			}
			lastSent := history.lastSent(recipient.Key(), intent)
			if !ShouldSend(intent, lastSent, history.sentToAnyone(intent), today) {
				stats.Skipped++
				continue
			}
			queue.Push(recipient, intent)
		}
	}

	for _, group := range queue.Groups() {
		if opts.Limit > 0 && stats.Sent >= opts.Limit {
			break
		}
		if err := e.dispatch(ctx, data, group, opts, now, &stats); err != nil {
			// Per-email failures never abort the run.
			e.logger.Printf("notification to %s failed: %v", group.Recipient.EmailAddress(), err)
		}
	}
	return stats, nil
}

// generate runs the classification rules over the prefetched data.
func (e *Engine) generate(data *PlanData, today time.Time, opts Options) []*Intent {
	intents := make([]*Intent, 0)
	add := func(intent *Intent) {
		if intent == nil {
			return
		}
		if opts.OnlyType != "" && string(intent.Type) != opts.OnlyType {
			return
		}
		intents = append(intents, intent)
	}

	if !opts.IgnoreActions {
		for i := range data.Actions {
			action := data.Actions[i]
			tasks := data.TasksByAction[action.ID]
			for _, task := range tasks {
				if !task.IsActiveTask() {
					continue
				}
				intent, err := ClassifyTask(action, task, today)
				if err != nil {
					e.logger.Printf("skipping task %s: %v", task.ID, err)
					continue
				}
				add(intent)
			}
			add(ClassifyActionTasks(action, tasks, today))
			add(ClassifyActionFreshness(data.Plan, action, today))
		}
	}

	if !opts.IgnoreIndicators {
		for i := range data.Indicators {
			add(ClassifyIndicator(data.Indicators[i], today))
		}
	}

	for i := range data.Feedback {
		fb := data.Feedback[i]
		add(&Intent{
			Type:       store.NotificationUserFeedbackReceived,
			TargetKind: TargetFeedback,
			TargetID:   fb.ID,
			Feedback:   &fb,
		})
	}

	return intents
}

// recipientsFor resolves the template's recipient policy, with the
// bubble-up rule for object-scoped notifications.
func (e *Engine) recipientsFor(intent *Intent, tmpl store.NotificationTemplate, data *PlanData) []Recipient {
	recipients := make([]Recipient, 0, 2)
	seen := map[string]bool{}
	push := func(r Recipient) {
		if r.EmailAddress() == "" || seen[r.Key()] {
			return
		}
		seen[r.Key()] = true
		recipients = append(recipients, r)
	}

	if tmpl.SendToContactPersons {
		contacts := e.directContacts(intent, data)
		if len(contacts) == 0 {
			contacts = e.bubbleUpAdmins(intent, data)
		}
		for _, p := range contacts {
			push(PersonRecipient{Person: p})
		}
	}
	if tmpl.SendToPlanAdmins {
		for _, p := range data.GeneralAdmins {
			push(PersonRecipient{Person: p})
		}
	}
	if tmpl.CustomEmail != "" {
		push(EmailRecipient{Email: tmpl.CustomEmail})
	}
	return recipients
}

func (e *Engine) directContacts(intent *Intent, data *PlanData) []store.Person {
	switch {
	case intent.Action != nil:
		return data.ActionContacts[intent.Action.ID]
	case intent.Indicator != nil:
		return data.IndicatorContacts[intent.Indicator.ID]
	}
	return nil
}

// bubbleUpAdmins escalates to the organization-plan admins over the
// object's organization chain: responsible party org first, else the
// action's primary org, else the indicator's org.
func (e *Engine) bubbleUpAdmins(intent *Intent, data *PlanData) []store.Person {
	var orgID string
	switch {
	case intent.Action != nil:
		if parties := data.ResponsibleParties[intent.Action.ID]; len(parties) > 0 {
			orgID = parties[0].OrganizationID
		} else if intent.Action.PrimaryOrgID != nil {
			orgID = *intent.Action.PrimaryOrgID
		}
	case intent.Indicator != nil:
		orgID = intent.Indicator.OrganizationID
	}
	if orgID == "" {
		return nil
	}
	org, ok := data.Organizations[orgID]
	if !ok {
		return nil
	}

	out := make([]store.Person, 0)
	for _, admin := range data.OrgPlanAdmins {
		if strings.HasPrefix(org.Path, admin.OrgPath) {
			out = append(out, admin.Person)
		}
	}
	return out
}

func (e *Engine) dispatch(ctx context.Context, data *PlanData, group *Group, opts Options, now time.Time, stats *Stats) error {
	tmpl := data.Templates[group.Type]
	rendered, err := BuildEmail(data.Plan, data.BaseTemplate, tmpl, data.ContentBlocks, group)
	if err != nil {
		return err
	}

	html, err := e.renderer.Render(ctx, rendered.MJML)
	if err != nil {
		if errors.Is(err, mjml.ErrDependencyMissing) {
			return err
		}
		return fmt.Errorf("render html: %w", err)
	}

	if opts.DumpDir != "" {
		name := fmt.Sprintf("%s-%s", group.Type, strings.ReplaceAll(group.Recipient.EmailAddress(), "@", "_at_"))
		if err := mjml.Dump(opts.DumpDir, name, rendered.MJML, html); err != nil {
			e.logger.Printf("dump failed: %v", err)
		}
	}

	to := group.Recipient.EmailAddress()
	if opts.ForceTo != "" {
		to = opts.ForceTo
	}

	if opts.Noop {
		e.logger.Printf("noop: would send %s to %s (%d items)", group.Type, to, len(group.Items))
		return nil
	}

	if err := e.sender.Send(email.Message{
		To:       to,
		From:     rendered.From,
		FromName: rendered.FromName,
		ReplyTo:  rendered.ReplyTo,
		Subject:  rendered.Subject,
		HTMLBody: html,
	}); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	stats.Sent++

	// Forced deliveries are rehearsals: nothing is recorded as sent.
	if opts.ForceTo != "" {
		return nil
	}
	personID, emailAddr := group.Recipient.SentFields()
	for _, item := range group.Items {
		record := store.SentNotification{
			ID:         util.NewID("sent"),
			TargetKind: item.TargetKind,
			TargetID:   item.TargetID,
			Type:       item.Type,
			PersonID:   personID,
			Email:      emailAddr,
			SentAt:     now,
		}
		if err := e.sentLog.Record(ctx, record); err != nil {
			return fmt.Errorf("record sent notification: %w", err)
		}
		stats.Recorded++
	}
	return nil
}

// --- Sent-notification history index ---

type sentIndex struct {
	byRecipient map[string]time.Time
	byTarget    map[string]bool
}

func targetKey(kind, id string, t store.NotificationType) string {
	return kind + "/" + id + "/" + string(t)
}

func buildSentIndex(sent []store.SentNotification) *sentIndex {
	idx := &sentIndex{
		byRecipient: map[string]time.Time{},
		byTarget:    map[string]bool{},
	}
	for _, n := range sent {
		target := targetKey(n.TargetKind, n.TargetID, n.Type)
		idx.byTarget[target] = true

		var rkey string
		switch {
		case n.PersonID != nil:
			rkey = "person:" + *n.PersonID
		case n.Email != nil:
			rkey = "email:" + *n.Email
		default:
			continue
		}
		key := rkey + "/" + target
		if last, ok := idx.byRecipient[key]; !ok || n.SentAt.After(last) {
			idx.byRecipient[key] = n.SentAt
		}
	}
	return idx
}

func (idx *sentIndex) lastSent(recipientKey string, intent *Intent) *time.Time {
	key := recipientKey + "/" + targetKey(intent.TargetKind, intent.TargetID, intent.Type)
	if at, ok := idx.byRecipient[key]; ok {
		return &at
	}
	return nil
}

func (idx *sentIndex) sentToAnyone(intent *Intent) bool {
	return idx.byTarget[targetKey(intent.TargetKind, intent.TargetID, intent.Type)]
}
