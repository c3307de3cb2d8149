package store

import (
	"time"
)

// Plan is the tenant: an action plan with its own content, organization
// graph and admins.
type Plan struct {
	ID                            string
	Identifier                    string
	Name                          string
	SiteTitle                     string
	SiteURL                       string
	PrimaryLanguage               string
	OtherLanguages                []string
	OrganizationID                string
	Timezone                      string
	ActionDaysUntilStale          *int
	ModerationWorkflowTasks       int // 0 = no workflow, 1 = single task, >=2 = multi-stage
	NotificationsEnabled          bool
	NotificationSendAt            string // "HH:MM" in plan local time
	DailyNotificationsTriggeredAt *time.Time
	CreatedAt                     time.Time
	UpdatedAt                     time.Time
}

const DefaultActionDaysUntilStale = 180

func (p Plan) ActionStaleDays() int {
	if p.ActionDaysUntilStale != nil {
		return *p.ActionDaysUntilStale
	}
	return DefaultActionDaysUntilStale
}

func (p Plan) Location() *time.Location {
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (p Plan) NowInLocalTimezone() time.Time {
	return time.Now().In(p.Location())
}

// ShouldTriggerDailyNotifications reports whether the daily notification run
// for this plan is due at the given local time. A run earlier the same
// cycle short-circuits re-triggering.
func (p Plan) ShouldTriggerDailyNotifications(now time.Time) bool {
	if !p.NotificationsEnabled {
		return false
	}
	if p.DailyNotificationsTriggeredAt == nil {
		return true
	}
	sendAt, err := time.Parse("15:04", p.NotificationSendAt)
	if err != nil {
		sendAt, _ = time.Parse("15:04", "08:00")
	}
	triggered := p.DailyNotificationsTriggeredAt.In(now.Location())
	next := time.Date(
		triggered.Year(), triggered.Month(), triggered.Day(),
		sendAt.Hour(), sendAt.Minute(), 0, 0, now.Location(),
	)
	if !triggered.Before(next) {
		next = next.AddDate(0, 0, 1)
	}
	return !now.Before(next)
}

// Organization is a node in a materialized-path tree. Path segments are
// fixed-width; depth is derived from path length.
type Organization struct {
	ID             string
	Path           string
	Name           string
	Abbreviation   string
	Classification string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

const (
	OrgPathSegmentLen   = 8
	FirstOrgPathSegment = "00000001"
)

func (o Organization) Depth() int {
	if o.Path == "" {
		return 0
	}
	return len(o.Path) / OrgPathSegmentLen
}

func (o Organization) IsDescendantOf(other Organization) bool {
	return len(o.Path) > len(other.Path) && o.Path[:len(other.Path)] == other.Path
}

// OrganizationPlanAdmin links a person to administrative rights over one
// organization subtree inside one plan.
type OrganizationPlanAdmin struct {
	ID             string
	PlanID         string
	OrganizationID string
	PersonID       string
}

// RelatedOrganization links a plan to an organization outside its main tree.
type RelatedOrganization struct {
	PlanID         string
	OrganizationID string
}

type Person struct {
	ID             string
	UUID           string
	FirstName      string
	LastName       string
	Email          string
	OrganizationID string
	UserID         *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (p Person) FullName() string {
	if p.FirstName == "" {
		return p.LastName
	}
	return p.FirstName + " " + p.LastName
}

type User struct {
	ID                  string
	UUID                string
	Email               string
	PasswordHash        string
	IsStaff             bool
	IsSuperuser         bool
	SelectedAdminPlanID *string
	DeactivatedAt       *time.Time
	DeactivatedBy       string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (u User) IsActive() bool {
	return u.DeactivatedAt == nil
}

func (u User) HasUsablePassword() bool {
	return u.PasswordHash != ""
}

type ActionVisibility string

const (
	VisibilityDraft  ActionVisibility = "draft"
	VisibilityPublic ActionVisibility = "public"
)

type Action struct {
	ID                    string
	UUID                  string
	PlanID                string
	Identifier            string
	Name                  string
	Status                string
	ImplementationPhaseID *string
	PrimaryOrgID          *string
	Visibility            ActionVisibility
	MergedWithID          *string
	SupersededByID        *string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// IsActive reports whether the action still participates in monitoring:
// not merged into another action and not superseded.
func (a Action) IsActive() bool {
	return a.MergedWithID == nil && a.SupersededByID == nil
}

type ActionResponsibleParty struct {
	ID             string
	ActionID       string
	OrganizationID string
	SortOrder      int
}

type ActionContactPerson struct {
	ID        string
	ActionID  string
	PersonID  string
	SortOrder int
}

type TaskState string

const (
	TaskNotStarted TaskState = "not_started"
	TaskInProgress TaskState = "in_progress"
	TaskCompleted  TaskState = "completed"
	TaskCancelled  TaskState = "cancelled"
)

type ActionTask struct {
	ID          string
	ActionID    string
	Name        string
	DueAt       time.Time // date precision
	State       TaskState
	CompletedAt *time.Time
	CompletedBy string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsActiveTask reports whether the task still counts towards deadlines.
func (t ActionTask) IsActiveTask() bool {
	return t.State != TaskCompleted && t.State != TaskCancelled
}

type ImplementationPhase struct {
	ID         string
	PlanID     string
	Identifier string
	Name       string
	SortOrder  int
}

type TimeResolution string

const (
	ResolutionYear  TimeResolution = "year"
	ResolutionMonth TimeResolution = "month"
	ResolutionWeek  TimeResolution = "week"
	ResolutionDay   TimeResolution = "day"
)

type Indicator struct {
	ID                 string
	UUID               string
	PlanID             string
	OrganizationID     string
	Identifier         string
	Name               string
	Quantity           string
	Unit               string
	TimeResolution     TimeResolution
	UpdatedValuesDueAt *time.Time // date precision
	LatestValueID      *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// RollDueAtForward advances the due date by one reporting cycle. Semantics:
// a data update rolls the deadline, it never clears it.
func (i Indicator) RollDueAtForward() *time.Time {
	if i.UpdatedValuesDueAt == nil {
		return nil
	}
	due := *i.UpdatedValuesDueAt
	var next time.Time
	switch i.TimeResolution {
	case ResolutionMonth:
		next = due.AddDate(0, 1, 0)
	case ResolutionWeek:
		next = due.AddDate(0, 0, 7)
	case ResolutionDay:
		next = due.AddDate(0, 0, 1)
	default:
		next = due.AddDate(1, 0, 0)
	}
	return &next
}

type IndicatorValue struct {
	ID          string
	IndicatorID string
	Date        time.Time
	Value       float64
}

type IndicatorGoal struct {
	ID          string
	IndicatorID string
	Date        time.Time
	Value       float64
}

type IndicatorContactPerson struct {
	ID          string
	IndicatorID string
	PersonID    string
	SortOrder   int
}

type CategoryType struct {
	ID         string
	PlanID     string
	Identifier string
	Name       string
}

type Category struct {
	ID         string
	TypeID     string
	Identifier string
	Name       string
	ParentID   *string
	SortOrder  int
}

type ActionCategory struct {
	ActionID   string
	CategoryID string
}

type AttributeFormat string

const (
	FormatRichText       AttributeFormat = "rich_text"
	FormatOrderedChoice  AttributeFormat = "ordered_choice"
	FormatOptionalChoice AttributeFormat = "optional_choice"
	FormatNumeric        AttributeFormat = "numeric"
	FormatCategoryChoice AttributeFormat = "category_choice"
	FormatText           AttributeFormat = "text"
)

type AttributeEditability string

const (
	EditableByAuthorized AttributeEditability = "authorized"
	EditableByAdmins     AttributeEditability = "plan_admins"
	NotEditable          AttributeEditability = "not_editable"
)

type AttributeType struct {
	ID                  string
	PlanID              string
	Identifier          string
	Name                string
	Format              AttributeFormat
	Unit                string
	InstancesEditableBy AttributeEditability
	CategoryTypeID      *string // for category_choice
}

type AttributeChoice struct {
	ID         string
	TypeID     string
	Identifier string
	Name       string
	SortOrder  int
}

// AttributeTarget is the tagged attachment kind replacing generic
// relations: an attribute belongs to exactly one action or category.
type AttributeTarget string

const (
	TargetAction   AttributeTarget = "action"
	TargetCategory AttributeTarget = "category"
)

type Attribute struct {
	ID         string
	TypeID     string
	TargetKind AttributeTarget
	TargetID   string
	Text       string
	RichText   string
	Numeric    *float64
	ChoiceID   *string
	CategoryID *string
	UpdatedAt  time.Time
}

type ReportType struct {
	ID     string
	PlanID string
	Name   string
	Fields []ReportField
}

// ReportField is one field-block of a report type schema. Kind selects the
// block implementation; the remaining fields parameterize it.
type ReportField struct {
	Kind            string `json:"kind"`
	AttributeTypeID string `json:"attribute_type_id,omitempty"`
	Label           string `json:"label,omitempty"`
}

type Report struct {
	ID         string
	TypeID     string
	Name       string
	Identifier string
	StartDate  time.Time
	EndDate    time.Time
	IsComplete bool
	IsPublic   bool
	// Copied from the report type when the report is completed.
	Fields []ReportField
}

type ActionSnapshot struct {
	ID                string
	ReportID          string
	ActionID          string
	ActionVersionID   string
	CreatedExplicitly bool
	CreatedAt         time.Time
}

type Revision struct {
	ID        string
	UserID    *string
	Comment   string
	CreatedAt time.Time
}

type Version struct {
	ID         string
	RevisionID string
	EntityType string
	EntityID   string
	Data       []byte // serialized field dict
	Repr       string
}

type BaseTemplate struct {
	ID             string
	PlanID         string
	FromName       string
	FromAddress    string
	ReplyTo        string
	BrandDarkColor string
	LogoURL        string
}

type NotificationType string

const (
	NotificationTaskLate               NotificationType = "task_late"
	NotificationTaskDueSoon            NotificationType = "task_due_soon"
	NotificationIndicatorValuesLate    NotificationType = "updated_indicator_values_late"
	NotificationIndicatorValuesDueSoon NotificationType = "updated_indicator_values_due_soon"
	NotificationNotEnoughTasks         NotificationType = "not_enough_tasks"
	NotificationActionNotUpdated       NotificationType = "action_not_updated"
	NotificationUserFeedbackReceived   NotificationType = "user_feedback_received"
)

func AllNotificationTypes() []NotificationType {
	return []NotificationType{
		NotificationTaskLate,
		NotificationTaskDueSoon,
		NotificationIndicatorValuesLate,
		NotificationIndicatorValuesDueSoon,
		NotificationNotEnoughTasks,
		NotificationActionNotUpdated,
		NotificationUserFeedbackReceived,
	}
}

// NotificationTemplate selects subject, sender and recipient policy for
// one notification type of a plan.
type NotificationTemplate struct {
	ID                   string
	BaseID               string
	Type                 NotificationType
	Subject              string
	FromAddress          string
	SendToContactPersons bool
	SendToPlanAdmins     bool
	CustomEmail          string
}

type ContentBlock struct {
	ID         string
	BaseID     string
	TemplateID *string
	Identifier string
	Content    string
}

// SentNotification is the authoritative de-duplication record. Exactly one
// of PersonID and Email is set.
type SentNotification struct {
	ID         string
	TargetKind string
	TargetID   string
	Type       NotificationType
	PersonID   *string
	Email      *string
	SentAt     time.Time
}

type UserFeedback struct {
	ID        string
	PlanID    string
	Name      string
	Email     string
	Comment   string
	URL       string
	CreatedAt time.Time
}
