package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/kausaltech/kausal-watch-sub001/internal/auth"
	"github.com/kausaltech/kausal-watch-sub001/internal/authpw"
	"github.com/kausaltech/kausal-watch-sub001/internal/permissions"
	"github.com/kausaltech/kausal-watch-sub001/internal/search"
	"github.com/kausaltech/kausal-watch-sub001/internal/store"
	"github.com/kausaltech/kausal-watch-sub001/internal/util"
)

// Session is the authenticated caller of one request.
type Session struct {
	UserID    string
	Email     string
	Superuser bool
}

const tokenTTL = 12 * time.Hour

// dataStore is the storage surface the API service needs.
type dataStore interface {
	Ping(ctx context.Context) error
	GetUser(ctx context.Context, userID string) (store.User, error)
	GetPersonByEmail(ctx context.Context, email string) (store.Person, error)
	GetPlan(ctx context.Context, planID string) (store.Plan, error)
	GetPlanByIdentifier(ctx context.Context, identifier string) (store.Plan, error)
	GetPlanByHostname(ctx context.Context, hostname string) (store.Plan, error)
	ListPlans(ctx context.Context) ([]store.Plan, error)
	GetOrganization(ctx context.Context, orgID string) (store.Organization, error)
	ListGeneralAdmins(ctx context.Context, planID string) ([]store.Person, error)
	ListOrganizationPlanAdmins(ctx context.Context, planID string) ([]store.OrganizationPlanAdmin, error)
	ListActionContactPersonIDs(ctx context.Context, personID, planID string) ([]string, error)
	ListIndicatorContactPersonIDs(ctx context.Context, personID, planID string) ([]string, error)
	GetWorkflowRole(ctx context.Context, personID, planID string) (string, error)
	SetWorkflowRole(ctx context.Context, personID, planID, role string) error

	GetAction(ctx context.Context, actionID string) (store.Action, error)
	ListActions(ctx context.Context, planID string) ([]store.Action, error)
	ListActionsMatching(ctx context.Context, planID, predicate string, args []any) ([]store.Action, error)
	InsertAction(ctx context.Context, a store.Action) error
	UpdateAction(ctx context.Context, a store.Action, readAt time.Time) error
	DeleteAction(ctx context.Context, actionID string) error
	ListResponsibleParties(ctx context.Context, actionID string) ([]store.ActionResponsibleParty, error)

	GetTask(ctx context.Context, taskID string) (store.ActionTask, error)
	ListTasks(ctx context.Context, actionID string) ([]store.ActionTask, error)
	InsertTask(ctx context.Context, t store.ActionTask) error
	UpdateTask(ctx context.Context, t store.ActionTask) error
	DeleteTask(ctx context.Context, taskID string) error

	GetIndicator(ctx context.Context, indicatorID string) (store.Indicator, error)
	ListIndicators(ctx context.Context, planID string) ([]store.Indicator, error)
	ListIndicatorsMatching(ctx context.Context, planID, predicate string, args []any) ([]store.Indicator, error)
	InsertIndicator(ctx context.Context, ind store.Indicator) error
	UpdateIndicator(ctx context.Context, ind store.Indicator, readAt time.Time) error
	ReplaceIndicatorValues(ctx context.Context, indicatorID string, values []store.IndicatorValue) error
	ReplaceIndicatorGoals(ctx context.Context, indicatorID string, goals []store.IndicatorGoal) error
	ListIndicatorValues(ctx context.Context, indicatorID string) ([]store.IndicatorValue, error)

	ListCategoryTypes(ctx context.Context, planID string) ([]store.CategoryType, error)
	ListCategories(ctx context.Context, typeID string) ([]store.Category, error)
	InsertCategory(ctx context.Context, c store.Category) error

	GetReport(ctx context.Context, reportID string) (store.Report, error)
	GetReportType(ctx context.Context, typeID string) (store.ReportType, error)
}

// PersonManager creates persons and rebinds their user accounts.
type PersonManager interface {
	Create(ctx context.Context, person store.Person) (store.Person, error)
	ChangeEmail(ctx context.Context, personID, newEmail string) (store.Person, error)
}

// LoginChecker implements the login-method endpoint.
type LoginChecker interface {
	CheckLoginMethod(ctx context.Context, email string) (string, error)
	Login(ctx context.Context, email, password string) (store.User, error)
}

// ReportManager drives report completion and export.
type ReportManager interface {
	ExportXLSX(ctx context.Context, reportID string) ([]byte, error)
	MarkActionComplete(ctx context.Context, userID *string, actionID, reportID string) (store.ActionSnapshot, error)
	UndoMarkActionComplete(ctx context.Context, actionID, reportID string) error
	MarkReportComplete(ctx context.Context, userID *string, reportID string) error
	UndoMarkReportComplete(ctx context.Context, reportID string) error
}

// SearchProvider answers full-text queries and keeps the index in step
// with writes. Nil disables search (tests).
type SearchProvider interface {
	Search(q search.Query) search.Response
	IndexAction(a search.ActionRecord)
	IndexIndicator(i search.IndicatorRecord)
	DeleteAction(id string)
	DeleteIndicator(id string)
}

// VersionLog records entity versions for audited writes; nil disables
// versioning (tests).
type VersionLog interface {
	RecordActionChange(ctx context.Context, userID *string, comment string, action store.Action) error
}

type Service struct {
	store    dataStore
	people   PersonManager
	login    LoginChecker
	reports  ReportManager
	search   SearchProvider
	versions VersionLog
	secret   []byte
}

func NewService(s dataStore, people PersonManager, login LoginChecker, reports ReportManager, searchProvider SearchProvider, versions VersionLog, jwtSecret string) *Service {
	return &Service{
		store:    s,
		people:   people,
		login:    login,
		reports:  reports,
		search:   searchProvider,
		versions: versions,
		secret:   []byte(jwtSecret),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// --- Sessions ---

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken(s.secret, token)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUser(ctx, claims.UserID)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	if !user.IsActive() {
		return Session{}, auth.ErrInvalidToken
	}
	return Session{UserID: user.ID, Email: user.Email, Superuser: user.IsSuperuser}, nil
}

// Login authenticates and issues an API token.
func (s *Service) Login(ctx context.Context, email, password string) (string, Session, error) {
	user, err := s.login.Login(ctx, email, password)
	if err != nil {
		return "", Session{}, err
	}
	token, err := auth.IssueToken(s.secret, user.ID, user.Email, user.IsSuperuser, tokenTTL)
	if err != nil {
		return "", Session{}, fmt.Errorf("issue token: %w", err)
	}
	return token, Session{UserID: user.ID, Email: user.Email, Superuser: user.IsSuperuser}, nil
}

// --- Plans ---

// ResolvePlan finds a plan by id or identifier; exactly one must be set.
func (s *Service) ResolvePlan(ctx context.Context, planID, planIdentifier string) (store.Plan, error) {
	switch {
	case planID != "":
		plan, err := s.store.GetPlan(ctx, planID)
		if errors.Is(err, store.ErrNotFound) {
			return store.Plan{}, notFound("plan_not_found", "Plan not found")
		}
		return plan, err
	case planIdentifier != "":
		plan, err := s.store.GetPlanByIdentifier(ctx, planIdentifier)
		if errors.Is(err, store.ErrNotFound) {
			return store.Plan{}, notFound("plan_not_found", "Plan not found")
		}
		return plan, err
	}
	return store.Plan{}, domainError(http.StatusBadRequest, "plan_required", "plan or plan_identifier is required", nil)
}

// GetPlanByDomain resolves the plan published on a hostname.
func (s *Service) GetPlanByDomain(ctx context.Context, hostname string) (store.Plan, error) {
	plan, err := s.store.GetPlanByHostname(ctx, hostname)
	if errors.Is(err, store.ErrNotFound) {
		return store.Plan{}, notFound("plan_not_found", "Plan not found")
	}
	return plan, err
}

func (s *Service) ListPlans(ctx context.Context) ([]store.Plan, error) {
	return s.store.ListPlans(ctx)
}

func (s *Service) membership(ctx context.Context, session Session, planID string) (permissions.Membership, error) {
	m, err := permissions.LoadMembership(ctx, s.store, session.UserID, planID)
	if err != nil {
		return permissions.Membership{}, fmt.Errorf("load membership: %w", err)
	}
	return m, nil
}

var errForbidden = domainError(http.StatusForbidden, "forbidden", "You do not have permission to perform this action", nil)

// actionOrgPaths resolves the organization paths an action answers to:
// its responsible party orgs plus the primary org.
func (s *Service) actionOrgPaths(ctx context.Context, action store.Action) ([]string, error) {
	var orgIDs []string
	parties, err := s.store.ListResponsibleParties(ctx, action.ID)
	if err != nil {
		return nil, fmt.Errorf("list responsible parties: %w", err)
	}
	for _, p := range parties {
		orgIDs = append(orgIDs, p.OrganizationID)
	}
	if action.PrimaryOrgID != nil {
		orgIDs = append(orgIDs, *action.PrimaryOrgID)
	}
	paths := make([]string, 0, len(orgIDs))
	for _, id := range orgIDs {
		org, err := s.store.GetOrganization(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("get organization: %w", err)
		}
		paths = append(paths, org.Path)
	}
	return paths, nil
}

// --- Actions ---

func (s *Service) ListActions(ctx context.Context, session Session, planID string) ([]store.Action, error) {
	if _, err := s.store.GetPlan(ctx, planID); errors.Is(err, store.ErrNotFound) {
		return nil, notFound("plan_not_found", "Plan not found")
	} else if err != nil {
		return nil, err
	}
	return s.store.ListActions(ctx, planID)
}

// ListEditableActions returns only the actions of a plan the caller may
// modify, evaluated as a SQL predicate instead of per-row checks.
func (s *Service) ListEditableActions(ctx context.Context, session Session, planID string) ([]store.Action, error) {
	if _, err := s.store.GetPlan(ctx, planID); errors.Is(err, store.ErrNotFound) {
		return nil, notFound("plan_not_found", "Plan not found")
	} else if err != nil {
		return nil, err
	}
	m, err := s.membership(ctx, session, planID)
	if err != nil {
		return nil, err
	}
	pred := permissions.QuerysetForActions(m, planID, 1)
	return s.store.ListActionsMatching(ctx, planID, pred.SQL, pred.Args)
}

func (s *Service) GetAction(ctx context.Context, session Session, actionID string) (store.Action, error) {
	action, err := s.store.GetAction(ctx, actionID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Action{}, notFound("action_not_found", "Action not found")
	}
	return action, err
}

func (s *Service) CreateAction(ctx context.Context, session Session, a store.Action) (store.Action, error) {
	m, err := s.membership(ctx, session, a.PlanID)
	if err != nil {
		return store.Action{}, err
	}
	if !permissions.Can(m, permissions.VerbAdd, permissions.Target{Kind: permissions.KindAction, PlanID: a.PlanID}) {
		return store.Action{}, errForbidden
	}
	if a.Identifier == "" || a.Name == "" {
		return store.Action{}, domainError(http.StatusBadRequest, "invalid_action", "identifier and name are required", nil)
	}
	a.ID = util.NewID("act")
	a.UUID = util.NewUUID()
	if a.Visibility == "" {
		a.Visibility = store.VisibilityPublic
	}
	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now
	if err := s.store.InsertAction(ctx, a); err != nil {
		return store.Action{}, fmt.Errorf("insert action: %w", err)
	}
	s.recordActionChange(ctx, session, "Created action", a)
	s.indexAction(a)
	return a, nil
}

// UpdateAction applies an optimistic-concurrency update: readAt is the
// updated_at the caller read, an intervening write turns into 409.
func (s *Service) UpdateAction(ctx context.Context, session Session, a store.Action, readAt time.Time) (store.Action, error) {
	existing, err := s.store.GetAction(ctx, a.ID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Action{}, notFound("action_not_found", "Action not found")
	} else if err != nil {
		return store.Action{}, err
	}

	m, err := s.membership(ctx, session, existing.PlanID)
	if err != nil {
		return store.Action{}, err
	}
	orgPaths, err := s.actionOrgPaths(ctx, existing)
	if err != nil {
		return store.Action{}, err
	}
	target := permissions.Target{
		Kind:     permissions.KindAction,
		PlanID:   existing.PlanID,
		ObjectID: existing.ID,
		OrgPaths: orgPaths,
	}
	if !permissions.Can(m, permissions.VerbChange, target) {
		return store.Action{}, errForbidden
	}

	a.PlanID = existing.PlanID
	a.UUID = existing.UUID
	a.CreatedAt = existing.CreatedAt
	a.UpdatedAt = time.Now()
	if err := s.store.UpdateAction(ctx, a, readAt); err != nil {
		if errors.Is(err, store.ErrConcurrent) {
			return store.Action{}, domainError(http.StatusConflict, "conflict", "Action was modified by someone else", nil)
		}
		return store.Action{}, err
	}
	s.recordActionChange(ctx, session, "Updated action", a)
	s.indexAction(a)
	return a, nil
}

func (s *Service) DeleteAction(ctx context.Context, session Session, actionID string) error {
	action, err := s.store.GetAction(ctx, actionID)
	if errors.Is(err, store.ErrNotFound) {
		return notFound("action_not_found", "Action not found")
	} else if err != nil {
		return err
	}
	m, err := s.membership(ctx, session, action.PlanID)
	if err != nil {
		return err
	}
	if !permissions.Can(m, permissions.VerbDelete, permissions.Target{Kind: permissions.KindAction, PlanID: action.PlanID, ObjectID: action.ID}) {
		return errForbidden
	}
	if err := s.store.DeleteAction(ctx, actionID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteAction(actionID)
	}
	return nil
}

func (s *Service) recordActionChange(ctx context.Context, session Session, comment string, a store.Action) {
	if s.versions == nil {
		return
	}
	userID := session.UserID
	if err := s.versions.RecordActionChange(ctx, &userID, comment, a); err != nil {
		// The write itself succeeded; a missing version row is not fatal.
		log.Printf("record action version for %s: %v", a.ID, err)
	}
}

func (s *Service) indexAction(a store.Action) {
	if s.search == nil {
		return
	}
	s.search.IndexAction(search.ActionRecord{
		ID:         a.ID,
		PlanID:     a.PlanID,
		Identifier: a.Identifier,
		Name:       a.Name,
		Status:     a.Status,
	})
}

// --- Tasks ---

func (s *Service) taskPermission(ctx context.Context, session Session, actionID string, verb permissions.Verb) (store.Action, error) {
	action, err := s.store.GetAction(ctx, actionID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Action{}, notFound("action_not_found", "Action not found")
	} else if err != nil {
		return store.Action{}, err
	}
	m, err := s.membership(ctx, session, action.PlanID)
	if err != nil {
		return store.Action{}, err
	}
	orgPaths, err := s.actionOrgPaths(ctx, action)
	if err != nil {
		return store.Action{}, err
	}
	target := permissions.Target{
		Kind:     permissions.KindActionTask,
		PlanID:   action.PlanID,
		ObjectID: action.ID,
		OrgPaths: orgPaths,
	}
	if !permissions.Can(m, verb, target) {
		return store.Action{}, errForbidden
	}
	return action, nil
}

func (s *Service) ListTasks(ctx context.Context, session Session, actionID string) ([]store.ActionTask, error) {
	if _, err := s.store.GetAction(ctx, actionID); errors.Is(err, store.ErrNotFound) {
		return nil, notFound("action_not_found", "Action not found")
	} else if err != nil {
		return nil, err
	}
	return s.store.ListTasks(ctx, actionID)
}

func (s *Service) CreateTask(ctx context.Context, session Session, t store.ActionTask) (store.ActionTask, error) {
	if _, err := s.taskPermission(ctx, session, t.ActionID, permissions.VerbAdd); err != nil {
		return store.ActionTask{}, err
	}
	if t.Name == "" || t.DueAt.IsZero() {
		return store.ActionTask{}, domainError(http.StatusBadRequest, "invalid_task", "name and due_at are required", nil)
	}
	t.ID = util.NewID("task")
	if t.State == "" {
		t.State = store.TaskNotStarted
	}
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	if err := s.store.InsertTask(ctx, t); err != nil {
		return store.ActionTask{}, fmt.Errorf("insert task: %w", err)
	}
	return t, nil
}

func (s *Service) UpdateTask(ctx context.Context, session Session, t store.ActionTask) (store.ActionTask, error) {
	existing, err := s.store.GetTask(ctx, t.ID)
	if errors.Is(err, store.ErrNotFound) {
		return store.ActionTask{}, notFound("task_not_found", "Task not found")
	} else if err != nil {
		return store.ActionTask{}, err
	}
	if _, err := s.taskPermission(ctx, session, existing.ActionID, permissions.VerbChange); err != nil {
		return store.ActionTask{}, err
	}
	t.ActionID = existing.ActionID
	t.CreatedAt = existing.CreatedAt
	if t.State == store.TaskCompleted && existing.State != store.TaskCompleted && t.CompletedAt == nil {
		now := time.Now()
		t.CompletedAt = &now
	}
	t.UpdatedAt = time.Now()
	if err := s.store.UpdateTask(ctx, t); err != nil {
		return store.ActionTask{}, err
	}
	return t, nil
}

func (s *Service) DeleteTask(ctx context.Context, session Session, taskID string) error {
	existing, err := s.store.GetTask(ctx, taskID)
	if errors.Is(err, store.ErrNotFound) {
		return notFound("task_not_found", "Task not found")
	} else if err != nil {
		return err
	}
	action, err := s.store.GetAction(ctx, existing.ActionID)
	if err != nil {
		return err
	}
	m, err := s.membership(ctx, session, action.PlanID)
	if err != nil {
		return err
	}
	// Contact persons may never delete tasks, only admins.
	if !permissions.Can(m, permissions.VerbDelete, permissions.Target{Kind: permissions.KindActionTask, PlanID: action.PlanID, ObjectID: action.ID}) {
		return errForbidden
	}
	return s.store.DeleteTask(ctx, taskID)
}

// --- Indicators ---

func (s *Service) ListIndicators(ctx context.Context, session Session, planID string) ([]store.Indicator, error) {
	if _, err := s.store.GetPlan(ctx, planID); errors.Is(err, store.ErrNotFound) {
		return nil, notFound("plan_not_found", "Plan not found")
	} else if err != nil {
		return nil, err
	}
	return s.store.ListIndicators(ctx, planID)
}

// ListEditableIndicators is the indicator analogue of ListEditableActions.
func (s *Service) ListEditableIndicators(ctx context.Context, session Session, planID string) ([]store.Indicator, error) {
	if _, err := s.store.GetPlan(ctx, planID); errors.Is(err, store.ErrNotFound) {
		return nil, notFound("plan_not_found", "Plan not found")
	} else if err != nil {
		return nil, err
	}
	m, err := s.membership(ctx, session, planID)
	if err != nil {
		return nil, err
	}
	pred := permissions.QuerysetForIndicators(m, planID, 1)
	return s.store.ListIndicatorsMatching(ctx, planID, pred.SQL, pred.Args)
}

func (s *Service) CreateIndicator(ctx context.Context, session Session, ind store.Indicator) (store.Indicator, error) {
	m, err := s.membership(ctx, session, ind.PlanID)
	if err != nil {
		return store.Indicator{}, err
	}
	if !permissions.Can(m, permissions.VerbAdd, permissions.Target{Kind: permissions.KindIndicator, PlanID: ind.PlanID}) {
		return store.Indicator{}, errForbidden
	}
	if ind.Name == "" {
		return store.Indicator{}, domainError(http.StatusBadRequest, "invalid_indicator", "name is required", nil)
	}
	ind.ID = util.NewID("ind")
	ind.UUID = util.NewUUID()
	if ind.TimeResolution == "" {
		ind.TimeResolution = store.ResolutionYear
	}
	now := time.Now()
	ind.CreatedAt = now
	ind.UpdatedAt = now
	if err := s.store.InsertIndicator(ctx, ind); err != nil {
		return store.Indicator{}, fmt.Errorf("insert indicator: %w", err)
	}
	if s.search != nil {
		s.search.IndexIndicator(search.IndicatorRecord{
			ID: ind.ID, PlanID: ind.PlanID, Identifier: ind.Identifier,
			Name: ind.Name, Quantity: ind.Quantity, Unit: ind.Unit,
		})
	}
	return ind, nil
}

func (s *Service) indicatorPermission(ctx context.Context, session Session, indicatorID string, verb permissions.Verb) (store.Indicator, error) {
	ind, err := s.store.GetIndicator(ctx, indicatorID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Indicator{}, notFound("indicator_not_found", "Indicator not found")
	} else if err != nil {
		return store.Indicator{}, err
	}
	m, err := s.membership(ctx, session, ind.PlanID)
	if err != nil {
		return store.Indicator{}, err
	}
	var orgPaths []string
	if ind.OrganizationID != "" {
		if org, err := s.store.GetOrganization(ctx, ind.OrganizationID); err == nil {
			orgPaths = []string{org.Path}
		}
	}
	target := permissions.Target{
		Kind:     permissions.KindIndicator,
		PlanID:   ind.PlanID,
		ObjectID: ind.ID,
		OrgPaths: orgPaths,
	}
	if !permissions.Can(m, verb, target) {
		return store.Indicator{}, errForbidden
	}
	return ind, nil
}

func (s *Service) UpdateIndicator(ctx context.Context, session Session, ind store.Indicator, readAt time.Time) (store.Indicator, error) {
	existing, err := s.indicatorPermission(ctx, session, ind.ID, permissions.VerbChange)
	if err != nil {
		return store.Indicator{}, err
	}
	ind.PlanID = existing.PlanID
	ind.UUID = existing.UUID
	ind.CreatedAt = existing.CreatedAt
	ind.UpdatedAt = time.Now()
	if err := s.store.UpdateIndicator(ctx, ind, readAt); err != nil {
		if errors.Is(err, store.ErrConcurrent) {
			return store.Indicator{}, domainError(http.StatusConflict, "conflict", "Indicator was modified by someone else", nil)
		}
		return store.Indicator{}, err
	}
	return ind, nil
}

// ReplaceIndicatorValues swaps the indicator's full value series and
// rolls the update deadline forward.
func (s *Service) ReplaceIndicatorValues(ctx context.Context, session Session, indicatorID string, values []store.IndicatorValue) error {
	if _, err := s.indicatorPermission(ctx, session, indicatorID, permissions.VerbChange); err != nil {
		return err
	}
	for i := range values {
		if values[i].ID == "" {
			values[i].ID = util.NewID("indval")
		}
		values[i].IndicatorID = indicatorID
	}
	if err := s.store.ReplaceIndicatorValues(ctx, indicatorID, values); err != nil {
		return fmt.Errorf("replace values: %w", err)
	}
	return nil
}

func (s *Service) ListIndicatorValues(ctx context.Context, session Session, indicatorID string) ([]store.IndicatorValue, error) {
	if _, err := s.store.GetIndicator(ctx, indicatorID); errors.Is(err, store.ErrNotFound) {
		return nil, notFound("indicator_not_found", "Indicator not found")
	} else if err != nil {
		return nil, err
	}
	return s.store.ListIndicatorValues(ctx, indicatorID)
}

func (s *Service) ReplaceIndicatorGoals(ctx context.Context, session Session, indicatorID string, goals []store.IndicatorGoal) error {
	if _, err := s.indicatorPermission(ctx, session, indicatorID, permissions.VerbChange); err != nil {
		return err
	}
	for i := range goals {
		if goals[i].ID == "" {
			goals[i].ID = util.NewID("indgoal")
		}
		goals[i].IndicatorID = indicatorID
	}
	if err := s.store.ReplaceIndicatorGoals(ctx, indicatorID, goals); err != nil {
		return fmt.Errorf("replace goals: %w", err)
	}
	return nil
}

// --- Categories ---

func (s *Service) ListCategoryTypes(ctx context.Context, planID string) ([]store.CategoryType, error) {
	return s.store.ListCategoryTypes(ctx, planID)
}

func (s *Service) ListCategories(ctx context.Context, typeID string) ([]store.Category, error) {
	return s.store.ListCategories(ctx, typeID)
}

func (s *Service) CreateCategory(ctx context.Context, session Session, planID string, c store.Category) (store.Category, error) {
	m, err := s.membership(ctx, session, planID)
	if err != nil {
		return store.Category{}, err
	}
	if !permissions.Can(m, permissions.VerbAdd, permissions.Target{Kind: permissions.KindCategory, PlanID: planID}) {
		return store.Category{}, errForbidden
	}
	if c.Name == "" || c.TypeID == "" {
		return store.Category{}, domainError(http.StatusBadRequest, "invalid_category", "type_id and name are required", nil)
	}
	c.ID = util.NewID("cat")
	if err := s.store.InsertCategory(ctx, c); err != nil {
		return store.Category{}, fmt.Errorf("insert category: %w", err)
	}
	return c, nil
}

// --- People ---

func (s *Service) CreatePerson(ctx context.Context, session Session, planID string, p store.Person) (store.Person, error) {
	m, err := s.membership(ctx, session, planID)
	if err != nil {
		return store.Person{}, err
	}
	if !permissions.Can(m, permissions.VerbAdd, permissions.Target{Kind: permissions.KindPerson, PlanID: planID}) {
		return store.Person{}, errForbidden
	}
	if p.Email == "" {
		return store.Person{}, domainError(http.StatusBadRequest, "invalid_person", "email is required", nil)
	}
	return s.people.Create(ctx, p)
}

func (s *Service) ChangePersonEmail(ctx context.Context, session Session, planID, personID, newEmail string) (store.Person, error) {
	m, err := s.membership(ctx, session, planID)
	if err != nil {
		return store.Person{}, err
	}
	if !permissions.Can(m, permissions.VerbChange, permissions.Target{Kind: permissions.KindPerson, PlanID: planID, ObjectID: personID}) {
		return store.Person{}, errForbidden
	}
	return s.people.ChangeEmail(ctx, personID, newEmail)
}

// SetPersonWorkflowRole assigns or clears a person's moderation role in a
// plan's workflow. The empty role removes the assignment.
func (s *Service) SetPersonWorkflowRole(ctx context.Context, session Session, planID, personID, role string) error {
	switch permissions.WorkflowRole(role) {
	case permissions.RoleNone, permissions.RoleEditor, permissions.RoleModerator:
	default:
		return domainError(http.StatusUnprocessableEntity, "validation_error", "unknown workflow role: "+role, nil)
	}
	m, err := s.membership(ctx, session, planID)
	if err != nil {
		return err
	}
	if !permissions.Can(m, permissions.VerbChange, permissions.Target{Kind: permissions.KindPerson, PlanID: planID, ObjectID: personID}) {
		return errForbidden
	}
	return s.store.SetWorkflowRole(ctx, personID, planID, role)
}

// --- Reports ---

func (s *Service) reportPlanID(ctx context.Context, reportID string) (string, store.Report, error) {
	report, err := s.store.GetReport(ctx, reportID)
	if errors.Is(err, store.ErrNotFound) {
		return "", store.Report{}, notFound("report_not_found", "Report not found")
	} else if err != nil {
		return "", store.Report{}, err
	}
	rt, err := s.store.GetReportType(ctx, report.TypeID)
	if err != nil {
		return "", store.Report{}, err
	}
	return rt.PlanID, report, nil
}

func (s *Service) DownloadReport(ctx context.Context, session Session, reportID string) ([]byte, string, error) {
	planID, report, err := s.reportPlanID(ctx, reportID)
	if err != nil {
		return nil, "", err
	}
	m, err := s.membership(ctx, session, planID)
	if err != nil {
		return nil, "", err
	}
	if !permissions.Can(m, permissions.VerbDownloadReport, permissions.Target{Kind: permissions.KindReport, PlanID: planID, ObjectID: reportID}) {
		return nil, "", errForbidden
	}
	data, err := s.reports.ExportXLSX(ctx, reportID)
	if err != nil {
		return nil, "", err
	}
	return data, report.Name + ".xlsx", nil
}

func (s *Service) MarkReportComplete(ctx context.Context, session Session, reportID string, complete bool) error {
	planID, _, err := s.reportPlanID(ctx, reportID)
	if err != nil {
		return err
	}
	m, err := s.membership(ctx, session, planID)
	if err != nil {
		return err
	}
	if !permissions.Can(m, permissions.VerbChange, permissions.Target{Kind: permissions.KindReport, PlanID: planID, ObjectID: reportID}) {
		return errForbidden
	}
	userID := session.UserID
	if complete {
		return s.reports.MarkReportComplete(ctx, &userID, reportID)
	}
	return s.reports.UndoMarkReportComplete(ctx, reportID)
}

func (s *Service) MarkActionComplete(ctx context.Context, session Session, reportID, actionID string, complete bool) error {
	planID, _, err := s.reportPlanID(ctx, reportID)
	if err != nil {
		return err
	}
	m, err := s.membership(ctx, session, planID)
	if err != nil {
		return err
	}
	action, err := s.store.GetAction(ctx, actionID)
	if errors.Is(err, store.ErrNotFound) {
		return notFound("action_not_found", "Action not found")
	} else if err != nil {
		return err
	}
	orgPaths, err := s.actionOrgPaths(ctx, action)
	if err != nil {
		return err
	}
	target := permissions.Target{Kind: permissions.KindAction, PlanID: planID, ObjectID: actionID, OrgPaths: orgPaths}
	if !permissions.Can(m, permissions.VerbChange, target) {
		return errForbidden
	}
	userID := session.UserID
	if complete {
		_, err := s.reports.MarkActionComplete(ctx, &userID, actionID, reportID)
		return err
	}
	return s.reports.UndoMarkActionComplete(ctx, actionID, reportID)
}

// --- Search ---

func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

// --- Login method check ---

func (s *Service) CheckLoginMethod(ctx context.Context, email string) (string, error) {
	var checkErr *authpw.CheckError
	method, err := s.login.CheckLoginMethod(ctx, email)
	if err != nil {
		if errors.As(err, &checkErr) {
			status := http.StatusBadRequest
			if checkErr.Code == authpw.CodeThrottled {
				status = http.StatusTooManyRequests
			}
			return "", domainError(status, checkErr.Code, checkErr.Detail, nil)
		}
		return "", err
	}
	return method, nil
}
