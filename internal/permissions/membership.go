package permissions

import (
	"context"
	"errors"
	"fmt"

	"github.com/kausaltech/kausal-watch-sub001/internal/store"
)

// membershipStore is the slice of the entity store the loader reads.
type membershipStore interface {
	GetUser(ctx context.Context, userID string) (store.User, error)
	GetPersonByEmail(ctx context.Context, email string) (store.Person, error)
	GetPlan(ctx context.Context, planID string) (store.Plan, error)
	GetOrganization(ctx context.Context, orgID string) (store.Organization, error)
	ListGeneralAdmins(ctx context.Context, planID string) ([]store.Person, error)
	ListOrganizationPlanAdmins(ctx context.Context, planID string) ([]store.OrganizationPlanAdmin, error)
	ListActionContactPersonIDs(ctx context.Context, personID, planID string) ([]string, error)
	ListIndicatorContactPersonIDs(ctx context.Context, personID, planID string) ([]string, error)
	GetWorkflowRole(ctx context.Context, personID, planID string) (string, error)
}

// LoadMembership builds the per-request membership snapshot for a user
// against one plan. The snapshot is cached by the caller for the request
// lifetime; Can never goes back to the store.
func LoadMembership(ctx context.Context, s membershipStore, userID, planID string) (Membership, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return Membership{}, fmt.Errorf("load user: %w", err)
	}
	m := Membership{
		UserID:              user.ID,
		Superuser:           user.IsSuperuser,
		GeneralAdminPlans:   map[string]bool{},
		OrgPlanAdminPaths:   map[string][]string{},
		ContactActionIDs:    map[string]bool{},
		ContactIndicatorIDs: map[string]bool{},
		WorkflowRoles:       map[string]WorkflowRole{},
		WorkflowTaskCounts:  map[string]int{},
	}

	person, err := s.GetPersonByEmail(ctx, user.Email)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return Membership{}, fmt.Errorf("load person: %w", err)
		}
		// A user without a person record holds no memberships.
		return m, nil
	}
	m.PersonID = person.ID

	plan, err := s.GetPlan(ctx, planID)
	if err != nil {
		return Membership{}, fmt.Errorf("load plan: %w", err)
	}
	m.WorkflowTaskCounts[planID] = plan.ModerationWorkflowTasks

	admins, err := s.ListGeneralAdmins(ctx, planID)
	if err != nil {
		return Membership{}, err
	}
	for _, a := range admins {
		if a.ID == person.ID {
			m.GeneralAdminPlans[planID] = true
		}
	}

	orgAdmins, err := s.ListOrganizationPlanAdmins(ctx, planID)
	if err != nil {
		return Membership{}, err
	}
	for _, oa := range orgAdmins {
		if oa.PersonID != person.ID {
			continue
		}
		org, err := s.GetOrganization(ctx, oa.OrganizationID)
		if err != nil {
			return Membership{}, fmt.Errorf("load admin organization: %w", err)
		}
		m.OrgPlanAdminPaths[planID] = append(m.OrgPlanAdminPaths[planID], org.Path)
	}

	actionIDs, err := s.ListActionContactPersonIDs(ctx, person.ID, planID)
	if err != nil {
		return Membership{}, err
	}
	for _, id := range actionIDs {
		m.ContactActionIDs[id] = true
	}

	indicatorIDs, err := s.ListIndicatorContactPersonIDs(ctx, person.ID, planID)
	if err != nil {
		return Membership{}, err
	}
	for _, id := range indicatorIDs {
		m.ContactIndicatorIDs[id] = true
	}

	role, err := s.GetWorkflowRole(ctx, person.ID, planID)
	if err != nil {
		return Membership{}, fmt.Errorf("load workflow role: %w", err)
	}
	if role != "" {
		m.WorkflowRoles[planID] = WorkflowRole(role)
	}

	return m, nil
}
