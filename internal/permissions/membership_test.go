package permissions

import (
	"context"
	"testing"

	"github.com/kausaltech/kausal-watch-sub001/internal/store"
)

type fakeMembershipStore struct {
	user          store.User
	person        store.Person
	plan          store.Plan
	workflowRoles map[string]string
}

func (f *fakeMembershipStore) GetUser(ctx context.Context, userID string) (store.User, error) {
	if userID != f.user.ID {
		return store.User{}, store.ErrNotFound
	}
	return f.user, nil
}

func (f *fakeMembershipStore) GetPersonByEmail(ctx context.Context, email string) (store.Person, error) {
	if email != f.person.Email {
		return store.Person{}, store.ErrNotFound
	}
	return f.person, nil
}

func (f *fakeMembershipStore) GetPlan(ctx context.Context, planID string) (store.Plan, error) {
	if planID != f.plan.ID {
		return store.Plan{}, store.ErrNotFound
	}
	return f.plan, nil
}

func (f *fakeMembershipStore) GetOrganization(ctx context.Context, orgID string) (store.Organization, error) {
	return store.Organization{}, store.ErrNotFound
}

func (f *fakeMembershipStore) ListGeneralAdmins(ctx context.Context, planID string) ([]store.Person, error) {
	return nil, nil
}

func (f *fakeMembershipStore) ListOrganizationPlanAdmins(ctx context.Context, planID string) ([]store.OrganizationPlanAdmin, error) {
	return nil, nil
}

func (f *fakeMembershipStore) ListActionContactPersonIDs(ctx context.Context, personID, planID string) ([]string, error) {
	return nil, nil
}

func (f *fakeMembershipStore) ListIndicatorContactPersonIDs(ctx context.Context, personID, planID string) ([]string, error) {
	return nil, nil
}

func (f *fakeMembershipStore) GetWorkflowRole(ctx context.Context, personID, planID string) (string, error) {
	return f.workflowRoles[personID+"/"+planID], nil
}

func moderationStore(role string, workflowTasks int) *fakeMembershipStore {
	return &fakeMembershipStore{
		user:   store.User{ID: "user_1", Email: "maija@example.com"},
		person: store.Person{ID: "person_1", Email: "maija@example.com"},
		plan:   store.Plan{ID: "plan_1", Identifier: "helsinki", ModerationWorkflowTasks: workflowTasks},
		workflowRoles: map[string]string{
			"person_1/plan_1": role,
		},
	}
}

func TestLoadMembershipWorkflowRole(t *testing.T) {
	ctx := context.Background()

	m, err := LoadMembership(ctx, moderationStore("moderator", 1), "user_1", "plan_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.WorkflowRoles["plan_1"] != RoleModerator {
		t.Fatalf("expected moderator role, got %q", m.WorkflowRoles["plan_1"])
	}
	if m.WorkflowTaskCounts["plan_1"] != 1 {
		t.Fatalf("expected workflow task count 1, got %d", m.WorkflowTaskCounts["plan_1"])
	}
	target := Target{Kind: KindAction, PlanID: "plan_1", ObjectID: "action_1"}
	if !Can(m, VerbPublish, target) {
		t.Error("single-task workflow: loaded moderator should publish")
	}

	m, err = LoadMembership(ctx, moderationStore("editor", 1), "user_1", "plan_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.WorkflowRoles["plan_1"] != RoleEditor {
		t.Fatalf("expected editor role, got %q", m.WorkflowRoles["plan_1"])
	}
	if Can(m, VerbPublish, target) {
		t.Error("loaded editor must not publish")
	}
}

func TestLoadMembershipNoWorkflowRole(t *testing.T) {
	m, err := LoadMembership(context.Background(), moderationStore("", 1), "user_1", "plan_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := m.WorkflowRoles["plan_1"]; ok {
		t.Error("no assignment should leave the role map empty")
	}
}
