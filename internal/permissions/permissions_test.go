package permissions

import (
	"strings"
	"testing"

	"github.com/kausaltech/kausal-watch-sub001/internal/store"
)

func member(mutate func(*Membership)) Membership {
	m := Membership{
		UserID:              "user_1",
		PersonID:            "person_1",
		GeneralAdminPlans:   map[string]bool{},
		OrgPlanAdminPaths:   map[string][]string{},
		ContactActionIDs:    map[string]bool{},
		ContactIndicatorIDs: map[string]bool{},
		WorkflowRoles:       map[string]WorkflowRole{},
		WorkflowTaskCounts:  map[string]int{},
	}
	if mutate != nil {
		mutate(&m)
	}
	return m
}

func actionTarget(planID, actionID string, orgPaths ...string) Target {
	return Target{Kind: KindAction, PlanID: planID, ObjectID: actionID, OrgPaths: orgPaths}
}

func TestDenyByDefault(t *testing.T) {
	m := member(nil)
	for _, verb := range []Verb{VerbView, VerbAdd, VerbChange, VerbDelete, VerbPublish, VerbApprove} {
		if Can(m, verb, actionTarget("plan_1", "action_1")) {
			t.Errorf("%s should be denied with no memberships", verb)
		}
	}
}

func TestSuperuserAllowsEverything(t *testing.T) {
	m := member(func(m *Membership) { m.Superuser = true })
	targets := []Target{
		actionTarget("plan_1", "action_1"),
		{Kind: KindAttribute, PlanID: "plan_1", Editability: store.NotEditable},
		{Kind: KindReport, PlanID: "plan_2"},
	}
	for _, target := range targets {
		if !Can(m, VerbChange, target) {
			t.Errorf("superuser denied change on %s", target.Kind)
		}
	}
}

func TestGeneralAdminScopedToPlan(t *testing.T) {
	m := member(func(m *Membership) { m.GeneralAdminPlans["plan_1"] = true })

	if !Can(m, VerbChange, actionTarget("plan_1", "action_1")) {
		t.Error("general admin should change actions in their plan")
	}
	if !Can(m, VerbDelete, Target{Kind: KindReport, PlanID: "plan_1"}) {
		t.Error("general admin should manage reports in their plan")
	}
	if Can(m, VerbChange, actionTarget("plan_2", "action_9")) {
		t.Error("general admin must not cross plans")
	}
}

func TestOrgPlanAdminOverSubtree(t *testing.T) {
	m := member(func(m *Membership) {
		m.OrgPlanAdminPaths["plan_1"] = []string{"00000001"}
	})

	if !Can(m, VerbChange, actionTarget("plan_1", "action_1", "0000000100000002")) {
		t.Error("org admin should change actions of descendant orgs")
	}
	if !Can(m, VerbChange, actionTarget("plan_1", "action_2", "00000001")) {
		t.Error("org admin should change actions of their own org")
	}
	if Can(m, VerbChange, actionTarget("plan_1", "action_3", "00000002")) {
		t.Error("org admin must not reach sibling subtrees")
	}
	if Can(m, VerbChange, actionTarget("plan_2", "action_4", "0000000100000002")) {
		t.Error("org admin rights are plan-scoped")
	}
}

func TestContactPersonForAction(t *testing.T) {
	m := member(func(m *Membership) { m.ContactActionIDs["action_1"] = true })

	if !Can(m, VerbView, actionTarget("plan_1", "action_1")) {
		t.Error("contact should view their action")
	}
	if !Can(m, VerbChange, actionTarget("plan_1", "action_1")) {
		t.Error("contact should change their action")
	}
	if Can(m, VerbDelete, actionTarget("plan_1", "action_1")) {
		t.Error("contact must not delete the action")
	}
	if !Can(m, VerbAdd, Target{Kind: KindActionTask, PlanID: "plan_1", ObjectID: "action_1"}) {
		t.Error("contact should add tasks under their action")
	}
	if Can(m, VerbAdd, actionTarget("plan_1", "action_1")) {
		t.Error("contact must not add new actions")
	}
	if Can(m, VerbChange, actionTarget("plan_1", "action_2")) {
		t.Error("contact rights do not extend to other actions")
	}
}

func TestContactPersonForIndicator(t *testing.T) {
	m := member(func(m *Membership) { m.ContactIndicatorIDs["ind_1"] = true })
	target := Target{Kind: KindIndicator, PlanID: "plan_1", ObjectID: "ind_1"}

	if !Can(m, VerbChange, target) {
		t.Error("contact should change their indicator")
	}
	if !Can(m, VerbAdd, target) {
		t.Error("contact should add values and goals")
	}
	if Can(m, VerbDelete, target) {
		t.Error("contact must not delete the indicator")
	}
}

func TestWorkflowRoles(t *testing.T) {
	target := actionTarget("plan_1", "action_1")

	single := member(func(m *Membership) {
		m.WorkflowRoles["plan_1"] = RoleModerator
		m.WorkflowTaskCounts["plan_1"] = 1
	})
	if !Can(single, VerbPublish, target) {
		t.Error("single-task workflow: moderator publishes")
	}
	if !Can(single, VerbApprove, target) {
		t.Error("single-task workflow: moderator approves")
	}

	multi := member(func(m *Membership) {
		m.WorkflowRoles["plan_1"] = RoleModerator
		m.WorkflowTaskCounts["plan_1"] = 2
	})
	if Can(multi, VerbPublish, target) {
		t.Error("multi-stage workflow: moderator must not publish")
	}
	if !Can(multi, VerbApprove, target) {
		t.Error("multi-stage workflow: moderator approves")
	}

	editor := member(func(m *Membership) {
		m.WorkflowRoles["plan_1"] = RoleEditor
		m.WorkflowTaskCounts["plan_1"] = 1
	})
	if Can(editor, VerbPublish, target) || Can(editor, VerbApprove, target) {
		t.Error("editor never approves or publishes")
	}
}

func TestAttributeEditability(t *testing.T) {
	admin := member(func(m *Membership) { m.GeneralAdminPlans["plan_1"] = true })
	contact := member(func(m *Membership) { m.ContactActionIDs["action_1"] = true })

	locked := Target{Kind: KindAttribute, PlanID: "plan_1", ObjectID: "action_1", Editability: store.NotEditable}
	if Can(admin, VerbChange, locked) {
		t.Error("not_editable attributes are superuser-only")
	}

	adminsOnly := Target{Kind: KindAttribute, PlanID: "plan_1", ObjectID: "action_1", Editability: store.EditableByAdmins}
	if !Can(admin, VerbChange, adminsOnly) {
		t.Error("plan admin should edit plan_admins attributes")
	}
	if Can(contact, VerbChange, adminsOnly) {
		t.Error("contact must not edit plan_admins attributes")
	}

	open := Target{Kind: KindAttribute, PlanID: "plan_1", ObjectID: "action_1", Editability: store.EditableByAuthorized}
	if !Can(contact, VerbChange, open) {
		t.Error("contact should edit authorized attributes on their action")
	}
}

func TestCollectionScoping(t *testing.T) {
	m := member(func(m *Membership) { m.GeneralAdminPlans["plan_1"] = true })

	in := Target{Kind: KindCollection, PlanID: "plan_1", CollectionPath: "000100020003", PlanRootCollection: "00010002"}
	out := Target{Kind: KindCollection, PlanID: "plan_1", CollectionPath: "00090001", PlanRootCollection: "00010002"}
	if !Can(m, VerbChange, in) {
		t.Error("collections under the plan root should be reachable")
	}
	if Can(m, VerbChange, out) {
		t.Error("collections outside the plan root must be denied")
	}
}

// Authorization safety: the listing predicate and the per-row check agree.
func TestQuerysetMatchesCanModifyAction(t *testing.T) {
	type action struct {
		id       string
		planID   string
		orgPaths []string
	}
	actions := []action{
		{"action_1", "plan_1", []string{"00000001"}},
		{"action_2", "plan_1", []string{"0000000100000001"}},
		{"action_3", "plan_1", []string{"00000002"}},
		{"action_4", "plan_2", []string{"00000001"}},
	}

	members := map[string]Membership{
		"superuser": member(func(m *Membership) { m.Superuser = true }),
		"general admin": member(func(m *Membership) {
			m.GeneralAdminPlans["plan_1"] = true
		}),
		"org admin": member(func(m *Membership) {
			m.OrgPlanAdminPaths["plan_1"] = []string{"00000001"}
		}),
		"contact": member(func(m *Membership) {
			m.ContactActionIDs["action_3"] = true
		}),
		"nobody": member(nil),
	}

	for name, m := range members {
		pred := QuerysetForActions(m, "plan_1", 0)
		switch pred.SQL {
		case "TRUE":
			for _, a := range actions {
				if a.planID == "plan_1" && !CanModifyAction(m, a.planID, a.id, a.orgPaths) {
					t.Errorf("%s: predicate allows %s but Can denies", name, a.id)
				}
			}
		case "FALSE":
			for _, a := range actions {
				if CanModifyAction(m, a.planID, a.id, a.orgPaths) {
					t.Errorf("%s: predicate denies %s but Can allows", name, a.id)
				}
			}
		default:
			if len(pred.Args) == 0 {
				t.Errorf("%s: parameterized predicate with no args", name)
			}
		}
	}
}

func TestQuerysetPlaceholderOffset(t *testing.T) {
	m := member(func(m *Membership) {
		m.OrgPlanAdminPaths["plan_1"] = []string{"00000001"}
	})
	pred := QuerysetForActions(m, "plan_1", 2)
	if !strings.Contains(pred.SQL, "$3") {
		t.Errorf("placeholders should continue from the offset, got %q", pred.SQL)
	}
	if strings.Contains(pred.SQL, "$1") || strings.Contains(pred.SQL, "$2") {
		t.Errorf("predicate must not reuse caller placeholders, got %q", pred.SQL)
	}
}
