package permissions

import (
	"strings"

	"github.com/kausaltech/kausal-watch-sub001/internal/store"
)

// Verb is an operation a caller wants to perform on a target.
type Verb string

const (
	VerbView           Verb = "view"
	VerbAdd            Verb = "add"
	VerbChange         Verb = "change"
	VerbDelete         Verb = "delete"
	VerbPublish        Verb = "publish"
	VerbApprove        Verb = "approve"
	VerbDownloadReport Verb = "download_report"
	VerbResetPassword  Verb = "reset_password"
)

// TargetKind names the entity class a verb applies to.
type TargetKind string

const (
	KindPlan          TargetKind = "plan"
	KindAction        TargetKind = "action"
	KindActionTask    TargetKind = "action_task"
	KindCategory      TargetKind = "category"
	KindIndicator     TargetKind = "indicator"
	KindReport        TargetKind = "report"
	KindSiteContent   TargetKind = "site_content"
	KindNotifications TargetKind = "notifications"
	KindAttribute     TargetKind = "attribute"
	KindCollection    TargetKind = "collection"
	KindPerson        TargetKind = "person"
)

// planScopedKinds is the set of entity classes a plan's general admin may
// mutate.
var planScopedKinds = map[TargetKind]bool{
	KindAction:        true,
	KindActionTask:    true,
	KindCategory:      true,
	KindIndicator:     true,
	KindReport:        true,
	KindSiteContent:   true,
	KindNotifications: true,
	KindAttribute:     true,
	KindPerson:        true,
}

// WorkflowRole is a moderation role inside one plan's workflow.
type WorkflowRole string

const (
	RoleNone      WorkflowRole = ""
	RoleEditor    WorkflowRole = "editor"
	RoleModerator WorkflowRole = "moderator"
)

// Membership is a cached snapshot of everything the resolver needs about
// one user. It is loaded once per request; Can is pure over it.
type Membership struct {
	UserID    string
	PersonID  string
	Superuser bool

	// Plan ids where the person is a general admin.
	GeneralAdminPlans map[string]bool

	// Plan id -> paths of organizations the person administers there.
	OrgPlanAdminPaths map[string][]string

	// Action / indicator ids the person is a contact for.
	ContactActionIDs    map[string]bool
	ContactIndicatorIDs map[string]bool

	// Plan id -> moderation role.
	WorkflowRoles map[string]WorkflowRole

	// Plan id -> number of moderation tasks in the plan's workflow.
	WorkflowTaskCounts map[string]int
}

// Target describes the object (or class) a verb is applied to.
type Target struct {
	Kind     TargetKind
	PlanID   string
	ObjectID string

	// Organization paths the object is answerable to: responsible-party
	// orgs and primary org for actions, the owning org for indicators.
	OrgPaths []string

	// For KindAttribute.
	Editability store.AttributeEditability

	// For KindCollection: the collection's path and the plan's root
	// collection path.
	CollectionPath     string
	PlanRootCollection string
}

// Can evaluates the capability layers in order, first match wins,
// deny-by-default.
func Can(m Membership, verb Verb, t Target) bool {
	// Layer 1: superuser.
	if m.Superuser {
		return true
	}

	// Attributes marked not_editable are settled above; nobody else may
	// change them.
	if t.Kind == KindAttribute && t.Editability == store.NotEditable && verb != VerbView {
		return false
	}

	// Layer 2: plan general admin.
	if m.GeneralAdminPlans[t.PlanID] {
		if t.Kind == KindPlan || planScopedKinds[t.Kind] {
			return true
		}
	}

	// Attributes restricted to plan admins stop here.
	if t.Kind == KindAttribute && t.Editability == store.EditableByAdmins && verb != VerbView {
		return false
	}

	// Layer 3: organization plan admin over the object's org chain.
	if verb == VerbView || verb == VerbAdd || verb == VerbChange || verb == VerbDelete {
		if t.Kind == KindAction || t.Kind == KindActionTask || t.Kind == KindIndicator || t.Kind == KindAttribute {
			for _, adminPath := range m.OrgPlanAdminPaths[t.PlanID] {
				for _, objPath := range t.OrgPaths {
					if strings.HasPrefix(objPath, adminPath) {
						return true
					}
				}
			}
		}
	}

	// Layer 4: contact person for the action.
	if (t.Kind == KindAction || t.Kind == KindActionTask || t.Kind == KindAttribute) && m.ContactActionIDs[t.ObjectID] {
		switch verb {
		case VerbView, VerbChange:
			return true
		case VerbAdd:
			// May add new tasks under their action.
			return t.Kind == KindActionTask
		}
	}

	// Layer 5: contact person for the indicator, including value edits.
	if t.Kind == KindIndicator && m.ContactIndicatorIDs[t.ObjectID] {
		switch verb {
		case VerbView, VerbChange, VerbAdd:
			return true
		}
	}

	// Layer 6: moderation roles.
	if verb == VerbPublish || verb == VerbApprove {
		role := m.WorkflowRoles[t.PlanID]
		tasks := m.WorkflowTaskCounts[t.PlanID]
		if role == RoleModerator {
			if tasks == 1 {
				// Single-task workflow: moderator both approves and
				// publishes.
				return true
			}
			if tasks >= 2 {
				return verb == VerbApprove
			}
		}
		return false
	}

	// Layer 7: collection-scoped permissions.
	if t.Kind == KindCollection {
		return t.PlanRootCollection != "" && strings.HasPrefix(t.CollectionPath, t.PlanRootCollection)
	}

	return false
}

// CanModifyAction is the bulk-listing contract's row predicate: superuser,
// plan admin for the action's plan, or contact person.
func CanModifyAction(m Membership, planID, actionID string, orgPaths []string) bool {
	return Can(m, VerbChange, Target{Kind: KindAction, PlanID: planID, ObjectID: actionID, OrgPaths: orgPaths})
}
