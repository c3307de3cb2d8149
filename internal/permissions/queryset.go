package permissions

import (
	"fmt"
	"strings"
)

// Predicate is a SQL fragment plus its arguments, implementing the same
// policy as Can for bulk listing without a per-row resolver call. The
// fragment references the listed table by its alias.
type Predicate struct {
	SQL  string
	Args []any
}

func allRows() Predicate { return Predicate{SQL: "TRUE"} }
func noRows() Predicate  { return Predicate{SQL: "FALSE"} }

// QuerysetForActions returns the predicate selecting the actions of a
// plan the member may modify. The fragment assumes the actions table is
// aliased "a" and placeholders continue from argOffset+1.
func QuerysetForActions(m Membership, planID string, argOffset int) Predicate {
	if m.Superuser || m.GeneralAdminPlans[planID] {
		return allRows()
	}

	clauses := make([]string, 0, 2)
	args := make([]any, 0, 2)
	n := argOffset

	if m.PersonID != "" {
		n++
		clauses = append(clauses, fmt.Sprintf(`EXISTS (
			SELECT 1 FROM action_contact_persons cp
			WHERE cp.action_id = a.id AND cp.person_id = $%d
		)`, n))
		args = append(args, m.PersonID)
	}

	for _, path := range m.OrgPlanAdminPaths[planID] {
		n++
		clauses = append(clauses, fmt.Sprintf(`EXISTS (
			SELECT 1 FROM organizations o
			WHERE o.path LIKE $%d || '%%' AND (
				o.id = a.primary_org_id
				OR EXISTS (
					SELECT 1 FROM action_responsible_parties rp
					WHERE rp.action_id = a.id AND rp.organization_id = o.id
				)
			)
		)`, n))
		args = append(args, path)
	}

	if len(clauses) == 0 {
		return noRows()
	}
	return Predicate{SQL: "(" + strings.Join(clauses, " OR ") + ")", Args: args}
}

// QuerysetForIndicators is the indicator analogue; the indicators table
// is aliased "i".
func QuerysetForIndicators(m Membership, planID string, argOffset int) Predicate {
	if m.Superuser || m.GeneralAdminPlans[planID] {
		return allRows()
	}

	clauses := make([]string, 0, 2)
	args := make([]any, 0, 2)
	n := argOffset

	if m.PersonID != "" {
		n++
		clauses = append(clauses, fmt.Sprintf(`EXISTS (
			SELECT 1 FROM indicator_contact_persons cp
			WHERE cp.indicator_id = i.id AND cp.person_id = $%d
		)`, n))
		args = append(args, m.PersonID)
	}

	for _, path := range m.OrgPlanAdminPaths[planID] {
		n++
		clauses = append(clauses, fmt.Sprintf(`EXISTS (
			SELECT 1 FROM organizations o
			WHERE o.path LIKE $%d || '%%' AND o.id = i.organization_id
		)`, n))
		args = append(args, path)
	}

	if len(clauses) == 0 {
		return noRows()
	}
	return Predicate{SQL: "(" + strings.Join(clauses, " OR ") + ")", Args: args}
}
