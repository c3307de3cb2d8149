package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const actionColumns = `id, uuid, plan_id, identifier, name, status, implementation_phase_id,
	primary_org_id, visibility, merged_with_id, superseded_by_id, created_at, updated_at`

func scanAction(row interface{ Scan(...any) error }) (Action, error) {
	var a Action
	err := row.Scan(
		&a.ID, &a.UUID, &a.PlanID, &a.Identifier, &a.Name, &a.Status,
		&a.ImplementationPhaseID, &a.PrimaryOrgID, &a.Visibility,
		&a.MergedWithID, &a.SupersededByID, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return Action{}, mapError(err)
	}
	return a, nil
}

func collectActions(rows *sql.Rows) ([]Action, error) {
	items := make([]Action, 0)
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetAction(ctx context.Context, actionID string) (Action, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM actions WHERE id=$1`, actionID)
	return scanAction(row)
}

func (s *PostgresStore) GetActionByIdentifier(ctx context.Context, planID, identifier string) (Action, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+actionColumns+` FROM actions WHERE plan_id=$1 AND identifier=$2
	`, planID, identifier)
	return scanAction(row)
}

func (s *PostgresStore) ListActions(ctx context.Context, planID string) ([]Action, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+actionColumns+` FROM actions WHERE plan_id=$1 ORDER BY identifier
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()
	return collectActions(rows)
}

// ListActionsMatching restricts a plan's actions by an extra SQL predicate
// over the actions table aliased "a". Placeholders inside the predicate
// continue from $2.
func (s *PostgresStore) ListActionsMatching(ctx context.Context, planID, predicate string, args []any) ([]Action, error) {
	query := `SELECT ` + actionColumns + ` FROM actions a WHERE a.plan_id=$1 AND ` + predicate + ` ORDER BY a.identifier`
	rows, err := s.q.QueryContext(ctx, query, append([]any{planID}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("list actions matching: %w", err)
	}
	defer rows.Close()
	return collectActions(rows)
}

func (s *PostgresStore) InsertAction(ctx context.Context, a Action) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO actions (id, uuid, plan_id, identifier, name, status,
			implementation_phase_id, primary_org_id, visibility, merged_with_id, superseded_by_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, a.ID, a.UUID, a.PlanID, a.Identifier, a.Name, a.Status,
		a.ImplementationPhaseID, a.PrimaryOrgID, a.Visibility, a.MergedWithID, a.SupersededByID)
	if err != nil {
		return fmt.Errorf("insert action: %w", mapError(err))
	}
	return nil
}

// UpdateAction applies a full-row update guarded by the caller's read
// timestamp. A mismatch means a concurrent writer won and the caller must
// re-read.
func (s *PostgresStore) UpdateAction(ctx context.Context, a Action, readAt time.Time) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE actions
		SET identifier=$2, name=$3, status=$4, implementation_phase_id=$5,
			primary_org_id=$6, visibility=$7, merged_with_id=$8, superseded_by_id=$9,
			updated_at=NOW()
		WHERE id=$1 AND updated_at=$10
	`, a.ID, a.Identifier, a.Name, a.Status, a.ImplementationPhaseID,
		a.PrimaryOrgID, a.Visibility, a.MergedWithID, a.SupersededByID, readAt)
	if err != nil {
		return fmt.Errorf("update action: %w", mapError(err))
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if _, err := s.GetAction(ctx, a.ID); err != nil {
			return err
		}
		return ErrConcurrent
	}
	return nil
}

// RestoreAction writes a versioned state back onto the live row,
// including its original updated_at. Only called inside rollback-only
// inspection transactions and explicit reverts.
func (s *PostgresStore) RestoreAction(ctx context.Context, a Action) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE actions
		SET identifier=$2, name=$3, status=$4, implementation_phase_id=$5,
			primary_org_id=$6, visibility=$7, merged_with_id=$8, superseded_by_id=$9,
			updated_at=$10
		WHERE id=$1
	`, a.ID, a.Identifier, a.Name, a.Status, a.ImplementationPhaseID,
		a.PrimaryOrgID, a.Visibility, a.MergedWithID, a.SupersededByID, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("restore action: %w", mapError(err))
	}
	return nil
}

// TouchAction bumps updated_at without an optimistic check. Used when
// related rows (tasks, attributes) change the action's freshness.
func (s *PostgresStore) TouchAction(ctx context.Context, actionID string) error {
	_, err := s.q.ExecContext(ctx, `UPDATE actions SET updated_at=NOW() WHERE id=$1`, actionID)
	if err != nil {
		return fmt.Errorf("touch action: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteAction(ctx context.Context, actionID string) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM actions WHERE id=$1`, actionID)
	if err != nil {
		return fmt.Errorf("delete action: %w", mapError(err))
	}
	return nil
}

// --- Responsible parties & contact persons ---

func (s *PostgresStore) ListResponsibleParties(ctx context.Context, actionID string) ([]ActionResponsibleParty, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, action_id, organization_id, sort_order
		FROM action_responsible_parties WHERE action_id=$1 ORDER BY sort_order
	`, actionID)
	if err != nil {
		return nil, fmt.Errorf("list responsible parties: %w", err)
	}
	defer rows.Close()

	items := make([]ActionResponsibleParty, 0)
	for rows.Next() {
		var item ActionResponsibleParty
		if err := rows.Scan(&item.ID, &item.ActionID, &item.OrganizationID, &item.SortOrder); err != nil {
			return nil, fmt.Errorf("scan responsible party: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) ReplaceResponsibleParties(ctx context.Context, actionID string, parties []ActionResponsibleParty) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM action_responsible_parties WHERE action_id=$1`, actionID); err != nil {
		return fmt.Errorf("clear responsible parties: %w", err)
	}
	for _, p := range parties {
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO action_responsible_parties (id, action_id, organization_id, sort_order)
			VALUES ($1, $2, $3, $4)
		`, p.ID, actionID, p.OrganizationID, p.SortOrder)
		if err != nil {
			return fmt.Errorf("insert responsible party: %w", mapError(err))
		}
	}
	return nil
}

// ListResponsiblePartiesForPlan returns every responsible-party link in
// a plan in one query.
func (s *PostgresStore) ListResponsiblePartiesForPlan(ctx context.Context, planID string) ([]ActionResponsibleParty, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT rp.id, rp.action_id, rp.organization_id, rp.sort_order
		FROM action_responsible_parties rp
		JOIN actions a ON a.id = rp.action_id
		WHERE a.plan_id = $1
		ORDER BY rp.action_id, rp.sort_order
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("list plan responsible parties: %w", err)
	}
	defer rows.Close()

	items := make([]ActionResponsibleParty, 0)
	for rows.Next() {
		var item ActionResponsibleParty
		if err := rows.Scan(&item.ID, &item.ActionID, &item.OrganizationID, &item.SortOrder); err != nil {
			return nil, fmt.Errorf("scan responsible party: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) ListActionContactPersons(ctx context.Context, actionID string) ([]Person, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+personColumnsPrefixed("p")+`
		FROM persons p
		JOIN action_contact_persons cp ON cp.person_id = p.id
		WHERE cp.action_id = $1
		ORDER BY cp.sort_order
	`, actionID)
	if err != nil {
		return nil, fmt.Errorf("list action contact persons: %w", err)
	}
	defer rows.Close()
	return collectPersons(rows)
}

func (s *PostgresStore) ReplaceActionContactPersons(ctx context.Context, actionID string, contacts []ActionContactPerson) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM action_contact_persons WHERE action_id=$1`, actionID); err != nil {
		return fmt.Errorf("clear action contact persons: %w", err)
	}
	for _, c := range contacts {
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO action_contact_persons (id, action_id, person_id, sort_order)
			VALUES ($1, $2, $3, $4)
		`, c.ID, actionID, c.PersonID, c.SortOrder)
		if err != nil {
			return fmt.Errorf("insert action contact person: %w", mapError(err))
		}
	}
	return nil
}

// IsContactPersonForAction also matches contacts of actions merged into
// the given action.
func (s *PostgresStore) IsContactPersonForAction(ctx context.Context, personID, actionID string) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM action_contact_persons cp
			WHERE cp.person_id = $1 AND (
				cp.action_id = $2
				OR cp.action_id IN (SELECT id FROM actions WHERE merged_with_id = $2)
			)
		)
	`, personID, actionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("contact person check: %w", err)
	}
	return exists, nil
}

// ListActionContactPersonIDs returns the ids of the plan's actions the
// person is a contact for.
func (s *PostgresStore) ListActionContactPersonIDs(ctx context.Context, personID, planID string) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT cp.action_id
		FROM action_contact_persons cp
		JOIN actions a ON a.id = cp.action_id
		WHERE cp.person_id = $1 AND a.plan_id = $2
	`, personID, planID)
	if err != nil {
		return nil, fmt.Errorf("list contact action ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan action id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Tasks ---

const taskColumns = `id, action_id, name, due_at, state, completed_at, completed_by, created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (ActionTask, error) {
	var t ActionTask
	var completedBy sql.NullString
	err := row.Scan(
		&t.ID, &t.ActionID, &t.Name, &t.DueAt, &t.State,
		&t.CompletedAt, &completedBy, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return ActionTask{}, mapError(err)
	}
	t.CompletedBy = completedBy.String
	return t, nil
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (ActionTask, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM action_tasks WHERE id=$1`, taskID)
	return scanTask(row)
}

func (s *PostgresStore) ListTasks(ctx context.Context, actionID string) ([]ActionTask, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM action_tasks WHERE action_id=$1 ORDER BY due_at
	`, actionID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	items := make([]ActionTask, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

// ListTasksForPlan returns every task of the plan's active actions, for
// the notification prefetch.
func (s *PostgresStore) ListTasksForPlan(ctx context.Context, planID string) ([]ActionTask, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT t.id, t.action_id, t.name, t.due_at, t.state, t.completed_at, t.completed_by,
			t.created_at, t.updated_at
		FROM action_tasks t
		JOIN actions a ON a.id = t.action_id
		WHERE a.plan_id = $1 AND a.merged_with_id IS NULL AND a.superseded_by_id IS NULL
		ORDER BY t.due_at
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("list tasks for plan: %w", err)
	}
	defer rows.Close()

	items := make([]ActionTask, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (s *PostgresStore) InsertTask(ctx context.Context, t ActionTask) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO action_tasks (id, action_id, name, due_at, state, completed_at, completed_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, t.ID, t.ActionID, t.Name, t.DueAt, t.State, t.CompletedAt, nullString(t.CompletedBy))
	if err != nil {
		return fmt.Errorf("insert task: %w", mapError(err))
	}
	return nil
}

func (s *PostgresStore) UpdateTask(ctx context.Context, t ActionTask) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE action_tasks
		SET name=$2, due_at=$3, state=$4, completed_at=$5, completed_by=$6, updated_at=NOW()
		WHERE id=$1
	`, t.ID, t.Name, t.DueAt, t.State, t.CompletedAt, nullString(t.CompletedBy))
	if err != nil {
		return fmt.Errorf("update task: %w", mapError(err))
	}
	return nil
}

func (s *PostgresStore) DeleteTask(ctx context.Context, taskID string) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM action_tasks WHERE id=$1`, taskID)
	if err != nil {
		return fmt.Errorf("delete task: %w", mapError(err))
	}
	return nil
}

// --- Implementation phases ---

func (s *PostgresStore) ListImplementationPhases(ctx context.Context, planID string) ([]ImplementationPhase, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, plan_id, identifier, name, sort_order
		FROM implementation_phases WHERE plan_id=$1 ORDER BY sort_order
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("list implementation phases: %w", err)
	}
	defer rows.Close()

	items := make([]ImplementationPhase, 0)
	for rows.Next() {
		var item ImplementationPhase
		if err := rows.Scan(&item.ID, &item.PlanID, &item.Identifier, &item.Name, &item.SortOrder); err != nil {
			return nil, fmt.Errorf("scan implementation phase: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) InsertImplementationPhase(ctx context.Context, phase ImplementationPhase) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO implementation_phases (id, plan_id, identifier, name, sort_order)
		VALUES ($1, $2, $3, $4, $5)
	`, phase.ID, phase.PlanID, phase.Identifier, phase.Name, phase.SortOrder)
	if err != nil {
		return fmt.Errorf("insert implementation phase: %w", mapError(err))
	}
	return nil
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// RefreshActionStatuses marks actions late when they carry an overdue
// incomplete task and restores on_time when they no longer do. Merged and
// superseded actions are left untouched. Returns the number of actions
// whose status changed.
func (s *PostgresStore) RefreshActionStatuses(ctx context.Context, now time.Time) (int, error) {
	var changed int64
	err := s.WithTx(ctx, func(tx *PostgresStore) error {
		res, err := tx.q.ExecContext(ctx, `
			UPDATE actions a SET status='late', updated_at=NOW()
			WHERE a.merged_with_id IS NULL AND a.superseded_by_id IS NULL
			  AND a.status <> 'late'
			  AND EXISTS (
				SELECT 1 FROM action_tasks t
				WHERE t.action_id=a.id AND t.due_at < $1
				  AND t.state NOT IN ('completed', 'cancelled')
			  )
		`, now)
		if err != nil {
			return fmt.Errorf("mark late actions: %w", err)
		}
		n, _ := res.RowsAffected()
		changed += n

		res, err = tx.q.ExecContext(ctx, `
			UPDATE actions a SET status='on_time', updated_at=NOW()
			WHERE a.merged_with_id IS NULL AND a.superseded_by_id IS NULL
			  AND a.status = 'late'
			  AND NOT EXISTS (
				SELECT 1 FROM action_tasks t
				WHERE t.action_id=a.id AND t.due_at < $1
				  AND t.state NOT IN ('completed', 'cancelled')
			  )
		`, now)
		if err != nil {
			return fmt.Errorf("restore on-time actions: %w", err)
		}
		n, _ = res.RowsAffected()
		changed += n
		return nil
	})
	return int(changed), err
}
