package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx so every store method works
// inside or outside an explicit transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type PostgresStore struct {
	db *sql.DB
	q  dbtx
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, q: db}
}

// stringArray adapts a []string for a Postgres TEXT[] parameter.
func stringArray(v []string) any {
	return pq.Array(v)
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn with a store bound to a single transaction. The
// transaction commits when fn returns nil and rolls back otherwise;
// partial application is never observable.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx *PostgresStore) error) error {
	if _, ok := s.q.(*sql.Tx); ok {
		// Already inside a transaction; run in the same scope.
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&PostgresStore{db: s.db, q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// errRollbackOnly signals WithTxRollback's unconditional rollback.
type errRollbackOnly struct{}

func (errRollbackOnly) Error() string { return "rollback-only transaction" }

// WithTxRollback runs fn inside a transaction that is always rolled back.
// Used by snapshot inspection: the caller reads a restored point-in-time
// state with no persistent side effects.
func (s *PostgresStore) WithTxRollback(ctx context.Context, fn func(tx *PostgresStore) error) error {
	err := s.WithTx(ctx, func(tx *PostgresStore) error {
		if err := fn(tx); err != nil {
			return err
		}
		return errRollbackOnly{}
	})
	if _, ok := err.(errRollbackOnly); ok {
		return nil
	}
	return err
}

// --- Plans ---

const planColumns = `id, identifier, name, site_title, site_url, primary_language, other_languages,
	organization_id, timezone, action_days_until_stale, moderation_workflow_tasks,
	notifications_enabled, notification_send_at, daily_notifications_triggered_at,
	created_at, updated_at`

const qualifiedPlanColumns = `p.id, p.identifier, p.name, p.site_title, p.site_url,
	p.primary_language, p.other_languages, p.organization_id, p.timezone,
	p.action_days_until_stale, p.moderation_workflow_tasks, p.notifications_enabled,
	p.notification_send_at, p.daily_notifications_triggered_at, p.created_at, p.updated_at`

func scanPlan(row interface{ Scan(...any) error }) (Plan, error) {
	var plan Plan
	err := row.Scan(
		&plan.ID, &plan.Identifier, &plan.Name, &plan.SiteTitle, &plan.SiteURL,
		&plan.PrimaryLanguage, pq.Array(&plan.OtherLanguages), &plan.OrganizationID,
		&plan.Timezone, &plan.ActionDaysUntilStale, &plan.ModerationWorkflowTasks,
		&plan.NotificationsEnabled, &plan.NotificationSendAt, &plan.DailyNotificationsTriggeredAt,
		&plan.CreatedAt, &plan.UpdatedAt,
	)
	if err != nil {
		return Plan{}, mapError(err)
	}
	return plan, nil
}

func (s *PostgresStore) InsertPlan(ctx context.Context, plan Plan) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO plans (id, identifier, name, site_title, site_url, primary_language,
			other_languages, organization_id, timezone, action_days_until_stale,
			moderation_workflow_tasks, notifications_enabled, notification_send_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, plan.ID, plan.Identifier, plan.Name, plan.SiteTitle, plan.SiteURL, plan.PrimaryLanguage,
		pq.Array(plan.OtherLanguages), plan.OrganizationID, plan.Timezone,
		plan.ActionDaysUntilStale, plan.ModerationWorkflowTasks,
		plan.NotificationsEnabled, plan.NotificationSendAt)
	if err != nil {
		return fmt.Errorf("insert plan: %w", mapError(err))
	}
	return nil
}

func (s *PostgresStore) GetPlan(ctx context.Context, planID string) (Plan, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE id=$1`, planID)
	return scanPlan(row)
}

func (s *PostgresStore) GetPlanByIdentifier(ctx context.Context, identifier string) (Plan, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE identifier=$1`, identifier)
	return scanPlan(row)
}

// GetPlanByHostname resolves the plan served on a public hostname.
func (s *PostgresStore) GetPlanByHostname(ctx context.Context, hostname string) (Plan, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+qualifiedPlanColumns+` FROM plans p
		JOIN plan_domains d ON d.plan_id = p.id
		WHERE d.hostname = $1
	`, hostname)
	return scanPlan(row)
}

func (s *PostgresStore) ListPlans(ctx context.Context) ([]Plan, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+planColumns+` FROM plans ORDER BY identifier`)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	items := make([]Plan, 0)
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		items = append(items, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plans: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) SetDailyNotificationsTriggeredAt(ctx context.Context, planID string, at time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE plans SET daily_notifications_triggered_at=$2, updated_at=NOW() WHERE id=$1
	`, planID, at)
	if err != nil {
		return fmt.Errorf("set daily notifications trigger: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeletePlan(ctx context.Context, planID string) (map[string]int, error) {
	counts := map[string]int{}
	tables := []struct {
		name  string
		query string
	}{
		{"action_tasks", `DELETE FROM action_tasks WHERE action_id IN (SELECT id FROM actions WHERE plan_id=$1)`},
		{"actions", `DELETE FROM actions WHERE plan_id=$1`},
		{"indicators", `DELETE FROM indicators WHERE plan_id=$1`},
		{"reports", `DELETE FROM reports WHERE type_id IN (SELECT id FROM report_types WHERE plan_id=$1)`},
		{"report_types", `DELETE FROM report_types WHERE plan_id=$1`},
		{"user_feedback", `DELETE FROM user_feedback WHERE plan_id=$1`},
		{"plans", `DELETE FROM plans WHERE id=$1`},
	}
	for _, t := range tables {
		res, err := s.q.ExecContext(ctx, t.query, planID)
		if err != nil {
			return nil, fmt.Errorf("delete plan %s: %w", t.name, mapError(err))
		}
		n, _ := res.RowsAffected()
		counts[t.name] += int(n)
	}
	return counts, nil
}

// --- Plan memberships ---

func (s *PostgresStore) ListGeneralAdmins(ctx context.Context, planID string) ([]Person, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+personColumnsPrefixed("p")+`
		FROM persons p
		JOIN plan_general_admins ga ON ga.person_id = p.id
		WHERE ga.plan_id = $1
		ORDER BY p.last_name, p.first_name
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("list general admins: %w", err)
	}
	defer rows.Close()
	return collectPersons(rows)
}

func (s *PostgresStore) AddGeneralAdmin(ctx context.Context, planID, personID string) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO plan_general_admins (plan_id, person_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, planID, personID)
	if err != nil {
		return fmt.Errorf("add general admin: %w", mapError(err))
	}
	return nil
}

func (s *PostgresStore) ListOrganizationPlanAdmins(ctx context.Context, planID string) ([]OrganizationPlanAdmin, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, plan_id, organization_id, person_id
		FROM organization_plan_admins
		WHERE plan_id=$1
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("list organization plan admins: %w", err)
	}
	defer rows.Close()

	items := make([]OrganizationPlanAdmin, 0)
	for rows.Next() {
		var item OrganizationPlanAdmin
		if err := rows.Scan(&item.ID, &item.PlanID, &item.OrganizationID, &item.PersonID); err != nil {
			return nil, fmt.Errorf("scan organization plan admin: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetWorkflowRole returns the person's moderation role in a plan's
// workflow, or the empty string when none is assigned.
func (s *PostgresStore) GetWorkflowRole(ctx context.Context, personID, planID string) (string, error) {
	var role string
	err := s.q.QueryRowContext(ctx, `
		SELECT role FROM plan_workflow_roles WHERE person_id=$1 AND plan_id=$2
	`, personID, planID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get workflow role: %w", err)
	}
	return role, nil
}

func (s *PostgresStore) SetWorkflowRole(ctx context.Context, personID, planID, role string) error {
	if role == "" {
		_, err := s.q.ExecContext(ctx, `
			DELETE FROM plan_workflow_roles WHERE person_id=$1 AND plan_id=$2
		`, personID, planID)
		if err != nil {
			return fmt.Errorf("clear workflow role: %w", err)
		}
		return nil
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO plan_workflow_roles (plan_id, person_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (plan_id, person_id) DO UPDATE SET role = EXCLUDED.role
	`, planID, personID, role)
	if err != nil {
		return fmt.Errorf("set workflow role: %w", mapError(err))
	}
	return nil
}

func (s *PostgresStore) InsertOrganizationPlanAdmin(ctx context.Context, admin OrganizationPlanAdmin) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO organization_plan_admins (id, plan_id, organization_id, person_id)
		VALUES ($1, $2, $3, $4)
	`, admin.ID, admin.PlanID, admin.OrganizationID, admin.PersonID)
	if err != nil {
		return fmt.Errorf("insert organization plan admin: %w", mapError(err))
	}
	return nil
}

// --- Persons ---

func personColumnsPrefixed(alias string) string {
	return alias + `.id, ` + alias + `.uuid, ` + alias + `.first_name, ` + alias + `.last_name, ` +
		alias + `.email, ` + alias + `.organization_id, ` + alias + `.user_id, ` +
		alias + `.created_at, ` + alias + `.updated_at`
}

func collectPersons(rows *sql.Rows) ([]Person, error) {
	items := make([]Person, 0)
	for rows.Next() {
		var item Person
		if err := rows.Scan(
			&item.ID, &item.UUID, &item.FirstName, &item.LastName, &item.Email,
			&item.OrganizationID, &item.UserID, &item.CreatedAt, &item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate persons: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetPerson(ctx context.Context, personID string) (Person, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+personColumnsPrefixed("p")+` FROM persons p WHERE p.id=$1
	`, personID)
	var item Person
	err := row.Scan(
		&item.ID, &item.UUID, &item.FirstName, &item.LastName, &item.Email,
		&item.OrganizationID, &item.UserID, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return Person{}, mapError(err)
	}
	return item, nil
}

func (s *PostgresStore) GetPersonByEmail(ctx context.Context, email string) (Person, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+personColumnsPrefixed("p")+` FROM persons p WHERE LOWER(p.email)=LOWER($1)
	`, email)
	var item Person
	err := row.Scan(
		&item.ID, &item.UUID, &item.FirstName, &item.LastName, &item.Email,
		&item.OrganizationID, &item.UserID, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return Person{}, mapError(err)
	}
	return item, nil
}

func (s *PostgresStore) InsertPerson(ctx context.Context, person Person) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO persons (id, uuid, first_name, last_name, email, organization_id, user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, person.ID, person.UUID, person.FirstName, person.LastName, person.Email,
		person.OrganizationID, person.UserID)
	if err != nil {
		return fmt.Errorf("insert person: %w", mapError(err))
	}
	return nil
}

func (s *PostgresStore) UpdatePerson(ctx context.Context, person Person) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE persons
		SET first_name=$2, last_name=$3, email=$4, organization_id=$5, user_id=$6, updated_at=NOW()
		WHERE id=$1
	`, person.ID, person.FirstName, person.LastName, person.Email,
		person.OrganizationID, person.UserID)
	if err != nil {
		return fmt.Errorf("update person: %w", mapError(err))
	}
	return nil
}

// --- Users ---

const userColumns = `id, uuid, email, password_hash, is_staff, is_superuser,
	selected_admin_plan_id, deactivated_at, deactivated_by, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var user User
	err := row.Scan(
		&user.ID, &user.UUID, &user.Email, &user.PasswordHash, &user.IsStaff,
		&user.IsSuperuser, &user.SelectedAdminPlanID, &user.DeactivatedAt,
		&user.DeactivatedBy, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return User{}, mapError(err)
	}
	return user, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (User, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID)
	return scanUser(row)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=LOWER($1)`, email)
	return scanUser(row)
}

func (s *PostgresStore) InsertUser(ctx context.Context, user User) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO users (id, uuid, email, password_hash, is_staff, is_superuser)
		VALUES ($1, $2, LOWER($3), $4, $5, $6)
	`, user.ID, user.UUID, user.Email, user.PasswordHash, user.IsStaff, user.IsSuperuser)
	if err != nil {
		return fmt.Errorf("insert user: %w", mapError(err))
	}
	return nil
}

func (s *PostgresStore) UpdateUser(ctx context.Context, user User) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE users
		SET email=LOWER($2), password_hash=$3, is_staff=$4, is_superuser=$5,
			selected_admin_plan_id=$6, deactivated_at=$7, deactivated_by=$8, updated_at=NOW()
		WHERE id=$1
	`, user.ID, user.Email, user.PasswordHash, user.IsStaff, user.IsSuperuser,
		user.SelectedAdminPlanID, user.DeactivatedAt, user.DeactivatedBy)
	if err != nil {
		return fmt.Errorf("update user: %w", mapError(err))
	}
	return nil
}
