package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// --- Report types ---

func (s *PostgresStore) GetReportType(ctx context.Context, typeID string) (ReportType, error) {
	var rt ReportType
	var fields []byte
	err := s.q.QueryRowContext(ctx, `
		SELECT id, plan_id, name, fields FROM report_types WHERE id=$1
	`, typeID).Scan(&rt.ID, &rt.PlanID, &rt.Name, &fields)
	if err != nil {
		return ReportType{}, mapError(err)
	}
	if err := json.Unmarshal(fields, &rt.Fields); err != nil {
		return ReportType{}, fmt.Errorf("decode report type fields: %w", err)
	}
	return rt, nil
}

func (s *PostgresStore) ListReportTypes(ctx context.Context, planID string) ([]ReportType, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, plan_id, name, fields FROM report_types WHERE plan_id=$1 ORDER BY name
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("list report types: %w", err)
	}
	defer rows.Close()

	items := make([]ReportType, 0)
	for rows.Next() {
		var rt ReportType
		var fields []byte
		if err := rows.Scan(&rt.ID, &rt.PlanID, &rt.Name, &fields); err != nil {
			return nil, fmt.Errorf("scan report type: %w", err)
		}
		if err := json.Unmarshal(fields, &rt.Fields); err != nil {
			return nil, fmt.Errorf("decode report type fields: %w", err)
		}
		items = append(items, rt)
	}
	return items, rows.Err()
}

func (s *PostgresStore) InsertReportType(ctx context.Context, rt ReportType) error {
	fields, err := json.Marshal(rt.Fields)
	if err != nil {
		return fmt.Errorf("encode report type fields: %w", err)
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO report_types (id, plan_id, name, fields) VALUES ($1, $2, $3, $4)
	`, rt.ID, rt.PlanID, rt.Name, fields)
	if err != nil {
		return fmt.Errorf("insert report type: %w", mapError(err))
	}
	return nil
}

func (s *PostgresStore) UpdateReportTypeFields(ctx context.Context, typeID string, fields []ReportField) error {
	encoded, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode report type fields: %w", err)
	}
	_, err = s.q.ExecContext(ctx, `UPDATE report_types SET fields=$2 WHERE id=$1`, typeID, encoded)
	if err != nil {
		return fmt.Errorf("update report type fields: %w", mapError(err))
	}
	return nil
}

// --- Reports ---

const reportColumns = `id, type_id, name, identifier, start_date, end_date, is_complete, is_public, fields`

func scanReport(row interface{ Scan(...any) error }) (Report, error) {
	var r Report
	var fields []byte
	err := row.Scan(
		&r.ID, &r.TypeID, &r.Name, &r.Identifier, &r.StartDate, &r.EndDate,
		&r.IsComplete, &r.IsPublic, &fields,
	)
	if err != nil {
		return Report{}, mapError(err)
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &r.Fields); err != nil {
			return Report{}, fmt.Errorf("decode report fields: %w", err)
		}
	}
	return r, nil
}

func (s *PostgresStore) GetReport(ctx context.Context, reportID string) (Report, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id=$1`, reportID)
	return scanReport(row)
}

func (s *PostgresStore) ListReports(ctx context.Context, typeID string) ([]Report, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+reportColumns+` FROM reports WHERE type_id=$1 ORDER BY start_date
	`, typeID)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	items := make([]Report, 0)
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

func (s *PostgresStore) InsertReport(ctx context.Context, r Report) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO reports (id, type_id, name, identifier, start_date, end_date, is_complete, is_public)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.ID, r.TypeID, r.Name, r.Identifier, r.StartDate, r.EndDate, r.IsComplete, r.IsPublic)
	if err != nil {
		return fmt.Errorf("insert report: %w", mapError(err))
	}
	return nil
}

func (s *PostgresStore) SetReportComplete(ctx context.Context, reportID string, complete bool, fields []ReportField) error {
	var encoded any
	if fields != nil {
		b, err := json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("encode report fields: %w", err)
		}
		encoded = b
	}
	_, err := s.q.ExecContext(ctx, `
		UPDATE reports SET is_complete=$2, fields=$3 WHERE id=$1
	`, reportID, complete, encoded)
	if err != nil {
		return fmt.Errorf("set report complete: %w", mapError(err))
	}
	return nil
}

// --- Action snapshots ---

func (s *PostgresStore) GetActionSnapshot(ctx context.Context, reportID, actionID string) (ActionSnapshot, error) {
	var snap ActionSnapshot
	err := s.q.QueryRowContext(ctx, `
		SELECT id, report_id, action_id, action_version_id, created_explicitly, created_at
		FROM action_snapshots WHERE report_id=$1 AND action_id=$2
	`, reportID, actionID).Scan(&snap.ID, &snap.ReportID, &snap.ActionID,
		&snap.ActionVersionID, &snap.CreatedExplicitly, &snap.CreatedAt)
	if err != nil {
		return ActionSnapshot{}, mapError(err)
	}
	return snap, nil
}

func (s *PostgresStore) ListActionSnapshots(ctx context.Context, reportID string) ([]ActionSnapshot, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, report_id, action_id, action_version_id, created_explicitly, created_at
		FROM action_snapshots WHERE report_id=$1 ORDER BY created_at
	`, reportID)
	if err != nil {
		return nil, fmt.Errorf("list action snapshots: %w", err)
	}
	defer rows.Close()

	items := make([]ActionSnapshot, 0)
	for rows.Next() {
		var snap ActionSnapshot
		if err := rows.Scan(&snap.ID, &snap.ReportID, &snap.ActionID, &snap.ActionVersionID,
			&snap.CreatedExplicitly, &snap.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan action snapshot: %w", err)
		}
		items = append(items, snap)
	}
	return items, rows.Err()
}

func (s *PostgresStore) ListSnapshotsForAction(ctx context.Context, actionID string) ([]ActionSnapshot, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, report_id, action_id, action_version_id, created_explicitly, created_at
		FROM action_snapshots WHERE action_id=$1 ORDER BY created_at
	`, actionID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots for action: %w", err)
	}
	defer rows.Close()

	items := make([]ActionSnapshot, 0)
	for rows.Next() {
		var snap ActionSnapshot
		if err := rows.Scan(&snap.ID, &snap.ReportID, &snap.ActionID, &snap.ActionVersionID,
			&snap.CreatedExplicitly, &snap.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan action snapshot: %w", err)
		}
		items = append(items, snap)
	}
	return items, rows.Err()
}

// InsertActionSnapshot is idempotent per (report, action): re-snapshotting
// replaces the version pointer and upgrades created_explicitly but never
// downgrades it.
func (s *PostgresStore) InsertActionSnapshot(ctx context.Context, snap ActionSnapshot) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO action_snapshots (id, report_id, action_id, action_version_id, created_explicitly)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (report_id, action_id) DO UPDATE SET
			action_version_id=EXCLUDED.action_version_id,
			created_explicitly=action_snapshots.created_explicitly OR EXCLUDED.created_explicitly
	`, snap.ID, snap.ReportID, snap.ActionID, snap.ActionVersionID, snap.CreatedExplicitly)
	if err != nil {
		return fmt.Errorf("insert action snapshot: %w", mapError(err))
	}
	return nil
}

// DeleteImplicitSnapshots removes only the snapshots created by report
// completion, leaving explicit ones in place.
func (s *PostgresStore) DeleteImplicitSnapshots(ctx context.Context, reportID string) (int, error) {
	res, err := s.q.ExecContext(ctx, `
		DELETE FROM action_snapshots WHERE report_id=$1 AND NOT created_explicitly
	`, reportID)
	if err != nil {
		return 0, fmt.Errorf("delete implicit snapshots: %w", mapError(err))
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *PostgresStore) DeleteActionSnapshot(ctx context.Context, snapshotID string) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM action_snapshots WHERE id=$1`, snapshotID)
	if err != nil {
		return fmt.Errorf("delete action snapshot: %w", mapError(err))
	}
	return nil
}

// --- Revisions & versions ---

func (s *PostgresStore) InsertRevision(ctx context.Context, rev Revision) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO revisions (id, user_id, comment, created_at)
		VALUES ($1, $2, $3, $4)
	`, rev.ID, rev.UserID, rev.Comment, rev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert revision: %w", mapError(err))
	}
	return nil
}

func (s *PostgresStore) InsertVersion(ctx context.Context, v Version) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO versions (id, revision_id, entity_type, entity_id, data, repr)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, v.ID, v.RevisionID, v.EntityType, v.EntityID, v.Data, v.Repr)
	if err != nil {
		return fmt.Errorf("insert version: %w", mapError(err))
	}
	return nil
}

const versionColumns = `v.id, v.revision_id, v.entity_type, v.entity_id, v.data, v.repr`

func scanVersion(row interface{ Scan(...any) error }) (Version, error) {
	var v Version
	err := row.Scan(&v.ID, &v.RevisionID, &v.EntityType, &v.EntityID, &v.Data, &v.Repr)
	if err != nil {
		return Version{}, mapError(err)
	}
	return v, nil
}

func (s *PostgresStore) GetVersion(ctx context.Context, versionID string) (Version, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+versionColumns+` FROM versions v WHERE v.id=$1
	`, versionID)
	return scanVersion(row)
}

// LatestVersion returns the most recent version of an entity, by revision
// creation time.
func (s *PostgresStore) LatestVersion(ctx context.Context, entityType, entityID string) (Version, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+versionColumns+`
		FROM versions v
		JOIN revisions r ON r.id = v.revision_id
		WHERE v.entity_type=$1 AND v.entity_id=$2
		ORDER BY r.created_at DESC
		LIMIT 1
	`, entityType, entityID)
	return scanVersion(row)
}

func (s *PostgresStore) ListVersions(ctx context.Context, entityType, entityID string) ([]Version, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+versionColumns+`
		FROM versions v
		JOIN revisions r ON r.id = v.revision_id
		WHERE v.entity_type=$1 AND v.entity_id=$2
		ORDER BY r.created_at DESC
	`, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	items := make([]Version, 0)
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		items = append(items, v)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetRevision(ctx context.Context, revisionID string) (Revision, error) {
	var rev Revision
	var comment sql.NullString
	err := s.q.QueryRowContext(ctx, `
		SELECT id, user_id, comment, created_at FROM revisions WHERE id=$1
	`, revisionID).Scan(&rev.ID, &rev.UserID, &comment, &rev.CreatedAt)
	if err != nil {
		return Revision{}, mapError(err)
	}
	rev.Comment = comment.String
	return rev, nil
}
