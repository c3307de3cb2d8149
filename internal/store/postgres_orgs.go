package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

const orgColumns = `id, path, name, abbreviation, classification, created_at, updated_at`

func scanOrganization(row interface{ Scan(...any) error }) (Organization, error) {
	var org Organization
	err := row.Scan(
		&org.ID, &org.Path, &org.Name, &org.Abbreviation, &org.Classification,
		&org.CreatedAt, &org.UpdatedAt,
	)
	if err != nil {
		return Organization{}, mapError(err)
	}
	return org, nil
}

func collectOrganizations(rows *sql.Rows) ([]Organization, error) {
	items := make([]Organization, 0)
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		items = append(items, org)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate organizations: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetOrganization(ctx context.Context, orgID string) (Organization, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+orgColumns+` FROM organizations WHERE id=$1`, orgID)
	return scanOrganization(row)
}

func (s *PostgresStore) GetOrganizationByPath(ctx context.Context, path string) (Organization, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+orgColumns+` FROM organizations WHERE path=$1`, path)
	return scanOrganization(row)
}

func (s *PostgresStore) InsertOrganization(ctx context.Context, org Organization) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO organizations (id, path, name, abbreviation, classification)
		VALUES ($1, $2, $3, $4, $5)
	`, org.ID, org.Path, org.Name, org.Abbreviation, org.Classification)
	if err != nil {
		return fmt.Errorf("insert organization: %w", mapError(err))
	}
	return nil
}

func (s *PostgresStore) UpdateOrganization(ctx context.Context, org Organization) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE organizations
		SET name=$2, abbreviation=$3, classification=$4, updated_at=NOW()
		WHERE id=$1
	`, org.ID, org.Name, org.Abbreviation, org.Classification)
	if err != nil {
		return fmt.Errorf("update organization: %w", mapError(err))
	}
	return nil
}

// ListOrganizationsByPathPrefix returns the node at the prefix and every
// descendant, path order. The text_pattern_ops index serves the LIKE.
func (s *PostgresStore) ListOrganizationsByPathPrefix(ctx context.Context, prefix string) ([]Organization, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+orgColumns+` FROM organizations WHERE path LIKE $1 || '%' ORDER BY path
	`, prefix)
	if err != nil {
		return nil, fmt.Errorf("list organizations by path prefix: %w", err)
	}
	defer rows.Close()
	return collectOrganizations(rows)
}

// MaxChildPath returns the greatest existing child path under the parent
// path, or ErrNotFound when the parent has no children. Root siblings are
// addressed with an empty parent path.
func (s *PostgresStore) MaxChildPath(ctx context.Context, parentPath string) (string, error) {
	childLen := len(parentPath) + OrgPathSegmentLen
	var path sql.NullString
	err := s.q.QueryRowContext(ctx, `
		SELECT MAX(path) FROM organizations
		WHERE path LIKE $1 || '%' AND LENGTH(path) = $2
	`, parentPath, childLen).Scan(&path)
	if err != nil {
		return "", mapError(err)
	}
	if !path.Valid {
		return "", ErrNotFound
	}
	return path.String, nil
}

// MoveSubtree rewrites the path prefix of a node and all its descendants
// in one statement. Callers wrap this in WithTx together with the cycle
// check.
func (s *PostgresStore) MoveSubtree(ctx context.Context, oldPrefix, newPrefix string) (int, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE organizations
		SET path = $2 || SUBSTRING(path FROM $3), updated_at = NOW()
		WHERE path LIKE $1 || '%'
	`, oldPrefix, newPrefix, len(oldPrefix)+1)
	if err != nil {
		return 0, fmt.Errorf("move subtree: %w", mapError(err))
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// NextPathSegment returns the sibling segment following the given one.
// Segments are fixed-width base-36, zero-padded, so lexicographic order
// on paths equals sibling insertion order.
func NextPathSegment(segment string) (string, error) {
	n, err := strconv.ParseInt(segment, 36, 64)
	if err != nil {
		return "", fmt.Errorf("parse path segment %q: %w", segment, err)
	}
	next := strings.ToLower(strconv.FormatInt(n+1, 36))
	if len(next) > OrgPathSegmentLen {
		return "", fmt.Errorf("path segment overflow after %q", segment)
	}
	return strings.Repeat("0", OrgPathSegmentLen-len(next)) + next, nil
}

// ReparentSubtree moves the subtree at oldPrefix to the next free sibling
// slot under newParentPath, atomically. An empty newParentPath moves the
// subtree to the top level.
func (s *PostgresStore) ReparentSubtree(ctx context.Context, oldPrefix, newParentPath string) error {
	return s.WithTx(ctx, func(tx *PostgresStore) error {
		segment := FirstOrgPathSegment
		maxPath, err := tx.MaxChildPath(ctx, newParentPath)
		if err == nil {
			segment, err = NextPathSegment(maxPath[len(maxPath)-OrgPathSegmentLen:])
			if err != nil {
				return err
			}
		} else if err != ErrNotFound {
			return fmt.Errorf("find sibling path: %w", err)
		}
		if _, err := tx.MoveSubtree(ctx, oldPrefix, newParentPath+segment); err != nil {
			return err
		}
		return nil
	})
}

func (s *PostgresStore) DeleteOrganization(ctx context.Context, orgID string) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM organizations WHERE id=$1`, orgID)
	if err != nil {
		return fmt.Errorf("delete organization: %w", mapError(err))
	}
	return nil
}

// --- Related organizations ---

func (s *PostgresStore) ListRelatedOrganizations(ctx context.Context, planID string) ([]Organization, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+orgColumns+`
		FROM organizations o
		JOIN plan_related_organizations r ON r.organization_id = o.id
		WHERE r.plan_id = $1
		ORDER BY o.path
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("list related organizations: %w", err)
	}
	defer rows.Close()
	return collectOrganizations(rows)
}

func (s *PostgresStore) AddRelatedOrganization(ctx context.Context, planID, orgID string) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO plan_related_organizations (plan_id, organization_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, planID, orgID)
	if err != nil {
		return fmt.Errorf("add related organization: %w", mapError(err))
	}
	return nil
}

// ListPersonsByOrganizations returns the persons employed by any of the
// given organizations.
func (s *PostgresStore) ListPersonsByOrganizations(ctx context.Context, orgIDs []string) ([]Person, error) {
	if len(orgIDs) == 0 {
		return nil, nil
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+personColumnsPrefixed("p")+`
		FROM persons p
		WHERE p.organization_id = ANY($1)
		ORDER BY p.last_name, p.first_name
	`, stringArray(orgIDs))
	if err != nil {
		return nil, fmt.Errorf("list persons by organizations: %w", err)
	}
	defer rows.Close()
	return collectPersons(rows)
}

// OrganizationsInUse reports which of the given organizations are still
// referenced by any plan, action responsibility or person after the
// listed plans are ignored.
func (s *PostgresStore) OrganizationsInUse(ctx context.Context, orgIDs []string, excludePlanIDs []string) (map[string]bool, error) {
	if len(orgIDs) == 0 {
		return map[string]bool{}, nil
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT o.id FROM organizations o
		WHERE o.id = ANY($1) AND (
			EXISTS (SELECT 1 FROM plans p WHERE p.organization_id = o.id AND NOT (p.id = ANY($2)))
			OR EXISTS (SELECT 1 FROM plan_related_organizations r WHERE r.organization_id = o.id AND NOT (r.plan_id = ANY($2)))
			OR EXISTS (
				SELECT 1 FROM action_responsible_parties rp
				JOIN actions a ON a.id = rp.action_id
				WHERE rp.organization_id = o.id AND NOT (a.plan_id = ANY($2))
			)
			OR EXISTS (SELECT 1 FROM persons pe WHERE pe.organization_id = o.id)
		)
	`, stringArray(orgIDs), stringArray(excludePlanIDs))
	if err != nil {
		return nil, fmt.Errorf("organizations in use: %w", err)
	}
	defer rows.Close()

	used := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan organization id: %w", err)
		}
		used[id] = true
	}
	return used, rows.Err()
}
