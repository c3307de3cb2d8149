package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const indicatorColumns = `id, uuid, plan_id, organization_id, identifier, name, quantity, unit,
	time_resolution, updated_values_due_at, latest_value_id, created_at, updated_at`

func scanIndicator(row interface{ Scan(...any) error }) (Indicator, error) {
	var ind Indicator
	var quantity, unit sql.NullString
	err := row.Scan(
		&ind.ID, &ind.UUID, &ind.PlanID, &ind.OrganizationID, &ind.Identifier, &ind.Name,
		&quantity, &unit, &ind.TimeResolution, &ind.UpdatedValuesDueAt, &ind.LatestValueID,
		&ind.CreatedAt, &ind.UpdatedAt,
	)
	if err != nil {
		return Indicator{}, mapError(err)
	}
	ind.Quantity = quantity.String
	ind.Unit = unit.String
	return ind, nil
}

func (s *PostgresStore) GetIndicator(ctx context.Context, indicatorID string) (Indicator, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+indicatorColumns+` FROM indicators WHERE id=$1`, indicatorID)
	return scanIndicator(row)
}

func (s *PostgresStore) ListIndicators(ctx context.Context, planID string) ([]Indicator, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+indicatorColumns+` FROM indicators WHERE plan_id=$1 ORDER BY identifier
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("list indicators: %w", err)
	}
	defer rows.Close()

	items := make([]Indicator, 0)
	for rows.Next() {
		ind, err := scanIndicator(rows)
		if err != nil {
			return nil, fmt.Errorf("scan indicator: %w", err)
		}
		items = append(items, ind)
	}
	return items, rows.Err()
}

// ListIndicatorsMatching restricts a plan's indicators by an extra SQL
// predicate over the indicators table aliased "i". Placeholders inside the
// predicate continue from $2.
func (s *PostgresStore) ListIndicatorsMatching(ctx context.Context, planID, predicate string, args []any) ([]Indicator, error) {
	query := `SELECT ` + indicatorColumns + ` FROM indicators i WHERE i.plan_id=$1 AND ` + predicate + ` ORDER BY i.identifier`
	rows, err := s.q.QueryContext(ctx, query, append([]any{planID}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("list indicators matching: %w", err)
	}
	defer rows.Close()

	items := make([]Indicator, 0)
	for rows.Next() {
		ind, err := scanIndicator(rows)
		if err != nil {
			return nil, fmt.Errorf("scan indicator: %w", err)
		}
		items = append(items, ind)
	}
	return items, rows.Err()
}

func (s *PostgresStore) InsertIndicator(ctx context.Context, ind Indicator) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO indicators (id, uuid, plan_id, organization_id, identifier, name,
			quantity, unit, time_resolution, updated_values_due_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, ind.ID, ind.UUID, ind.PlanID, ind.OrganizationID, ind.Identifier, ind.Name,
		nullString(ind.Quantity), nullString(ind.Unit), ind.TimeResolution, ind.UpdatedValuesDueAt)
	if err != nil {
		return fmt.Errorf("insert indicator: %w", mapError(err))
	}
	return nil
}

// UpdateIndicator is guarded by the caller's read timestamp, like actions.
func (s *PostgresStore) UpdateIndicator(ctx context.Context, ind Indicator, readAt time.Time) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE indicators
		SET identifier=$2, name=$3, quantity=$4, unit=$5, time_resolution=$6,
			updated_values_due_at=$7, organization_id=$8, updated_at=NOW()
		WHERE id=$1 AND updated_at=$9
	`, ind.ID, ind.Identifier, ind.Name, nullString(ind.Quantity), nullString(ind.Unit),
		ind.TimeResolution, ind.UpdatedValuesDueAt, ind.OrganizationID, readAt)
	if err != nil {
		return fmt.Errorf("update indicator: %w", mapError(err))
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if _, err := s.GetIndicator(ctx, ind.ID); err != nil {
			return err
		}
		return ErrConcurrent
	}
	return nil
}

func (s *PostgresStore) DeleteIndicator(ctx context.Context, indicatorID string) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM indicators WHERE id=$1`, indicatorID)
	if err != nil {
		return fmt.Errorf("delete indicator: %w", mapError(err))
	}
	return nil
}

// --- Values and goals ---

func (s *PostgresStore) ListIndicatorValues(ctx context.Context, indicatorID string) ([]IndicatorValue, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, indicator_id, date, value FROM indicator_values
		WHERE indicator_id=$1 ORDER BY date
	`, indicatorID)
	if err != nil {
		return nil, fmt.Errorf("list indicator values: %w", err)
	}
	defer rows.Close()

	items := make([]IndicatorValue, 0)
	for rows.Next() {
		var v IndicatorValue
		if err := rows.Scan(&v.ID, &v.IndicatorID, &v.Date, &v.Value); err != nil {
			return nil, fmt.Errorf("scan indicator value: %w", err)
		}
		items = append(items, v)
	}
	return items, rows.Err()
}

// ReplaceIndicatorValues swaps the full value series, recomputes the
// latest-value pointer and rolls the update deadline forward one cycle.
// Runs in a single transaction.
func (s *PostgresStore) ReplaceIndicatorValues(ctx context.Context, indicatorID string, values []IndicatorValue) error {
	return s.WithTx(ctx, func(tx *PostgresStore) error {
		ind, err := tx.GetIndicator(ctx, indicatorID)
		if err != nil {
			return err
		}
		if _, err := tx.q.ExecContext(ctx, `DELETE FROM indicator_values WHERE indicator_id=$1`, indicatorID); err != nil {
			return fmt.Errorf("clear indicator values: %w", err)
		}
		var latestID *string
		var latestDate time.Time
		for i := range values {
			v := values[i]
			_, err := tx.q.ExecContext(ctx, `
				INSERT INTO indicator_values (id, indicator_id, date, value)
				VALUES ($1, $2, $3, $4)
			`, v.ID, indicatorID, v.Date, v.Value)
			if err != nil {
				return fmt.Errorf("insert indicator value: %w", mapError(err))
			}
			if latestID == nil || v.Date.After(latestDate) {
				latestID = &values[i].ID
				latestDate = v.Date
			}
		}
		dueAt := ind.RollDueAtForward()
		_, err = tx.q.ExecContext(ctx, `
			UPDATE indicators
			SET latest_value_id=$2, updated_values_due_at=$3, updated_at=NOW()
			WHERE id=$1
		`, indicatorID, latestID, dueAt)
		if err != nil {
			return fmt.Errorf("update latest value: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) ListIndicatorGoals(ctx context.Context, indicatorID string) ([]IndicatorGoal, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, indicator_id, date, value FROM indicator_goals
		WHERE indicator_id=$1 ORDER BY date
	`, indicatorID)
	if err != nil {
		return nil, fmt.Errorf("list indicator goals: %w", err)
	}
	defer rows.Close()

	items := make([]IndicatorGoal, 0)
	for rows.Next() {
		var g IndicatorGoal
		if err := rows.Scan(&g.ID, &g.IndicatorID, &g.Date, &g.Value); err != nil {
			return nil, fmt.Errorf("scan indicator goal: %w", err)
		}
		items = append(items, g)
	}
	return items, rows.Err()
}

func (s *PostgresStore) ReplaceIndicatorGoals(ctx context.Context, indicatorID string, goals []IndicatorGoal) error {
	return s.WithTx(ctx, func(tx *PostgresStore) error {
		if _, err := tx.q.ExecContext(ctx, `DELETE FROM indicator_goals WHERE indicator_id=$1`, indicatorID); err != nil {
			return fmt.Errorf("clear indicator goals: %w", err)
		}
		for _, g := range goals {
			_, err := tx.q.ExecContext(ctx, `
				INSERT INTO indicator_goals (id, indicator_id, date, value)
				VALUES ($1, $2, $3, $4)
			`, g.ID, indicatorID, g.Date, g.Value)
			if err != nil {
				return fmt.Errorf("insert indicator goal: %w", mapError(err))
			}
		}
		return nil
	})
}

// --- Contact persons ---

func (s *PostgresStore) ListIndicatorContactPersons(ctx context.Context, indicatorID string) ([]Person, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+personColumnsPrefixed("p")+`
		FROM persons p
		JOIN indicator_contact_persons cp ON cp.person_id = p.id
		WHERE cp.indicator_id = $1
		ORDER BY cp.sort_order
	`, indicatorID)
	if err != nil {
		return nil, fmt.Errorf("list indicator contact persons: %w", err)
	}
	defer rows.Close()
	return collectPersons(rows)
}

func (s *PostgresStore) ReplaceIndicatorContactPersons(ctx context.Context, indicatorID string, contacts []IndicatorContactPerson) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM indicator_contact_persons WHERE indicator_id=$1`, indicatorID); err != nil {
		return fmt.Errorf("clear indicator contact persons: %w", err)
	}
	for _, c := range contacts {
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO indicator_contact_persons (id, indicator_id, person_id, sort_order)
			VALUES ($1, $2, $3, $4)
		`, c.ID, indicatorID, c.PersonID, c.SortOrder)
		if err != nil {
			return fmt.Errorf("insert indicator contact person: %w", mapError(err))
		}
	}
	return nil
}

// ListIndicatorContactPersonIDs returns the ids of the plan's indicators
// the person is a contact for.
func (s *PostgresStore) ListIndicatorContactPersonIDs(ctx context.Context, personID, planID string) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT cp.indicator_id
		FROM indicator_contact_persons cp
		JOIN indicators i ON i.id = cp.indicator_id
		WHERE cp.person_id = $1 AND i.plan_id = $2
	`, personID, planID)
	if err != nil {
		return nil, fmt.Errorf("list contact indicator ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan indicator id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) IsContactPersonForIndicator(ctx context.Context, personID, indicatorID string) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM indicator_contact_persons
			WHERE person_id = $1 AND indicator_id = $2
		)
	`, personID, indicatorID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("indicator contact person check: %w", err)
	}
	return exists, nil
}

// RecomputeLatestValues repoints latest_value_id at the newest value of
// each indicator. Returns the number of indicators repointed.
func (s *PostgresStore) RecomputeLatestValues(ctx context.Context) (int, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE indicators i SET latest_value_id=sub.id, updated_at=NOW()
		FROM (
			SELECT DISTINCT ON (indicator_id) indicator_id, id
			FROM indicator_values ORDER BY indicator_id, date DESC
		) sub
		WHERE sub.indicator_id=i.id
		  AND (i.latest_value_id IS DISTINCT FROM sub.id)
	`)
	if err != nil {
		return 0, fmt.Errorf("recompute latest values: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
