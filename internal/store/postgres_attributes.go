package store

import (
	"context"
	"database/sql"
	"fmt"
)

// --- Category types & categories ---

func (s *PostgresStore) ListCategoryTypes(ctx context.Context, planID string) ([]CategoryType, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, plan_id, identifier, name FROM category_types WHERE plan_id=$1 ORDER BY identifier
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("list category types: %w", err)
	}
	defer rows.Close()

	items := make([]CategoryType, 0)
	for rows.Next() {
		var item CategoryType
		if err := rows.Scan(&item.ID, &item.PlanID, &item.Identifier, &item.Name); err != nil {
			return nil, fmt.Errorf("scan category type: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) InsertCategoryType(ctx context.Context, ct CategoryType) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO category_types (id, plan_id, identifier, name) VALUES ($1, $2, $3, $4)
	`, ct.ID, ct.PlanID, ct.Identifier, ct.Name)
	if err != nil {
		return fmt.Errorf("insert category type: %w", mapError(err))
	}
	return nil
}

func (s *PostgresStore) ListCategories(ctx context.Context, typeID string) ([]Category, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, type_id, identifier, name, parent_id, sort_order
		FROM categories WHERE type_id=$1 ORDER BY sort_order
	`, typeID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	items := make([]Category, 0)
	for rows.Next() {
		var item Category
		if err := rows.Scan(&item.ID, &item.TypeID, &item.Identifier, &item.Name, &item.ParentID, &item.SortOrder); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetCategory(ctx context.Context, categoryID string) (Category, error) {
	var item Category
	err := s.q.QueryRowContext(ctx, `
		SELECT id, type_id, identifier, name, parent_id, sort_order FROM categories WHERE id=$1
	`, categoryID).Scan(&item.ID, &item.TypeID, &item.Identifier, &item.Name, &item.ParentID, &item.SortOrder)
	if err != nil {
		return Category{}, mapError(err)
	}
	return item, nil
}

func (s *PostgresStore) InsertCategory(ctx context.Context, c Category) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO categories (id, type_id, identifier, name, parent_id, sort_order)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.ID, c.TypeID, c.Identifier, c.Name, c.ParentID, c.SortOrder)
	if err != nil {
		return fmt.Errorf("insert category: %w", mapError(err))
	}
	return nil
}

func (s *PostgresStore) ReplaceActionCategories(ctx context.Context, actionID string, categoryIDs []string) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM action_categories WHERE action_id=$1`, actionID); err != nil {
		return fmt.Errorf("clear action categories: %w", err)
	}
	for _, id := range categoryIDs {
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO action_categories (action_id, category_id) VALUES ($1, $2)
		`, actionID, id)
		if err != nil {
			return fmt.Errorf("insert action category: %w", mapError(err))
		}
	}
	return nil
}

func (s *PostgresStore) ListActionCategories(ctx context.Context, actionID string) ([]Category, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT c.id, c.type_id, c.identifier, c.name, c.parent_id, c.sort_order
		FROM categories c
		JOIN action_categories ac ON ac.category_id = c.id
		WHERE ac.action_id = $1
		ORDER BY c.sort_order
	`, actionID)
	if err != nil {
		return nil, fmt.Errorf("list action categories: %w", err)
	}
	defer rows.Close()

	items := make([]Category, 0)
	for rows.Next() {
		var item Category
		if err := rows.Scan(&item.ID, &item.TypeID, &item.Identifier, &item.Name, &item.ParentID, &item.SortOrder); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// --- Attribute types, choices, attributes ---

func (s *PostgresStore) GetAttributeType(ctx context.Context, typeID string) (AttributeType, error) {
	var at AttributeType
	var unit sql.NullString
	err := s.q.QueryRowContext(ctx, `
		SELECT id, plan_id, identifier, name, format, unit, instances_editable_by, category_type_id
		FROM attribute_types WHERE id=$1
	`, typeID).Scan(&at.ID, &at.PlanID, &at.Identifier, &at.Name, &at.Format, &unit,
		&at.InstancesEditableBy, &at.CategoryTypeID)
	if err != nil {
		return AttributeType{}, mapError(err)
	}
	at.Unit = unit.String
	return at, nil
}

func (s *PostgresStore) ListAttributeTypes(ctx context.Context, planID string) ([]AttributeType, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, plan_id, identifier, name, format, unit, instances_editable_by, category_type_id
		FROM attribute_types WHERE plan_id=$1 ORDER BY identifier
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("list attribute types: %w", err)
	}
	defer rows.Close()

	items := make([]AttributeType, 0)
	for rows.Next() {
		var at AttributeType
		var unit sql.NullString
		if err := rows.Scan(&at.ID, &at.PlanID, &at.Identifier, &at.Name, &at.Format, &unit,
			&at.InstancesEditableBy, &at.CategoryTypeID); err != nil {
			return nil, fmt.Errorf("scan attribute type: %w", err)
		}
		at.Unit = unit.String
		items = append(items, at)
	}
	return items, rows.Err()
}

func (s *PostgresStore) InsertAttributeType(ctx context.Context, at AttributeType) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO attribute_types (id, plan_id, identifier, name, format, unit,
			instances_editable_by, category_type_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, at.ID, at.PlanID, at.Identifier, at.Name, at.Format, nullString(at.Unit),
		at.InstancesEditableBy, at.CategoryTypeID)
	if err != nil {
		return fmt.Errorf("insert attribute type: %w", mapError(err))
	}
	return nil
}

func (s *PostgresStore) ListAttributeChoices(ctx context.Context, typeID string) ([]AttributeChoice, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, type_id, identifier, name, sort_order
		FROM attribute_choices WHERE type_id=$1 ORDER BY sort_order
	`, typeID)
	if err != nil {
		return nil, fmt.Errorf("list attribute choices: %w", err)
	}
	defer rows.Close()

	items := make([]AttributeChoice, 0)
	for rows.Next() {
		var item AttributeChoice
		if err := rows.Scan(&item.ID, &item.TypeID, &item.Identifier, &item.Name, &item.SortOrder); err != nil {
			return nil, fmt.Errorf("scan attribute choice: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) InsertAttributeChoice(ctx context.Context, c AttributeChoice) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO attribute_choices (id, type_id, identifier, name, sort_order)
		VALUES ($1, $2, $3, $4, $5)
	`, c.ID, c.TypeID, c.Identifier, c.Name, c.SortOrder)
	if err != nil {
		return fmt.Errorf("insert attribute choice: %w", mapError(err))
	}
	return nil
}

const attributeColumns = `id, type_id, target_kind, target_id, text_value, rich_text_value,
	numeric_value, choice_id, category_id, updated_at`

func scanAttribute(row interface{ Scan(...any) error }) (Attribute, error) {
	var a Attribute
	var text, richText sql.NullString
	err := row.Scan(
		&a.ID, &a.TypeID, &a.TargetKind, &a.TargetID, &text, &richText,
		&a.Numeric, &a.ChoiceID, &a.CategoryID, &a.UpdatedAt,
	)
	if err != nil {
		return Attribute{}, mapError(err)
	}
	a.Text = text.String
	a.RichText = richText.String
	return a, nil
}

// UpsertAttribute writes the single attribute row for (type, target).
func (s *PostgresStore) UpsertAttribute(ctx context.Context, a Attribute) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO attributes (id, type_id, target_kind, target_id, text_value,
			rich_text_value, numeric_value, choice_id, category_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (type_id, target_kind, target_id) DO UPDATE SET
			text_value=EXCLUDED.text_value, rich_text_value=EXCLUDED.rich_text_value,
			numeric_value=EXCLUDED.numeric_value, choice_id=EXCLUDED.choice_id,
			category_id=EXCLUDED.category_id, updated_at=NOW()
	`, a.ID, a.TypeID, a.TargetKind, a.TargetID, nullString(a.Text),
		nullString(a.RichText), a.Numeric, a.ChoiceID, a.CategoryID)
	if err != nil {
		return fmt.Errorf("upsert attribute: %w", mapError(err))
	}
	return nil
}

func (s *PostgresStore) ListAttributesForTarget(ctx context.Context, kind AttributeTarget, targetID string) ([]Attribute, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+attributeColumns+` FROM attributes WHERE target_kind=$1 AND target_id=$2
	`, kind, targetID)
	if err != nil {
		return nil, fmt.Errorf("list attributes: %w", err)
	}
	defer rows.Close()

	items := make([]Attribute, 0)
	for rows.Next() {
		a, err := scanAttribute(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attribute: %w", err)
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

// ListAttributesForPlanActions returns every action attribute in a plan
// in one query, for report export prefetching.
func (s *PostgresStore) ListAttributesForPlanActions(ctx context.Context, planID string) ([]Attribute, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT at.id, at.type_id, at.target_kind, at.target_id, at.text_value,
			at.rich_text_value, at.numeric_value, at.choice_id, at.category_id, at.updated_at
		FROM attributes at
		JOIN actions a ON a.id = at.target_id AND at.target_kind = 'action'
		WHERE a.plan_id = $1
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("list plan action attributes: %w", err)
	}
	defer rows.Close()

	items := make([]Attribute, 0)
	for rows.Next() {
		a, err := scanAttribute(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attribute: %w", err)
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (s *PostgresStore) DeleteAttribute(ctx context.Context, typeID string, kind AttributeTarget, targetID string) error {
	_, err := s.q.ExecContext(ctx, `
		DELETE FROM attributes WHERE type_id=$1 AND target_kind=$2 AND target_id=$3
	`, typeID, kind, targetID)
	if err != nil {
		return fmt.Errorf("delete attribute: %w", mapError(err))
	}
	return nil
}
