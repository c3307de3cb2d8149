package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true: if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across actions and indicators using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('simple', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultAction {
		actionWhere := "a.fts @@ " + tsQuery
		if q.FilterPlanID != "" {
			actionWhere += fmt.Sprintf(" AND a.plan_id = $%d", argN)
			args = append(args, q.FilterPlanID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'action'::text AS type, a.id, a.identifier, a.name AS title,
				ts_headline('simple', coalesce(a.name, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				a.plan_id,
				ts_rank(a.fts, %s) AS rank
			FROM actions a
			WHERE %s`, tsQuery, tsQuery, actionWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultIndicator {
		indicatorWhere := "i.fts @@ " + tsQuery
		if q.FilterPlanID != "" {
			indicatorWhere += fmt.Sprintf(" AND i.plan_id = $%d", argN)
			args = append(args, q.FilterPlanID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'indicator'::text AS type, i.id, i.identifier, i.name AS title,
				ts_headline('simple', coalesce(i.name, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				i.plan_id,
				ts_rank(i.fts, %s) AS rank
			FROM indicators i
			WHERE %s`, tsQuery, tsQuery, indicatorWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, identifier, title, snippet, plan_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Identifier, &r.Title, &r.Snippet, &r.PlanID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ActionRecord, []IndicatorRecord, error) {
	actionRows, err := p.db.QueryContext(ctx, `
		SELECT id, plan_id, identifier, name, status
		FROM actions
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load actions: %w", err)
	}
	defer actionRows.Close()

	actions := make([]ActionRecord, 0)
	for actionRows.Next() {
		var a ActionRecord
		if err := actionRows.Scan(&a.ID, &a.PlanID, &a.Identifier, &a.Name, &a.Status); err != nil {
			return nil, nil, fmt.Errorf("scan action: %w", err)
		}
		actions = append(actions, a)
	}
	if err := actionRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate actions: %w", err)
	}

	indicatorRows, err := p.db.QueryContext(ctx, `
		SELECT id, plan_id, identifier, name, quantity, unit
		FROM indicators
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load indicators: %w", err)
	}
	defer indicatorRows.Close()

	indicators := make([]IndicatorRecord, 0)
	for indicatorRows.Next() {
		var i IndicatorRecord
		if err := indicatorRows.Scan(&i.ID, &i.PlanID, &i.Identifier, &i.Name, &i.Quantity, &i.Unit); err != nil {
			return nil, nil, fmt.Errorf("scan indicator: %w", err)
		}
		indicators = append(indicators, i)
	}
	if err := indicatorRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate indicators: %w", err)
	}

	return actions, indicators, nil
}
