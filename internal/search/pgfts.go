package search

import (
	"context"
	"database/sql"
	"fmt"
)

// PGFTS is the Postgres full-text search fallback used when
// Meilisearch is not configured or unhealthy.
type PGFTS struct {
	db *sql.DB
}

func NewPGFTS(db *sql.DB) *PGFTS {
	return &PGFTS{db: db}
}

// Healthy reports whether the database is reachable.
func (p *PGFTS) Healthy() bool {
	return p.db.Ping() == nil
}

// Search runs a ranked full-text query across skills, templates and
// customer profiles using the generated tsvector columns.
func (p *PGFTS) Search(q Query) ([]Result, int, error) {
	limit := q.Limit
	if limit == 0 {
		limit = 20
	}

	filter := string(q.FilterType)

	rows, err := p.db.Query(`
		SELECT kind, id, title, snippet, rank FROM (
			SELECT 'skill' AS kind, id, name AS title,
			       ts_headline('english', content, plainto_tsquery('english', $1),
			                   'StartSel=<mark>, StopSel=</mark>, MaxWords=30') AS snippet,
			       ts_rank(fts, plainto_tsquery('english', $1)) AS rank
			FROM skills
			WHERE fts @@ plainto_tsquery('english', $1)
			UNION ALL
			SELECT 'template' AS kind, id, name AS title,
			       ts_headline('english', description || ' ' || body, plainto_tsquery('english', $1),
			                   'StartSel=<mark>, StopSel=</mark>, MaxWords=30') AS snippet,
			       ts_rank(fts, plainto_tsquery('english', $1)) AS rank
			FROM templates
			WHERE fts @@ plainto_tsquery('english', $1)
			UNION ALL
			SELECT 'customer' AS kind, id, name AS title,
			       ts_headline('english', summary, plainto_tsquery('english', $1),
			                   'StartSel=<mark>, StopSel=</mark>, MaxWords=30') AS snippet,
			       ts_rank(fts, plainto_tsquery('english', $1)) AS rank
			FROM customer_profiles
			WHERE fts @@ plainto_tsquery('english', $1)
		) hits
		WHERE ($2='' OR kind=$2)
		ORDER BY rank DESC
		LIMIT $3 OFFSET $4
	`, q.Text, filter, limit, q.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("fts query: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0)
	for rows.Next() {
		var r Result
		var kind string
		var rank float64
		if err := rows.Scan(&kind, &r.ID, &r.Title, &r.Snippet, &rank); err != nil {
			return nil, 0, fmt.Errorf("scan fts hit: %w", err)
		}
		r.Type = ResultType(kind)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate fts hits: %w", err)
	}

	return results, len(results) + q.Offset, nil
}

// LoadAllRecords pulls every indexable entity out of Postgres. Used to
// seed or rebuild the Meilisearch indexes.
func (p *PGFTS) LoadAllRecords(ctx context.Context) ([]SkillRecord, []TemplateRecord, []CustomerRecord, error) {
	skills, err := p.loadSkills(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	templates, err := p.loadTemplates(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	customers, err := p.loadCustomers(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	return skills, templates, customers, nil
}

func (p *PGFTS) loadSkills(ctx context.Context) ([]SkillRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, content, tags_json::text FROM skills
	`)
	if err != nil {
		return nil, fmt.Errorf("load skills: %w", err)
	}
	defer rows.Close()

	records := make([]SkillRecord, 0)
	for rows.Next() {
		var r SkillRecord
		if err := rows.Scan(&r.ID, &r.Name, &r.Content, &r.Tags); err != nil {
			return nil, fmt.Errorf("scan skill record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (p *PGFTS) loadTemplates(ctx context.Context) ([]TemplateRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, description, body FROM templates
	`)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	defer rows.Close()

	records := make([]TemplateRecord, 0)
	for rows.Next() {
		var r TemplateRecord
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.Body); err != nil {
			return nil, fmt.Errorf("scan template record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (p *PGFTS) loadCustomers(ctx context.Context) ([]CustomerRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, industry, summary FROM customer_profiles
	`)
	if err != nil {
		return nil, fmt.Errorf("load customers: %w", err)
	}
	defer rows.Close()

	records := make([]CustomerRecord, 0)
	for rows.Next() {
		var r CustomerRecord
		if err := rows.Scan(&r.ID, &r.Name, &r.Industry, &r.Summary); err != nil {
			return nil, fmt.Errorf("scan customer record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
