package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a
// fallback when Meilisearch is unavailable.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is
// down anyway.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs plainto_tsquery against the projects fts column with
// ts_rank ordering and ts_headline snippets.
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

	where := "p.fts @@ plainto_tsquery('english', $1)"
	args := []any{q.Text}
	if q.OwnerID != "" {
		where += " AND p.user_id = $2"
		args = append(args, q.OwnerID)
	}

	ctx := context.Background()

	countSQL := "SELECT count(*) FROM projects p WHERE " + where
	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT p.id, p.name, p.slug,
			ts_headline('english', coalesce(p.description, ''), plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet
		FROM projects p
		WHERE %s
		ORDER BY ts_rank(p.fts, plainto_tsquery('english', $1)) DESC
		LIMIT %d OFFSET %d`, where, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Name, &r.Slug, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all indexable projects for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ProjectRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, slug, coalesce(description, ''), user_id
		FROM projects
	`)
	if err != nil {
		return nil, fmt.Errorf("load projects: %w", err)
	}
	defer rows.Close()

	projects := make([]ProjectRecord, 0)
	for rows.Next() {
		var rec ProjectRecord
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Slug, &rec.Description, &rec.OwnerID); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}

	return projects, nil
}
