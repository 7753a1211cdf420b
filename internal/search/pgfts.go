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

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search matches listings.fts with plainto_tsquery, ranks with ts_rank and
// builds snippets with ts_headline. An empty query lists the newest listings.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	limit, offset := clampPage(q.Limit, q.Offset)

	var (
		clauses []string
		args    []any
	)
	text := strings.TrimSpace(q.Text)
	rank := "0::real"
	snippet := "l.description"
	if text != "" {
		args = append(args, text)
		tsQuery := "plainto_tsquery('english', $1)"
		clauses = append(clauses, "l.fts @@ "+tsQuery)
		rank = fmt.Sprintf("ts_rank(l.fts, %s)", tsQuery)
		snippet = fmt.Sprintf("ts_headline('english', l.description, %s, 'MaxFragments=1,MaxWords=30')", tsQuery)
	}
	if q.Category != "" {
		args = append(args, q.Category)
		clauses = append(clauses, fmt.Sprintf("l.category = $%d", len(args)))
	}
	if q.SellerID != "" {
		args = append(args, q.SellerID)
		clauses = append(clauses, fmt.Sprintf("l.seller_id = $%d", len(args)))
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM listings l "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT l.id, l.title, %s AS snippet, l.price, l.category, l.seller_id,
			coalesce(l.images->>0, '') AS image
		FROM listings l
		%s
		ORDER BY %s DESC, l.created_at DESC NULLS LAST, l.id
		LIMIT %d OFFSET %d`, snippet, where, rank, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.Price, &r.Category, &r.SellerID, &r.Image); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}
