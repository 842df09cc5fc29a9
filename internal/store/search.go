package store

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/hallvard/depot/internal/metrics"
	"github.com/hallvard/depot/internal/models"
	"github.com/hallvard/depot/internal/search"
)

// UpsertSearchEntry writes the denormalized search row for a component.
// Keywords hold the whole coordinate so free-form filters match any
// part of it.
func (s *Store) UpsertSearchEntry(c *models.Component, format, checksum string) error {
	keywords := strings.TrimSpace(strings.Join([]string{c.Namespace, c.Name, c.Version}, " "))
	_, err := s.conn.Exec(`
		INSERT INTO search_components (repository_id, format, namespace, name, version, checksum, keywords)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repository_id, namespace, name, version)
		DO UPDATE SET format = excluded.format, checksum = excluded.checksum, keywords = excluded.keywords
	`, c.RepositoryID, format, c.Namespace, c.Name, c.Version, checksum, keywords)
	if err != nil {
		return fmt.Errorf("store: upsert search entry: %w", err)
	}
	return nil
}

// DeleteSearchEntries removes a repository's search rows.
func (s *Store) DeleteSearchEntries(repositoryID int64) error {
	_, err := s.conn.Exec(
		`DELETE FROM search_components WHERE repository_id = ?`, repositoryID)
	if err != nil {
		return fmt.Errorf("store: delete search entries: %w", err)
	}
	return nil
}

// ExecuteSearch runs the composed predicate against the denormalized
// search table. The builder's extracted format narrows by format, and
// its repository filter, when present, is resolved to repository ids
// first. A repository filter naming only unknown repositories matches
// nothing.
func (s *Store) ExecuteSearch(qb *search.QueryBuilder, limit, offset int) ([]models.SearchRecord, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT repository_id, format, namespace, name, version, checksum, keywords
		FROM search_components WHERE 1=1`)
	var args []any

	if format, ok := qb.Format(); ok {
		sb.WriteString(` AND format = :search_format`)
		args = append(args, sql.Named("search_format", format))
	}
	if filter, ok := qb.RepositoryFilter(); ok {
		ids, err := s.ResolveRepositoryNames(filter.Value)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return nil, nil
		}
		terms := make([]string, len(ids))
		for i, id := range ids {
			name := fmt.Sprintf("search_repo_%d", i)
			terms[i] = ":" + name
			args = append(args, sql.Named(name, id))
		}
		sb.WriteString(` AND repository_id IN (` + strings.Join(terms, ", ") + `)`)
	}
	if predicate := qb.Predicate(); predicate != "" {
		sb.WriteString(` AND (` + predicate + `)`)
	}

	// Named parameters are bound in a stable order to keep the query
	// deterministic for logging and tests.
	params := qb.Params()
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		args = append(args, sql.Named(name, params[name]))
	}

	sb.WriteString(` ORDER BY namespace, name, version LIMIT :search_limit OFFSET :search_offset`)
	args = append(args, sql.Named("search_limit", limit), sql.Named("search_offset", offset))

	rows, err := s.conn.Query(sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("store: execute search: %w", err)
	}
	defer rows.Close()

	var out []models.SearchRecord
	for rows.Next() {
		var r models.SearchRecord
		if err := rows.Scan(&r.RepositoryID, &r.Format, &r.Namespace, &r.Name,
			&r.Version, &r.Checksum, &r.Keywords); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	metrics.SearchQueries.Inc()
	return out, nil
}
