package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/hallvard/depot/internal/apperr"
	"github.com/hallvard/depot/internal/models"
)

// CreateRepository registers a new repository.
func (s *Store) CreateRepository(repo *models.Repository) error {
	res, err := s.conn.Exec(
		`INSERT INTO repositories (name, format) VALUES (?, ?)`,
		repo.Name, repo.Format)
	if err != nil {
		if err := mapConflict(err); errors.Is(err, apperr.ErrConflict) {
			return apperr.ErrAlreadyExists
		}
		return fmt.Errorf("store: create repository: %w", err)
	}
	repo.ID, _ = res.LastInsertId()
	return nil
}

// ReadRepository looks a repository up by name.
func (s *Store) ReadRepository(name string) (*models.Repository, error) {
	var repo models.Repository
	err := s.conn.QueryRow(
		`SELECT repository_id, name, format FROM repositories WHERE name = ?`, name).
		Scan(&repo.ID, &repo.Name, &repo.Format)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: read repository: %w", err)
	}
	return &repo, nil
}

// ListRepositories returns all repositories ordered by name.
func (s *Store) ListRepositories() ([]models.Repository, error) {
	rows, err := s.conn.Query(
		`SELECT repository_id, name, format FROM repositories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("store: list repositories: %w", err)
	}
	defer rows.Close()

	var out []models.Repository
	for rows.Next() {
		var repo models.Repository
		if err := rows.Scan(&repo.ID, &repo.Name, &repo.Format); err != nil {
			return nil, err
		}
		out = append(out, repo)
	}
	return out, rows.Err()
}

// ResolveRepositoryNames maps whitespace-separated repository names to
// their ids, silently skipping names that do not exist.
func (s *Store) ResolveRepositoryNames(names string) ([]int64, error) {
	fields := strings.Fields(names)
	if len(fields) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(fields)), ",")
	args := make([]any, len(fields))
	for i, name := range fields {
		args[i] = name
	}
	rows, err := s.conn.Query(
		`SELECT repository_id FROM repositories WHERE name IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("store: resolve repositories: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
