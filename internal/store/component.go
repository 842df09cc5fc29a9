package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hallvard/depot/internal/apperr"
	"github.com/hallvard/depot/internal/models"
)

const componentColumns = `component_id, repository_id, namespace, name,
	version, base_version, kind, attributes, created_at`

func scanComponent(row scanner) (*models.Component, error) {
	var (
		c          models.Component
		attributes string
		createdAt  int64
	)
	err := row.Scan(&c.ID, &c.RepositoryID, &c.Namespace, &c.Name,
		&c.Version, &c.BaseVersion, &c.Kind, &attributes, &createdAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(attributes), &c.Attributes); err != nil {
		return nil, fmt.Errorf("store: decode attributes: %w", err)
	}
	c.CreatedAt = fromMicros(createdAt)
	return &c, nil
}

// CreateComponent inserts a new component. Duplicate coordinates within
// a repository are reported as ErrConflict.
func (s *Store) CreateComponent(c *models.Component) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	attributes, _ := json.Marshal(orEmptyAttributes(c.Attributes))
	res, err := s.conn.Exec(`
		INSERT INTO components (repository_id, namespace, name, version,
			base_version, kind, attributes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.RepositoryID, c.Namespace, c.Name, c.Version,
		c.BaseVersion, c.Kind, string(attributes), micros(c.CreatedAt))
	if err != nil {
		if err := mapConflict(err); errors.Is(err, apperr.ErrConflict) {
			return apperr.ErrConflict
		}
		return fmt.Errorf("store: create component: %w", err)
	}
	c.ID, _ = res.LastInsertId()
	return nil
}

// ReadCoordinate looks a component up by its full coordinate.
func (s *Store) ReadCoordinate(repositoryID int64, namespace, name, version string) (*models.Component, error) {
	c, err := scanComponent(s.conn.QueryRow(`
		SELECT `+componentColumns+` FROM components
		WHERE repository_id = ? AND namespace = ? AND name = ? AND version = ?
	`, repositoryID, namespace, name, version))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: read coordinate: %w", err)
	}
	return c, nil
}

// Namespaces returns the distinct component namespaces of a repository,
// sorted ascending.
func (s *Store) Namespaces(repositoryID int64) ([]string, error) {
	return s.distinctStrings(`
		SELECT DISTINCT namespace FROM components
		WHERE repository_id = ? ORDER BY namespace
	`, repositoryID)
}

// Names returns the distinct component names within a namespace, sorted
// ascending.
func (s *Store) Names(repositoryID int64, namespace string) ([]string, error) {
	return s.distinctStrings(`
		SELECT DISTINCT name FROM components
		WHERE repository_id = ? AND namespace = ? ORDER BY name
	`, repositoryID, namespace)
}

// BaseVersions returns the distinct base versions under a name, falling
// back to the plain version for components without one.
func (s *Store) BaseVersions(repositoryID int64, namespace, name string) ([]string, error) {
	return s.distinctStrings(`
		SELECT DISTINCT COALESCE(NULLIF(base_version, ''), version) AS bv
		FROM components
		WHERE repository_id = ? AND namespace = ? AND name = ?
		ORDER BY bv
	`, repositoryID, namespace, name)
}

func (s *Store) distinctStrings(query string, args ...any) ([]string, error) {
	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list coordinates: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// BrowseComponentsByCoordinate pages through the components at one
// (namespace, name, baseVersion) coordinate in ascending id order. The
// base version matches either the stored base_version or, for
// components without one, the plain version.
func (s *Store) BrowseComponentsByCoordinate(repositoryID int64, namespace, name, baseVersion, continuationToken string, limit int) ([]models.Component, string, error) {
	after := parseToken(continuationToken)
	rows, err := s.conn.Query(`
		SELECT `+componentColumns+` FROM components
		WHERE repository_id = ? AND namespace = ? AND name = ?
		  AND COALESCE(NULLIF(base_version, ''), version) = ?
		  AND component_id > ?
		ORDER BY component_id
		LIMIT ?
	`, repositoryID, namespace, name, baseVersion, after, limit)
	if err != nil {
		return nil, "", fmt.Errorf("store: browse components: %w", err)
	}
	defer rows.Close()

	var out []models.Component
	for rows.Next() {
		c, err := scanComponent(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	if len(out) < limit {
		return out, "", nil
	}
	return out, strconv.FormatInt(out[len(out)-1].ID, 10), nil
}

// DeleteComponent removes a component and detaches its assets.
func (s *Store) DeleteComponent(componentID int64) error {
	if _, err := s.conn.Exec(
		`UPDATE assets SET component_id = NULL WHERE component_id = ?`, componentID); err != nil {
		return fmt.Errorf("store: detach assets: %w", err)
	}
	if _, err := s.conn.Exec(
		`DELETE FROM components WHERE component_id = ?`, componentID); err != nil {
		return fmt.Errorf("store: delete component: %w", err)
	}
	return nil
}
