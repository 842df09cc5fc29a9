package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/hallvard/depot/internal/apperr"
	"github.com/hallvard/depot/internal/metrics"
	"github.com/hallvard/depot/internal/models"
)

// tieGroupLimit caps the supplementary tie-group query. Pages with more
// identical last-updated values than this may lose records; the
// condition is logged, not fixed.
const tieGroupLimit = 1000

const assetColumns = `asset_id, repository_id, path, kind, content_type,
	checksums, attributes, blob_ref, component_id,
	created_at, last_updated, last_downloaded`

type scanner interface {
	Scan(dest ...any) error
}

func scanAsset(row scanner) (*models.Asset, error) {
	var (
		a              models.Asset
		checksums      string
		attributes     string
		componentID    sql.NullInt64
		createdAt      int64
		lastUpdated    int64
		lastDownloaded sql.NullInt64
	)
	err := row.Scan(&a.ID, &a.RepositoryID, &a.Path, &a.Kind, &a.ContentType,
		&checksums, &attributes, &a.BlobRef, &componentID,
		&createdAt, &lastUpdated, &lastDownloaded)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(checksums), &a.Checksums); err != nil {
		return nil, fmt.Errorf("store: decode checksums: %w", err)
	}
	if err := json.Unmarshal([]byte(attributes), &a.Attributes); err != nil {
		return nil, fmt.Errorf("store: decode attributes: %w", err)
	}
	if componentID.Valid {
		id := componentID.Int64
		a.ComponentID = &id
	}
	a.CreatedAt = fromMicros(createdAt)
	a.LastUpdated = fromMicros(lastUpdated)
	if lastDownloaded.Valid {
		t := fromMicros(lastDownloaded.Int64)
		a.LastDownloaded = &t
	}
	return &a, nil
}

// CreateAsset inserts a new asset. A second asset at the same
// (repository, path) violates the identity invariant and is reported as
// ErrConflict, never retried.
func (s *Store) CreateAsset(a *models.Asset) error {
	now := time.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.LastUpdated.IsZero() {
		a.LastUpdated = now
	}
	checksums, _ := json.Marshal(orEmptyChecksums(a.Checksums))
	attributes, _ := json.Marshal(orEmptyAttributes(a.Attributes))

	var componentID any
	if a.ComponentID != nil {
		componentID = *a.ComponentID
	}
	var lastDownloaded any
	if a.LastDownloaded != nil {
		lastDownloaded = micros(*a.LastDownloaded)
	}

	res, err := s.conn.Exec(`
		INSERT INTO assets (repository_id, path, kind, content_type,
			checksums, attributes, blob_ref, component_id,
			created_at, last_updated, last_downloaded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.RepositoryID, a.Path, a.Kind, a.ContentType,
		string(checksums), string(attributes), a.BlobRef, componentID,
		micros(a.CreatedAt), micros(a.LastUpdated), lastDownloaded)
	if err != nil {
		if err := mapConflict(err); errors.Is(err, apperr.ErrConflict) {
			return apperr.ErrConflict
		}
		return fmt.Errorf("store: create asset: %w", err)
	}
	a.ID, _ = res.LastInsertId()
	return nil
}

// ReadAsset retrieves an asset by its internal id.
func (s *Store) ReadAsset(assetID int64) (*models.Asset, error) {
	a, err := scanAsset(s.conn.QueryRow(
		`SELECT `+assetColumns+` FROM assets WHERE asset_id = ?`, assetID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: read asset: %w", err)
	}
	return a, nil
}

// ReadPath retrieves the asset at the given path.
func (s *Store) ReadPath(repositoryID int64, path string) (*models.Asset, error) {
	a, err := scanAsset(s.conn.QueryRow(
		`SELECT `+assetColumns+` FROM assets WHERE repository_id = ? AND path = ?`,
		repositoryID, path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: read path: %w", err)
	}
	return a, nil
}

// UpdateAssetAttributes reloads the asset's attribute bag, applies the
// change set, and writes back only when something actually changed, so
// no-op updates never advance last_updated.
func (s *Store) UpdateAssetAttributes(repositoryID int64, path string, changes []models.AttributeChange) error {
	a, err := s.ReadPath(repositoryID, path)
	if err != nil {
		return err
	}

	attributes := a.Attributes
	if attributes == nil {
		attributes = make(map[string]any)
	}
	changed := false
	for _, change := range changes {
		switch change.Op {
		case models.AttributeSet:
			if current, ok := attributes[change.Key]; !ok || !reflect.DeepEqual(current, change.Value) {
				attributes[change.Key] = change.Value
				changed = true
			}
		case models.AttributeRemove:
			if _, ok := attributes[change.Key]; ok {
				delete(attributes, change.Key)
				changed = true
			}
		}
	}
	if !changed {
		return nil
	}

	encoded, _ := json.Marshal(attributes)
	_, err = s.conn.Exec(
		`UPDATE assets SET attributes = ?, last_updated = ? WHERE asset_id = ?`,
		string(encoded), micros(time.Now()), a.ID)
	if err != nil {
		return fmt.Errorf("store: update attributes: %w", err)
	}
	return nil
}

// UpdateAssetKind updates the asset kind; setting the same kind again
// is a no-op that leaves last_updated untouched.
func (s *Store) UpdateAssetKind(repositoryID int64, path, kind string) error {
	_, err := s.conn.Exec(`
		UPDATE assets SET kind = ?, last_updated = ?
		WHERE repository_id = ? AND path = ? AND kind <> ?
	`, kind, micros(time.Now()), repositoryID, path, kind)
	if err != nil {
		return fmt.Errorf("store: update kind: %w", err)
	}
	return nil
}

// UpdateAssetBlobLink points the asset at a new blob, refreshing its
// checksum set and content type. Relinking the same blob is a no-op.
func (s *Store) UpdateAssetBlobLink(repositoryID int64, path, blobRef, contentType string, checksums map[string]string) error {
	encoded, _ := json.Marshal(orEmptyChecksums(checksums))
	_, err := s.conn.Exec(`
		UPDATE assets SET blob_ref = ?, content_type = ?, checksums = ?, last_updated = ?
		WHERE repository_id = ? AND path = ? AND checksums <> ?
	`, blobRef, contentType, string(encoded), micros(time.Now()),
		repositoryID, path, string(encoded))
	if err != nil {
		return fmt.Errorf("store: update blob link: %w", err)
	}
	return nil
}

// MarkDownloaded records a download time. Downloads are not content
// mutations, so last_updated is left alone.
func (s *Store) MarkDownloaded(repositoryID int64, path string, at time.Time) error {
	_, err := s.conn.Exec(`
		UPDATE assets SET last_downloaded = ? WHERE repository_id = ? AND path = ?
	`, micros(at), repositoryID, path)
	if err != nil {
		return fmt.Errorf("store: mark downloaded: %w", err)
	}
	return nil
}

// DeleteAsset removes the asset at path, reporting whether it existed.
func (s *Store) DeleteAsset(repositoryID int64, path string) (bool, error) {
	res, err := s.conn.Exec(
		`DELETE FROM assets WHERE repository_id = ? AND path = ?`, repositoryID, path)
	if err != nil {
		return false, fmt.Errorf("store: delete asset: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeleteAllAssets removes every asset in the repository in bounded
// batches, committing between batches to keep transactions short.
func (s *Store) DeleteAllAssets(repositoryID int64) (bool, error) {
	deleted := false
	for {
		res, err := s.conn.Exec(`
			DELETE FROM assets WHERE asset_id IN (
				SELECT asset_id FROM assets WHERE repository_id = ? LIMIT ?
			)
		`, repositoryID, deleteBatchSize)
		if err != nil {
			return deleted, fmt.Errorf("store: delete assets: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return deleted, nil
		}
		deleted = true
	}
}

// PurgeNotRecentlyDownloaded deletes component-less assets that have
// not been downloaded (or, failing that, created) within daysAgo days.
// Work proceeds in bounded batches.
func (s *Store) PurgeNotRecentlyDownloaded(repositoryID int64, daysAgo int) (int, error) {
	cutoff := micros(time.Now().AddDate(0, 0, -daysAgo))
	purged := 0
	for {
		res, err := s.conn.Exec(`
			DELETE FROM assets WHERE asset_id IN (
				SELECT asset_id FROM assets
				WHERE repository_id = ?
				  AND component_id IS NULL
				  AND COALESCE(last_downloaded, created_at) < ?
				LIMIT ?
			)
		`, repositoryID, cutoff, deleteBatchSize)
		if err != nil {
			return purged, fmt.Errorf("store: purge assets: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return purged, nil
		}
		purged += int(n)
	}
}

// CountAssets counts the assets in a repository.
func (s *Store) CountAssets(repositoryID int64) (int, error) {
	var n int
	err := s.conn.QueryRow(
		`SELECT count(*) FROM assets WHERE repository_id = ?`, repositoryID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count assets: %w", err)
	}
	return n, nil
}

// BrowseAssets pages through a repository's assets in ascending id
// order. The returned token continues from the last record; an empty
// token means the end was reached.
func (s *Store) BrowseAssets(repositoryID int64, continuationToken string, limit int) ([]models.Asset, string, error) {
	after := parseToken(continuationToken)
	rows, err := s.conn.Query(`
		SELECT `+assetColumns+` FROM assets
		WHERE repository_id = ? AND asset_id > ?
		ORDER BY asset_id
		LIMIT ?
	`, repositoryID, after, limit)
	if err != nil {
		return nil, "", fmt.Errorf("store: browse assets: %w", err)
	}
	defer rows.Close()

	var out []models.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	if len(out) < limit {
		return out, "", nil
	}
	return out, strconv.FormatInt(out[len(out)-1].ID, 10), nil
}

// BrowseComponentAssets returns all assets owned by a component.
func (s *Store) BrowseComponentAssets(componentID int64) ([]models.Asset, error) {
	rows, err := s.conn.Query(
		`SELECT `+assetColumns+` FROM assets WHERE component_id = ? ORDER BY asset_id`,
		componentID)
	if err != nil {
		return nil, fmt.Errorf("store: browse component assets: %w", err)
	}
	defer rows.Close()

	var out []models.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// FindUpdated returns the next batch of assets whose last_updated is at
// or past the (normalized) lower bound, in ascending last_updated
// order. Records sharing one millisecond at the page boundary are paged
// atomically as a group, so callers advancing the bound by the last
// returned record's last_updated never skip or repeat assets.
//
// May return more than batchSize records when a tie-group spans the
// boundary.
func (s *Store) FindUpdated(repositoryID int64, since *time.Time, wildcardPatterns []string, batchSize int) ([]models.Asset, error) {
	likes := make([]string, len(wildcardPatterns))
	for i, pattern := range wildcardPatterns {
		likes[i] = wildcardToLike(pattern)
	}

	// Timestamps are considered equal at millisecond resolution.
	// Advancing by 1ms and truncating, combined with a >= query, gives
	// the effect of a strict > query over millisecond-truncated data.
	var bound *time.Time
	if since != nil {
		b := since.Add(time.Millisecond).Truncate(time.Millisecond)
		bound = &b
	}

	// Fetch one extra record to detect further results with the same
	// last_updated value; most pages won't need the follow-up query.
	assets, err := s.findUpdatedSince(repositoryID, bound, likes, batchSize+1)
	if err != nil {
		return nil, err
	}

	if len(assets) == batchSize+1 {
		last := assets[len(assets)-1]
		secondToLast := assets[len(assets)-2]
		if sameMillisecond(last.LastUpdated, secondToLast.LastUpdated) {
			known := make(map[string]struct{}, len(assets))
			for _, a := range assets {
				known[a.Path] = struct{}{}
			}
			start := last.LastUpdated.Truncate(time.Millisecond)
			end := start.Add(time.Millisecond)

			ties, err := s.findUpdatedWithinRange(repositoryID, start, end, likes, tieGroupLimit)
			if err != nil {
				return nil, err
			}
			if len(ties) == tieGroupLimit {
				metrics.TieGroupOverflows.Inc()
				slog.Error("tie-group ceiling reached; skipping additional assets with identical last_updated",
					slog.Int("limit", tieGroupLimit),
					slog.Time("last_updated", last.LastUpdated))
			}
			for _, a := range ties {
				if _, ok := known[a.Path]; !ok {
					assets = append(assets, a)
				}
			}
		} else {
			// It's not safe to keep the extra record: more assets may
			// share its last_updated value.
			assets = assets[:batchSize]
		}
	}

	metrics.ChangePages.Inc()
	return assets, nil
}

func (s *Store) findUpdatedSince(repositoryID int64, bound *time.Time, likes []string, limit int) ([]models.Asset, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + assetColumns + ` FROM assets WHERE repository_id = ?`)
	args := []any{repositoryID}

	if bound != nil {
		sb.WriteString(` AND last_updated >= ?`)
		args = append(args, micros(*bound))
	}
	appendPathFilter(&sb, &args, likes)
	sb.WriteString(` ORDER BY last_updated LIMIT ?`)
	args = append(args, limit)

	return s.queryAssets(sb.String(), args...)
}

func (s *Store) findUpdatedWithinRange(repositoryID int64, start, end time.Time, likes []string, limit int) ([]models.Asset, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + assetColumns + ` FROM assets
		WHERE repository_id = ? AND last_updated >= ? AND last_updated < ?`)
	args := []any{repositoryID, micros(start), micros(end)}

	appendPathFilter(&sb, &args, likes)
	sb.WriteString(` ORDER BY last_updated LIMIT ?`)
	args = append(args, limit)

	return s.queryAssets(sb.String(), args...)
}

func (s *Store) queryAssets(query string, args ...any) ([]models.Asset, error) {
	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: find updated: %w", err)
	}
	defer rows.Close()

	var out []models.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func appendPathFilter(sb *strings.Builder, args *[]any, likes []string) {
	if len(likes) == 0 {
		return
	}
	terms := make([]string, len(likes))
	for i, like := range likes {
		terms[i] = `path LIKE ? ESCAPE '\'`
		*args = append(*args, like)
	}
	sb.WriteString(` AND (` + strings.Join(terms, " OR ") + `)`)
}

// wildcardToLike translates a glob-style expression (* and ?) into a
// LIKE pattern. Characters significant to LIKE are escaped first so
// literal % and _ in paths match literally, then the pattern is wrapped
// so it matches anywhere in the path.
func wildcardToLike(expression string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(expression)
	translated := strings.ReplaceAll(escaped, "*", "%")
	translated = strings.ReplaceAll(translated, "?", "_")
	return "%" + translated + "%"
}

func sameMillisecond(a, b time.Time) bool {
	return a.Truncate(time.Millisecond).Equal(b.Truncate(time.Millisecond))
}

func parseToken(token string) int64 {
	if token == "" {
		return 0
	}
	n, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func orEmptyChecksums(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func orEmptyAttributes(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
