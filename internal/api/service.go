package api

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/hallvard/depot/internal/apperr"
	"github.com/hallvard/depot/internal/checksum"
	"github.com/hallvard/depot/internal/metadata"
	"github.com/hallvard/depot/internal/metrics"
	"github.com/hallvard/depot/internal/models"
	"github.com/hallvard/depot/internal/parser"
	"github.com/hallvard/depot/internal/search"
	"github.com/hallvard/depot/internal/store"
	"github.com/hallvard/depot/internal/storage"
)

// Service coordinates the store, content provider, and rebuilder for
// the API layer.
type Service struct {
	store     *store.Store
	content   storage.Provider
	rebuilder *metadata.Rebuilder
	composer  *search.Composer
	broker    AssetEventPublisher
}

// AssetEventPublisher receives asset change notifications.
type AssetEventPublisher interface {
	PublishAssetEvent(kind, repository, path string)
}

type noopPublisher struct{}

func (noopPublisher) PublishAssetEvent(string, string, string) {}

// NewService creates a new API service. A nil broker disables change
// notifications.
func NewService(st *store.Store, content storage.Provider, rebuilder *metadata.Rebuilder, composer *search.Composer, broker AssetEventPublisher) *Service {
	if broker == nil {
		broker = noopPublisher{}
	}
	return &Service{store: st, content: content, rebuilder: rebuilder, composer: composer, broker: broker}
}

// CreateRepository registers a new repository.
func (s *Service) CreateRepository(name, format string) (*models.Repository, error) {
	repo := &models.Repository{Name: name, Format: format}
	if err := s.store.CreateRepository(repo); err != nil {
		return nil, err
	}
	return repo, nil
}

// ListRepositories returns all repositories.
func (s *Service) ListRepositories() ([]models.Repository, error) {
	return s.store.ListRepositories()
}

// AssetDetail is the response payload for a single asset.
type AssetDetail struct {
	Repository string            `json:"repository"`
	Path       string            `json:"path"`
	Kind       string            `json:"kind,omitempty"`
	Checksums  map[string]string `json:"checksums"`
	Attributes map[string]any    `json:"attributes,omitempty"`
	Component  *models.Component `json:"component,omitempty"`
	Updated    time.Time         `json:"updated"`
	Content    []byte            `json:"-"`
}

// UploadAsset stores content at path, records (or relinks) the asset
// row, and keeps the component catalog and search table in step.
// Uploading to an existing path replaces its content.
func (s *Service) UploadAsset(repository, assetPath string, content []byte) (*AssetDetail, error) {
	repo, err := s.store.ReadRepository(repository)
	if err != nil {
		return nil, err
	}

	blobRef := path.Join("/", repo.Name, assetPath)
	if err := s.content.Put(blobRef, content); err != nil {
		return nil, fmt.Errorf("api: store content: %w", err)
	}
	checksums := checksum.SumAll(content)

	component, err := s.ensureComponent(repo, assetPath, checksums[checksum.Primary])
	if err != nil {
		return nil, err
	}

	asset := &models.Asset{
		RepositoryID: repo.ID,
		Path:         assetPath,
		ContentType:  contentTypeFor(assetPath),
		Checksums:    checksums,
		BlobRef:      blobRef,
	}
	if component != nil {
		asset.ComponentID = &component.ID
	}

	event := "created"
	err = s.store.CreateAsset(asset)
	if errors.Is(err, apperr.ErrConflict) {
		event = "updated"
		err = s.store.UpdateAssetBlobLink(repo.ID, assetPath, blobRef, asset.ContentType, checksums)
	}
	if err != nil {
		return nil, err
	}

	metrics.AssetsIngested.Inc()
	s.broker.PublishAssetEvent(event, repo.Name, assetPath)
	return s.GetAsset(repository, assetPath)
}

// ensureComponent creates the owning component for an artifact path if
// it does not exist yet, and refreshes its search row. Paths without
// artifact coordinates and subordinate files have no component.
func (s *Service) ensureComponent(repo *models.Repository, assetPath, primaryChecksum string) (*models.Component, error) {
	ap, err := parser.Parse(assetPath)
	if err != nil || ap.Subordinate {
		return nil, nil
	}

	component, err := s.store.ReadCoordinate(repo.ID, ap.Namespace, ap.Name, ap.Version)
	if errors.Is(err, apperr.ErrNotFound) {
		component = &models.Component{
			RepositoryID: repo.ID,
			Namespace:    ap.Namespace,
			Name:         ap.Name,
			Version:      ap.Version,
			BaseVersion:  ap.BaseVersion,
		}
		err = s.store.CreateComponent(component)
	}
	if err != nil {
		return nil, err
	}
	if err := s.store.UpsertSearchEntry(component, repo.Format, primaryChecksum); err != nil {
		return nil, err
	}
	return component, nil
}

// GetAsset reads an asset and its content, recording the download.
func (s *Service) GetAsset(repository, assetPath string) (*AssetDetail, error) {
	repo, err := s.store.ReadRepository(repository)
	if err != nil {
		return nil, err
	}
	asset, err := s.store.ReadPath(repo.ID, assetPath)
	if err != nil {
		return nil, err
	}
	content, err := s.content.Get(asset.BlobRef)
	if err != nil {
		return nil, err
	}
	if err := s.store.MarkDownloaded(repo.ID, assetPath, time.Now()); err != nil {
		return nil, err
	}

	detail := &AssetDetail{
		Repository: repo.Name,
		Path:       asset.Path,
		Kind:       asset.Kind,
		Checksums:  asset.Checksums,
		Attributes: asset.Attributes,
		Updated:    asset.LastUpdated,
		Content:    content,
	}
	return detail, nil
}

// DeleteAsset removes an asset row and its content.
func (s *Service) DeleteAsset(repository, assetPath string) error {
	repo, err := s.store.ReadRepository(repository)
	if err != nil {
		return err
	}
	deleted, err := s.store.DeleteAsset(repo.ID, assetPath)
	if err != nil {
		return err
	}
	if !deleted {
		return apperr.ErrNotFound
	}
	if _, err := s.content.DeleteWithHashes(path.Join("/", repo.Name, assetPath)); err != nil {
		return err
	}
	s.broker.PublishAssetEvent("deleted", repo.Name, assetPath)
	return nil
}

// Changes returns the next change page for incremental replication.
// The cursor is the last_updated value of the last asset of the
// previous page; a nil cursor starts from the beginning of time.
func (s *Service) Changes(repository string, since *time.Time, patterns []string, batchSize int) ([]models.Asset, error) {
	repo, err := s.store.ReadRepository(repository)
	if err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return s.store.FindUpdated(repo.ID, since, patterns, batchSize)
}

// Search composes the filters into one predicate and executes it.
// Composition is all-or-nothing: any rejected filter fails the whole
// request.
func (s *Service) Search(filters []models.SearchFilter, limit, offset int) ([]models.SearchRecord, error) {
	qb, filterErrs := s.composer.BuildQuery(filters)
	if len(filterErrs) > 0 {
		return nil, filterErrs[0]
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return s.store.ExecuteSearch(qb, limit, offset)
}

// RebuildMetadata runs a metadata rebuild or, when refreshOnly is set,
// a flag-driven refresh.
func (s *Service) RebuildMetadata(ctx context.Context, req metadata.Request, refreshOnly bool) (bool, error) {
	if refreshOnly {
		return s.rebuilder.Refresh(ctx, req)
	}
	return s.rebuilder.Rebuild(ctx, req)
}

// SetAssetAttributes applies an attribute change set to an asset.
func (s *Service) SetAssetAttributes(repository, assetPath string, changes []models.AttributeChange) error {
	repo, err := s.store.ReadRepository(repository)
	if err != nil {
		return err
	}
	return s.store.UpdateAssetAttributes(repo.ID, assetPath, changes)
}

// UploadAssetContent adapts UploadAsset for the import watcher.
func (s *Service) UploadAssetContent(repository, assetPath string, content []byte) error {
	_, err := s.UploadAsset(repository, assetPath, content)
	return err
}

// DeleteAssetPath adapts DeleteAsset for the import watcher.
func (s *Service) DeleteAssetPath(repository, assetPath string) error {
	return s.DeleteAsset(repository, assetPath)
}

// AssetChecksum returns the stored primary checksum of an asset.
func (s *Service) AssetChecksum(repository, assetPath string) (string, error) {
	repo, err := s.store.ReadRepository(repository)
	if err != nil {
		return "", err
	}
	asset, err := s.store.ReadPath(repo.ID, assetPath)
	if err != nil {
		return "", err
	}
	return asset.Checksums[checksum.Primary], nil
}

// contentTypeFor guesses a content type from the file extension.
func contentTypeFor(assetPath string) string {
	switch path.Ext(assetPath) {
	case ".xml", ".pom":
		return "application/xml"
	case ".jar":
		return "application/java-archive"
	case ".json":
		return "application/json"
	case ".txt", ".sha1", ".sha256", ".sha512", ".md5", ".asc":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
