package metadata

import (
	"context"
	"fmt"
	"log/slog"
	"path"

	"github.com/hallvard/depot/internal/apperr"
	"github.com/hallvard/depot/internal/checksum"
	"github.com/hallvard/depot/internal/metrics"
	"github.com/hallvard/depot/internal/models"
	"github.com/hallvard/depot/internal/parser"
	"github.com/hallvard/depot/internal/storage"
)

// RebuildFlagAttribute marks an asset whose coordinate needs its
// metadata refreshed. Refresh passes consume and clear the mark.
const RebuildFlagAttribute = "metadata_rebuild"

// forceRebuildKey is the key inside the flag section.
const forceRebuildKey = "force_rebuild"

// defaultBufferSize bounds one component page during traversal.
const defaultBufferSize = 1000

// Catalog is the slice of the relational store the rebuilder traverses.
type Catalog interface {
	ReadRepository(name string) (*models.Repository, error)
	Namespaces(repositoryID int64) ([]string, error)
	Names(repositoryID int64, namespace string) ([]string, error)
	BaseVersions(repositoryID int64, namespace, name string) ([]string, error)
	BrowseComponentsByCoordinate(repositoryID int64, namespace, name, baseVersion, continuationToken string, limit int) ([]models.Component, string, error)
	BrowseComponentAssets(componentID int64) ([]models.Asset, error)
	UpdateAssetAttributes(repositoryID int64, path string, changes []models.AttributeChange) error
}

// Request scopes one rebuild pass. Empty coordinate fields widen the
// scope: an empty Namespace covers the whole repository, an empty Name
// the whole namespace, an empty BaseVersion the whole name.
type Request struct {
	Repository       string
	RebuildChecksums bool
	Namespace        string
	Name             string
	BaseVersion      string
}

// Rebuilder regenerates metadata documents from stored components by
// walking coordinates depth first. Failed writes are accumulated, not
// fatal; cancellation is honored between coordinates and between
// assets, and a cancelled pass never finalizes the coordinate it was
// inside.
type Rebuilder struct {
	store      Catalog
	content    storage.Provider
	bufferSize int
	log        *slog.Logger
}

// NewRebuilder creates a rebuilder over the given store and content
// provider. A bufferSize of zero or less selects the default.
func NewRebuilder(store Catalog, content storage.Provider, bufferSize int, log *slog.Logger) *Rebuilder {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Rebuilder{store: store, content: content, bufferSize: bufferSize, log: log}
}

// Rebuild regenerates every metadata document in the request scope,
// reporting whether any document was written. The returned error is
// the context error on cancellation, or the accumulated write failures
// (as *apperr.Failures) once the pass ran to completion.
func (r *Rebuilder) Rebuild(ctx context.Context, req Request) (bool, error) {
	w, err := r.newWorker(req, false)
	if err != nil {
		return false, err
	}
	return w.run(ctx)
}

// Refresh regenerates only the coordinates marked with the rebuild
// flag, clearing the flag as it goes. The coordinate named by the
// request is refreshed even without a flag, since the flag may have
// been cleared before the pass started. A marked base version also
// refreshes its enclosing name-level and namespace-level documents.
func (r *Rebuilder) Refresh(ctx context.Context, req Request) (bool, error) {
	w, err := r.newWorker(req, true)
	if err != nil {
		return false, err
	}
	return w.run(ctx)
}

// DeleteMetadata removes the metadata documents and their checksum
// side-files for the requested coordinate, returning the deleted paths.
func (r *Rebuilder) DeleteMetadata(req Request) ([]string, error) {
	repo, err := r.store.ReadRepository(req.Repository)
	if err != nil {
		return nil, err
	}

	targets := []string{
		parser.MetadataPath(req.Namespace, req.Name, req.BaseVersion),
	}
	if req.BaseVersion != "" {
		targets = append(targets, parser.MetadataPath(req.Namespace, req.Name, ""))
	}
	if req.Name != "" {
		targets = append(targets, parser.MetadataPath(req.Namespace, "", ""))
	}

	var deleted []string
	for _, target := range targets {
		paths, err := r.content.DeleteWithHashes(contentPath(repo.Name, target))
		if err != nil {
			return deleted, fmt.Errorf("metadata: delete %s: %w", target, err)
		}
		deleted = append(deleted, paths...)
	}
	return deleted, nil
}

type worker struct {
	r       *Rebuilder
	repo    *models.Repository
	req     Request
	refresh bool

	rebuilt  bool
	failures apperr.Failures

	// digestMemo caches primary digests by asset path within one pass.
	digestMemo map[string]string
}

func (r *Rebuilder) newWorker(req Request, refresh bool) (*worker, error) {
	repo, err := r.store.ReadRepository(req.Repository)
	if err != nil {
		return nil, err
	}
	return &worker{
		r:          r,
		repo:       repo,
		req:        req,
		refresh:    refresh,
		digestMemo: make(map[string]string),
	}, nil
}

func (w *worker) run(ctx context.Context) (bool, error) {
	namespaces, err := w.namespaces()
	if err != nil {
		return false, err
	}
	for _, namespace := range namespaces {
		if err := w.processNamespace(ctx, namespace); err != nil {
			return w.rebuilt, err
		}
	}
	return w.rebuilt, w.failures.Err()
}

func (w *worker) processNamespace(ctx context.Context, namespace string) error {
	names, err := w.names(namespace)
	if err != nil {
		return err
	}

	builder := NewBuilder(namespace)
	namespaceTouched := false
	for _, name := range names {
		baseVersions, err := w.baseVersions(namespace, name)
		if err != nil {
			return err
		}

		flagged := map[string]bool{}
		if w.refresh {
			for _, baseVersion := range baseVersions {
				required, err := w.coordinateFlagged(ctx, namespace, name, baseVersion)
				if err != nil {
					return err
				}
				flagged[baseVersion] = required
			}
			if !anyFlagged(flagged) && !w.requestedName(namespace, name) {
				continue
			}
		}

		builder.EnterName(name)
		for _, baseVersion := range baseVersions {
			if err := checkCancellation(ctx); err != nil {
				return err
			}
			builder.EnterBaseVersion(baseVersion)
			clearFlag := w.refresh && flagged[baseVersion]
			if err := w.processComponents(ctx, builder, namespace, name, baseVersion, clearFlag); err != nil {
				return err
			}
			doc := builder.ExitBaseVersion()
			if doc != nil && (!w.refresh || flagged[baseVersion] || w.requestedVersion(namespace, name, baseVersion)) {
				w.writeDocument(parser.MetadataPath(namespace, name, baseVersion), doc)
			}
		}
		if doc := builder.ExitName(); doc != nil {
			w.writeDocument(parser.MetadataPath(namespace, name, ""), doc)
			namespaceTouched = true
		}
	}
	if doc := builder.Finish(); doc != nil && namespaceTouched {
		w.writeDocument(parser.MetadataPath(namespace, "", ""), doc)
	}
	return nil
}

// processComponents pages through the coordinate's components, feeding
// versions and plugins into the builder and visiting each asset once.
func (w *worker) processComponents(ctx context.Context, builder *Builder, namespace, name, baseVersion string, clearFlag bool) error {
	token := ""
	for {
		components, next, err := w.r.store.BrowseComponentsByCoordinate(
			w.repo.ID, namespace, name, baseVersion, token, w.r.bufferSize)
		if err != nil {
			return err
		}
		for _, component := range components {
			builder.AddVersion(component.Version)
			if plugin, ok := pluginEntry(component); ok {
				builder.AddPlugin(plugin)
			}
			if err := w.processAssets(ctx, component, clearFlag); err != nil {
				return err
			}
		}
		if next == "" {
			return nil
		}
		token = next
	}
}

func (w *worker) processAssets(ctx context.Context, component models.Component, clearFlag bool) error {
	assets, err := w.r.store.BrowseComponentAssets(component.ID)
	if err != nil {
		return err
	}
	for _, asset := range assets {
		if err := checkCancellation(ctx); err != nil {
			return err
		}
		if parser.IsSubordinate(asset.Path) {
			continue
		}
		if w.req.RebuildChecksums {
			w.mayUpdateChecksums(asset)
		}
		if clearFlag && assetFlagged(asset) {
			err := w.r.store.UpdateAssetAttributes(w.repo.ID, asset.Path, []models.AttributeChange{
				{Op: models.AttributeRemove, Key: RebuildFlagAttribute},
			})
			if err != nil {
				w.fail(asset.Path, err)
			}
		}
	}
	return nil
}

// mayUpdateChecksums regenerates an asset's checksum side-files. The
// primary digest is computed first and compared against its stored
// side-file; when they agree the remaining algorithms are skipped.
func (w *worker) mayUpdateChecksums(asset models.Asset) {
	target := contentPath(w.repo.Name, asset.Path)
	primary, ok := w.digestMemo[asset.Path]
	var data []byte
	if !ok {
		var err error
		data, err = w.r.content.Get(target)
		if err != nil {
			w.fail(asset.Path, err)
			return
		}
		primary, _ = checksum.Sum(checksum.Primary, data)
		w.digestMemo[asset.Path] = primary
	}

	stored, err := w.r.content.Get(target + "." + checksum.Primary)
	if err == nil && string(stored) == primary {
		return
	}

	if data == nil {
		data, err = w.r.content.Get(target)
		if err != nil {
			w.fail(asset.Path, err)
			return
		}
	}
	if err := w.r.content.Put(target+"."+checksum.Primary, []byte(primary)); err != nil {
		w.fail(asset.Path, err)
		return
	}
	for _, algo := range checksum.Secondary {
		digest, _ := checksum.Sum(algo, data)
		if err := w.r.content.Put(target+"."+algo, []byte(digest)); err != nil {
			w.fail(asset.Path+"."+algo, err)
		}
	}
}

// writeDocument renders the document and writes it together with its
// checksum side-files. Errors are accumulated so the walk continues.
func (w *worker) writeDocument(metadataPath string, doc *Document) {
	body, err := doc.Marshal()
	if err != nil {
		w.fail(metadataPath, err)
		return
	}
	target := contentPath(w.repo.Name, metadataPath)
	if err := w.r.content.Put(target, body); err != nil {
		w.fail(metadataPath, err)
		return
	}
	for _, algo := range checksum.All {
		digest, _ := checksum.Sum(algo, body)
		if err := w.r.content.Put(target+"."+algo, []byte(digest)); err != nil {
			w.fail(metadataPath+"."+algo, err)
		}
	}
	w.rebuilt = true
	metrics.MetadataDocuments.Inc()
	w.r.log.Debug("metadata document written",
		slog.String("repository", w.repo.Name),
		slog.String("path", metadataPath))
}

// coordinateFlagged reports whether any asset at the coordinate carries
// the rebuild flag.
func (w *worker) coordinateFlagged(ctx context.Context, namespace, name, baseVersion string) (bool, error) {
	token := ""
	for {
		components, next, err := w.r.store.BrowseComponentsByCoordinate(
			w.repo.ID, namespace, name, baseVersion, token, w.r.bufferSize)
		if err != nil {
			return false, err
		}
		for _, component := range components {
			if err := checkCancellation(ctx); err != nil {
				return false, err
			}
			assets, err := w.r.store.BrowseComponentAssets(component.ID)
			if err != nil {
				return false, err
			}
			for _, asset := range assets {
				if assetFlagged(asset) {
					return true, nil
				}
			}
		}
		if next == "" {
			return false, nil
		}
		token = next
	}
}

// requestedName reports whether the request names this exact namespace
// and name. The rebuild flag on the requested asset may already have
// been cleared before the pass was invoked, so the requested coordinate
// is always treated as needing a rebuild.
func (w *worker) requestedName(namespace, name string) bool {
	return w.req.Namespace != "" && w.req.Name != "" &&
		w.req.Namespace == namespace && w.req.Name == name
}

// requestedVersion reports whether the request names this exact base
// version under its namespace and name.
func (w *worker) requestedVersion(namespace, name, baseVersion string) bool {
	return w.requestedName(namespace, name) &&
		w.req.BaseVersion != "" && w.req.BaseVersion == baseVersion
}

func (w *worker) namespaces() ([]string, error) {
	if w.req.Namespace != "" {
		return []string{w.req.Namespace}, nil
	}
	return w.r.store.Namespaces(w.repo.ID)
}

func (w *worker) names(namespace string) ([]string, error) {
	if w.req.Name != "" {
		return []string{w.req.Name}, nil
	}
	return w.r.store.Names(w.repo.ID, namespace)
}

// baseVersions lists the base versions to visit under a name. A base
// version named in the request is visited even when discovery does not
// return it, so deleting the last component still refreshes (empties)
// its document scope.
func (w *worker) baseVersions(namespace, name string) ([]string, error) {
	discovered, err := w.r.store.BaseVersions(w.repo.ID, namespace, name)
	if err != nil {
		return nil, err
	}
	if w.req.BaseVersion == "" {
		return discovered, nil
	}
	for _, bv := range discovered {
		if bv == w.req.BaseVersion {
			return []string{w.req.BaseVersion}, nil
		}
	}
	return []string{w.req.BaseVersion}, nil
}

func (w *worker) fail(p string, err error) {
	w.failures.Add(p, err)
	metrics.RebuildFailures.Inc()
	w.r.log.Warn("metadata rebuild failure",
		slog.String("repository", w.repo.Name),
		slog.String("path", p),
		slog.String("error", err.Error()))
}

// assetFlagged reports whether the asset carries the rebuild flag.
func assetFlagged(asset models.Asset) bool {
	section, ok := asset.Attributes[RebuildFlagAttribute].(map[string]any)
	if !ok {
		return false
	}
	forced, ok := section[forceRebuildKey].(bool)
	return ok && forced
}

// pluginEntry derives a namespace-level plugin entry from a component
// packaged as a plugin.
func pluginEntry(component models.Component) (Plugin, bool) {
	if component.Attributes["packaging"] != "plugin" {
		return Plugin{}, false
	}
	prefix, _ := component.Attributes["plugin_prefix"].(string)
	if prefix == "" {
		prefix = component.Name
	}
	title, _ := component.Attributes["plugin_name"].(string)
	return Plugin{Prefix: prefix, Name: component.Name, Title: title}, true
}

func anyFlagged(flags map[string]bool) bool {
	for _, flagged := range flags {
		if flagged {
			return true
		}
	}
	return false
}

func checkCancellation(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// contentPath prefixes a repository-relative path with the repository
// name, matching the layout the upload path writes blobs under.
func contentPath(repository, p string) string {
	return path.Join("/", repository, p)
}
