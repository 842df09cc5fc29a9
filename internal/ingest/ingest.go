// Package ingest imports assets from a local directory into a
// repository, both as a one-shot sync and as a filesystem watcher.
package ingest

import (
	"log/slog"

	"github.com/hallvard/depot/internal/storage"
)

// Uploader is the slice of the API service the importer drives.
type Uploader interface {
	// UploadAssetContent stores content at path in the repository.
	UploadAssetContent(repository, path string, content []byte) error
	// DeleteAssetPath removes the asset at path.
	DeleteAssetPath(repository, path string) error
	// AssetChecksum returns the stored primary checksum of an asset, or
	// apperr.ErrNotFound when the path is unknown.
	AssetChecksum(repository, path string) (string, error)
}

// Sync walks the import directory and brings the repository up to date:
// new and changed files are uploaded, unchanged files are skipped.
func Sync(uploader Uploader, source storage.Provider, repository string, logger *slog.Logger) error {
	metas, err := source.List("")
	if err != nil {
		return err
	}

	for _, m := range metas {
		assetPath := "/" + m.Path

		stored, err := uploader.AssetChecksum(repository, assetPath)
		if err == nil && stored == m.Checksum {
			continue
		}

		data, err := source.Get(m.Path)
		if err != nil {
			logger.Warn("sync: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		if err := uploader.UploadAssetContent(repository, assetPath, data); err != nil {
			logger.Warn("sync: upload failed", slog.String("path", m.Path), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: uploaded", slog.String("path", m.Path))
		}
	}
	return nil
}
