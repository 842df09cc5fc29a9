// Package storage defines the content-store abstraction for raw bytes.
package storage

import "time"

// FileMeta is a lightweight description of one stored file.
type FileMeta struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Provider is the interface for byte-level content operations. Paths are
// relative to the provider root; absent content is reported as
// apperr.ErrNotFound.
type Provider interface {
	// Get returns the raw bytes stored at path.
	Get(path string) ([]byte, error)
	// Put atomically writes content to path.
	Put(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
	// DeleteWithHashes removes path and any of its checksum side-files,
	// returning the set of paths actually deleted.
	DeleteWithHashes(path string) ([]string, error)
	// List walks dir and returns metadata for every file under it.
	List(dir string) ([]FileMeta, error)
}
