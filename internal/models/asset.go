// Package models defines the domain types for depot.
package models

import "time"

// Repository is a named container of components and assets.
type Repository struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Format string `json:"format"`
}

// Asset represents one stored file inside a repository. Identity is
// (RepositoryID, Path); LastUpdated advances only on mutations that
// actually change state.
type Asset struct {
	ID             int64             `json:"id"`
	RepositoryID   int64             `json:"repository_id"`
	Path           string            `json:"path"`
	Kind           string            `json:"kind,omitempty"`
	ContentType    string            `json:"content_type,omitempty"`
	Checksums      map[string]string `json:"checksums,omitempty"`
	Attributes     map[string]any    `json:"attributes,omitempty"`
	BlobRef        string            `json:"blob_ref,omitempty"`
	ComponentID    *int64            `json:"component_id,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	LastUpdated    time.Time         `json:"last_updated"`
	LastDownloaded *time.Time        `json:"last_downloaded,omitempty"`
}

// Component is a logical package owning zero or more assets.
type Component struct {
	ID           int64          `json:"id"`
	RepositoryID int64          `json:"repository_id"`
	Namespace    string         `json:"namespace,omitempty"`
	Name         string         `json:"name"`
	Version      string         `json:"version,omitempty"`
	BaseVersion  string         `json:"base_version,omitempty"`
	Kind         string         `json:"kind,omitempty"`
	Attributes   map[string]any `json:"attributes,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// SearchFilter is one (property, value) pair supplied per search call.
// Filters are transient and never persisted.
type SearchFilter struct {
	Property string `json:"property"`
	Value    string `json:"value"`
}

// SearchRecord is one denormalized row of the search table.
type SearchRecord struct {
	RepositoryID int64  `json:"repository_id"`
	Format       string `json:"format"`
	Namespace    string `json:"namespace,omitempty"`
	Name         string `json:"name"`
	Version      string `json:"version,omitempty"`
	Checksum     string `json:"checksum,omitempty"`
	Keywords     string `json:"-"`
}
