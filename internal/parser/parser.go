// Package parser parses repository asset paths into artifact coordinates.
//
// The expected layout is /segment/.../name/version/file where the
// namespace is the dot-joined run of segments before the name. Checksum
// and signature side-files are recognized as subordinate assets and are
// excluded from primary aggregation.
package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hallvard/depot/internal/checksum"
)

// MetadataFileName is the file name of derived metadata documents.
const MetadataFileName = "metadata.xml"

// subordinateSuffixes mark derived side-files (digests and signatures).
var subordinateSuffixes = []string{".sha1", ".sha256", ".sha512", ".md5", ".asc"}

// snapshotTimestamp matches the timestamped part of a deployed snapshot
// version, e.g. 1.0-20240131.093015-4.
var snapshotTimestamp = regexp.MustCompile(`-\d{8}\.\d{6}-\d+$`)

// ArtifactPath is the parsed form of an asset path.
type ArtifactPath struct {
	Namespace   string
	Name        string
	Version     string
	BaseVersion string
	FileName    string
	Subordinate bool
	// SubordinateOf is the primary path a subordinate file belongs to.
	SubordinateOf string
}

// Parse splits an asset path into coordinates. The path must have at
// least namespace, name, version and file segments.
func Parse(path string) (*ArtifactPath, error) {
	trimmed := strings.Trim(path, "/")
	segments := strings.Split(trimmed, "/")
	if len(segments) < 4 {
		return nil, fmt.Errorf("parser: path %q has no artifact coordinates", path)
	}

	file := segments[len(segments)-1]
	version := segments[len(segments)-2]
	name := segments[len(segments)-3]
	namespace := strings.Join(segments[:len(segments)-3], ".")

	ap := &ArtifactPath{
		Namespace:   namespace,
		Name:        name,
		Version:     version,
		BaseVersion: BaseVersion(version),
		FileName:    file,
	}
	for _, suffix := range subordinateSuffixes {
		if strings.HasSuffix(file, suffix) {
			ap.Subordinate = true
			ap.SubordinateOf = "/" + trimmed[:len(trimmed)-len(suffix)]
			break
		}
	}
	return ap, nil
}

// IsSubordinate reports whether path names a derived side-file.
func IsSubordinate(path string) bool {
	for _, suffix := range subordinateSuffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}

// BaseVersion strips the deploy timestamp from a snapshot version;
// released versions are returned unchanged.
func BaseVersion(version string) string {
	if snapshotTimestamp.MatchString(version) {
		return snapshotTimestamp.ReplaceAllString(version, "-SNAPSHOT")
	}
	return version
}

// IsSnapshot reports whether version (or its base form) is a snapshot.
func IsSnapshot(version string) bool {
	return strings.HasSuffix(BaseVersion(version), "-SNAPSHOT")
}

// MetadataPath returns the metadata document path for a coordinate.
// An empty baseVersion addresses the artifact-level document, and an
// empty name the namespace-level one.
func MetadataPath(namespace, name, baseVersion string) string {
	parts := []string{strings.ReplaceAll(namespace, ".", "/")}
	if name != "" {
		parts = append(parts, name)
	}
	if baseVersion != "" {
		parts = append(parts, baseVersion)
	}
	parts = append(parts, MetadataFileName)
	return "/" + strings.Join(parts, "/")
}

// HashSiblings returns the checksum side-file paths of path, in the
// algorithm order used by checksum rebuilds.
func HashSiblings(path string) []string {
	out := make([]string, 0, len(checksum.All))
	for _, algo := range checksum.All {
		out = append(out, path+"."+algo)
	}
	return out
}
