package metadata

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/hallvard/depot/internal/apperr"
	"github.com/hallvard/depot/internal/checksum"
	"github.com/hallvard/depot/internal/models"
	"github.com/hallvard/depot/internal/storage"
	"github.com/hallvard/depot/internal/store"
	"github.com/hallvard/depot/internal/testutil"
)

// memProvider is an in-memory content store that counts operations so
// tests can observe which side-files a rebuild touched.
type memProvider struct {
	mu      sync.Mutex
	files   map[string][]byte
	puts    map[string]int
	failPut bool
}

func newMemProvider() *memProvider {
	return &memProvider{files: map[string][]byte{}, puts: map[string]int{}}
}

var _ storage.Provider = (*memProvider)(nil)

func (m *memProvider) Get(path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[path]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *memProvider) Put(path string, content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut {
		return fmt.Errorf("put %s: disk full", path)
	}
	m.files[path] = append([]byte(nil), content...)
	m.puts[path]++
	return nil
}

func (m *memProvider) Delete(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[path]; !ok {
		return apperr.ErrNotFound
	}
	delete(m.files, path)
	return nil
}

func (m *memProvider) DeleteWithHashes(path string) ([]string, error) {
	var deleted []string
	for _, p := range append([]string{path}, path+".sha1", path+".sha256", path+".sha512", path+".md5") {
		if err := m.Delete(p); err == nil {
			deleted = append(deleted, p)
		}
	}
	return deleted, nil
}

func (m *memProvider) List(dir string) ([]storage.FileMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.FileMeta
	for p := range m.files {
		if strings.HasPrefix(p, dir) {
			out = append(out, storage.FileMeta{Path: p})
		}
	}
	return out, nil
}

func (m *memProvider) has(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[path]
	return ok
}

func (m *memProvider) putCount(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts[path]
}

func seedComponent(t *testing.T, s *store.Store, repoID int64, namespace, name, version, baseVersion string) *models.Component {
	t.Helper()
	c := &models.Component{
		RepositoryID: repoID,
		Namespace:    namespace,
		Name:         name,
		Version:      version,
		BaseVersion:  baseVersion,
	}
	if err := s.CreateComponent(c); err != nil {
		t.Fatal(err)
	}
	assetPath := "/" + strings.ReplaceAll(namespace, ".", "/") + "/" + name + "/" + version + "/" + name + "-" + version + ".jar"
	a := &models.Asset{RepositoryID: repoID, Path: assetPath, ComponentID: &c.ID}
	if err := s.CreateAsset(a); err != nil {
		t.Fatal(err)
	}
	return c
}

func seedRepo(t *testing.T, s *store.Store) *models.Repository {
	t.Helper()
	repo := &models.Repository{Name: "libs", Format: "maven2"}
	if err := s.CreateRepository(repo); err != nil {
		t.Fatal(err)
	}
	return repo
}

func unmarshalDoc(t *testing.T, data []byte) *Document {
	t.Helper()
	var doc Document
	if err := xml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal document: %v", err)
	}
	return &doc
}

func TestRebuild_WritesDocumentsAndHashes(t *testing.T) {
	s := testutil.TestStore(t)
	repo := seedRepo(t, s)
	seedComponent(t, s, repo.ID, "com.acme", "lib", "1.0", "1.0")
	seedComponent(t, s, repo.ID, "com.acme", "lib", "1.1", "1.1")

	content := newMemProvider()
	r := NewRebuilder(s, content, 0, nil)

	rebuilt, err := r.Rebuild(context.Background(), Request{Repository: "libs"})
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if !rebuilt {
		t.Fatal("expected rebuilt=true")
	}

	for _, p := range []string{
		"/libs/com/acme/lib/1.0/metadata.xml",
		"/libs/com/acme/lib/1.1/metadata.xml",
		"/libs/com/acme/lib/metadata.xml",
	} {
		if !content.has(p) {
			t.Errorf("missing document %s", p)
		}
		for _, algo := range checksum.All {
			if !content.has(p + "." + algo) {
				t.Errorf("missing side-file %s.%s", p, algo)
			}
		}
	}

	data, _ := content.Get("/libs/com/acme/lib/metadata.xml")
	doc := unmarshalDoc(t, data)
	if len(doc.Versioning.Versions) != 2 {
		t.Fatalf("versions = %v", doc.Versioning.Versions)
	}
	if doc.Versioning.Release != "1.1" || doc.Versioning.Latest != "1.1" {
		t.Fatalf("latest/release = %s/%s", doc.Versioning.Latest, doc.Versioning.Release)
	}

	// Side-file content matches the document bytes.
	sha1, _ := content.Get("/libs/com/acme/lib/metadata.xml.sha1")
	wantDigest, _ := checksum.Sum(checksum.SHA1, data)
	if string(sha1) != wantDigest {
		t.Fatalf("sha1 side-file = %q, want %q", sha1, wantDigest)
	}
}

func TestRebuild_ScopedToBaseVersion(t *testing.T) {
	s := testutil.TestStore(t)
	repo := seedRepo(t, s)
	seedComponent(t, s, repo.ID, "com.acme", "lib", "1.0", "1.0")
	seedComponent(t, s, repo.ID, "com.acme", "lib", "1.1", "1.1")

	content := newMemProvider()
	r := NewRebuilder(s, content, 0, nil)

	rebuilt, err := r.Rebuild(context.Background(), Request{
		Repository:  "libs",
		Namespace:   "com.acme",
		Name:        "lib",
		BaseVersion: "1.0",
	})
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if !rebuilt {
		t.Fatal("expected rebuilt=true")
	}
	if !content.has("/libs/com/acme/lib/1.0/metadata.xml") {
		t.Fatal("scoped document missing")
	}
	if content.has("/libs/com/acme/lib/1.1/metadata.xml") {
		t.Fatal("out-of-scope document written")
	}
}

func TestRebuild_ChecksumShortcut(t *testing.T) {
	s := testutil.TestStore(t)
	repo := seedRepo(t, s)
	seedComponent(t, s, repo.ID, "com.acme", "lib", "1.0", "1.0")

	content := newMemProvider()
	blob := []byte("jar bytes")
	blobPath := "/libs/com/acme/lib/1.0/lib-1.0.jar"
	if err := content.Put(blobPath, blob); err != nil {
		t.Fatal(err)
	}
	digest, _ := checksum.Sum(checksum.SHA1, blob)
	if err := content.Put(blobPath+".sha1", []byte(digest)); err != nil {
		t.Fatal(err)
	}

	r := NewRebuilder(s, content, 0, nil)
	if _, err := r.Rebuild(context.Background(), Request{Repository: "libs", RebuildChecksums: true}); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	// The stored primary digest already matched, so nothing beyond it
	// was recomputed or written.
	if content.putCount(blobPath+".sha1") != 1 {
		t.Fatal("matching primary side-file rewritten")
	}
	if content.has(blobPath + ".sha256") {
		t.Fatal("secondary side-file written despite matching primary")
	}

	// Corrupt the primary side-file: the full digest set is rewritten.
	if err := content.Put(blobPath+".sha1", []byte("bogus")); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Rebuild(context.Background(), Request{Repository: "libs", RebuildChecksums: true}); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	got, _ := content.Get(blobPath + ".sha1")
	if string(got) != digest {
		t.Fatalf("sha1 side-file = %q, want %q", got, digest)
	}
	for _, algo := range checksum.Secondary {
		want, _ := checksum.Sum(algo, blob)
		stored, err := content.Get(blobPath + "." + algo)
		if err != nil || string(stored) != want {
			t.Fatalf("%s side-file = %q (%v), want %q", algo, stored, err, want)
		}
	}
}

func TestRefresh_OnlyFlaggedCoordinates(t *testing.T) {
	s := testutil.TestStore(t)
	repo := seedRepo(t, s)
	seedComponent(t, s, repo.ID, "com.acme", "lib", "1.0", "1.0")
	seedComponent(t, s, repo.ID, "com.acme", "tool", "2.0", "2.0")

	flaggedPath := "/com/acme/lib/1.0/lib-1.0.jar"
	err := s.UpdateAssetAttributes(repo.ID, flaggedPath, []models.AttributeChange{
		{Op: models.AttributeSet, Key: RebuildFlagAttribute, Value: map[string]any{"force_rebuild": true}},
	})
	if err != nil {
		t.Fatal(err)
	}

	content := newMemProvider()
	r := NewRebuilder(s, content, 0, nil)

	rebuilt, err := r.Refresh(context.Background(), Request{Repository: "libs"})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !rebuilt {
		t.Fatal("expected rebuilt=true")
	}

	// Flagged coordinate and its artifact-level document were written.
	if !content.has("/libs/com/acme/lib/1.0/metadata.xml") {
		t.Fatal("flagged base version document missing")
	}
	if !content.has("/libs/com/acme/lib/metadata.xml") {
		t.Fatal("artifact-level document of flagged coordinate missing")
	}
	// The unflagged name was left alone.
	if content.has("/libs/com/acme/tool/2.0/metadata.xml") || content.has("/libs/com/acme/tool/metadata.xml") {
		t.Fatal("unflagged coordinate rebuilt")
	}

	// The flag is consumed.
	asset, err := s.ReadPath(repo.ID, flaggedPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := asset.Attributes[RebuildFlagAttribute]; ok {
		t.Fatal("rebuild flag not cleared")
	}

	// A second refresh finds nothing to do.
	rebuilt, err = r.Refresh(context.Background(), Request{Repository: "libs"})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if rebuilt {
		t.Fatal("refresh without flags rebuilt something")
	}
}

func TestRefresh_RequestedCoordinateWithoutFlag(t *testing.T) {
	s := testutil.TestStore(t)
	repo := seedRepo(t, s)
	seedComponent(t, s, repo.ID, "com.acme", "lib", "1.0", "1.0")
	seedComponent(t, s, repo.ID, "com.acme", "tool", "2.0", "2.0")

	content := newMemProvider()
	r := NewRebuilder(s, content, 0, nil)

	// No asset is flagged, but the flag on the requested coordinate may
	// have been cleared before the pass started, so the coordinate named
	// by the request is refreshed regardless.
	rebuilt, err := r.Refresh(context.Background(), Request{
		Repository:  "libs",
		Namespace:   "com.acme",
		Name:        "lib",
		BaseVersion: "1.0",
	})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !rebuilt {
		t.Fatal("requested coordinate not rebuilt")
	}
	if !content.has("/libs/com/acme/lib/1.0/metadata.xml") {
		t.Fatal("requested base version document missing")
	}
	if !content.has("/libs/com/acme/lib/metadata.xml") {
		t.Fatal("artifact-level document of requested coordinate missing")
	}
	// Coordinates outside the request stay untouched.
	if content.has("/libs/com/acme/tool/2.0/metadata.xml") || content.has("/libs/com/acme/tool/metadata.xml") {
		t.Fatal("unrequested coordinate rebuilt")
	}
}

func TestRefresh_RequestedNameWithoutVersion(t *testing.T) {
	s := testutil.TestStore(t)
	repo := seedRepo(t, s)
	seedComponent(t, s, repo.ID, "com.acme", "lib", "1.0", "1.0")
	seedComponent(t, s, repo.ID, "com.acme", "lib", "1.1", "1.1")

	content := newMemProvider()
	r := NewRebuilder(s, content, 0, nil)

	rebuilt, err := r.Refresh(context.Background(), Request{
		Repository: "libs",
		Namespace:  "com.acme",
		Name:       "lib",
	})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !rebuilt {
		t.Fatal("requested name not rebuilt")
	}
	// The artifact-level document is rewritten; unflagged base version
	// documents are not, since none was named by the request.
	if !content.has("/libs/com/acme/lib/metadata.xml") {
		t.Fatal("artifact-level document missing")
	}
	if content.has("/libs/com/acme/lib/1.0/metadata.xml") || content.has("/libs/com/acme/lib/1.1/metadata.xml") {
		t.Fatal("unflagged base version document written")
	}
}

func TestRebuild_Cancelled(t *testing.T) {
	s := testutil.TestStore(t)
	repo := seedRepo(t, s)
	seedComponent(t, s, repo.ID, "com.acme", "lib", "1.0", "1.0")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	content := newMemProvider()
	r := NewRebuilder(s, content, 0, nil)

	rebuilt, err := r.Rebuild(ctx, Request{Repository: "libs"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if rebuilt {
		t.Fatal("cancelled pass reported rebuilt=true")
	}
	if content.has("/libs/com/acme/lib/1.0/metadata.xml") {
		t.Fatal("cancelled pass wrote a document")
	}
}

func TestRebuild_FailuresAccumulate(t *testing.T) {
	s := testutil.TestStore(t)
	repo := seedRepo(t, s)
	seedComponent(t, s, repo.ID, "com.acme", "lib", "1.0", "1.0")
	seedComponent(t, s, repo.ID, "com.acme", "tool", "2.0", "2.0")

	content := newMemProvider()
	content.failPut = true
	r := NewRebuilder(s, content, 0, nil)

	rebuilt, err := r.Rebuild(context.Background(), Request{Repository: "libs"})
	if rebuilt {
		t.Fatal("all writes failed but rebuilt=true")
	}
	var failures *apperr.Failures
	if !errors.As(err, &failures) {
		t.Fatalf("err = %v, want *apperr.Failures", err)
	}
	// Both base version documents failed; the walk did not stop at the
	// first one.
	if failures.Len() < 2 {
		t.Fatalf("failures = %d, want at least 2", failures.Len())
	}
}

func TestRebuild_UnknownRepository(t *testing.T) {
	s := testutil.TestStore(t)
	content := newMemProvider()
	r := NewRebuilder(s, content, 0, nil)

	_, err := r.Rebuild(context.Background(), Request{Repository: "missing"})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteMetadata(t *testing.T) {
	s := testutil.TestStore(t)
	repo := seedRepo(t, s)
	seedComponent(t, s, repo.ID, "com.acme", "lib", "1.0", "1.0")

	content := newMemProvider()
	r := NewRebuilder(s, content, 0, nil)
	if _, err := r.Rebuild(context.Background(), Request{Repository: "libs"}); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	deleted, err := r.DeleteMetadata(Request{
		Repository:  "libs",
		Namespace:   "com.acme",
		Name:        "lib",
		BaseVersion: "1.0",
	})
	if err != nil {
		t.Fatalf("DeleteMetadata: %v", err)
	}
	if len(deleted) == 0 {
		t.Fatal("nothing deleted")
	}
	if content.has("/libs/com/acme/lib/1.0/metadata.xml") {
		t.Fatal("base version document survived")
	}
	if content.has("/libs/com/acme/lib/metadata.xml") {
		t.Fatal("artifact-level document survived")
	}
}
