package store

import (
	"errors"
	"reflect"
	"testing"

	"github.com/hallvard/depot/internal/apperr"
	"github.com/hallvard/depot/internal/models"
)

func addComponent(t *testing.T, s *Store, repoID int64, namespace, name, version, baseVersion string) *models.Component {
	t.Helper()
	c := &models.Component{
		RepositoryID: repoID,
		Namespace:    namespace,
		Name:         name,
		Version:      version,
		BaseVersion:  baseVersion,
	}
	if err := s.CreateComponent(c); err != nil {
		t.Fatalf("CreateComponent %s:%s:%s: %v", namespace, name, version, err)
	}
	return c
}

func TestCreateComponent_DuplicateCoordinateConflict(t *testing.T) {
	s := testStore(t)
	repo := testRepo(t, s, "libs")

	addComponent(t, s, repo.ID, "com.acme", "lib", "1.0", "1.0")
	err := s.CreateComponent(&models.Component{
		RepositoryID: repo.ID, Namespace: "com.acme", Name: "lib", Version: "1.0",
	})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestCoordinateDiscovery(t *testing.T) {
	s := testStore(t)
	repo := testRepo(t, s, "libs")

	addComponent(t, s, repo.ID, "com.acme", "lib", "1.0", "1.0")
	addComponent(t, s, repo.ID, "com.acme", "lib", "1.1", "1.1")
	addComponent(t, s, repo.ID, "com.acme", "tool", "2.0", "2.0")
	addComponent(t, s, repo.ID, "org.other", "thing", "0.1", "0.1")

	namespaces, err := s.Namespaces(repo.ID)
	if err != nil {
		t.Fatalf("Namespaces: %v", err)
	}
	if !reflect.DeepEqual(namespaces, []string{"com.acme", "org.other"}) {
		t.Fatalf("namespaces = %v", namespaces)
	}

	names, err := s.Names(repo.ID, "com.acme")
	if err != nil {
		t.Fatalf("Names: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"lib", "tool"}) {
		t.Fatalf("names = %v", names)
	}
}

func TestBaseVersions_FallsBackToVersion(t *testing.T) {
	s := testStore(t)
	repo := testRepo(t, s, "libs")

	// Two deployed snapshots under one base version plus a release
	// without an explicit base version.
	addComponent(t, s, repo.ID, "com.acme", "lib", "1.0-20260301.120000-1", "1.0-SNAPSHOT")
	addComponent(t, s, repo.ID, "com.acme", "lib", "1.0-20260302.120000-2", "1.0-SNAPSHOT")
	addComponent(t, s, repo.ID, "com.acme", "lib", "2.0", "")

	baseVersions, err := s.BaseVersions(repo.ID, "com.acme", "lib")
	if err != nil {
		t.Fatalf("BaseVersions: %v", err)
	}
	if !reflect.DeepEqual(baseVersions, []string{"1.0-SNAPSHOT", "2.0"}) {
		t.Fatalf("baseVersions = %v", baseVersions)
	}
}

func TestBrowseComponentsByCoordinate(t *testing.T) {
	s := testStore(t)
	repo := testRepo(t, s, "libs")

	addComponent(t, s, repo.ID, "com.acme", "lib", "1.0-20260301.120000-1", "1.0-SNAPSHOT")
	addComponent(t, s, repo.ID, "com.acme", "lib", "1.0-20260302.120000-2", "1.0-SNAPSHOT")
	addComponent(t, s, repo.ID, "com.acme", "lib", "2.0", "")

	var versions []string
	token := ""
	for {
		page, next, err := s.BrowseComponentsByCoordinate(repo.ID, "com.acme", "lib", "1.0-SNAPSHOT", token, 1)
		if err != nil {
			t.Fatalf("BrowseComponentsByCoordinate: %v", err)
		}
		for _, c := range page {
			versions = append(versions, c.Version)
		}
		if next == "" {
			break
		}
		token = next
	}
	want := []string{"1.0-20260301.120000-1", "1.0-20260302.120000-2"}
	if !reflect.DeepEqual(versions, want) {
		t.Fatalf("versions = %v, want %v", versions, want)
	}

	// A release without a stored base version matches through its
	// plain version.
	page, _, err := s.BrowseComponentsByCoordinate(repo.ID, "com.acme", "lib", "2.0", "", 10)
	if err != nil {
		t.Fatalf("BrowseComponentsByCoordinate: %v", err)
	}
	if len(page) != 1 || page[0].Version != "2.0" {
		t.Fatalf("release match = %v", page)
	}
}

func TestDeleteComponent_DetachesAssets(t *testing.T) {
	s := testStore(t)
	repo := testRepo(t, s, "libs")

	c := addComponent(t, s, repo.ID, "com.acme", "lib", "1.0", "1.0")
	a := &models.Asset{RepositoryID: repo.ID, Path: "/com/acme/lib/1.0/lib-1.0.jar", ComponentID: &c.ID}
	if err := s.CreateAsset(a); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteComponent(c.ID); err != nil {
		t.Fatalf("DeleteComponent: %v", err)
	}
	after, err := s.ReadPath(repo.ID, a.Path)
	if err != nil {
		t.Fatalf("ReadPath: %v", err)
	}
	if after.ComponentID != nil {
		t.Fatal("asset should be detached from deleted component")
	}
	if _, err := s.ReadCoordinate(repo.ID, "com.acme", "lib", "1.0"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatal("component should be gone")
	}
}
