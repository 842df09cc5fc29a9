package search

import (
	"strings"
	"testing"

	"github.com/hallvard/depot/internal/models"
)

func buildQuery(t *testing.T, filters ...models.SearchFilter) *QueryBuilder {
	t.Helper()
	composer := NewComposer(DefaultContributions())
	qb, errs := composer.BuildQuery(filters)
	if len(errs) > 0 {
		t.Fatalf("BuildQuery: %v", errs)
	}
	return qb
}

func TestBuildQuery_DefaultTokenized(t *testing.T) {
	qb := buildQuery(t, models.SearchFilter{Property: "name", Value: "guava core"})

	predicate := qb.Predicate()
	if !strings.Contains(predicate, "lower(name) LIKE") {
		t.Fatalf("predicate = %q", predicate)
	}
	// Two tokens means two placeholders joined by AND.
	if strings.Count(predicate, "LIKE") != 2 || !strings.Contains(predicate, " AND ") {
		t.Fatalf("predicate = %q", predicate)
	}
	params := qb.Params()
	if len(params) != 2 {
		t.Fatalf("params = %v", params)
	}
	for _, v := range params {
		s, ok := v.(string)
		if !ok || !strings.HasPrefix(s, "%") || !strings.HasSuffix(s, "%") {
			t.Fatalf("param %v is not a substring pattern", v)
		}
	}
}

func TestBuildQuery_ParamNamesUnique(t *testing.T) {
	qb := buildQuery(t,
		models.SearchFilter{Property: "name", Value: "alpha"},
		models.SearchFilter{Property: "name", Value: "beta"},
	)
	params := qb.Params()
	if len(params) != 2 {
		t.Fatalf("repeated property collided: %v", params)
	}
	values := map[string]bool{}
	for _, v := range params {
		values[v.(string)] = true
	}
	if !values["%alpha%"] || !values["%beta%"] {
		t.Fatalf("params = %v", params)
	}
}

func TestBuildQuery_SpecialFiltersExtracted(t *testing.T) {
	qb := buildQuery(t,
		models.SearchFilter{Property: "format", Value: "maven2"},
		models.SearchFilter{Property: "repository_name", Value: "libs snapshots"},
		models.SearchFilter{Property: "name", Value: "guava"},
	)

	format, ok := qb.Format()
	if !ok || format != "maven2" {
		t.Fatalf("format = %q, %v", format, ok)
	}
	repoFilter, ok := qb.RepositoryFilter()
	if !ok || repoFilter.Value != "libs snapshots" {
		t.Fatalf("repository filter = %v, %v", repoFilter, ok)
	}
	// The routing filters must not leak into the predicate.
	predicate := qb.Predicate()
	if strings.Contains(predicate, "format") || strings.Contains(predicate, "repository") {
		t.Fatalf("predicate leaked routing filters: %q", predicate)
	}
}

func TestBuildQuery_UnknownPropertyFallsBackToKeywords(t *testing.T) {
	qb := buildQuery(t, models.SearchFilter{Property: "custom.attr", Value: "value"})
	if !strings.Contains(qb.Predicate(), "lower(keywords) LIKE") {
		t.Fatalf("predicate = %q", qb.Predicate())
	}
}

func TestBuildQuery_DottedAliasResolvesColumn(t *testing.T) {
	qb := buildQuery(t, models.SearchFilter{Property: "group.raw", Value: "com.acme"})
	if !strings.Contains(qb.Predicate(), "lower(namespace) LIKE") {
		t.Fatalf("predicate = %q", qb.Predicate())
	}
}

func TestBuildQuery_LikeValuesEscaped(t *testing.T) {
	qb := buildQuery(t, models.SearchFilter{Property: "name", Value: "50%_off"})
	for _, v := range qb.Params() {
		s := v.(string)
		if !strings.Contains(s, `\%`) || !strings.Contains(s, `\_`) {
			t.Fatalf("param %q not escaped", s)
		}
	}
	if !strings.Contains(qb.Predicate(), `ESCAPE '\'`) {
		t.Fatalf("predicate lacks ESCAPE clause: %q", qb.Predicate())
	}
}

func TestBuildQuery_MalformedVersionRangeRejected(t *testing.T) {
	composer := NewComposer(DefaultContributions())
	qb, errs := composer.BuildQuery([]models.SearchFilter{
		{Property: "name", Value: "guava"},
		{Property: "version", Value: "[1.0"},
	})
	if len(errs) != 1 {
		t.Fatalf("expected one filter error, got %v", errs)
	}
	if errs[0].Filter.Property != "version" {
		t.Fatalf("error tied to wrong filter: %v", errs[0])
	}
	// Clauses from valid filters are still present.
	if !strings.Contains(qb.Predicate(), "lower(name) LIKE") {
		t.Fatalf("valid clause lost: %q", qb.Predicate())
	}
}

func TestVersionContribution_Range(t *testing.T) {
	qb := NewQueryBuilder()
	err := VersionContribution(qb, models.SearchFilter{Property: "version", Value: "[1.0,2.0)"})
	if err != nil {
		t.Fatalf("VersionContribution: %v", err)
	}
	predicate := qb.Predicate()
	if !strings.Contains(predicate, "version >=") || !strings.Contains(predicate, "version <") {
		t.Fatalf("predicate = %q", predicate)
	}
	if strings.Contains(predicate, "version <=") {
		t.Fatalf("exclusive upper bound rendered inclusive: %q", predicate)
	}
}

func TestVersionContribution_OpenEnds(t *testing.T) {
	qb := NewQueryBuilder()
	if err := VersionContribution(qb, models.SearchFilter{Property: "version", Value: "[1.0,]"}); err != nil {
		t.Fatalf("VersionContribution: %v", err)
	}
	if strings.Contains(qb.Predicate(), "<") {
		t.Fatalf("open upper bound produced a clause: %q", qb.Predicate())
	}
}

func TestBuildQuery_EmptyFilters(t *testing.T) {
	qb := buildQuery(t)
	if qb.Predicate() != "" {
		t.Fatalf("predicate = %q, want empty", qb.Predicate())
	}
	if len(qb.Params()) != 0 {
		t.Fatalf("params = %v, want none", qb.Params())
	}
}
