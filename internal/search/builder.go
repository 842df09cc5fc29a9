// Package search composes free-form search filters into a single
// parameterized, format-aware query predicate.
package search

import (
	"fmt"
	"strings"

	"github.com/hallvard/depot/internal/models"
)

// QueryBuilder is the shared mutable state passed to contributions:
// an ordered clause list, a named parameter map, and the two extracted
// "special" filters that route the query instead of filtering it.
//
// Every placeholder in a clause has exactly one entry in the parameter
// map, and names are unique across the whole builder.
type QueryBuilder struct {
	conditions  []string
	params      map[string]any
	occurrences map[string]int

	format     string
	repository *models.SearchFilter
}

// NewQueryBuilder returns an empty builder.
func NewQueryBuilder() *QueryBuilder {
	return &QueryBuilder{
		params:      make(map[string]any),
		occurrences: make(map[string]int),
	}
}

// ParamName returns a fresh, collision-free parameter name for the
// given property. Repeated filters on the same property get distinct
// per-occurrence suffixes.
func (qb *QueryBuilder) ParamName(property string) string {
	base := sanitize(property)
	n := qb.occurrences[base]
	qb.occurrences[base] = n + 1
	return fmt.Sprintf("%s_%d", base, n)
}

// AddCondition appends one clause fragment to the predicate.
func (qb *QueryBuilder) AddCondition(condition string) {
	qb.conditions = append(qb.conditions, condition)
}

// BindParam records the value for a named placeholder.
func (qb *QueryBuilder) BindParam(name string, value any) {
	qb.params[name] = value
}

// Predicate returns the composed WHERE-clause fragment. Clauses are
// conjunctive; an empty builder yields an empty string.
func (qb *QueryBuilder) Predicate() string {
	return strings.Join(qb.conditions, " AND ")
}

// Params returns the parameter map backing the predicate.
func (qb *QueryBuilder) Params() map[string]any {
	return qb.params
}

// Format returns the extracted format selector, if any.
func (qb *QueryBuilder) Format() (string, bool) {
	return qb.format, qb.format != ""
}

// SetFormat records the extracted format selector.
func (qb *QueryBuilder) SetFormat(format string) {
	qb.format = format
}

// RepositoryFilter returns the extracted repository-name filter, left
// unparsed for the caller to resolve into repository identifiers.
func (qb *QueryBuilder) RepositoryFilter() (*models.SearchFilter, bool) {
	return qb.repository, qb.repository != nil
}

// SetRepositoryFilter records the extracted repository-name filter.
func (qb *QueryBuilder) SetRepositoryFilter(filter models.SearchFilter) {
	f := filter
	qb.repository = &f
}

// sanitize maps a filter property to an identifier-safe parameter base.
func sanitize(property string) string {
	var b strings.Builder
	for _, r := range property {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
