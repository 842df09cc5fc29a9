package search

import (
	"fmt"

	"github.com/hallvard/depot/internal/models"
)

// Filter properties that route the query rather than filter it. They
// are extracted from the builder and never folded into the predicate.
const (
	FormatProperty         = "format"
	RepositoryNameProperty = "repository_name"
)

// FilterError ties a contribution failure to the filter that caused it.
type FilterError struct {
	Filter models.SearchFilter
	Err    error
}

// Error implements the error interface.
func (e FilterError) Error() string {
	return fmt.Sprintf("search: filter %q=%q: %v", e.Filter.Property, e.Filter.Value, e.Err)
}

// Unwrap exposes the underlying contribution error.
func (e FilterError) Unwrap() error {
	return e.Err
}

// Composer dispatches search filters to pluggable contributions. This
// is the one pluggability point the engine exposes: format-specific
// search extensions register contributions keyed by property name.
type Composer struct {
	contributions map[string]Contribution
}

// NewComposer creates a composer over the given registry. The registry
// must contain an entry under DefaultName; properties without a
// dedicated contribution fall back to it.
func NewComposer(contributions map[string]Contribution) *Composer {
	reg := make(map[string]Contribution, len(contributions))
	for name, c := range contributions {
		reg[name] = c
	}
	return &Composer{contributions: reg}
}

// BuildQuery assembles the filters into one builder. Filter order does
// not affect the logical predicate (conjunctive composition). Filters
// rejected by their contribution are reported in the returned slice;
// clauses already contributed by other filters are kept, and the caller
// chooses whether composition is all-or-nothing.
func (c *Composer) BuildQuery(filters []models.SearchFilter) (*QueryBuilder, []FilterError) {
	qb := NewQueryBuilder()
	var errs []FilterError

	for _, filter := range filters {
		switch filter.Property {
		case FormatProperty:
			qb.SetFormat(filter.Value)
			continue
		case RepositoryNameProperty:
			qb.SetRepositoryFilter(filter)
			continue
		}

		contribution := c.contributions[filter.Property]
		if contribution == nil {
			contribution = c.contributions[DefaultName]
		}
		if err := contribution.Contribute(qb, filter); err != nil {
			errs = append(errs, FilterError{Filter: filter, Err: err})
		}
	}
	return qb, errs
}

// GetFormat returns the value of the format filter, if present.
func (c *Composer) GetFormat(filters []models.SearchFilter) (string, bool) {
	for _, f := range filters {
		if f.Property == FormatProperty {
			return f.Value, true
		}
	}
	return "", false
}

// GetRepositoryFilter returns the repository-name filter, if present,
// left unparsed for the caller to resolve into repository identifiers.
func (c *Composer) GetRepositoryFilter(filters []models.SearchFilter) (*models.SearchFilter, bool) {
	for _, f := range filters {
		if f.Property == RepositoryNameProperty {
			filter := f
			return &filter, true
		}
	}
	return nil, false
}
