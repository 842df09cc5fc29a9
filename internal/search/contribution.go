package search

import (
	"fmt"
	"strings"

	"github.com/hallvard/depot/internal/models"
)

// Contribution translates one recognized filter property into query
// clause(s) on the shared builder. Contributions must not mutate the
// filter or touch storage; a rejected value is reported as an error
// tied to that filter alone.
type Contribution interface {
	Contribute(qb *QueryBuilder, filter models.SearchFilter) error
}

// ContributionFunc adapts a function to the Contribution interface.
type ContributionFunc func(qb *QueryBuilder, filter models.SearchFilter) error

// Contribute implements Contribution.
func (f ContributionFunc) Contribute(qb *QueryBuilder, filter models.SearchFilter) error {
	return f(qb, filter)
}

// DefaultName keys the fallback contribution used for properties with
// no dedicated entry in the registry.
const DefaultName = "default"

// propertyColumns maps recognized filter properties to columns of the
// denormalized search table. Unrecognized properties fall back to the
// keywords column.
var propertyColumns = map[string]string{
	"namespace": "namespace",
	"group":     "namespace",
	"name":      "name",
	"version":   "version",
}

// column resolves the target column for a property. Format-specific
// property aliases such as "group.raw" resolve through their prefix.
func column(property string) string {
	if col, ok := propertyColumns[property]; ok {
		return col
	}
	if i := strings.IndexByte(property, '.'); i > 0 {
		if col, ok := propertyColumns[property[:i]]; ok {
			return col
		}
	}
	return "keywords"
}

// DefaultContribution splits the raw value on whitespace and requires
// every token to match the target column case-insensitively (AND).
func DefaultContribution(qb *QueryBuilder, filter models.SearchFilter) error {
	tokens := strings.Fields(filter.Value)
	if len(tokens) == 0 {
		return nil
	}
	col := column(filter.Property)
	terms := make([]string, 0, len(tokens))
	for _, token := range tokens {
		name := qb.ParamName(filter.Property)
		terms = append(terms, fmt.Sprintf(`lower(%s) LIKE :%s ESCAPE '\'`, col, name))
		qb.BindParam(name, "%"+escapeLike(strings.ToLower(token))+"%")
	}
	qb.AddCondition("(" + strings.Join(terms, " AND ") + ")")
	return nil
}

// ChecksumContribution matches a digest exactly instead of by substring.
func ChecksumContribution(qb *QueryBuilder, filter models.SearchFilter) error {
	value := strings.TrimSpace(filter.Value)
	if value == "" {
		return nil
	}
	name := qb.ParamName(filter.Property)
	qb.AddCondition(fmt.Sprintf("checksum = :%s", name))
	qb.BindParam(name, strings.ToLower(value))
	return nil
}

// VersionContribution handles the version property. Plain values get
// the default token semantics; bracketed values are treated as a
// version range and rejected when malformed.
func VersionContribution(qb *QueryBuilder, filter models.SearchFilter) error {
	value := strings.TrimSpace(filter.Value)
	if !strings.HasPrefix(value, "[") && !strings.HasPrefix(value, "(") {
		return DefaultContribution(qb, filter)
	}

	lower, upper, lowerInclusive, upperInclusive, err := parseVersionRange(value)
	if err != nil {
		return err
	}
	if lower != "" {
		name := qb.ParamName(filter.Property)
		op := ">"
		if lowerInclusive {
			op = ">="
		}
		qb.AddCondition(fmt.Sprintf("version %s :%s", op, name))
		qb.BindParam(name, lower)
	}
	if upper != "" {
		name := qb.ParamName(filter.Property)
		op := "<"
		if upperInclusive {
			op = "<="
		}
		qb.AddCondition(fmt.Sprintf("version %s :%s", op, name))
		qb.BindParam(name, upper)
	}
	return nil
}

// parseVersionRange parses "[1.0,2.0)" style ranges. Either bound may
// be empty for an open end.
func parseVersionRange(value string) (lower, upper string, lowerInclusive, upperInclusive bool, err error) {
	if len(value) < 2 {
		return "", "", false, false, fmt.Errorf("search: invalid version range %q", value)
	}
	open, close := value[0], value[len(value)-1]
	if (open != '[' && open != '(') || (close != ']' && close != ')') {
		return "", "", false, false, fmt.Errorf("search: invalid version range %q", value)
	}
	inner := value[1 : len(value)-1]
	parts := strings.Split(inner, ",")
	if len(parts) != 2 {
		return "", "", false, false, fmt.Errorf("search: invalid version range %q", value)
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), open == '[', close == ']', nil
}

// DefaultContributions returns the built-in contribution registry.
func DefaultContributions() map[string]Contribution {
	return map[string]Contribution{
		DefaultName: ContributionFunc(DefaultContribution),
		"checksum":  ContributionFunc(ChecksumContribution),
		"version":   ContributionFunc(VersionContribution),
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike escapes the characters that are structurally significant
// to the LIKE operator so they match literally.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
