package apperr

import (
	"fmt"
	"strings"
)

// Failure records one failed write inside a larger pass.
type Failure struct {
	Path string
	Err  error
}

// Failures accumulates non-fatal errors so a traversal can run to
// completion and surface everything at once instead of aborting on the
// first failed write.
type Failures struct {
	failures []Failure
}

// Add records a failure for the given path.
func (f *Failures) Add(path string, err error) {
	f.failures = append(f.failures, Failure{Path: path, Err: err})
}

// Len returns the number of recorded failures.
func (f *Failures) Len() int {
	return len(f.failures)
}

// All returns the recorded failures in insertion order.
func (f *Failures) All() []Failure {
	return f.failures
}

// Err returns nil when no failures were recorded, otherwise f itself.
func (f *Failures) Err() error {
	if f == nil || len(f.failures) == 0 {
		return nil
	}
	return f
}

// Error implements the error interface.
func (f *Failures) Error() string {
	if len(f.failures) == 0 {
		return "no failures"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d failure(s):", len(f.failures))
	for _, fail := range f.failures {
		fmt.Fprintf(&b, " [%s: %v]", fail.Path, fail.Err)
	}
	return b.String()
}
