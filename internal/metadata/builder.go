package metadata

import (
	"time"

	"github.com/hallvard/depot/internal/parser"
)

// versionSet keeps versions in first-seen order without duplicates.
type versionSet struct {
	ordered []string
	seen    map[string]struct{}
}

func newVersionSet() *versionSet {
	return &versionSet{seen: make(map[string]struct{})}
}

func (vs *versionSet) add(version string) {
	if _, ok := vs.seen[version]; ok {
		return
	}
	vs.seen[version] = struct{}{}
	vs.ordered = append(vs.ordered, version)
}

// Builder accumulates versions and plugins during a depth-first walk of
// one namespace. Callers pair every Enter with an Exit at the same
// depth; versions added at the deepest level aggregate upward into the
// enclosing name and namespace accumulators.
type Builder struct {
	namespace string
	name      string
	base      string

	// stack[0] is the namespace accumulator; EnterName and
	// EnterBaseVersion push one level each.
	stack   []*versionSet
	plugins []Plugin

	now func() time.Time
}

// NewBuilder starts an aggregation walk over one namespace.
func NewBuilder(namespace string) *Builder {
	return &Builder{
		namespace: namespace,
		stack:     []*versionSet{newVersionSet()},
		now:       time.Now,
	}
}

// EnterName opens the accumulator for one artifact name.
func (b *Builder) EnterName(name string) {
	b.name = name
	b.stack = append(b.stack, newVersionSet())
}

// EnterBaseVersion opens the accumulator for one base version.
func (b *Builder) EnterBaseVersion(baseVersion string) {
	b.base = baseVersion
	b.stack = append(b.stack, newVersionSet())
}

// AddVersion records a concrete component version in every open
// accumulator.
func (b *Builder) AddVersion(version string) {
	for _, vs := range b.stack {
		vs.add(version)
	}
}

// AddPlugin records a namespace-level plugin entry.
func (b *Builder) AddPlugin(p Plugin) {
	for _, existing := range b.plugins {
		if existing.Prefix == p.Prefix && existing.Name == p.Name {
			return
		}
	}
	b.plugins = append(b.plugins, p)
}

// ExitBaseVersion closes the current base version and returns its
// document, or nil when no versions were collected there.
func (b *Builder) ExitBaseVersion() *Document {
	vs := b.pop()
	base := b.base
	b.base = ""
	if len(vs.ordered) == 0 {
		return nil
	}
	return &Document{
		Namespace:  b.namespace,
		Name:       b.name,
		Version:    base,
		Versioning: b.versioning(vs),
	}
}

// ExitName closes the current name and returns the artifact-level
// document aggregating every base version seen under it, or nil when
// the name had no versions.
func (b *Builder) ExitName() *Document {
	vs := b.pop()
	name := b.name
	b.name = ""
	if len(vs.ordered) == 0 {
		return nil
	}
	return &Document{
		Namespace:  b.namespace,
		Name:       name,
		Versioning: b.versioning(vs),
	}
}

// Finish closes the namespace and returns its plugin document, or nil
// when the namespace holds no plugins.
func (b *Builder) Finish() *Document {
	b.stack = b.stack[:1]
	if len(b.plugins) == 0 {
		return nil
	}
	return &Document{Plugins: b.plugins}
}

func (b *Builder) pop() *versionSet {
	vs := b.stack[len(b.stack)-1]
	b.stack = b.stack[:len(b.stack)-1]
	return vs
}

// versioning summarizes a version set: latest is the newest version
// seen, release the newest non-snapshot one.
func (b *Builder) versioning(vs *versionSet) *Versioning {
	v := &Versioning{
		Versions:    vs.ordered,
		LastUpdated: timestamp(b.now()),
	}
	for _, version := range vs.ordered {
		v.Latest = version
		if !parser.IsSnapshot(version) {
			v.Release = version
		}
	}
	return v
}
