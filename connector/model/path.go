package model

import (
	"slices"
	"strings"

	"github.com/c360/semconnect/errors"
)

// Path is an immutable scope within a model. The zero value is the root.
type Path struct {
	segments []string
}

// Root returns the root scope.
func Root() Path {
	return Path{}
}

// Child returns the scope of the named substructure. The receiver is unchanged.
func (p Path) Child(name string) Path {
	segments := make([]string, 0, len(p.segments)+1)
	segments = append(segments, p.segments...)
	return Path{segments: append(segments, name)}
}

// Parent returns the enclosing scope. Leaving the root is an unbalanced step.
func (p Path) Parent() (Path, error) {
	if p.IsRoot() {
		return p, errors.WrapInvalid(errors.ErrUnbalancedScope, "Path", "Parent", "step out of root")
	}
	return Path{segments: slices.Clone(p.segments[:len(p.segments)-1])}, nil
}

// IsRoot reports whether p is the root scope.
func (p Path) IsRoot() bool {
	return len(p.segments) == 0
}

// Depth returns the nesting level, 0 for the root.
func (p Path) Depth() int {
	return len(p.segments)
}

// Segments returns a copy of the path segments.
func (p Path) Segments() []string {
	return slices.Clone(p.segments)
}

// Resolve turns qName, relative to p, into an absolute qualified name.
func (p Path) Resolve(separator, qName string) string {
	if p.IsRoot() {
		return qName
	}
	prefix := strings.Join(p.segments, separator)
	if qName == "" {
		return prefix
	}
	return prefix + separator + qName
}

// Equal reports whether both paths address the same scope.
func (p Path) Equal(other Path) bool {
	return slices.Equal(p.segments, other.segments)
}

// String renders the path with "/" as separator.
func (p Path) String() string {
	return "/" + strings.Join(p.segments, "/")
}
