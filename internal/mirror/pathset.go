package mirror

import (
	"path/filepath"
	"sort"
	"strings"
)

// PathSet is the set of local paths that are current for a sync pass,
// plus subtrees whose contents could not be verified and must be left
// alone.
type PathSet struct {
	paths     map[string]struct{}
	protected map[string]struct{}
}

// NewPathSet returns an empty set.
func NewPathSet() *PathSet {
	return &PathSet{
		paths:     make(map[string]struct{}),
		protected: make(map[string]struct{}),
	}
}

// Add marks path as current.
func (s *PathSet) Add(path string) {
	s.paths[filepath.Clean(path)] = struct{}{}
}

// Protect keeps everything under dir out of reconciliation.
func (s *PathSet) Protect(dir string) {
	s.protected[filepath.Clean(dir)] = struct{}{}
}

// Has reports whether path is current.
func (s *PathSet) Has(path string) bool {
	_, ok := s.paths[filepath.Clean(path)]
	return ok
}

// Protected reports whether path is inside a protected subtree.
func (s *PathSet) Protected(path string) bool {
	p := filepath.Clean(path)
	for dir := range s.protected {
		if p == dir || strings.HasPrefix(p, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Len returns the number of current paths.
func (s *PathSet) Len() int {
	return len(s.paths)
}

// Paths returns the current paths in sorted order.
func (s *PathSet) Paths() []string {
	out := make([]string, 0, len(s.paths))
	for p := range s.paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Merge adds all paths and protected subtrees of other.
func (s *PathSet) Merge(other *PathSet) {
	for p := range other.paths {
		s.paths[p] = struct{}{}
	}
	for p := range other.protected {
		s.protected[p] = struct{}{}
	}
}

// ProtectedDirs returns the protected subtrees in sorted order.
func (s *PathSet) ProtectedDirs() []string {
	out := make([]string, 0, len(s.protected))
	for p := range s.protected {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
