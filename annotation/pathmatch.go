package annotation

import (
	"path"
	"strings"
)

// MatchStrategy names the rule that bound an annotation path to an image
type MatchStrategy string

const (
	MatchExact    MatchStrategy = "exact"
	MatchRelative MatchStrategy = "relative"
	MatchBasename MatchStrategy = "basename"
)

type Match struct {
	Path     string
	Strategy MatchStrategy
}

// PathMatcher resolves image references found in annotation files against
// the images available on disk. Rules are tried in order: exact path,
// path relative to the common base directory of the available images,
// then a filename that is unique among them.
type PathMatcher struct {
	base      string
	exact     map[string]string
	relative  map[string]string
	basenames map[string][]string
}

func NewPathMatcher(available []string) *PathMatcher {
	m := &PathMatcher{
		exact:     map[string]string{},
		relative:  map[string]string{},
		basenames: map[string][]string{},
	}
	normalized := make([]string, len(available))
	for i, p := range available {
		normalized[i] = normalizePath(p)
	}
	m.base = commonBaseDir(normalized)
	for i, p := range normalized {
		original := available[i]
		if _, ok := m.exact[p]; !ok {
			m.exact[p] = original
		}
		if rel, ok := relativeTo(m.base, p); ok {
			if _, ok := m.relative[rel]; !ok {
				m.relative[rel] = original
			}
		}
		name := path.Base(p)
		m.basenames[name] = append(m.basenames[name], original)
	}
	return m
}

// Base returns the detected common base directory
func (m *PathMatcher) Base() string {
	return m.base
}

func (m *PathMatcher) Resolve(annotationPath string) (Match, bool) {
	if strings.TrimSpace(annotationPath) == "" {
		return Match{}, false
	}
	p := normalizePath(annotationPath)
	if found, ok := m.exact[p]; ok {
		return Match{Path: found, Strategy: MatchExact}, true
	}
	if found, ok := m.relative[p]; ok {
		return Match{Path: found, Strategy: MatchRelative}, true
	}
	if rel, ok := relativeTo(m.base, p); ok {
		if found, ok := m.relative[rel]; ok {
			return Match{Path: found, Strategy: MatchRelative}, true
		}
	}
	if candidates := m.basenames[path.Base(p)]; len(candidates) == 1 {
		return Match{Path: candidates[0], Strategy: MatchBasename}, true
	}
	return Match{}, false
}

// ResolvePath is a one-shot Resolve
func ResolvePath(annotationPath string, available []string) (string, bool) {
	match, ok := NewPathMatcher(available).Resolve(annotationPath)
	return match.Path, ok
}

func normalizePath(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	if p == "" {
		return p
	}
	return path.Clean(p)
}

func commonBaseDir(paths []string) string {
	if len(paths) == 0 {
		return ""
	}
	base := strings.Split(path.Dir(paths[0]), "/")
	for _, p := range paths[1:] {
		parts := strings.Split(path.Dir(p), "/")
		n := 0
		for n < len(base) && n < len(parts) && base[n] == parts[n] {
			n++
		}
		base = base[:n]
	}
	ret := strings.Join(base, "/")
	if ret == "" && strings.HasPrefix(paths[0], "/") {
		return "/"
	}
	return ret
}

func relativeTo(base, p string) (string, bool) {
	switch base {
	case "", ".":
		return p, true
	case "/":
		return strings.TrimPrefix(p, "/"), strings.HasPrefix(p, "/")
	}
	if !strings.HasPrefix(p, base+"/") {
		return "", false
	}
	return p[len(base)+1:], true
}
