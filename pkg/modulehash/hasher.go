// Package modulehash computes the deterministic module hash used to
// drive Update classification: a sorted, glob-filtered walk of a
// module's directory, hashed by relative path and byte content.
package modulehash

import (
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/gobwas/glob"
)

// GlobSet is an include/exclude pair of path glob patterns. An empty
// Include matches every file.
type GlobSet struct {
	Include []string
	Exclude []string
}

// Hash walks root (via fsys, rooted at root) and returns a
// deterministic hex-encoded sha256 digest over the filtered,
// path-sorted file set. Two equivalent trees produce the same hash
// regardless of traversal or filesystem ordering.
func Hash(fsys fs.FS, root string, globs GlobSet) (string, error) {
	includes, err := compileAll(globs.Include)
	if err != nil {
		return "", err
	}
	excludes, err := compileAll(globs.Exclude)
	if err != nil {
		return "", err
	}

	var paths []string
	err = fs.WalkDir(fsys, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if !matchesAny(includes, rel, true) {
			return nil
		}
		if matchesAny(excludes, rel, false) {
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return "", err
	}

	sort.Strings(paths)

	h := sha256.New()
	for _, rel := range paths {
		h.Write([]byte(rel))
		h.Write([]byte{0})
		content, err := fs.ReadFile(fsys, filepath.Join(root, rel))
		if err != nil {
			return "", err
		}
		h.Write(content)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func compileAll(patterns []string) ([]glob.Glob, error) {
	compiled := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, g)
	}
	return compiled, nil
}

// matchesAny reports whether path matches any of globs. emptyResult is
// returned when globs is empty: true for an include set (no include
// patterns means "match everything"), false for an exclude set (no
// exclude patterns means "nothing is excluded").
func matchesAny(globs []glob.Glob, path string, emptyResult bool) bool {
	if len(globs) == 0 {
		return emptyResult
	}
	for _, g := range globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// Merge overlays a module's optional hash-config globs on top of the
// engine defaults: a non-empty module list replaces the default for
// that side (Include/Exclude independently), matching the "engine
// defaults overlaid by the module's optional hash-config" rule.
func Merge(engineDefaults, moduleOverride GlobSet) GlobSet {
	merged := engineDefaults
	if len(moduleOverride.Include) > 0 {
		merged.Include = moduleOverride.Include
	}
	if len(moduleOverride.Exclude) > 0 {
		merged.Exclude = moduleOverride.Exclude
	}
	return merged
}
