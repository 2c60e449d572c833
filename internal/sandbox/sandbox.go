// Package sandbox confines every file operation to a single storage root.
// A path that has not been through Resolve never reaches the filesystem layer.
package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ErrAccessDenied is returned for any path that would escape the storage root.
var ErrAccessDenied = errors.New("access denied")

// Resolve joins userPath onto root and verifies the result stays inside root.
// The check is lexical (clean + prefix) followed by symlink canonicalization
// of the deepest existing ancestor, so a symlink planted inside the root
// cannot be used to tunnel out.
func Resolve(root, userPath string) (string, error) {
	cleanRoot, err := canonicalRoot(root)
	if err != nil {
		return "", err
	}

	trimmed := strings.TrimLeft(userPath, "/\\")
	candidate := filepath.Clean(filepath.Join(cleanRoot, trimmed))

	if !within(cleanRoot, candidate) {
		return "", ErrAccessDenied
	}

	// Re-check against the real path of the deepest existing ancestor.
	// The candidate itself may not exist yet (upload destinations).
	real, err := resolveExisting(candidate)
	if err != nil {
		return "", err
	}
	if !within(cleanRoot, real) {
		return "", ErrAccessDenied
	}

	return candidate, nil
}

func canonicalRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", ErrAccessDenied
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return filepath.Clean(abs), nil
		}
		return "", ErrAccessDenied
	}
	return real, nil
}

// within reports whether path equals root or is a descendant of it.
func within(root, path string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

// resolveExisting walks up from path to the nearest existing ancestor,
// resolves its symlinks, then re-joins the non-existing suffix.
func resolveExisting(path string) (string, error) {
	var suffix []string
	current := path
	for {
		real, err := filepath.EvalSymlinks(current)
		if err == nil {
			for i := len(suffix) - 1; i >= 0; i-- {
				real = filepath.Join(real, suffix[i])
			}
			return real, nil
		}
		if !os.IsNotExist(err) {
			return "", ErrAccessDenied
		}
		parent := filepath.Dir(current)
		if parent == current {
			return path, nil
		}
		suffix = append(suffix, filepath.Base(current))
		current = parent
	}
}
