// Package fileops implements the thin control-plane file operations. Path
// safety is delegated entirely to the sandbox; nothing here touches a path
// that has not been resolved first.
package fileops

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/tvachon/lanvault/internal/sandbox"
)

// ErrNotFound is returned when a resolved path does not exist.
var ErrNotFound = errors.New("path not found")

// Entry is one row of a directory listing.
type Entry struct {
	Name       string `json:"name"`
	Path       string `json:"path"` // relative to the storage root
	Kind       string `json:"kind"` // "file" or "directory"
	SizeBytes  int64  `json:"size_bytes"`
	ModifiedAt string `json:"modified_at"` // RFC 3339
}

// Listing is the result of a List call.
type Listing struct {
	CurrentPath string  `json:"current_path"`
	Entries     []Entry `json:"entries"`
}

// ensureRoot creates the storage root if it does not exist yet. Every
// operation goes through it, which keeps the root-exists invariant.
func ensureRoot(root string) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create storage root: %w", err)
	}
	return nil
}

// List returns the entries of the directory at userPath under root.
func List(root, userPath string) (*Listing, error) {
	if err := ensureRoot(root); err != nil {
		return nil, err
	}
	resolved, err := sandbox.Resolve(root, userPath)
	if err != nil {
		return nil, err
	}

	dirents, err := os.ReadDir(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read dir: %w", err)
	}

	rel := "/" + strings.TrimLeft(strings.Trim(userPath, "/\\"), "/\\")
	listing := &Listing{CurrentPath: rel, Entries: []Entry{}}
	for _, d := range dirents {
		info, err := d.Info()
		if err != nil {
			continue
		}
		kind := "file"
		if d.IsDir() {
			kind = "directory"
		}
		listing.Entries = append(listing.Entries, Entry{
			Name:       d.Name(),
			Path:       path.Join(rel, d.Name()),
			Kind:       kind,
			SizeBytes:  info.Size(),
			ModifiedAt: info.ModTime().UTC().Format(time.RFC3339),
		})
	}
	return listing, nil
}

// Delete removes the file or directory at userPath. Directories are removed
// recursively.
func Delete(root, userPath string) error {
	if err := ensureRoot(root); err != nil {
		return err
	}
	resolved, err := sandbox.Resolve(root, userPath)
	if err != nil {
		return err
	}
	rootPath, err := sandbox.Resolve(root, "")
	if err != nil {
		return err
	}
	if resolved == rootPath {
		return sandbox.ErrAccessDenied // never delete the root itself
	}

	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("stat: %w", err)
	}
	if info.IsDir() {
		if err := os.RemoveAll(resolved); err != nil {
			return fmt.Errorf("remove dir: %w", err)
		}
		return nil
	}
	if err := os.Remove(resolved); err != nil {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

// Rename moves source to destination, creating destination's parent
// directories as needed. Both paths are sandboxed.
func Rename(root, source, destination string) error {
	if err := ensureRoot(root); err != nil {
		return err
	}
	src, err := sandbox.Resolve(root, source)
	if err != nil {
		return err
	}
	dst, err := sandbox.Resolve(root, destination)
	if err != nil {
		return err
	}
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("stat source: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create destination dir: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// Locate resolves userPath and verifies it exists, returning the absolute
// path for callers that hand it to something outside the sandbox (the host's
// default application, a transfer source).
func Locate(root, userPath string) (string, error) {
	if err := ensureRoot(root); err != nil {
		return "", err
	}
	resolved, err := sandbox.Resolve(root, userPath)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(resolved); err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("stat: %w", err)
	}
	return resolved, nil
}

// CreateDir creates the directory at userPath, parents included. Idempotent.
func CreateDir(root, userPath string) error {
	if err := ensureRoot(root); err != nil {
		return err
	}
	resolved, err := sandbox.Resolve(root, userPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(resolved, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	return nil
}
