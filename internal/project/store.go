// Package project holds the currently selected project root and performs
// all root-relative file access for the server.
package project

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	// ErrNotConfigured is returned by every root-relative operation before
	// SetRoot has succeeded.
	ErrNotConfigured = errors.New("project folder is not set")
	ErrNotFound      = errors.New("path does not exist")
	ErrNotDirectory  = errors.New("path is not a directory")
	ErrForbidden     = errors.New("access denied: path escapes the project folder")
	ErrBackup        = errors.New("backup copy failed")
)

// Store is the single active project root. The zero value is not usable;
// create one with NewStore.
type Store struct {
	mu           sync.RWMutex
	root         string
	resolvedRoot string
	backupSuffix string
}

// NewStore returns an unconfigured store. backupSuffix is appended to a
// file's path to name its backup copy; empty means ".backup".
func NewStore(backupSuffix string) *Store {
	if backupSuffix == "" {
		backupSuffix = ".backup"
	}
	return &Store{backupSuffix: backupSuffix}
}

// SetRoot validates dir and makes it the project root. The previous root is
// discarded. It returns the absolute path that was stored.
func (s *Store) SetRoot(dir string) (string, error) {
	abs, err := absPath(dir)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return "", fmt.Errorf("%s: %w", abs, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("cannot access %s: %w", abs, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s: %w", abs, ErrNotDirectory)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		resolved = abs
	}

	s.mu.Lock()
	s.root = abs
	s.resolvedRoot = resolved
	s.mu.Unlock()

	return abs, nil
}

// Root returns the project root or ErrNotConfigured.
func (s *Store) Root() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.root == "" {
		return "", ErrNotConfigured
	}
	return s.root, nil
}

// BackupPath names the backup copy of an absolute file path.
func (s *Store) BackupPath(path string) string {
	return path + s.backupSuffix
}

// Resolve turns a root-relative path into an absolute one. The result is
// either the root itself or strictly below root plus a separator. The path,
// or its nearest existing ancestor when it does not exist yet, must also stay
// inside the root after symlink resolution.
func (s *Store) Resolve(rel string) (string, error) {
	s.mu.RLock()
	root, resolvedRoot := s.root, s.resolvedRoot
	s.mu.RUnlock()
	if root == "" {
		return "", ErrNotConfigured
	}

	rel = filepath.FromSlash(rel)
	full := filepath.Clean(filepath.Join(root, rel))
	if !within(root, full) {
		return "", fmt.Errorf("%s: %w", rel, ErrForbidden)
	}

	if resolved, err := evalExisting(full); err == nil && !within(resolvedRoot, resolved) {
		return "", fmt.Errorf("%s -> %s: %w", rel, resolved, ErrForbidden)
	}

	return full, nil
}

// Rel converts an absolute path below the root to a slash-separated
// root-relative path.
func (s *Store) Rel(path string) (string, error) {
	root, err := s.Root()
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", path, ErrForbidden)
	}
	return filepath.ToSlash(rel), nil
}

// evalExisting resolves symlinks in p, falling back to the closest ancestor
// that exists.
func evalExisting(p string) (string, error) {
	for {
		resolved, err := filepath.EvalSymlinks(p)
		if err == nil || !errors.Is(err, fs.ErrNotExist) {
			return resolved, err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", err
		}
		p = parent
	}
}

func within(root, path string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(root, string(filepath.Separator))+string(filepath.Separator))
}

// absPath expands a leading ~ and returns a clean absolute path.
func absPath(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		p = filepath.Join(homeDir, strings.TrimPrefix(p[1:], "/"))
	}

	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}
	return filepath.Clean(abs), nil
}
