package project

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Save writes content to the root-relative file rel. An existing file is
// first copied to its backup path, replacing any earlier backup. If the
// backup cannot be made the original is left untouched and the error wraps
// ErrBackup. A symlinked page is written through to its target, which
// Resolve has already confined to the root. It returns the absolute path
// written.
func (s *Store) Save(rel string, content []byte) (string, error) {
	path, err := s.Resolve(rel)
	if err != nil {
		return "", err
	}
	target := path
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		target = resolved
	}

	mode := os.FileMode(0644)
	if info, err := os.Stat(path); err == nil {
		if info.IsDir() {
			return "", fmt.Errorf("%s: %w", rel, ErrNotFound)
		}
		mode = info.Mode().Perm()
		if err := copyFile(path, s.BackupPath(path), mode); err != nil {
			return "", fmt.Errorf("%w: %v", ErrBackup, err)
		}
	}

	if err := atomicWriteFile(target, content, mode); err != nil {
		return "", err
	}
	return target, nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func atomicWriteFile(path string, content []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, ".peekhtml-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer os.Remove(tmpPath)

	if _, err := tmpFile.Write(content); err != nil {
		tmpFile.Close()
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := tmpFile.Chmod(mode); err != nil {
		tmpFile.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}
