// Package workspace implements filesystem access scoped to the workspace
// root, plus the watcher that turns external edits into change events.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Strob0t/TaskLoom/internal/domain"
	"github.com/Strob0t/TaskLoom/internal/port/artifactstore"
)

// Store implements artifactstore.Store rooted at one directory. Every path
// is resolved against the root and rejected if it escapes it.
type Store struct {
	root string
}

// NewStore creates a Store over an absolute workspace root.
func NewStore(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute workspace root.
func (s *Store) Root() string { return s.root }

// Resolve turns a workspace-relative path into an absolute one, rejecting
// traversal outside the root.
func (s *Store) Resolve(path string) (string, error) {
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("%w: absolute path %q not allowed", domain.ErrValidation, path)
	}
	abs := filepath.Join(s.root, filepath.Clean(path))
	if abs != s.root && !strings.HasPrefix(abs, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path %q escapes the workspace", domain.ErrValidation, path)
	}
	return abs, nil
}

// Rel converts an absolute path inside the workspace to its relative form.
func (s *Store) Rel(abs string) (string, bool) {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// ReadFile returns the contents of a workspace file.
func (s *Store) ReadFile(_ context.Context, path string) ([]byte, error) {
	abs, err := s.Resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("file %s: %w", path, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// WriteFile writes a workspace file, creating parent directories as needed.
func (s *Store) WriteFile(_ context.Context, path string, content []byte) error {
	abs, err := s.Resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("create dirs for %s: %w", path, err)
	}
	if err := os.WriteFile(abs, content, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// ListDir returns the entries of a workspace directory.
func (s *Store) ListDir(_ context.Context, path string) ([]artifactstore.Entry, error) {
	abs, err := s.Resolve(path)
	if err != nil {
		return nil, err
	}
	dirents, err := os.ReadDir(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("dir %s: %w", path, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("list %s: %w", path, err)
	}

	entries := make([]artifactstore.Entry, 0, len(dirents))
	for _, d := range dirents {
		e := artifactstore.Entry{Name: d.Name(), IsDir: d.IsDir()}
		if info, err := d.Info(); err == nil {
			e.Size = info.Size()
		}
		entries = append(entries, e)
	}
	return entries, nil
}
