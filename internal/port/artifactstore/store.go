// Package artifactstore defines the port for workspace file access.
package artifactstore

import "context"

// Entry is one directory listing item.
type Entry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// Store reads and writes files scoped to the workspace root. Paths are
// workspace-relative; implementations must reject any path that escapes the
// root.
type Store interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, content []byte) error
	ListDir(ctx context.Context, path string) ([]Entry, error)
}
