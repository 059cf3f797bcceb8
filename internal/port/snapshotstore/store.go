// Package snapshotstore defines the port for persisting run-loop resume
// snapshots.
package snapshotstore

import (
	"context"

	"github.com/Strob0t/TaskLoom/internal/domain/run"
)

// Store persists one snapshot per task. Save overwrites; snapshots are
// working state, not history (history lives in the event log).
type Store interface {
	// SaveSnapshot persists the snapshot, replacing any previous one for the
	// same task.
	SaveSnapshot(ctx context.Context, snap *run.Snapshot) error

	// LoadSnapshot returns the snapshot for a task, or domain.ErrNotFound.
	LoadSnapshot(ctx context.Context, taskID string) (*run.Snapshot, error)

	// DeleteSnapshot removes the snapshot for a task. Deleting a missing
	// snapshot is not an error.
	DeleteSnapshot(ctx context.Context, taskID string) error
}
