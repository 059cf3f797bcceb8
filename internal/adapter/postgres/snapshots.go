package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/TaskLoom/internal/domain"
	"github.com/Strob0t/TaskLoom/internal/domain/run"
)

// SnapshotStore implements snapshotstore.Store, one JSONB row per task.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a SnapshotStore.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// SaveSnapshot upserts the snapshot for a task.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, snap *run.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot of %s: %w", snap.TaskID, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO run_snapshots (task_id, snapshot, updated_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (task_id) DO UPDATE
		 SET snapshot = EXCLUDED.snapshot, updated_at = EXCLUDED.updated_at`,
		snap.TaskID, data, snap.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save snapshot of %s: %w", snap.TaskID, err)
	}
	return nil
}

// LoadSnapshot returns the snapshot for a task, or domain.ErrNotFound.
func (s *SnapshotStore) LoadSnapshot(ctx context.Context, taskID string) (*run.Snapshot, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT snapshot FROM run_snapshots WHERE task_id = $1`, taskID).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("snapshot of %s: %w", taskID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("load snapshot of %s: %w", taskID, err)
	}
	var snap run.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot of %s: %w", taskID, err)
	}
	return &snap, nil
}

// DeleteSnapshot removes the snapshot for a task.
func (s *SnapshotStore) DeleteSnapshot(ctx context.Context, taskID string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM run_snapshots WHERE task_id = $1`, taskID); err != nil {
		return fmt.Errorf("delete snapshot of %s: %w", taskID, err)
	}
	return nil
}
