package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/TaskLoom/internal/domain"
	"github.com/Strob0t/TaskLoom/internal/port/eventstore"
)

// ProjectionStore implements eventstore.ProjectionStore. Cursor and state
// live in one row, so a save is atomic by construction.
type ProjectionStore struct {
	pool *pgxpool.Pool
}

// NewProjectionStore creates a ProjectionStore.
func NewProjectionStore(pool *pgxpool.Pool) *ProjectionStore {
	return &ProjectionStore{pool: pool}
}

// LoadProjection returns the record for name, or domain.ErrNotFound.
func (s *ProjectionStore) LoadProjection(ctx context.Context, name string) (*eventstore.ProjectionRecord, error) {
	var rec eventstore.ProjectionRecord
	err := s.pool.QueryRow(ctx,
		`SELECT name, cursor_event_id, state, updated_at FROM projections WHERE name = $1`, name).
		Scan(&rec.Name, &rec.CursorEventID, &rec.State, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("projection %s: %w", name, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("load projection %s: %w", name, err)
	}
	return &rec, nil
}

// SaveProjection upserts the record.
func (s *ProjectionStore) SaveProjection(ctx context.Context, rec *eventstore.ProjectionRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO projections (name, cursor_event_id, state, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (name) DO UPDATE
		 SET cursor_event_id = EXCLUDED.cursor_event_id,
		     state = EXCLUDED.state,
		     updated_at = EXCLUDED.updated_at`,
		rec.Name, rec.CursorEventID, rec.State, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save projection %s: %w", rec.Name, err)
	}
	return nil
}
