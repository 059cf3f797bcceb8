package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Strob0t/TaskLoom/internal/domain"
	"github.com/Strob0t/TaskLoom/internal/domain/event"
	"github.com/Strob0t/TaskLoom/internal/port/eventstore"
)

// ProjectionService folds events into named read models with a persisted
// cursor, so replays are incremental. Two concurrent runs of the same name
// would both be correct (the fold is deterministic), but they are serialized
// through singleflight to avoid losing cursor advances to the slower writer.
type ProjectionService struct {
	log   *EventLogService
	store eventstore.ProjectionStore
	group singleflight.Group
}

// NewProjectionService creates a ProjectionService.
func NewProjectionService(log *EventLogService, store eventstore.ProjectionStore) *ProjectionService {
	return &ProjectionService{log: log, store: store}
}

// RunProjection loads the persisted cursor+state for name (or defaultState
// if absent), folds every event after the cursor through reduce in order,
// and persists the new cursor and state atomically together when at least
// one event was folded. Running it twice with no new events is a no-op that
// returns identical state.
func RunProjection[S any](ctx context.Context, p *ProjectionService, name string, defaultState S, reduce func(S, event.StoredEvent) S) (S, error) {
	result, err, _ := p.group.Do(name, func() (any, error) {
		return runProjectionOnce(ctx, p, name, defaultState, reduce)
	})
	if err != nil {
		var zero S
		return zero, err
	}
	return result.(S), nil
}

func runProjectionOnce[S any](ctx context.Context, p *ProjectionService, name string, defaultState S, reduce func(S, event.StoredEvent) S) (S, error) {
	state := defaultState
	var cursor int64

	rec, err := p.store.LoadProjection(ctx, name)
	switch {
	case err == nil:
		cursor = rec.CursorEventID
		if len(rec.State) > 0 {
			if err := json.Unmarshal(rec.State, &state); err != nil {
				return state, fmt.Errorf("decode projection %s state: %w", name, err)
			}
		}
	case errors.Is(err, domain.ErrNotFound):
		// First run: fold from the beginning.
	default:
		return state, fmt.Errorf("load projection %s: %w", name, err)
	}

	events, err := p.log.ReadAll(ctx, cursor)
	if err != nil {
		return state, fmt.Errorf("read events for projection %s: %w", name, err)
	}
	if len(events) == 0 {
		return state, nil
	}

	for i := range events {
		state = reduce(state, events[i])
	}

	encoded, err := json.Marshal(state)
	if err != nil {
		return state, fmt.Errorf("encode projection %s state: %w", name, err)
	}
	if err := p.store.SaveProjection(ctx, &eventstore.ProjectionRecord{
		Name:          name,
		CursorEventID: events[len(events)-1].ID,
		State:         encoded,
		UpdatedAt:     time.Now().UTC(),
	}); err != nil {
		return state, fmt.Errorf("save projection %s: %w", name, err)
	}

	return state, nil
}
