package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/TaskLoom/internal/adapter/otel"
	"github.com/Strob0t/TaskLoom/internal/domain"
	"github.com/Strob0t/TaskLoom/internal/domain/event"
	"github.com/Strob0t/TaskLoom/internal/port/eventstore"
)

// DriftProjectionName is the persisted state of the drift detector.
const DriftProjectionName = "drift.pending"

// driftState tracks unresolved proposals keyed by their target path.
type driftState struct {
	Pending map[string][]driftEntry `json:"pending"`
}

type driftEntry struct {
	TaskID       string `json:"task_id"`
	ProposalID   string `json:"proposal_id"`
	BaseRevision string `json:"base_revision"`
}

// DriftService watches for workspace changes that invalidate the base
// revision of an open proposal and flags the owning task with
// task.needs_rebase. It is not a pure projection because it emits events,
// so it keeps its own cursor: the cursor is saved only after emissions
// succeed, and re-processing a window emits nothing new because flagged
// proposals are removed from the pending set.
type DriftService struct {
	log     *EventLogService
	store   eventstore.ProjectionStore
	logger  *slog.Logger
	metrics *otel.Metrics
}

// NewDriftService creates a DriftService.
func NewDriftService(log *EventLogService, store eventstore.ProjectionStore, logger *slog.Logger) *DriftService {
	return &DriftService{log: log, store: store, logger: logger.With("component", "drift")}
}

// SetMetrics attaches metric instruments.
func (s *DriftService) SetMetrics(m *otel.Metrics) { s.metrics = m }

// ProcessNewEvents folds every event after the saved cursor and returns how
// many task.needs_rebase signals were emitted. Calling it again immediately
// emits zero.
func (s *DriftService) ProcessNewEvents(ctx context.Context) (int, error) {
	state := driftState{Pending: make(map[string][]driftEntry)}
	var cursor int64

	rec, err := s.store.LoadProjection(ctx, DriftProjectionName)
	switch {
	case err == nil:
		cursor = rec.CursorEventID
		if len(rec.State) > 0 {
			if err := json.Unmarshal(rec.State, &state); err != nil {
				return 0, fmt.Errorf("decode drift state: %w", err)
			}
			if state.Pending == nil {
				state.Pending = make(map[string][]driftEntry)
			}
		}
	case errors.Is(err, domain.ErrNotFound):
	default:
		return 0, fmt.Errorf("load drift state: %w", err)
	}

	events, err := s.log.ReadAll(ctx, cursor)
	if err != nil {
		return 0, fmt.Errorf("read events for drift: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	emitted := 0
	for i := range events {
		n, err := s.apply(ctx, &state, events[i])
		if err != nil {
			return emitted, err
		}
		emitted += n
	}

	encoded, err := json.Marshal(state)
	if err != nil {
		return emitted, fmt.Errorf("encode drift state: %w", err)
	}
	if err := s.store.SaveProjection(ctx, &eventstore.ProjectionRecord{
		Name:          DriftProjectionName,
		CursorEventID: events[len(events)-1].ID,
		State:         encoded,
		UpdatedAt:     time.Now().UTC(),
	}); err != nil {
		return emitted, fmt.Errorf("save drift state: %w", err)
	}
	return emitted, nil
}

func (s *DriftService) apply(ctx context.Context, state *driftState, ev event.StoredEvent) (int, error) {
	switch ev.Type {
	case event.TypePatchProposed:
		var p event.PatchProposedPayload
		if json.Unmarshal(ev.Payload, &p) != nil {
			return 0, nil
		}
		if p.BaseRevision == "" {
			// A proposal for a brand-new file has no base to drift from.
			return 0, nil
		}
		state.Pending[p.TargetPath] = append(state.Pending[p.TargetPath], driftEntry{
			TaskID:       p.TaskID,
			ProposalID:   p.ProposalID,
			BaseRevision: p.BaseRevision,
		})

	case event.TypePatchApplied:
		var p event.PatchAppliedPayload
		if json.Unmarshal(ev.Payload, &p) != nil {
			return 0, nil
		}
		state.remove(p.TargetPath, p.ProposalID)

	case event.TypePatchRejected:
		var p event.PatchRejectedPayload
		if json.Unmarshal(ev.Payload, &p) != nil {
			return 0, nil
		}
		state.removeEverywhere(p.ProposalID)

	case event.TypeTaskCompleted, event.TypeTaskFailed, event.TypeTaskCanceled:
		// Terminal tasks abandon their open proposals.
		state.removeTask(ev.StreamID)

	case event.TypeArtifactChanged:
		var p event.ArtifactChangedPayload
		if json.Unmarshal(ev.Payload, &p) != nil {
			return 0, nil
		}
		return s.flagStale(ctx, state, p.Path, p.NewRevision)
	}
	return 0, nil
}

// flagStale emits task.needs_rebase for every pending proposal on path whose
// base no longer matches the revision now on disk, and removes them from the
// pending set so a re-run stays silent.
func (s *DriftService) flagStale(ctx context.Context, state *driftState, path, newRevision string) (int, error) {
	entries := state.Pending[path]
	if len(entries) == 0 {
		return 0, nil
	}

	emitted := 0
	kept := entries[:0]
	for _, e := range entries {
		if e.BaseRevision == newRevision {
			kept = append(kept, e)
			continue
		}
		ev, err := event.New(event.TypeTaskNeedsRebase, event.TaskNeedsRebasePayload{
			TaskID:        e.TaskID,
			ProposalID:    e.ProposalID,
			AffectedPaths: []string{path},
			Reason:        fmt.Sprintf("base revision %s superseded by %s", e.BaseRevision, newRevision),
		})
		if err != nil {
			return emitted, fmt.Errorf("build task.needs_rebase: %w", err)
		}
		if _, err := s.log.Append(ctx, e.TaskID, []event.Event{ev}); err != nil {
			// Keep the entry so the next run retries the signal.
			kept = append(kept, e)
			state.Pending[path] = kept
			return emitted, fmt.Errorf("emit task.needs_rebase for %s: %w", e.TaskID, err)
		}
		emitted++
		if s.metrics != nil {
			s.metrics.RebaseSignals.Add(ctx, 1)
		}
		s.logger.Warn("proposal base drifted", "task_id", e.TaskID, "proposal_id", e.ProposalID, "path", path, "new_revision", newRevision)
	}

	if len(kept) == 0 {
		delete(state.Pending, path)
	} else {
		state.Pending[path] = kept
	}
	return emitted, nil
}

func (st *driftState) remove(path, proposalID string) {
	entries := st.Pending[path]
	kept := entries[:0]
	for _, e := range entries {
		if e.ProposalID != proposalID {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(st.Pending, path)
	} else {
		st.Pending[path] = kept
	}
}

func (st *driftState) removeEverywhere(proposalID string) {
	for path := range st.Pending {
		st.remove(path, proposalID)
	}
}

func (st *driftState) removeTask(taskID string) {
	for path, entries := range st.Pending {
		kept := entries[:0]
		for _, e := range entries {
			if e.TaskID != taskID {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(st.Pending, path)
		} else {
			st.Pending[path] = kept
		}
	}
}
