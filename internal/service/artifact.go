package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Strob0t/TaskLoom/internal/domain"
	"github.com/Strob0t/TaskLoom/internal/domain/event"
	"github.com/Strob0t/TaskLoom/internal/domain/patch"
	"github.com/Strob0t/TaskLoom/internal/port/artifactstore"
)

// ArtifactService bridges the workspace filesystem and the event log. Agent
// edits go through the propose/apply lifecycle; external edits arrive as
// artifact.changed notifications from the watcher.
type ArtifactService struct {
	log    *EventLogService
	tasks  *TaskService
	files  artifactstore.Store
	logger *slog.Logger
}

// NewArtifactService creates an ArtifactService.
func NewArtifactService(log *EventLogService, tasks *TaskService, files artifactstore.Store, logger *slog.Logger) *ArtifactService {
	return &ArtifactService{log: log, tasks: tasks, files: files, logger: logger.With("component", "artifact")}
}

// AppendChanged records that a workspace file changed outside the kernel.
// The watcher already deduplicates; identical consecutive revisions are
// dropped here as a second line of defense.
func (s *ArtifactService) AppendChanged(ctx context.Context, path, newRevision, op string) error {
	stream := event.ArtifactStream(path)

	last, err := s.lastRevision(ctx, stream)
	if err != nil {
		return err
	}
	if last == newRevision && op != "remove" {
		return nil
	}

	ev, err := event.New(event.TypeArtifactChanged, event.ArtifactChangedPayload{
		Path:        path,
		NewRevision: newRevision,
		Op:          op,
	})
	if err != nil {
		return fmt.Errorf("build artifact.changed: %w", err)
	}
	if _, err := s.log.Append(ctx, stream, []event.Event{ev}); err != nil {
		return err
	}
	s.logger.Debug("artifact changed", "path", path, "revision", newRevision, "op", op)
	return nil
}

// Propose records an agent's intended edit against the revision of the file
// it read. Returns the proposal ID. The file is not touched.
func (s *ArtifactService) Propose(ctx context.Context, taskID, targetPath, diff string) (string, error) {
	if targetPath == "" {
		return "", fmt.Errorf("%w: target path is required", domain.ErrValidation)
	}
	t, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return "", err
	}
	if t.Status.Terminal() {
		return "", fmt.Errorf("%w: task %s is %s", domain.ErrConflict, taskID, t.Status)
	}

	base := ""
	content, err := s.files.ReadFile(ctx, targetPath)
	switch {
	case err == nil:
		base = patch.Revision(content)
	case errors.Is(err, domain.ErrNotFound):
		// Proposing a new file: no base revision.
	default:
		return "", fmt.Errorf("read %s: %w", targetPath, err)
	}

	id := uuid.NewString()
	ev, err := event.New(event.TypePatchProposed, event.PatchProposedPayload{
		ProposalID:   id,
		TaskID:       taskID,
		TargetPath:   targetPath,
		BaseRevision: base,
		Diff:         diff,
	})
	if err != nil {
		return "", fmt.Errorf("build patch.proposed: %w", err)
	}
	if _, err := s.log.Append(ctx, taskID, []event.Event{ev}); err != nil {
		return "", err
	}
	s.logger.Info("patch proposed", "task_id", taskID, "proposal_id", id, "path", targetPath, "base_revision", base)
	return id, nil
}

// Apply writes the new content of an open proposal to the workspace and
// records patch.applied with the resulting revision. The write and the event
// are not atomic; on crash between them the watcher's artifact.changed plus
// the still-open proposal make the drift detector flag the task.
func (s *ArtifactService) Apply(ctx context.Context, taskID, proposalID string, content []byte) error {
	prop, err := s.findOpenProposal(ctx, taskID, proposalID)
	if err != nil {
		return err
	}

	if err := s.files.WriteFile(ctx, prop.TargetPath, content); err != nil {
		return fmt.Errorf("write %s: %w", prop.TargetPath, err)
	}
	newRev := patch.Revision(content)

	ev, err := event.New(event.TypePatchApplied, event.PatchAppliedPayload{
		ProposalID:  proposalID,
		TaskID:      taskID,
		TargetPath:  prop.TargetPath,
		NewRevision: newRev,
	})
	if err != nil {
		return fmt.Errorf("build patch.applied: %w", err)
	}
	if _, err := s.log.Append(ctx, taskID, []event.Event{ev}); err != nil {
		return err
	}
	s.logger.Info("patch applied", "task_id", taskID, "proposal_id", proposalID, "path", prop.TargetPath, "revision", newRev)
	return nil
}

// Reject discards an open proposal without touching the workspace.
func (s *ArtifactService) Reject(ctx context.Context, taskID, proposalID, reason string) error {
	if _, err := s.findOpenProposal(ctx, taskID, proposalID); err != nil {
		return err
	}
	ev, err := event.New(event.TypePatchRejected, event.PatchRejectedPayload{
		ProposalID: proposalID,
		TaskID:     taskID,
		Reason:     reason,
	})
	if err != nil {
		return fmt.Errorf("build patch.rejected: %w", err)
	}
	if _, err := s.log.Append(ctx, taskID, []event.Event{ev}); err != nil {
		return err
	}
	s.logger.Info("patch rejected", "task_id", taskID, "proposal_id", proposalID, "reason", reason)
	return nil
}

// findOpenProposal returns the proposal if it exists on the task stream and
// has no patch.applied/patch.rejected resolution yet.
func (s *ArtifactService) findOpenProposal(ctx context.Context, taskID, proposalID string) (*patch.PendingProposal, error) {
	events, err := s.log.ReadStream(ctx, taskID, 1)
	if err != nil {
		return nil, err
	}

	var found *patch.PendingProposal
	for i := range events {
		switch events[i].Type {
		case event.TypePatchProposed:
			var p event.PatchProposedPayload
			if json.Unmarshal(events[i].Payload, &p) != nil || p.ProposalID != proposalID {
				continue
			}
			found = &patch.PendingProposal{
				TaskID:       p.TaskID,
				ProposalID:   p.ProposalID,
				TargetPath:   p.TargetPath,
				BaseRevision: p.BaseRevision,
			}
		case event.TypePatchApplied:
			var p event.PatchAppliedPayload
			if json.Unmarshal(events[i].Payload, &p) == nil && p.ProposalID == proposalID {
				return nil, fmt.Errorf("%w: proposal %s already applied", domain.ErrConflict, proposalID)
			}
		case event.TypePatchRejected:
			var p event.PatchRejectedPayload
			if json.Unmarshal(events[i].Payload, &p) == nil && p.ProposalID == proposalID {
				return nil, fmt.Errorf("%w: proposal %s already rejected", domain.ErrConflict, proposalID)
			}
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: proposal %s on task %s", domain.ErrNotFound, proposalID, taskID)
	}
	return found, nil
}

// lastRevision returns the most recent revision recorded on an artifact
// stream, or "" when the stream is empty.
func (s *ArtifactService) lastRevision(ctx context.Context, streamID string) (string, error) {
	events, err := s.log.ReadStream(ctx, streamID, 1)
	if err != nil {
		return "", err
	}
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type != event.TypeArtifactChanged {
			continue
		}
		var p event.ArtifactChangedPayload
		if err := json.Unmarshal(events[i].Payload, &p); err != nil {
			return "", fmt.Errorf("decode artifact.changed: %w", err)
		}
		return p.NewRevision, nil
	}
	return "", nil
}
