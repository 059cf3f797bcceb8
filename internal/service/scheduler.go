package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Strob0t/TaskLoom/internal/domain/event"
)

// Scheduler reacts to committed events: task.started launches a run-loop,
// lifecycle events that invalidate a run cancel it, and workspace change
// events trigger the drift detector. It consumes the in-process feed; when
// the feed drops it for lagging, it resubscribes and catches up from the
// last event it saw, so no trigger is ever missed.
type Scheduler struct {
	log     *EventLogService
	runtime *RuntimeService
	drift   *DriftService
	logger  *slog.Logger

	mu       sync.Mutex
	running  map[string]context.CancelFunc
	lastSeen int64

	wg   sync.WaitGroup
	stop context.CancelFunc
}

// NewScheduler creates a Scheduler.
func NewScheduler(log *EventLogService, runtime *RuntimeService, drift *DriftService, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		log:     log,
		runtime: runtime,
		drift:   drift,
		logger:  logger.With("component", "scheduler"),
		running: make(map[string]context.CancelFunc),
	}
}

// Start begins consuming the feed. It returns immediately; consumption runs
// until Stop or context cancellation.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.stop = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.consume(ctx)
}

// Stop cancels every in-flight run and waits for the consumer to exit.
// Suspended runs resume from their snapshots on the next start.
func (s *Scheduler) Stop() {
	if s.stop != nil {
		s.stop()
	}
	s.mu.Lock()
	for taskID, cancel := range s.running {
		cancel()
		delete(s.running, taskID)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) consume(ctx context.Context) {
	defer s.wg.Done()

	for {
		ch, unsubscribe := s.log.Subscribe(256)
		if err := s.catchUp(ctx); err != nil {
			s.logger.Error("scheduler catch-up", "error", err)
		}

		open := true
		for open {
			select {
			case <-ctx.Done():
				unsubscribe()
				return
			case ev, ok := <-ch:
				if !ok {
					// Dropped for lagging; resubscribe and re-read.
					s.logger.Warn("scheduler lagged behind the event feed")
					open = false
					break
				}
				if ev.ID <= s.lastSeen {
					continue
				}
				s.lastSeen = ev.ID
				s.handle(ctx, ev)
			}
		}
		unsubscribe()
	}
}

// catchUp replays events missed between subscriptions.
func (s *Scheduler) catchUp(ctx context.Context) error {
	events, err := s.log.ReadAll(ctx, s.lastSeen)
	if err != nil {
		return err
	}
	for i := range events {
		s.lastSeen = events[i].ID
		s.handle(ctx, events[i])
	}
	return nil
}

func (s *Scheduler) handle(ctx context.Context, ev event.StoredEvent) {
	switch ev.Type {
	case event.TypeTaskStarted, event.TypeTaskResumed, event.TypeTaskInstructionAdded:
		s.launch(ctx, ev.StreamID)

	case event.TypeTaskCanceled, event.TypeTaskPaused, event.TypeTaskCompleted, event.TypeTaskFailed:
		s.cancelRun(ev.StreamID)

	case event.TypeArtifactChanged, event.TypePatchProposed, event.TypePatchApplied, event.TypePatchRejected:
		if s.drift == nil {
			return
		}
		if n, err := s.drift.ProcessNewEvents(ctx); err != nil {
			s.logger.Error("drift pass", "error", err)
		} else if n > 0 {
			s.logger.Info("drift pass flagged tasks", "signals", n)
		}
	}
}

// launch starts a run-loop goroutine for a task unless one is already
// running.
func (s *Scheduler) launch(ctx context.Context, taskID string) {
	if s.runtime == nil {
		return
	}

	s.mu.Lock()
	if _, exists := s.running[taskID]; exists {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.running[taskID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.running, taskID)
			s.mu.Unlock()
			cancel()
		}()

		if _, err := s.runtime.StartRun(runCtx, taskID, ""); err != nil {
			s.logger.Error("start run", "task_id", taskID, "error", err)
			return
		}
		if _, err := s.runtime.RunToCompletion(runCtx, taskID); err != nil && runCtx.Err() == nil {
			s.logger.Error("run-loop", "task_id", taskID, "error", err)
		}
	}()
}

func (s *Scheduler) cancelRun(taskID string) {
	s.mu.Lock()
	cancel, ok := s.running[taskID]
	if ok {
		delete(s.running, taskID)
	}
	s.mu.Unlock()
	if ok {
		cancel()
		s.logger.Info("run canceled", "task_id", taskID)
	}
}
