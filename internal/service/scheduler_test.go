package service

import (
	"context"
	"testing"
	"time"

	"github.com/Strob0t/TaskLoom/internal/domain/run"
	"github.com/Strob0t/TaskLoom/internal/port/llm"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSchedulerLaunchesRunOnTaskStarted(t *testing.T) {
	k := newKernel(t)
	ctx := context.Background()
	client := &scriptedClient{responses: []*llm.Response{{Content: "done immediately"}}}
	rt := newRuntime(k, client, RuntimeConfig{})

	sched := NewScheduler(k.log, rt, nil, testLogger())
	sched.Start(ctx)
	defer sched.Stop()

	id := k.createTask(t, "hands off")
	if err := k.tasks.Start(ctx, id, "agent-1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		snap, err := k.snapshots.LoadSnapshot(ctx, id)
		return err == nil && snap.Phase == run.PhaseDone
	})
}

func TestSchedulerRunsDriftPass(t *testing.T) {
	k := newKernel(t)
	ctx := context.Background()
	drift := NewDriftService(k.log, k.projections, testLogger())

	sched := NewScheduler(k.log, nil, drift, testLogger())
	sched.Start(ctx)
	defer sched.Stop()

	taskID := k.createTask(t, "edit main.go")
	propose(t, k, taskID, "main.go", "rev-aaa")
	changed(t, k, "main.go", "rev-bbb")

	waitFor(t, 2*time.Second, func() bool {
		return len(rebaseSignals(t, k, taskID)) == 1
	})
}

func TestSchedulerCancelStopsRun(t *testing.T) {
	k := newKernel(t)
	ctx := context.Background()
	// The model stalls forever on an unanswered confirmation.
	ft := &fakeTool{name: "write_file", risk: "risky"}
	client := &scriptedClient{responses: []*llm.Response{
		toolCallResponse("c1", "write_file", `{}`),
	}}
	rt := newRuntime(k, client, RuntimeConfig{}, ft)

	sched := NewScheduler(k.log, rt, nil, testLogger())
	sched.Start(ctx)
	defer sched.Stop()

	id := k.createTask(t, "stuck")
	if err := k.tasks.Start(ctx, id, "agent-1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		snap, err := k.snapshots.LoadSnapshot(ctx, id)
		return err == nil && snap.Phase == run.PhaseAwaitingApproval
	})

	if err := k.tasks.Cancel(ctx, id, "never mind"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	// The scheduler cancels the run goroutine; Stop then returns promptly
	// instead of blocking on the poll loop.
	done := make(chan struct{})
	go func() {
		sched.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after task cancel")
	}
}
