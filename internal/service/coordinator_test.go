package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Strob0t/TaskLoom/internal/domain"
)

func lockPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), ".taskloom", "master.lock")
}

func TestCoordinatorClaimsEmptyLock(t *testing.T) {
	c := NewCoordinator(lockPath(t), "localhost:9000", testLogger())

	role, info, err := c.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if role != RoleMaster {
		t.Fatalf("expected master, got %s", role)
	}
	if info.PID != os.Getpid() || info.Addr != "localhost:9000" {
		t.Fatalf("unexpected lock contents: %+v", info)
	}

	if err := c.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := os.Stat(c.lockPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("expected lock file removed on release")
	}
}

func TestCoordinatorDefersToHealthyMaster(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	addr := strings.TrimPrefix(srv.URL, "http://")

	path := lockPath(t)
	first := NewCoordinator(path, addr, testLogger())
	if role, _, err := first.Acquire(context.Background()); err != nil || role != RoleMaster {
		t.Fatalf("first acquire: role=%s err=%v", role, err)
	}

	second := NewCoordinator(path, "localhost:9001", testLogger())
	role, info, err := second.Acquire(context.Background())
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if role != RoleClient {
		t.Fatalf("expected client, got %s", role)
	}
	if info.Addr != addr {
		t.Fatalf("expected master addr %s, got %s", addr, info.Addr)
	}
}

func TestCoordinatorReclaimsStaleLock(t *testing.T) {
	path := lockPath(t)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	// A lock left behind by a crashed process: nothing listens on its addr.
	stale := `{"pid": 999999, "addr": "localhost:1", "started_at": "2026-01-01T00:00:00Z"}`
	if err := os.WriteFile(path, []byte(stale), 0o644); err != nil {
		t.Fatalf("write stale lock: %v", err)
	}

	c := NewCoordinator(path, "localhost:9000", testLogger())
	role, info, err := c.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if role != RoleMaster {
		t.Fatalf("expected stale lock reclaimed, got %s", role)
	}
	if info.PID != os.Getpid() {
		t.Fatalf("expected our pid in the lock, got %d", info.PID)
	}
}

func TestCoordinatorTreatsCorruptLockAsStale(t *testing.T) {
	path := lockPath(t)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("write corrupt lock: %v", err)
	}

	c := NewCoordinator(path, "localhost:9000", testLogger())
	role, info, err := c.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if role != RoleMaster {
		t.Fatalf("expected corrupt lock reclaimed, got %s", role)
	}
	if info.PID != os.Getpid() {
		t.Fatalf("expected our pid in the rewritten lock, got %d", info.PID)
	}

	// A second process now finds a well-formed lock again.
	second := NewCoordinator(path, "localhost:9001", testLogger())
	if current, err := second.readLock(); err != nil || current.PID != os.Getpid() {
		t.Fatalf("expected readable lock after reclaim: info=%+v err=%v", current, err)
	}
}

func TestCoordinatorReleaseLeavesCorruptLock(t *testing.T) {
	path := lockPath(t)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatalf("write corrupt lock: %v", err)
	}

	c := NewCoordinator(path, "localhost:9000", testLogger())
	if err := c.Release(); err != nil {
		t.Fatalf("release over corrupt lock should be a no-op: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal("corrupt lock is not ours to remove on release")
	}
}

func TestCoordinatorReleaseRefusesForeignLock(t *testing.T) {
	path := lockPath(t)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	foreign := `{"pid": 999999, "addr": "localhost:1", "started_at": "2026-01-01T00:00:00Z"}`
	if err := os.WriteFile(path, []byte(foreign), 0o644); err != nil {
		t.Fatalf("write foreign lock: %v", err)
	}

	c := NewCoordinator(path, "localhost:9000", testLogger())
	if err := c.Release(); !errors.Is(err, domain.ErrCoordination) {
		t.Fatalf("expected coordination error, got %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal("foreign lock must not be removed")
	}
}

func TestCoordinatorReleaseWithoutLock(t *testing.T) {
	c := NewCoordinator(lockPath(t), "localhost:9000", testLogger())
	if err := c.Release(); err != nil {
		t.Fatalf("release without lock should be a no-op: %v", err)
	}
}
