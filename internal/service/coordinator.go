package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/Strob0t/TaskLoom/internal/domain"
)

// Role is the outcome of process coordination.
type Role string

const (
	// RoleMaster means this process owns the event log's write path.
	RoleMaster Role = "master"
	// RoleClient means another healthy process is master; this one must
	// route all writes through the master's HTTP API.
	RoleClient Role = "client"
)

// MasterInfo is the contents of the coordination lock file.
type MasterInfo struct {
	PID       int       `json:"pid"`
	Addr      string    `json:"addr"`
	StartedAt time.Time `json:"started_at"`
}

// Coordinator enforces the single-writer rule across processes sharing one
// workspace. The first process writes a lock file and becomes master; later
// processes probe the recorded address and either defer to a healthy master
// or reclaim a stale lock left by a crashed one. Liveness is decided by the
// health probe, never by the file's existence alone.
type Coordinator struct {
	lockPath string
	addr     string
	client   *http.Client
	logger   *slog.Logger
}

// NewCoordinator creates a Coordinator. lockPath is workspace-relative or
// absolute; addr is the address this process would serve on as master.
func NewCoordinator(lockPath, addr string, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		lockPath: lockPath,
		addr:     addr,
		client:   &http.Client{Timeout: 2 * time.Second},
		logger:   logger.With("component", "coordinator"),
	}
}

// errCorruptLock marks a lock file that exists but cannot be decoded.
var errCorruptLock = errors.New("corrupt lock file")

// Acquire decides this process's role. When it returns RoleClient, the
// returned MasterInfo points at the healthy master.
func (c *Coordinator) Acquire(ctx context.Context) (Role, *MasterInfo, error) {
	info, err := c.readLock()
	switch {
	case errors.Is(err, os.ErrNotExist):
		return c.claim(ctx)
	case errors.Is(err, errCorruptLock):
		// Nobody can be probed through a corrupt lock, so it counts as
		// stale: remove it, then race for the claim.
		c.logger.Warn("removing corrupt master lock", "path", c.lockPath)
		if err := os.Remove(c.lockPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", nil, fmt.Errorf("%w: remove corrupt lock: %v", domain.ErrCoordination, err)
		}
		return c.claim(ctx)
	case err != nil:
		return "", nil, err
	}

	if c.probe(ctx, info.Addr) {
		c.logger.Info("healthy master found", "addr", info.Addr, "pid", info.PID)
		return RoleClient, info, nil
	}

	c.logger.Warn("reclaiming stale master lock", "addr", info.Addr, "pid", info.PID, "started_at", info.StartedAt)
	if err := os.Remove(c.lockPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", nil, fmt.Errorf("%w: remove stale lock: %v", domain.ErrCoordination, err)
	}
	return c.claim(ctx)
}

// Release removes the lock file. Only the master calls this, on shutdown.
// A missing or corrupt lock is not ours to remove.
func (c *Coordinator) Release() error {
	info, err := c.readLock()
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, errCorruptLock) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.PID != os.Getpid() {
		return fmt.Errorf("%w: lock held by pid %d, not us", domain.ErrCoordination, info.PID)
	}
	return os.Remove(c.lockPath)
}

// claim writes the lock file and, after a short settle delay, verifies no
// concurrent claimer overwrote it. Two processes racing for a dead lock
// converge on exactly one master.
func (c *Coordinator) claim(ctx context.Context) (Role, *MasterInfo, error) {
	info := &MasterInfo{PID: os.Getpid(), Addr: c.addr, StartedAt: time.Now().UTC()}

	if err := os.MkdirAll(filepath.Dir(c.lockPath), 0o755); err != nil {
		return "", nil, fmt.Errorf("%w: create lock dir: %v", domain.ErrCoordination, err)
	}
	data, err := json.Marshal(info)
	if err != nil {
		return "", nil, fmt.Errorf("encode lock: %w", err)
	}

	f, err := os.OpenFile(c.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if !errors.Is(err, os.ErrExist) {
			return "", nil, fmt.Errorf("%w: write lock: %v", domain.ErrCoordination, err)
		}
		// Lost the race: someone claimed between our probe and our write.
		current, rerr := c.readLock()
		if rerr != nil {
			return "", nil, fmt.Errorf("%w: lock appeared but is unreadable: %v", domain.ErrCoordination, rerr)
		}
		c.logger.Info("lost master race, deferring", "addr", current.Addr, "pid", current.PID)
		return RoleClient, current, nil
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", nil, fmt.Errorf("%w: write lock: %v", domain.ErrCoordination, err)
	}
	if err := f.Close(); err != nil {
		return "", nil, fmt.Errorf("%w: write lock: %v", domain.ErrCoordination, err)
	}

	c.logger.Info("claimed master role", "addr", c.addr, "lock", c.lockPath)
	return RoleMaster, info, nil
}

func (c *Coordinator) readLock() (*MasterInfo, error) {
	data, err := os.ReadFile(c.lockPath)
	if err != nil {
		return nil, err
	}
	var info MasterInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("%w: %v", errCorruptLock, err)
	}
	return &info, nil
}

// probe checks the recorded master's health endpoint.
func (c *Coordinator) probe(ctx context.Context, addr string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
