package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/TaskLoom/internal/port/eventstore"
)

// AuditLog implements eventstore.AuditLog on the audit_entries table.
type AuditLog struct {
	pool *pgxpool.Pool
}

// NewAuditLog creates an AuditLog.
func NewAuditLog(pool *pgxpool.Pool) *AuditLog {
	return &AuditLog{pool: pool}
}

// AppendAudit inserts one entry and fills in its assigned ID.
func (s *AuditLog) AppendAudit(ctx context.Context, entry *eventstore.AuditEntry) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO audit_entries (call_id, tool, task_id, actor, phase, risk, detail, duration_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		entry.CallID, entry.Tool, entry.TaskID, entry.Actor, entry.Phase,
		entry.Risk, entry.Detail, entry.DurationMS, entry.CreatedAt).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

const auditColumns = `id, call_id, tool, task_id, actor, phase, risk, detail, duration_ms, created_at`

// ListAuditByCall returns the trail of one call in insertion order.
func (s *AuditLog) ListAuditByCall(ctx context.Context, callID string) ([]eventstore.AuditEntry, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM audit_entries WHERE call_id = $1 ORDER BY id ASC`, auditColumns), callID)
	if err != nil {
		return nil, fmt.Errorf("list audit by call %s: %w", callID, err)
	}
	defer rows.Close()
	return collectAudit(rows)
}

// ListAuditByTask returns the trail of one task in insertion order.
func (s *AuditLog) ListAuditByTask(ctx context.Context, taskID string) ([]eventstore.AuditEntry, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM audit_entries WHERE task_id = $1 ORDER BY id ASC`, auditColumns), taskID)
	if err != nil {
		return nil, fmt.Errorf("list audit by task %s: %w", taskID, err)
	}
	defer rows.Close()
	return collectAudit(rows)
}

func collectAudit(rows pgx.Rows) ([]eventstore.AuditEntry, error) {
	var entries []eventstore.AuditEntry
	for rows.Next() {
		var e eventstore.AuditEntry
		if err := rows.Scan(&e.ID, &e.CallID, &e.Tool, &e.TaskID, &e.Actor,
			&e.Phase, &e.Risk, &e.Detail, &e.DurationMS, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
