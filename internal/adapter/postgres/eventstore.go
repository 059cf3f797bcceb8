package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/TaskLoom/internal/domain"
	"github.com/Strob0t/TaskLoom/internal/domain/event"
)

// EventStore implements eventstore.Store on an append-only events table.
// IDs and sequence numbers arrive pre-assigned from the log service; the
// unique constraints are the last line of defense against a second writer.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates an EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

const eventColumns = `id, stream_id, seq, event_type, payload, created_at`

func scanEvent(scanner interface{ Scan(dest ...any) error }, ev *event.StoredEvent) error {
	return scanner.Scan(&ev.ID, &ev.StreamID, &ev.Seq, &ev.Type, &ev.Payload, &ev.CreatedAt)
}

// InsertBatch persists a batch inside one transaction.
func (s *EventStore) InsertBatch(ctx context.Context, events []event.StoredEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin insert batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for i := range events {
		ev := &events[i]
		if _, err := tx.Exec(ctx,
			`INSERT INTO events (id, stream_id, seq, event_type, payload, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			ev.ID, ev.StreamID, ev.Seq, string(ev.Type), ev.Payload, ev.CreatedAt); err != nil {
			return fmt.Errorf("insert event %d: %w", ev.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit insert batch: %w", err)
	}
	return nil
}

// ReadAll returns events with ID > fromIDExclusive in ascending ID order.
func (s *EventStore) ReadAll(ctx context.Context, fromIDExclusive int64) ([]event.StoredEvent, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM events WHERE id > $1 ORDER BY id ASC`, eventColumns),
		fromIDExclusive)
	if err != nil {
		return nil, fmt.Errorf("read all events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// ReadStream returns one stream's events with Seq >= fromSeqInclusive.
func (s *EventStore) ReadStream(ctx context.Context, streamID string, fromSeqInclusive int64) ([]event.StoredEvent, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM events WHERE stream_id = $1 AND seq >= $2 ORDER BY seq ASC`, eventColumns),
		streamID, fromSeqInclusive)
	if err != nil {
		return nil, fmt.Errorf("read stream %s: %w", streamID, err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// ReadByID returns the event with the given global ID.
func (s *EventStore) ReadByID(ctx context.Context, id int64) (*event.StoredEvent, error) {
	var ev event.StoredEvent
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM events WHERE id = $1`, eventColumns), id)
	if err := scanEvent(row, &ev); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("event %d: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("read event %d: %w", id, err)
	}
	return &ev, nil
}

// Head returns the highest assigned global ID.
func (s *EventStore) Head(ctx context.Context) (int64, error) {
	var head int64
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM events`).Scan(&head); err != nil {
		return 0, fmt.Errorf("read log head: %w", err)
	}
	return head, nil
}

// StreamHead returns the highest assigned Seq of a stream.
func (s *EventStore) StreamHead(ctx context.Context, streamID string) (int64, error) {
	var head int64
	if err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM events WHERE stream_id = $1`, streamID).Scan(&head); err != nil {
		return 0, fmt.Errorf("read stream head %s: %w", streamID, err)
	}
	return head, nil
}

func collectEvents(rows pgx.Rows) ([]event.StoredEvent, error) {
	var events []event.StoredEvent
	for rows.Next() {
		var ev event.StoredEvent
		if err := scanEvent(rows, &ev); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
