// Package audit is an async, buffered booking-lifecycle audit log: every
// status-changing event the Engine, Dispatcher, and Sweeper produce is
// enqueued here and flushed to Postgres in batches, so the log can never
// slow down (or block on) the booking state machine itself.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry is one booking lifecycle event: a status transition or a
// dispatch/escalation side effect, not an HTTP request.
type Entry struct {
	BookingID   uuid.UUID
	Action      string // created | dispatched | accepted | rejected | timeout | escalated
	ActorChatID int64  // the chat identity that caused the event, 0 for system actors (sweeper)
	Detail      json.RawMessage
}

// Writer is an async, buffered audit log writer. Entries are sent to an
// internal channel and flushed by a background goroutine in batches, so
// Log never blocks the caller on a database round trip.
type Writer struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	entries chan Entry
	wg      sync.WaitGroup
}

const (
	bufferSize    = 256
	flushInterval = 2 * time.Second
	flushBatch    = 32
)

// NewWriter creates an audit Writer. Call Start to begin processing entries.
// pool may be nil in tests that only exercise the buffering/dropping logic.
func NewWriter(pool *pgxpool.Pool, logger *slog.Logger) *Writer {
	return &Writer{
		pool:    pool,
		logger:  logger,
		entries: make(chan Entry, bufferSize),
	}
}

// Bootstrap creates the booking_audit_log table if missing, mirroring
// pkg/store's idempotent, existence-checked schema steps.
func Bootstrap(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS booking_audit_log (
			id           BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			booking_id   UUID NOT NULL,
			action       TEXT NOT NULL,
			actor_chat_id BIGINT NOT NULL DEFAULT 0,
			detail       JSONB,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("audit: bootstrap: %w", err)
	}
	return nil
}

// Start begins the background goroutine that flushes audit entries to the
// database and returns immediately. The goroutine exits once the context
// is cancelled and the entries already buffered have been flushed.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close waits for all pending entries to be flushed.
func (w *Writer) Close() {
	close(w.entries)
	w.wg.Wait()
}

// Log enqueues an audit entry for async writing. It never blocks the
// caller; if the buffer is full the entry is dropped and a warning is
// logged, since losing an audit record is preferable to stalling a
// booking transition.
func (w *Writer) Log(entry Entry) {
	select {
	case w.entries <- entry:
	default:
		w.logger.Warn("audit log buffer full, dropping entry",
			"booking_id", entry.BookingID, "action", entry.Action)
	}
}

func (w *Writer) run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, flushBatch)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-w.entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case entry, ok := <-w.entries:
					if !ok {
						flush()
						return
					}
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (w *Writer) flush(entries []Entry) {
	if w.pool == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, e := range entries {
		_, err := w.pool.Exec(ctx, `
			INSERT INTO booking_audit_log (booking_id, action, actor_chat_id, detail)
			VALUES ($1, $2, $3, $4)
		`, e.BookingID, e.Action, e.ActorChatID, nullableDetail(e.Detail))
		if err != nil {
			w.logger.Error("writing audit log entry", "error", err,
				"booking_id", e.BookingID, "action", e.Action)
		}
	}
}

func nullableDetail(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
