package audit

import (
	"log/slog"
	"testing"

	"github.com/google/uuid"
)

func TestLog_DropsWhenFull(t *testing.T) {
	logger := slog.Default()
	w := NewWriter(nil, logger)
	// Don't start the background goroutine — nothing drains the channel.

	for i := 0; i < bufferSize; i++ {
		w.Log(Entry{BookingID: uuid.New(), Action: "created"})
	}

	// The next log should be dropped (non-blocking).
	w.Log(Entry{BookingID: uuid.New(), Action: "dropped"})

	if len(w.entries) != bufferSize {
		t.Errorf("buffer size = %d, want %d", len(w.entries), bufferSize)
	}
}

func TestLog_EnqueuesEntry(t *testing.T) {
	logger := slog.Default()
	w := NewWriter(nil, logger)

	id := uuid.New()
	w.Log(Entry{BookingID: id, Action: "accepted", ActorChatID: 42})

	entry := <-w.entries
	if entry.BookingID != id {
		t.Errorf("BookingID = %v, want %v", entry.BookingID, id)
	}
	if entry.Action != "accepted" {
		t.Errorf("Action = %q, want %q", entry.Action, "accepted")
	}
	if entry.ActorChatID != 42 {
		t.Errorf("ActorChatID = %d, want 42", entry.ActorChatID)
	}
}

func TestFlush_NilPoolIsNoop(t *testing.T) {
	w := NewWriter(nil, slog.Default())
	// flush must not panic when the writer has no backing pool (unit tests
	// that only exercise buffering logic).
	w.flush([]Entry{{BookingID: uuid.New(), Action: "created"}})
}
