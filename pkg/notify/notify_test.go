package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"
)

type fakeSender struct {
	sendCalls []ParseMode
	failModes map[int]*SendError // call index (0-based) -> error to return
}

func (f *fakeSender) Send(ctx context.Context, chatID int64, text string, mode ParseMode, kb *Keyboard) (string, error) {
	idx := len(f.sendCalls)
	f.sendCalls = append(f.sendCalls, mode)
	if err, ok := f.failModes[idx]; ok {
		return "", err
	}
	return "msg-1", nil
}

func (f *fakeSender) Edit(context.Context, int64, string, string, ParseMode, *Keyboard) error {
	return nil
}
func (f *fakeSender) SendPhoto(context.Context, int64, string, string, ParseMode, *Keyboard) (string, error) {
	return "photo-1", nil
}
func (f *fakeSender) SendMediaGroup(context.Context, int64, []string, string) error { return nil }
func (f *fakeSender) SendLocation(context.Context, int64, float64, float64) error   { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSendFallsBackToPlainTextOnParseModeError(t *testing.T) {
	sender := &fakeSender{
		failModes: map[int]*SendError{0: {Kind: KindParseMode}},
	}
	n := NewNotifier(sender, testLogger(), NewErrorDedup(nil, testLogger()), 1000, 10, nil)

	id, err := n.Send(context.Background(), 1, "<script>hi</script>", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "msg-1" {
		t.Errorf("expected message id msg-1, got %q", id)
	}
	if len(sender.sendCalls) != 2 {
		t.Fatalf("expected 2 send calls, got %d", len(sender.sendCalls))
	}
	if sender.sendCalls[0] != ParseModeRich || sender.sendCalls[1] != ParseModePlain {
		t.Errorf("expected rich then plain, got %v", sender.sendCalls)
	}
}

func TestSendPermanentTransportFailsWithoutRetry(t *testing.T) {
	sender := &fakeSender{
		failModes: map[int]*SendError{0: {Kind: KindPermanentTransport}},
	}
	n := NewNotifier(sender, testLogger(), NewErrorDedup(nil, testLogger()), 1000, 10, nil)

	_, err := n.Send(context.Background(), 1, "hello", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(sender.sendCalls) != 1 {
		t.Errorf("expected exactly 1 call for a permanent failure, got %d", len(sender.sendCalls))
	}
}

func TestBackoffDelaySchedule(t *testing.T) {
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for i, w := range want {
		if got := backoffDelay(i); got != w {
			t.Errorf("backoffDelay(%d) = %v, want %v", i, got, w)
		}
	}
}

func TestErrorDedupSuppressesWithinWindow(t *testing.T) {
	d := NewErrorDedup(nil, testLogger())
	fp := Fingerprint("unexpected", "boom", "handler.go:12")

	if !d.ShouldReport(context.Background(), fp) {
		t.Fatal("expected first occurrence to report")
	}
	if d.ShouldReport(context.Background(), fp) {
		t.Fatal("expected duplicate within window to be suppressed")
	}
}

func TestErrorDedupEvictsOldestBeyondLimit(t *testing.T) {
	d := NewErrorDedup(nil, testLogger())
	for i := 0; i < dedupKeyLimit+10; i++ {
		fp := Fingerprint("kind", fmt.Sprintf("message-%d", i), "frame")
		d.ShouldReport(context.Background(), fp)
	}
	d.mu.Lock()
	size := len(d.local)
	d.mu.Unlock()
	if size > dedupKeyLimit {
		t.Errorf("expected at most %d retained hashes, got %d", dedupKeyLimit, size)
	}
}

func TestFingerprintTruncatesMessage(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	fp1 := Fingerprint("kind", string(long), "frame")
	fp2 := Fingerprint("kind", string(long[:100]), "frame")
	if fp1 != fp2 {
		t.Error("expected fingerprints of messages differing only past 100 chars to match")
	}
}
