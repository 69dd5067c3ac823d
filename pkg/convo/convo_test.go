package convo

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

const (
	stateAwaitingName State = "awaiting_name"
	stateDone         State = "done"
)

type stubFlow struct{}

func (stubFlow) ID() string           { return "stub" }
func (stubFlow) InitialState() State  { return stateAwaitingName }

func (stubFlow) Handler(state State, kind UpdateKind) (Handler, bool) {
	if state == stateAwaitingName && kind == UpdateText {
		return func(ctx context.Context, conv *Conversation, upd Update) (Result, error) {
			if len(upd.Text) < 2 {
				return Stay("name too short"), nil
			}
			return Advance(stateDone, map[string]any{"name": upd.Text}), nil
		}, true
	}
	return nil, false
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatchAdvancesState(t *testing.T) {
	rt := New(NewMemStore(), testLogger())
	rt.Register(stubFlow{})

	ctx := context.Background()
	if err := rt.StartFlow(ctx, 1, "stub"); err != nil {
		t.Fatalf("start flow: %v", err)
	}

	result, err := rt.Dispatch(ctx, Update{ChatID: 1, Kind: UpdateText, Text: "Ali"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result.Kind != ResultAdvance || result.AdvanceTo != stateDone {
		t.Fatalf("expected advance to done, got %+v", result)
	}

	active, err := rt.Active(ctx, 1)
	if err != nil || !active {
		t.Fatalf("expected conversation still active after advance, active=%v err=%v", active, err)
	}
}

func TestDispatchStaysOnValidationFailure(t *testing.T) {
	rt := New(NewMemStore(), testLogger())
	rt.Register(stubFlow{})

	ctx := context.Background()
	rt.StartFlow(ctx, 1, "stub")

	result, err := rt.Dispatch(ctx, Update{ChatID: 1, Kind: UpdateText, Text: "a"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result.Kind != ResultStay {
		t.Fatalf("expected stay, got %+v", result)
	}
}

func TestCancelAlwaysClears(t *testing.T) {
	rt := New(NewMemStore(), testLogger())
	rt.Register(stubFlow{})

	ctx := context.Background()
	rt.StartFlow(ctx, 1, "stub")

	result, err := rt.Dispatch(ctx, Update{ChatID: 1, Kind: UpdateText, Text: "/cancel"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result.Kind != ResultClear {
		t.Fatalf("expected clear, got %+v", result)
	}

	active, err := rt.Active(ctx, 1)
	if err != nil || active {
		t.Fatalf("expected no active conversation after cancel, active=%v err=%v", active, err)
	}
}

func TestDispatchNoActiveConversation(t *testing.T) {
	rt := New(NewMemStore(), testLogger())
	rt.Register(stubFlow{})

	_, err := rt.Dispatch(context.Background(), Update{ChatID: 99, Kind: UpdateText, Text: "hi"})
	if err != ErrNoHandler {
		t.Fatalf("expected ErrNoHandler, got %v", err)
	}
}

func TestMemStoreIsolatesCallerMutation(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	conv := &Conversation{ChatID: 1, FlowID: "stub", State: stateAwaitingName, Context: map[string]any{"k": "v"}}
	if err := store.Save(ctx, conv); err != nil {
		t.Fatalf("save: %v", err)
	}
	conv.Context["k"] = "mutated"

	got, err := store.Get(ctx, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Context["k"] != "v" {
		t.Errorf("expected stored copy unaffected by caller mutation, got %v", got.Context["k"])
	}
}
