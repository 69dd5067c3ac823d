// Package convo is the per-chat conversation runtime: a typed finite
// state machine harness that dispatches incoming chat updates to the
// handler the active Flow registered for (state, update kind).
package convo

import (
	"context"
	"fmt"
	"log/slog"
)

// UpdateKind enumerates the shapes of incoming chat update this runtime
// understands.
type UpdateKind string

const (
	UpdateText     UpdateKind = "text"
	UpdateContact  UpdateKind = "contact"
	UpdateCallback UpdateKind = "callback"
	UpdateLocation UpdateKind = "location"
	UpdatePhoto    UpdateKind = "photo"
)

// Contact is a shared-contact update; SenderChatID lets a handler reject
// a contact that doesn't belong to the sender.
type Contact struct {
	PhoneNumber  string
	SenderChatID int64
}

// Location is a shared-location update.
type Location struct {
	Latitude  float64
	Longitude float64
}

// Update is one incoming chat event, normalized away from the concrete
// transport.
type Update struct {
	ChatID       int64
	Kind         UpdateKind
	Text         string
	CallbackData string
	Contact      *Contact
	Location     *Location
	PhotoID      string
}

// State is a flow-defined state label.
type State string

// Conversation is the persisted per-chat record: current state, the
// values collected so far, and the flow id that owns it so a callback
// meant for one flow can never be interpreted by another.
type Conversation struct {
	ChatID  int64
	FlowID  string
	State   State
	Context map[string]any
}

func newConversation(chatID int64, flowID string, initial State) *Conversation {
	return &Conversation{ChatID: chatID, FlowID: flowID, State: initial, Context: map[string]any{}}
}

// ResultKind is the closed set of actions a handler may request.
type ResultKind string

const (
	ResultAdvance     ResultKind = "advance_to"
	ResultStay        ResultKind = "stay"
	ResultClear       ResultKind = "clear"
	ResultReplaceFlow ResultKind = "replace_flow"
)

// Button is one inline keyboard button a Flow handler can attach to its
// reply. Data is the callback payload the runtime will see as
// Update.CallbackData on the next update, namespaced by convention as
// "<flow-id>:<token>" so one flow's callbacks never collide with
// another's.
type Button struct {
	Text string
	Data string
}

// Keyboard is a grid of inline buttons, one slice per row.
type Keyboard struct {
	Rows [][]Button
}

// Result is what a Flow handler returns after processing one Update.
type Result struct {
	Kind        ResultKind
	AdvanceTo   State          // set when Kind == ResultAdvance
	Merge       map[string]any // values to merge into the conversation context
	Reply       string         // text to send back, if any
	Keyboard    *Keyboard      // inline keyboard to attach to Reply, if any
	ReplaceFlow string         // flow id to switch to, when Kind == ResultReplaceFlow
	ReplaceInit State          // initial state in the replacement flow
}

// Stay builds a Result that stays in the current state and replies.
func Stay(reply string) Result { return Result{Kind: ResultStay, Reply: reply} }

// Advance builds a Result that moves to a new state, merging values.
func Advance(state State, merge map[string]any) Result {
	return Result{Kind: ResultAdvance, AdvanceTo: state, Merge: merge}
}

// Clear builds a Result that ends the conversation.
func Clear(reply string) Result { return Result{Kind: ResultClear, Reply: reply} }

// WithKeyboard attaches an inline keyboard to a Result's reply.
func (r Result) WithKeyboard(k *Keyboard) Result {
	r.Keyboard = k
	return r
}

// WithReply overrides a Result's reply text.
func (r Result) WithReply(reply string) Result {
	r.Reply = reply
	return r
}

// Handler processes one Update against a Conversation snapshot.
type Handler func(ctx context.Context, conv *Conversation, upd Update) (Result, error)

// Flow is a concrete FSM definition: registration, the add-listing
// wizard, or the browse/book flow.
type Flow interface {
	ID() string
	InitialState() State
	Handler(state State, kind UpdateKind) (Handler, bool)
}

// ErrNoHandler is returned when a Flow has no handler registered for the
// conversation's current (state, kind) pair.
var ErrNoHandler = fmt.Errorf("convo: no handler for this state/update")

// Runtime dispatches updates to the active Flow's handlers and persists
// the resulting Conversation via a pluggable Store.
type Runtime struct {
	store  Store
	flows  map[string]Flow
	logger *slog.Logger
}

// New builds a Runtime over the given backing Store.
func New(store Store, logger *slog.Logger) *Runtime {
	return &Runtime{store: store, flows: map[string]Flow{}, logger: logger}
}

// Register adds a Flow the runtime can dispatch into.
func (r *Runtime) Register(f Flow) {
	r.flows[f.ID()] = f
}

// StartFlow force-starts flowID for chatID, replacing any conversation in
// progress. Used to gate registration or enter the add-listing wizard.
func (r *Runtime) StartFlow(ctx context.Context, chatID int64, flowID string) error {
	flow, ok := r.flows[flowID]
	if !ok {
		return fmt.Errorf("convo: unknown flow %q", flowID)
	}
	conv := newConversation(chatID, flowID, flow.InitialState())
	return r.store.Save(ctx, conv)
}

// Active reports whether chatID has a conversation in progress.
func (r *Runtime) Active(ctx context.Context, chatID int64) (bool, error) {
	conv, err := r.store.Get(ctx, chatID)
	if err != nil {
		return false, err
	}
	return conv != nil, nil
}

const cancelCommand = "/cancel"

// Dispatch routes upd to the active flow's handler for the
// conversation's current state, persisting the resulting state. /cancel
// always clears the conversation regardless of state. It returns the
// Result the handler produced (or the Clear result for /cancel), or
// ErrNoHandler if no conversation is active or no handler matches.
func (r *Runtime) Dispatch(ctx context.Context, upd Update) (Result, error) {
	if upd.Kind == UpdateText && upd.Text == cancelCommand {
		if err := r.store.Clear(ctx, upd.ChatID); err != nil {
			return Result{}, err
		}
		return Clear("cancelled"), nil
	}

	conv, err := r.store.Get(ctx, upd.ChatID)
	if err != nil {
		return Result{}, err
	}
	if conv == nil {
		return Result{}, ErrNoHandler
	}

	flow, ok := r.flows[conv.FlowID]
	if !ok {
		return Result{}, fmt.Errorf("convo: conversation owned by unknown flow %q", conv.FlowID)
	}

	handler, ok := flow.Handler(conv.State, upd.Kind)
	if !ok {
		return Result{}, ErrNoHandler
	}

	result, err := handler(ctx, conv, upd)
	if err != nil {
		return Result{}, err
	}

	if err := r.apply(ctx, conv, result); err != nil {
		return Result{}, err
	}
	return result, nil
}

func (r *Runtime) apply(ctx context.Context, conv *Conversation, result Result) error {
	switch result.Kind {
	case ResultStay:
		return r.store.Save(ctx, conv)

	case ResultAdvance:
		for k, v := range result.Merge {
			conv.Context[k] = v
		}
		conv.State = result.AdvanceTo
		return r.store.Save(ctx, conv)

	case ResultClear:
		return r.store.Clear(ctx, conv.ChatID)

	case ResultReplaceFlow:
		flow, ok := r.flows[result.ReplaceFlow]
		if !ok {
			return fmt.Errorf("convo: replace_flow to unknown flow %q", result.ReplaceFlow)
		}
		initial := result.ReplaceInit
		if initial == "" {
			initial = flow.InitialState()
		}
		next := newConversation(conv.ChatID, result.ReplaceFlow, initial)
		return r.store.Save(ctx, next)

	default:
		return fmt.Errorf("convo: unknown result kind %q", result.Kind)
	}
}
