// Package registration implements the registration gate flow: the
// first thing an unregistered chat identity must complete before any
// other flow is reachable.
package registration

import (
	"context"
	"fmt"

	"github.com/devco/tripdesk/pkg/convo"
	"github.com/devco/tripdesk/pkg/phone"
	"github.com/devco/tripdesk/pkg/store"
)

const FlowID = "registration"

const (
	stateAwaitingContact   convo.State = "awaiting_contact"
	stateAwaitingFirstName convo.State = "awaiting_first_name"
	stateAwaitingLastName  convo.State = "awaiting_last_name"
)

const (
	ctxPhone     = "phone"
	ctxFirstName = "first_name"
)

// Flow is the registration gate: awaiting_contact -> awaiting_first_name
// -> awaiting_last_name -> done (a User row write, not a stored state).
type Flow struct {
	store *store.Store
}

// New builds the registration Flow.
func New(st *store.Store) *Flow {
	return &Flow{store: st}
}

func (f *Flow) ID() string { return FlowID }

func (f *Flow) InitialState() convo.State { return stateAwaitingContact }

func (f *Flow) Handler(state convo.State, kind convo.UpdateKind) (convo.Handler, bool) {
	switch {
	case state == stateAwaitingContact && kind == convo.UpdateContact:
		return f.handleContact, true
	case state == stateAwaitingContact && kind == convo.UpdateText:
		return f.handleAwaitingContactText, true
	case state == stateAwaitingFirstName && kind == convo.UpdateText:
		return f.handleFirstName, true
	case state == stateAwaitingLastName && kind == convo.UpdateText:
		return f.handleLastName, true
	}
	return nil, false
}

func (f *Flow) handleAwaitingContactText(_ context.Context, _ *convo.Conversation, _ convo.Update) (convo.Result, error) {
	return convo.Stay("Please share your phone number using the contact button."), nil
}

func (f *Flow) handleContact(_ context.Context, _ *convo.Conversation, upd convo.Update) (convo.Result, error) {
	if upd.Contact == nil {
		return convo.Stay("Please share your own contact."), nil
	}
	if upd.Contact.SenderChatID != upd.ChatID {
		return convo.Stay("Please share your own contact, not someone else's."), nil
	}
	normalized, err := phone.Normalize(upd.Contact.PhoneNumber)
	if err != nil {
		return convo.Stay("That phone number doesn't look valid. Please try again."), nil
	}
	return convo.Advance(stateAwaitingFirstName, map[string]any{ctxPhone: normalized}), nil
}

func (f *Flow) handleFirstName(_ context.Context, _ *convo.Conversation, upd convo.Update) (convo.Result, error) {
	name := upd.Text
	if len(name) < 2 || len(name) > 60 {
		return convo.Stay("First name must be 2-60 characters."), nil
	}
	return convo.Advance(stateAwaitingLastName, map[string]any{ctxFirstName: name}), nil
}

func (f *Flow) handleLastName(ctx context.Context, conv *convo.Conversation, upd convo.Update) (convo.Result, error) {
	name := upd.Text
	if len(name) < 2 || len(name) > 60 {
		return convo.Stay("Last name must be 2-60 characters."), nil
	}

	u := store.User{
		ChatID:    conv.ChatID,
		Phone:     convo.GetString(conv.Context, ctxPhone),
		FirstName: convo.GetString(conv.Context, ctxFirstName),
		LastName:  name,
	}
	if err := f.store.UpsertUser(ctx, u); err != nil {
		return convo.Result{}, fmt.Errorf("registration: saving user: %w", err)
	}

	return convo.Clear("You're registered! Use /browse to look at listings."), nil
}
