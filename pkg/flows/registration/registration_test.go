package registration

import (
	"context"
	"testing"

	"github.com/devco/tripdesk/pkg/convo"
)

// handleLastName writes a User row and needs a live Store; see
// pkg/store for its coverage. These tests exercise the pure validation
// logic reachable without a database.

func TestHandleContactRejectsOthersContact(t *testing.T) {
	f := &Flow{}
	upd := convo.Update{
		ChatID:  1,
		Kind:    convo.UpdateContact,
		Contact: &convo.Contact{PhoneNumber: "+998901234567", SenderChatID: 2},
	}
	result, err := f.handleContact(context.Background(), nil, upd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != convo.ResultStay {
		t.Fatalf("expected stay when contact isn't the sender's own, got %+v", result)
	}
}

func TestHandleContactNormalizesPhone(t *testing.T) {
	f := &Flow{}
	upd := convo.Update{
		ChatID:  1,
		Kind:    convo.UpdateContact,
		Contact: &convo.Contact{PhoneNumber: "901234567", SenderChatID: 1},
	}
	result, err := f.handleContact(context.Background(), nil, upd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != convo.ResultAdvance || result.AdvanceTo != stateAwaitingFirstName {
		t.Fatalf("expected advance to awaiting_first_name, got %+v", result)
	}
	if result.Merge[ctxPhone] != "+998901234567" {
		t.Errorf("expected normalized phone, got %v", result.Merge[ctxPhone])
	}
}

func TestHandleFirstNameValidatesLength(t *testing.T) {
	f := &Flow{}
	result, err := f.handleFirstName(context.Background(), nil, convo.Update{Text: "a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != convo.ResultStay {
		t.Fatalf("expected stay for too-short name, got %+v", result)
	}

	result, err = f.handleFirstName(context.Background(), nil, convo.Update{Text: "Ali"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != convo.ResultAdvance || result.AdvanceTo != stateAwaitingLastName {
		t.Fatalf("expected advance to awaiting_last_name, got %+v", result)
	}
}
