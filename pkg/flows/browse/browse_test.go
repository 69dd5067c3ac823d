package browse

import (
	"context"
	"testing"

	"github.com/devco/tripdesk/pkg/convo"
	"github.com/devco/tripdesk/pkg/store"
)

func sampleListing() store.Listing {
	price := int64(450000)
	return store.Listing{
		Title:     "Suffa 2400",
		Currency:  "UZS",
		PriceFrom: &price,
	}
}

// handleCategory/handleConfirm etc. need a live Store/Engine/Dispatcher;
// see pkg/store and pkg/booking for their coverage. These tests exercise
// the pure validation, pagination, and summary logic reachable without a
// database.

func conv(fields map[string]any) *convo.Conversation {
	if fields == nil {
		fields = map[string]any{}
	}
	return &convo.Conversation{ChatID: 1, FlowID: FlowID, Context: fields}
}

func TestHandleRegionRejectsUnsupportedRegion(t *testing.T) {
	f := &Flow{}
	result, err := f.handleRegion(context.Background(), conv(nil), convo.Update{Text: "tashkent"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != convo.ResultStay {
		t.Fatalf("expected stay for unsupported region, got %+v", result)
	}
}

func TestHandleRegionAcceptsDefaultRegion(t *testing.T) {
	f := &Flow{}
	result, err := f.handleRegion(context.Background(), conv(nil), convo.Update{Text: defaultRegion})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != convo.ResultAdvance || result.AdvanceTo != stateCategory {
		t.Fatalf("expected advance to category, got %+v", result)
	}
	if result.Keyboard == nil || len(result.Keyboard.Rows) == 0 {
		t.Fatalf("expected a category keyboard attached")
	}
}

func TestHandleGuestCountBoundaries(t *testing.T) {
	f := &Flow{}

	for _, bad := range []string{"0", "11", "abc"} {
		result, err := f.handleGuestCount(context.Background(), conv(nil), convo.Update{Text: bad})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Kind != convo.ResultStay {
			t.Fatalf("expected stay for guest count %q, got %+v", bad, result)
		}
	}

	result, err := f.handleGuestCount(context.Background(), conv(nil), convo.Update{Text: "2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != convo.ResultAdvance || result.AdvanceTo != stateExtraNames {
		t.Fatalf("expected advance to extra_guest_names for guest count 2, got %+v", result)
	}
}

func TestHandleExtraNamesValidatesCountAndLength(t *testing.T) {
	f := &Flow{}
	c := conv(map[string]any{ctxGuestCount: 3})

	result, err := f.handleExtraNames(context.Background(), c, convo.Update{Text: "Only One"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != convo.ResultStay {
		t.Fatalf("expected stay when too few names given, got %+v", result)
	}

	result, err = f.handleExtraNames(context.Background(), c, convo.Update{Text: "Ab\nCd"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != convo.ResultStay {
		t.Fatalf("expected stay when a name is too short, got %+v", result)
	}
}

func TestHandlePhoneManualTextNormalizes(t *testing.T) {
	f := &Flow{}
	result, err := f.handlePhoneManualText(context.Background(), conv(nil), convo.Update{Text: "901234567"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != convo.ResultAdvance || result.AdvanceTo != stateDate {
		t.Fatalf("expected advance to date, got %+v", result)
	}
	if result.Merge[ctxPhone] != "+998901234567" {
		t.Fatalf("expected normalized phone, got %v", result.Merge[ctxPhone])
	}
}

func TestHandlePhoneManualTextRejectsInvalid(t *testing.T) {
	f := &Flow{}
	result, err := f.handlePhoneManualText(context.Background(), conv(nil), convo.Update{Text: "123"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != convo.ResultStay {
		t.Fatalf("expected stay for invalid phone, got %+v", result)
	}
}

func TestHandlePhoneManualContactRejectsOthersContact(t *testing.T) {
	f := &Flow{}
	result, err := f.handlePhoneManualContact(context.Background(), conv(nil), convo.Update{
		ChatID:  1,
		Contact: &convo.Contact{PhoneNumber: "+998901234567", SenderChatID: 2},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != convo.ResultStay {
		t.Fatalf("expected stay when contact isn't the sender's own, got %+v", result)
	}
}

func TestHandleDateValidatesLength(t *testing.T) {
	f := &Flow{}
	result, err := f.handleDate(context.Background(), conv(nil), convo.Update{Text: "ab"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != convo.ResultStay {
		t.Fatalf("expected stay for too-short date, got %+v", result)
	}

	result, err = f.handleDate(context.Background(), conv(nil), convo.Update{Text: "15-fevral"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != convo.ResultAdvance || result.AdvanceTo != stateNote {
		t.Fatalf("expected advance to note, got %+v", result)
	}
}

func TestHandleNoteSkip(t *testing.T) {
	f := &Flow{}
	c := conv(map[string]any{
		ctxGuestCount: 1,
		ctxGuestNames: []string{"Ali Valiev"},
		ctxPhone:      "+998901234567",
		ctxDate:       "15-fevral",
	})
	result, err := f.handleNote(context.Background(), c, convo.Update{Text: skipCommand})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != convo.ResultAdvance || result.AdvanceTo != stateConfirm {
		t.Fatalf("expected advance to confirm, got %+v", result)
	}
	if result.Merge[ctxNote] != "" {
		t.Fatalf("expected empty note on skip, got %v", result.Merge[ctxNote])
	}
}

func TestHandleConfirmCancel(t *testing.T) {
	f := &Flow{}
	result, err := f.handleConfirm(context.Background(), conv(nil), convo.Update{CallbackData: "browse:confirm:no"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != convo.ResultClear {
		t.Fatalf("expected clear on cancel, got %+v", result)
	}
}

func TestCardViewPaginationButtons(t *testing.T) {
	reply, kb := cardView(sampleListing(), 0, 3)
	if reply == "" {
		t.Fatalf("expected non-empty reply")
	}
	if !hasButtonData(kb, "browse:nav:next") {
		t.Fatalf("expected a next button on the first of three cards")
	}
	if hasButtonData(kb, "browse:nav:prev") {
		t.Fatalf("expected no prev button on the first card")
	}

	_, kb = cardView(sampleListing(), 2, 3)
	if !hasButtonData(kb, "browse:nav:prev") {
		t.Fatalf("expected a prev button on the last of three cards")
	}
	if hasButtonData(kb, "browse:nav:next") {
		t.Fatalf("expected no next button on the last card")
	}
}

func hasButtonData(kb *convo.Keyboard, data string) bool {
	for _, row := range kb.Rows {
		for _, b := range row {
			if b.Data == data {
				return true
			}
		}
	}
	return false
}
