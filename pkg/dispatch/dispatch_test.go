package dispatch

import (
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/devco/tripdesk/pkg/store"
)

func TestBidPrefixLength(t *testing.T) {
	id := uuid.New()
	prefix := bidPrefix(id)
	if len(prefix) != bidPrefixLen {
		t.Fatalf("expected prefix length %d, got %d", bidPrefixLen, len(prefix))
	}
	if !strings.HasPrefix(id.String(), prefix) {
		t.Fatalf("prefix %q is not a prefix of %s", prefix, id.String())
	}
}

func TestOwnerKeyboardCallbackData(t *testing.T) {
	id := uuid.New()
	kb := ownerKeyboard(id)
	if len(kb.Rows) != 1 || len(kb.Rows[0]) != 2 {
		t.Fatalf("expected one row of two buttons, got %+v", kb.Rows)
	}
	prefix := bidPrefix(id)
	if kb.Rows[0][0].Data != "accept:"+prefix {
		t.Errorf("unexpected accept callback data: %q", kb.Rows[0][0].Data)
	}
	if kb.Rows[0][1].Data != "reject:"+prefix {
		t.Errorf("unexpected reject callback data: %q", kb.Rows[0][1].Data)
	}
}

func TestComposeOwnerMessageIncludesPayloadFields(t *testing.T) {
	price := int64(450000)
	b := &store.Booking{
		Payload: store.BookingPayload{
			GuestCount: 2, GuestNames: []string{"Ali Valiev", "Dilshod Umarov"},
			Phone: "+998901112233", Date: "15-fevral",
		},
	}
	l := &store.Listing{Title: "Suffa 2400", PriceFrom: &price, Currency: "UZS"}

	msg := composeOwnerMessage(b, l)
	for _, want := range []string{"Suffa 2400", "450000", "Ali Valiev", "Dilshod Umarov", "+998901112233", "15-fevral"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected message to contain %q:\n%s", want, msg)
		}
	}
}
