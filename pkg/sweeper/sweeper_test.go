package sweeper

import (
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/devco/tripdesk/pkg/store"
)

func strptr(s string) *string { return &s }

func TestAdminTimeoutMessageIncludesContact(t *testing.T) {
	row := store.ExpiredRow{
		BookingID:    uuid.New(),
		OwnerChatID:  42,
		ListingTitle: strptr("Suffa 2400"),
		OwnerPhone:   strptr("+998901112233"),
		OwnerFirst:   strptr("Aziz"),
		OwnerLast:    strptr("Karimov"),
	}
	msg := adminTimeoutMessage(row)
	for _, want := range []string{"Suffa 2400", "+998901112233", "Aziz Karimov", "42"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected admin message to contain %q:\n%s", want, msg)
		}
	}
}

func TestAdminTimeoutMessageHandlesMissingContact(t *testing.T) {
	row := store.ExpiredRow{BookingID: uuid.New(), OwnerChatID: 7}
	msg := adminTimeoutMessage(row)
	if !strings.Contains(msg, "unknown listing") || !strings.Contains(msg, "no phone on file") {
		t.Errorf("expected fallback text for missing contact fields: %s", msg)
	}
}
