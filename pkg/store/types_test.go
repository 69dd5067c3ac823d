package store

import (
	"strings"
	"testing"
)

func TestBookingStatusTerminal(t *testing.T) {
	terminal := []BookingStatus{StatusAccepted, StatusRejected, StatusTimeout}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	nonTerminal := []BookingStatus{StatusPendingPartner, StatusSent}
	for _, s := range nonTerminal {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestListingValidate(t *testing.T) {
	lat, lng := 41.378889, 60.363889

	tests := []struct {
		name    string
		l       Listing
		wantErr bool
	}{
		{
			name: "valid hotel with coords and photo",
			l: Listing{
				Category: CategoryHotel, Title: "Suffa 2400",
				Latitude: &lat, Longitude: &lng, Photos: []string{"p1"},
			},
			wantErr: false,
		},
		{
			name:    "hotel missing coordinates",
			l:       Listing{Category: CategoryHotel, Title: "Suffa 2400", Photos: []string{"p1"}},
			wantErr: true,
		},
		{
			name: "hotel missing photos",
			l: Listing{
				Category: CategoryHotel, Title: "Suffa 2400",
				Latitude: &lat, Longitude: &lng,
			},
			wantErr: true,
		},
		{
			name:    "title too short",
			l:       Listing{Category: CategoryTaxi, Title: "ab"},
			wantErr: true,
		},
		{
			name:    "taxi without coordinates is fine",
			l:       Listing{Category: CategoryTaxi, Title: "Fast Taxi"},
			wantErr: false,
		},
		{
			name:    "invalid category",
			l:       Listing{Category: "bogus", Title: "Something"},
			wantErr: true,
		},
		{
			name: "too many photos",
			l: Listing{
				Category: CategoryTaxi, Title: "Fast Taxi",
				Photos: []string{"1", "2", "3", "4", "5", "6"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.l.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestBookingPayloadValidate(t *testing.T) {
	tests := []struct {
		name    string
		p       BookingPayload
		wantErr bool
	}{
		{
			name: "valid single guest",
			p:    BookingPayload{Kind: PayloadHotel, GuestCount: 1, GuestNames: []string{"Ali Valiev"}, Date: "15-fevral"},
		},
		{
			name:    "guest count zero rejected",
			p:       BookingPayload{Kind: PayloadHotel, GuestCount: 0, GuestNames: []string{}, Date: "15-fevral"},
			wantErr: true,
		},
		{
			name:    "guest count eleven rejected",
			p:       BookingPayload{Kind: PayloadHotel, GuestCount: 11, GuestNames: make([]string, 11), Date: "15-fevral"},
			wantErr: true,
		},
		{
			name:    "guest name count mismatch",
			p:       BookingPayload{Kind: PayloadHotel, GuestCount: 2, GuestNames: []string{"only one"}, Date: "15-fevral"},
			wantErr: true,
		},
		{
			name:    "date too short",
			p:       BookingPayload{Kind: PayloadHotel, GuestCount: 1, GuestNames: []string{"Ali"}, Date: "15"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestUnmarshalPayloadRoundTrip(t *testing.T) {
	p := BookingPayload{Kind: PayloadTaxi, GuestCount: 1, GuestNames: []string{"Ali"}, Date: "tomorrow"}
	raw, err := p.MarshalForStorage()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := UnmarshalPayload(raw)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Kind != p.Kind || got.GuestCount != p.GuestCount {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, p)
	}
}

func TestUnmarshalPayloadRejectsUnknownKind(t *testing.T) {
	_, err := UnmarshalPayload([]byte(`{"kind":"spaceship","guest_count":1,"guest_names":["x"],"date":"tomorrow"}`))
	if err == nil {
		t.Fatal("expected error for unknown kind")
	}
	if !strings.Contains(err.Error(), "unknown payload kind") {
		t.Errorf("unexpected error: %v", err)
	}
}
