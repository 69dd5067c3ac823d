package phone

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"already E.164", "+998901234567", "+998901234567", false},
		{"country code no plus", "998901234567", "+998901234567", false},
		{"local 9-digit", "901234567", "+998901234567", false},
		{"with spaces and dashes", "+998 90-123-4567", "+998901234567", false},
		{"too short", "+123", "", true},
		{"local starting with 2", "201234567", "", true},
		{"garbage", "not a phone", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q, got %q", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error for %q: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestValid(t *testing.T) {
	if !Valid("+998901234567") {
		t.Error("expected valid")
	}
	if Valid("+123") {
		t.Error("expected invalid")
	}
}

func TestValidStored(t *testing.T) {
	if !ValidStored("+998901234567") {
		t.Error("expected stored phone to validate")
	}
	if ValidStored("998901234567") {
		t.Error("expected phone without leading + to fail stored validation")
	}
}
