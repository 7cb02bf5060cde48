package util

import "testing"

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "9876543210", "9876543210"},
		{"with country code", "+919876543210", "9876543210"},
		{"country code no plus", "919876543210", "9876543210"},
		{"leading zero", "09876543210", "9876543210"},
		{"spaces and dashes", " 98765-43210 ", "9876543210"},
		{"parentheses", "(987) 654-3210", "9876543210"},
		{"empty", "", ""},
		{"letters stripped", "98abc76543210", "9876543210"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizePhone(tt.input); got != tt.want {
				t.Errorf("NormalizePhone(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidatePhone(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"valid starting 9", "9876543210", true},
		{"valid starting 6", "6123456789", true},
		{"too short", "987654321", false},
		{"too long", "98765432100", false},
		{"starts with 5", "5876543210", false},
		{"starts with 0", "0876543210", false},
		{"non digit", "98765x3210", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidatePhone(tt.input); got != tt.want {
				t.Errorf("ValidatePhone(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestHashPhoneIsStable(t *testing.T) {
	a := HashPhone("9876543210")
	b := HashPhone("9876543210")
	if a != b {
		t.Errorf("same phone hashed to %q and %q", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
	if a == HashPhone("9876543211") {
		t.Error("different phones produced the same hash")
	}
}

func TestMaskPhone(t *testing.T) {
	if got := MaskPhone("9876543210"); got != "******3210" {
		t.Errorf("MaskPhone = %q", got)
	}
	if got := MaskPhone("321"); got != "******" {
		t.Errorf("MaskPhone on short input = %q", got)
	}
}
