package utils

import "testing"

func TestSanitizeLabel(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Pixel 7", "Pixel 7"},
		{"gps<script>alert(1)</script>", "gpsscriptalert1script"},
		{"Ana's phone", "Anas phone"},
		{"network_v2.1-beta", "network_v2.1-beta"},
		{"Müller Straße", "Müller Straße"},
		{"Watch Ⅻ x²", "Watch Ⅻ x²"},
		{"tracker ¾", "tracker ¾"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := SanitizeLabel(tt.in); got != tt.want {
			t.Errorf("SanitizeLabel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeOptionalLabel(t *testing.T) {
	if SanitizeOptionalLabel(nil) != nil {
		t.Error("nil should stay nil")
	}
	in := "a/b"
	if got := SanitizeOptionalLabel(&in); got == nil || *got != "ab" {
		t.Errorf("got %v", got)
	}
}
