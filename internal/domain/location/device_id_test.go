package location

import (
	"regexp"
	"testing"
)

func TestSanitizeDeviceID(t *testing.T) {
	tests := []struct {
		in   string
		want DeviceID
	}{
		{"phone-1", "phone-1"},
		{"Juan_01", "Juan_01"},
		{"../etc/passwd", "___etc_passwd"},
		{"a b", "a_b"},
		{"josé", "jos_"},
		{"ab.json", "ab_json"},
	}
	for _, tt := range tests {
		if got := SanitizeDeviceID(tt.in); got != tt.want {
			t.Errorf("SanitizeDeviceID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResolveDeviceIDGeneratesAnonymousID(t *testing.T) {
	pattern := regexp.MustCompile(`^anon_[0-9a-f]{8}$`)

	first := ResolveDeviceID("")
	second := ResolveDeviceID("")
	if !pattern.MatchString(string(first)) {
		t.Errorf("anonymous id %q does not match %s", first, pattern)
	}
	if first == second {
		t.Errorf("anonymous ids should differ, both %q", first)
	}
	if got := ResolveDeviceID("dev/1"); got != "dev_1" {
		t.Errorf("ResolveDeviceID(dev/1) = %q", got)
	}
}
