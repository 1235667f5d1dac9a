package timestamp

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestNormalizeEpochMillisAndSecondsAgree(t *testing.T) {
	n := New(time.UTC)

	fromMillis, ok := n.Normalize(float64(1700000000000))
	if !ok {
		t.Fatal("milliseconds not normalized")
	}
	fromSeconds, ok := n.Normalize(float64(1700000000))
	if !ok {
		t.Fatal("seconds not normalized")
	}
	if fromMillis != fromSeconds {
		t.Errorf("ms=%q s=%q, want equal", fromMillis, fromSeconds)
	}
	if fromSeconds != "2023-11-14 22:13:20" {
		t.Errorf("got %q, want 2023-11-14 22:13:20", fromSeconds)
	}
}

func TestNormalize(t *testing.T) {
	n := New(time.UTC)

	tests := []struct {
		name string
		raw  any
		want string
		ok   bool
	}{
		{"nil", nil, "", false},
		{"empty", "", "", false},
		{"blank", "   ", "", false},
		{"date only", "2024-01-02", "2024-01-02 00:00:00", true},
		{"T separator minutes", "2024-01-02T03:04", "2024-01-02 03:04:00", true},
		{"T separator seconds", "2024-01-02T03:04:05", "2024-01-02 03:04:05", true},
		{"canonical", "2024-01-02 03:04:05", "2024-01-02 03:04:05", true},
		{"surrounding space", "  2024-01-02 03:04:05 ", "2024-01-02 03:04:05", true},
		{"garbage", "yesterday", "", false},
		{"impossible date", "2024-13-45 00:00:00", "", false},
		{"numeric string seconds", "1700000000", "2023-11-14 22:13:20", true},
		{"numeric string millis", "1700000000123", "2023-11-14 22:13:20", true},
		{"json number", json.Number("1700000000"), "2023-11-14 22:13:20", true},
		{"int", 1700000000, "2023-11-14 22:13:20", true},
		{"int64 millis", int64(1700000000999), "2023-11-14 22:13:20", true},
		{"zero epoch", 0, "1970-01-01 00:00:00", true},
		{"bool", true, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := n.Normalize(tt.raw)
			if ok != tt.ok || got != tt.want {
				t.Errorf("Normalize(%v) = %q, %v; want %q, %v", tt.raw, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestNormalizeUsesReferenceZone(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	n := New(loc)

	got, ok := n.Normalize(1700000000)
	if !ok {
		t.Fatal("not normalized")
	}
	if got != "2023-11-15 00:13:20" {
		t.Errorf("got %q, want 2023-11-15 00:13:20", got)
	}

	// strings are already in the reference zone and pass through unchanged
	got, _ = n.Normalize("2024-01-02 03:04:05")
	if got != "2024-01-02 03:04:05" {
		t.Errorf("got %q", got)
	}
}

func TestNewForZone(t *testing.T) {
	if _, err := NewForZone("Not/AZone"); err == nil {
		t.Error("expected error for unknown zone")
	}
	n, err := NewForZone("UTC")
	if err != nil {
		t.Fatalf("NewForZone(UTC): %v", err)
	}
	if n.Location() != time.UTC {
		t.Errorf("location = %v, want UTC", n.Location())
	}
}

func TestNilLocationDefaultsToUTC(t *testing.T) {
	if New(nil).Location() != time.UTC {
		t.Error("nil location should default to UTC")
	}
}

func TestWiden(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"", "", false},
		{"  ", "", false},
		{"2024-01-02", "2024-01-02 00:00:00", true},
		{"2024-01-02T10:30", "2024-01-02 10:30:00", true},
		{"2024-01-02 10:30:15", "2024-01-02 10:30:15", true},
		// not validated
		{"soon", "soon", true},
	}
	for _, tt := range tests {
		got, ok := Widen(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Widen(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseIsStrict(t *testing.T) {
	n := New(time.UTC)
	if _, ok := n.Parse("2024-01-02"); ok {
		t.Error("date-only string should not parse strictly")
	}
	if _, ok := n.Parse("2024-01-02T03:04:05"); ok {
		t.Error("T separator should not parse strictly")
	}
	ts, ok := n.Parse("2024-01-02 03:04:05")
	if !ok {
		t.Fatal("canonical string should parse")
	}
	if !ts.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Errorf("parsed %v", ts)
	}
}

func TestIsDecimal(t *testing.T) {
	tests := map[string]bool{
		"12":    true,
		"-3.5":  true,
		"+.5":   true,
		"1e3":   true,
		"7.":    true,
		"":      false,
		"abc":   false,
		"0x1F":  false,
		"NaN":   false,
		"Inf":   false,
		"1.2.3": false,
		" 12":   false,
		"12e":   false,
	}
	for in, want := range tests {
		if got := IsDecimal(in); got != want {
			t.Errorf("IsDecimal(%q) = %v, want %v", in, got, want)
		}
	}
}
