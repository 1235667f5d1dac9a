// Package timestamp converts the loose timestamp formats devices send into
// the canonical "YYYY-MM-DD HH:MM:SS" form.
//
// The wire format carries no zone. Numeric values are epochs rendered in a
// process-wide reference zone, and strings are taken as already being in that
// zone. Magnitudes above 1e11 are read as milliseconds; anything smaller as
// seconds.
package timestamp

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const (
	// Layout is the canonical timestamp layout.
	Layout = "2006-01-02 15:04:05"

	millisecondThreshold = 100000000000
)

var (
	minutePrecision = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}$`)
	datePrecision   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	decimalNumber   = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)
)

// IsDecimal reports whether s is a plain decimal number such as "12", "-3.5",
// ".5" or "1e3". Hex, NaN and Inf spellings are not numbers here.
func IsDecimal(s string) bool {
	return decimalNumber.MatchString(s)
}

// Normalizer renders timestamps in one fixed reference zone.
type Normalizer struct {
	loc *time.Location
}

// New returns a Normalizer for loc; nil means UTC.
func New(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{loc: loc}
}

// NewForZone loads the named IANA zone.
func NewForZone(name string) (*Normalizer, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return New(loc), nil
}

// Location returns the reference zone.
func (n *Normalizer) Location() *time.Location {
	return n.loc
}

// Format renders t canonically in the reference zone.
func (n *Normalizer) Format(t time.Time) string {
	return t.In(n.loc).Format(Layout)
}

// Parse strictly parses a canonical timestamp in the reference zone.
func (n *Normalizer) Parse(s string) (time.Time, bool) {
	t, err := time.ParseInLocation(Layout, s, n.loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Normalize converts raw into a canonical timestamp. It reports false for
// absent or unrecognised input.
func (n *Normalizer) Normalize(raw any) (string, bool) {
	switch v := raw.(type) {
	case nil:
		return "", false
	case string:
		return n.normalizeString(v)
	case json.Number:
		return n.normalizeString(v.String())
	case float64:
		return n.fromEpoch(v)
	case float32:
		return n.fromEpoch(float64(v))
	case int:
		return n.fromEpoch(float64(v))
	case int64:
		return n.fromEpoch(float64(v))
	case int32:
		return n.fromEpoch(float64(v))
	case uint64:
		return n.fromEpoch(float64(v))
	default:
		return "", false
	}
}

func (n *Normalizer) normalizeString(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}
	if IsDecimal(trimmed) {
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return "", false
		}
		return n.fromEpoch(f)
	}

	widened, _ := Widen(trimmed)
	if _, ok := n.Parse(widened); !ok {
		return "", false
	}
	return widened, true
}

func (n *Normalizer) fromEpoch(v float64) (string, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "", false
	}
	epoch := int64(v)
	if epoch > millisecondThreshold {
		epoch = epoch / 1000
	}
	return n.Format(time.Unix(epoch, 0)), true
}

// Widen applies the loose string coercions without validating the result: a
// 'T' separator becomes a space, minute precision gains ":00" and a bare date
// gains " 00:00:00". It reports false for blank input.
func Widen(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	s = strings.ReplaceAll(s, "T", " ")
	if minutePrecision.MatchString(s) {
		s += ":00"
	}
	if datePrecision.MatchString(s) {
		s += " 00:00:00"
	}
	return s, true
}
