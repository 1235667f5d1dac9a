package location

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	domain "geomonitor/internal/domain/location"
	"geomonitor/internal/timestamp"
	"geomonitor/pkg/utils"
)

// IngestFields is a decoded ingestion payload: form values arrive as strings,
// JSON bodies as their decoded types.
type IngestFields map[string]any

// IngestCommand is a validated, normalized location report.
type IngestCommand struct {
	DeviceID domain.DeviceID
	Point    domain.HistoryPoint
	Summary  domain.Summary
}

// FieldsFromForm takes the first value of every form key.
func FieldsFromForm(form map[string][]string) IngestFields {
	fields := make(IngestFields, len(form))
	for key, values := range form {
		if len(values) > 0 {
			fields[key] = values[0]
		}
	}
	return fields
}

// FieldsFromJSON decodes a JSON object body. Anything that is not an object
// yields empty fields, which later fail lat/lon validation.
func FieldsFromJSON(body []byte) IngestFields {
	var fields IngestFields
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return IngestFields{}
	}
	return fields
}

func (f IngestFields) float(key string) (float64, bool) {
	return toFloat(f[key])
}

func (f IngestFields) optionalFloat(key string) *float64 {
	v, ok := toFloat(f[key])
	if !ok {
		return nil
	}
	return &v
}

func (f IngestFields) optionalInt(key string) *int {
	v, ok := toFloat(f[key])
	if !ok {
		return nil
	}
	n := int(v)
	return &n
}

func (f IngestFields) optionalString(key string) *string {
	switch v := f[key].(type) {
	case nil:
		return nil
	case string:
		return &v
	case float64:
		s := strconv.FormatFloat(v, 'f', -1, 64)
		return &s
	case bool:
		s := strconv.FormatBool(v)
		return &s
	default:
		s := fmt.Sprint(v)
		return &s
	}
}

func (f IngestFields) label(key string) *string {
	return utils.SanitizeOptionalLabel(f.optionalString(key))
}

func toFloat(raw any) (float64, bool) {
	var v float64
	switch x := raw.(type) {
	case float64:
		v = x
	case int:
		v = float64(x)
	case int64:
		v = float64(x)
	case json.Number:
		return toFloat(x.String())
	case string:
		s := strings.TrimSpace(x)
		if !timestamp.IsDecimal(s) {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		v = parsed
	default:
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
