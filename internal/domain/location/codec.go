package location

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// EncodeRecord renders the canonical stored form of a record: indented JSON
// with non-ASCII and HTML characters written as-is.
func EncodeRecord(record *LocationRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "    ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(record); err != nil {
		return nil, fmt.Errorf("encode record %s: %w", record.DeviceID, err)
	}
	return buf.Bytes(), nil
}

type storedPoint struct {
	Lat        *float64 `json:"lat"`
	Lon        *float64 `json:"lon"`
	Ts         *string  `json:"ts"`
	Accuracy   *float64 `json:"accuracy"`
	Provider   *string  `json:"provider"`
	Steps      *int     `json:"steps"`
	StepsTotal *int     `json:"steps_total"`
	Accel      *float64 `json:"accel"`
	DeviceName *string  `json:"device_name"`
}

type storedRecord struct {
	DeviceID   *string       `json:"device_id"`
	Latitude   *float64      `json:"latitude"`
	Longitude  *float64      `json:"longitude"`
	LastUpdate *string       `json:"last_update"`
	Accuracy   *float64      `json:"accuracy"`
	Provider   *string       `json:"provider"`
	Steps      *int          `json:"steps"`
	StepsTotal *int          `json:"steps_total"`
	Accel      *float64      `json:"accel"`
	DeviceName *string       `json:"device_name"`
	History    []storedPoint `json:"history"`
}

// DecodeRecord parses a stored document. Missing optional fields decode as
// absent and history points without coordinates are dropped; a document that
// is not valid JSON or lacks latitude/longitude yields ErrMalformedRecord.
// fallbackID is used when the document carries no device_id.
func DecodeRecord(data []byte, fallbackID DeviceID) (*LocationRecord, error) {
	var stored storedRecord
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedRecord, fallbackID, err)
	}
	if stored.Latitude == nil || stored.Longitude == nil {
		return nil, fmt.Errorf("%w: %s: missing latitude/longitude", ErrMalformedRecord, fallbackID)
	}

	record := &LocationRecord{
		DeviceID:   fallbackID,
		Latitude:   *stored.Latitude,
		Longitude:  *stored.Longitude,
		Accuracy:   stored.Accuracy,
		Provider:   stored.Provider,
		StepsTotal: stored.StepsTotal,
		Accel:      stored.Accel,
		DeviceName: stored.DeviceName,
		History:    make([]HistoryPoint, 0, len(stored.History)),
	}
	if stored.DeviceID != nil && *stored.DeviceID != "" {
		record.DeviceID = DeviceID(*stored.DeviceID)
	}
	if stored.LastUpdate != nil {
		record.LastUpdate = *stored.LastUpdate
	}
	if stored.Steps != nil {
		record.Steps = *stored.Steps
	}

	for _, p := range stored.History {
		if p.Lat == nil || p.Lon == nil {
			continue
		}
		point := HistoryPoint{
			Lat:        *p.Lat,
			Lon:        *p.Lon,
			Accuracy:   p.Accuracy,
			Provider:   p.Provider,
			StepsTotal: p.StepsTotal,
			Accel:      p.Accel,
			DeviceName: p.DeviceName,
		}
		if p.Ts != nil {
			point.Ts = *p.Ts
		}
		if p.Steps != nil {
			point.Steps = *p.Steps
		}
		record.History = append(record.History, point)
	}

	return record, nil
}
