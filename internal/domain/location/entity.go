package location

import "math"

const (
	// DefaultMaxPoints bounds the history kept per device.
	DefaultMaxPoints = 5000

	// CoordinateTolerance is the per-axis distance under which two positions
	// are considered identical for deduplication.
	CoordinateTolerance = 1e-7
)

// HistoryPoint is one accepted position report. Points are never modified
// after they are appended to a record.
type HistoryPoint struct {
	Lat        float64  `json:"lat"`
	Lon        float64  `json:"lon"`
	Ts         string   `json:"ts"`
	Accuracy   *float64 `json:"accuracy"`
	Provider   *string  `json:"provider"`
	Steps      int      `json:"steps"`
	StepsTotal *int     `json:"steps_total"`
	Accel      *float64 `json:"accel"`
	DeviceName *string  `json:"device_name"`
}

// SamePosition reports whether p and other carry the same coordinates within
// CoordinateTolerance and an identical canonical timestamp.
func (p *HistoryPoint) SamePosition(other *HistoryPoint) bool {
	return math.Abs(p.Lat-other.Lat) < CoordinateTolerance &&
		math.Abs(p.Lon-other.Lon) < CoordinateTolerance &&
		p.Ts == other.Ts
}

// Summary holds the top-level fields mirrored from the most recent write.
type Summary struct {
	Accuracy   *float64
	Provider   *string
	Steps      int
	StepsTotal *int
	Accel      *float64
	DeviceName *string
}

// LocationRecord is the durable per-device document.
type LocationRecord struct {
	DeviceID   DeviceID       `json:"device_id"`
	Latitude   float64        `json:"latitude"`
	Longitude  float64        `json:"longitude"`
	LastUpdate string         `json:"last_update"`
	Accuracy   *float64       `json:"accuracy"`
	Provider   *string        `json:"provider"`
	Steps      int            `json:"steps"`
	StepsTotal *int           `json:"steps_total"`
	Accel      *float64       `json:"accel"`
	DeviceName *string        `json:"device_name"`
	History    []HistoryPoint `json:"history"`
}

// Clone returns a copy whose history slice is independent of r's.
func (r *LocationRecord) Clone() *LocationRecord {
	if r == nil {
		return nil
	}
	cp := *r
	cp.History = make([]HistoryPoint, len(r.History))
	copy(cp.History, r.History)
	return &cp
}

// LastPoint returns the newest history point, or nil for an empty history.
func (r *LocationRecord) LastPoint() *HistoryPoint {
	if len(r.History) == 0 {
		return nil
	}
	return &r.History[len(r.History)-1]
}

// ApplySummary overwrites the top-level fields from the latest write.
func (r *LocationRecord) ApplySummary(s Summary) {
	r.Accuracy = s.Accuracy
	r.Provider = s.Provider
	r.Steps = s.Steps
	r.StepsTotal = s.StepsTotal
	r.Accel = s.Accel
	r.DeviceName = s.DeviceName
}

// DeviceView is one entry of the directory-wide snapshot.
type DeviceView struct {
	DeviceID   DeviceID       `json:"device_id"`
	Latitude   float64        `json:"latitude"`
	Longitude  float64        `json:"longitude"`
	LastUpdate *string        `json:"last_update"`
	Accuracy   *float64       `json:"accuracy"`
	StepsTotal *int           `json:"steps_total"`
	DeviceName *string        `json:"device_name"`
	History    []HistoryPoint `json:"history"`
}
