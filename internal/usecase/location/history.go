package location

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	domain "geomonitor/internal/domain/location"
	"geomonitor/internal/logger"
	"geomonitor/internal/timestamp"
)

// RecordGetter is the single-record read side of the store.
type RecordGetter interface {
	Get(ctx context.Context, id domain.DeviceID) (*domain.LocationRecord, error)
}

// HistoryResult is a device's history restricted to a time range. From and To
// echo the widened bounds, nil when absent.
type HistoryResult struct {
	DeviceID domain.DeviceID       `json:"user_id"`
	From     *string               `json:"from"`
	To       *string               `json:"to"`
	History  []domain.HistoryPoint `json:"history"`
}

// HistoryQuery filters one device's history by an optional inclusive range.
type HistoryQuery struct {
	records    RecordGetter
	normalizer *timestamp.Normalizer
}

func NewHistoryQuery(records RecordGetter, normalizer *timestamp.Normalizer) *HistoryQuery {
	return &HistoryQuery{records: records, normalizer: normalizer}
}

// Query returns the points of id whose ts lies in [from, to]. Empty bounds
// are absent and unparsable bounds are ignored. Points whose own ts does not
// parse are always returned.
func (q *HistoryQuery) Query(ctx context.Context, id domain.DeviceID, from, to string) (*HistoryResult, error) {
	record, err := q.records.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrMalformedRecord) {
			logger.Warn("History requested for unreadable record",
				zap.String("device_id", id.String()),
				zap.String("operation", "history_query"),
				zap.Error(err),
			)
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
		}
		return nil, err
	}

	result := &HistoryResult{
		DeviceID: id,
		History:  make([]domain.HistoryPoint, 0, len(record.History)),
	}

	var lower, upper *time.Time
	if widened, ok := timestamp.Widen(from); ok {
		result.From = &widened
		lower = q.bound(widened)
	}
	if widened, ok := timestamp.Widen(to); ok {
		result.To = &widened
		upper = q.bound(widened)
	}

	for _, point := range record.History {
		if q.inRange(point, lower, upper) {
			result.History = append(result.History, point)
		}
	}
	return result, nil
}

func (q *HistoryQuery) bound(s string) *time.Time {
	t, ok := q.normalizer.Parse(s)
	if !ok {
		return nil
	}
	return &t
}

func (q *HistoryQuery) inRange(point domain.HistoryPoint, lower, upper *time.Time) bool {
	ts, ok := q.normalizer.Parse(point.Ts)
	if !ok {
		return true
	}
	if lower != nil && ts.Before(*lower) {
		return false
	}
	if upper != nil && ts.After(*upper) {
		return false
	}
	return true
}
