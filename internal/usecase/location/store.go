package location

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	domain "geomonitor/internal/domain/location"
	"geomonitor/internal/logger"
	"geomonitor/internal/metrics"
	"geomonitor/internal/timestamp"
)

// Store is the only writer of location records. Upserts for one device id
// are serialized; different ids proceed in parallel.
type Store struct {
	backend    domain.Backend
	normalizer *timestamp.Normalizer
	locks      *keyedMutex
	maxPoints  int
	now        func() time.Time
}

type StoreOption func(*Store)

// WithMaxPoints overrides the per-device history bound.
func WithMaxPoints(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.maxPoints = n
		}
	}
}

// WithClock replaces the clock used for last_update.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func NewStore(backend domain.Backend, normalizer *timestamp.Normalizer, opts ...StoreOption) *Store {
	s := &Store{
		backend:    backend,
		normalizer: normalizer,
		locks:      newKeyedMutex(),
		maxPoints:  domain.DefaultMaxPoints,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UpsertResult reports what an upsert did besides returning the record.
type UpsertResult struct {
	Record   *domain.LocationRecord
	Appended bool
}

// Upsert appends point to the device's history and mirrors summary onto the
// record. A point equal to the last one (see HistoryPoint.SamePosition) is
// not appended, but last_update and the summary still advance.
func (s *Store) Upsert(ctx context.Context, id domain.DeviceID, point domain.HistoryPoint, summary domain.Summary) (*UpsertResult, error) {
	timer := prometheus.NewTimer(metrics.StoreOperationDuration.WithLabelValues(metrics.StoreOpUpsert))
	defer timer.ObserveDuration()

	if !finite(point.Lat) || !finite(point.Lon) {
		return nil, fmt.Errorf("%w: lat=%v lon=%v", domain.ErrInvalidInput, point.Lat, point.Lon)
	}
	if id == "" {
		return nil, fmt.Errorf("%w: empty device id", domain.ErrInvalidInput)
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	record, err := s.backend.Load(ctx, id)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		record = &domain.LocationRecord{DeviceID: id}
	case errors.Is(err, domain.ErrMalformedRecord):
		logger.Warn("Replacing unreadable location record",
			zap.String("device_id", id.String()),
			zap.String("operation", metrics.StoreOpUpsert),
			zap.Error(err),
		)
		metrics.MalformedRecordsTotal.Inc()
		record = &domain.LocationRecord{DeviceID: id}
	default:
		metrics.StoreOperationErrorsTotal.WithLabelValues(metrics.StoreOpUpsert).Inc()
		return nil, fmt.Errorf("%w: load %s: %v", domain.ErrStorageWrite, id, err)
	}

	appended := true
	if last := record.LastPoint(); last != nil && last.SamePosition(&point) {
		appended = false
	}
	if appended {
		record.History = append(record.History, point)
		if overflow := len(record.History) - s.maxPoints; overflow > 0 {
			record.History = append([]domain.HistoryPoint(nil), record.History[overflow:]...)
		}
	}

	record.DeviceID = id
	record.Latitude = point.Lat
	record.Longitude = point.Lon
	record.LastUpdate = s.normalizer.Format(s.now())
	record.ApplySummary(summary)

	if err := s.backend.Save(ctx, record); err != nil {
		metrics.StoreOperationErrorsTotal.WithLabelValues(metrics.StoreOpUpsert).Inc()
		logger.Error("Failed to write location record",
			zap.String("device_id", id.String()),
			zap.String("operation", metrics.StoreOpUpsert),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrStorageWrite, id, err)
	}

	return &UpsertResult{Record: record.Clone(), Appended: appended}, nil
}

// Get returns the stored record for id.
func (s *Store) Get(ctx context.Context, id domain.DeviceID) (*domain.LocationRecord, error) {
	timer := prometheus.NewTimer(metrics.StoreOperationDuration.WithLabelValues(metrics.StoreOpGet))
	defer timer.ObserveDuration()

	record, err := s.backend.Load(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			metrics.StoreOperationErrorsTotal.WithLabelValues(metrics.StoreOpGet).Inc()
		}
		return nil, err
	}
	return record, nil
}

// ListAll returns every readable record in no particular order.
func (s *Store) ListAll(ctx context.Context) ([]*domain.LocationRecord, error) {
	timer := prometheus.NewTimer(metrics.StoreOperationDuration.WithLabelValues(metrics.StoreOpListAll))
	defer timer.ObserveDuration()

	records, err := s.backend.List(ctx)
	if err != nil {
		metrics.StoreOperationErrorsTotal.WithLabelValues(metrics.StoreOpListAll).Inc()
		return nil, fmt.Errorf("list location records: %w", err)
	}
	return records, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
