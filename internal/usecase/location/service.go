package location

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	domain "geomonitor/internal/domain/location"
	"geomonitor/internal/logger"
	"geomonitor/internal/metrics"
	"geomonitor/internal/timestamp"
	appErrors "geomonitor/pkg/errors"
)

// Service turns raw ingestion payloads into store upserts. HTTP and MQTT
// ingestion both go through it.
type Service struct {
	store      *Store
	normalizer *timestamp.Normalizer
	now        func() time.Time
}

func NewService(store *Store, normalizer *timestamp.Normalizer) *Service {
	return &Service{
		store:      store,
		normalizer: normalizer,
		now:        time.Now,
	}
}

// Parse validates lat/lon and normalizes every optional field. It never
// touches the store.
func (s *Service) Parse(fields IngestFields) (*IngestCommand, error) {
	lat, latOK := fields.float("lat")
	lon, lonOK := fields.float("lon")
	if !latOK || !lonOK {
		return nil, appErrors.NewAppError(appErrors.CodeInvalidInput, "invalid lat/lon", domain.ErrInvalidInput)
	}

	var rawID string
	if id := fields.optionalString("user_id"); id != nil {
		rawID = *id
	}

	ts, ok := s.normalizer.Normalize(fields["ts"])
	if !ok {
		ts = s.normalizer.Format(s.now())
	}

	steps := 0
	if n := fields.optionalInt("steps"); n != nil {
		steps = *n
	}

	summary := domain.Summary{
		Accuracy:   fields.optionalFloat("accuracy"),
		Provider:   fields.label("provider"),
		Steps:      steps,
		StepsTotal: fields.optionalInt("steps_total"),
		Accel:      fields.optionalFloat("accel"),
		DeviceName: fields.label("device_name"),
	}

	return &IngestCommand{
		DeviceID: domain.ResolveDeviceID(rawID),
		Point: domain.HistoryPoint{
			Lat:        lat,
			Lon:        lon,
			Ts:         ts,
			Accuracy:   summary.Accuracy,
			Provider:   summary.Provider,
			Steps:      summary.Steps,
			StepsTotal: summary.StepsTotal,
			Accel:      summary.Accel,
			DeviceName: summary.DeviceName,
		},
		Summary: summary,
	}, nil
}

// Ingest parses fields and upserts the resulting point. source labels logs
// and metrics ("http", "mqtt").
func (s *Service) Ingest(ctx context.Context, source string, fields IngestFields) (*domain.LocationRecord, error) {
	cmd, err := s.Parse(fields)
	if err != nil {
		metrics.IngestTotal.WithLabelValues(source, metrics.IngestInvalid).Inc()
		logger.Warn("Rejected location report",
			zap.String("source", source),
			zap.Any("lat", fields["lat"]),
			zap.Any("lon", fields["lon"]),
			zap.Error(err),
		)
		return nil, err
	}
	return s.Apply(ctx, source, cmd)
}

// Apply upserts an already parsed command.
func (s *Service) Apply(ctx context.Context, source string, cmd *IngestCommand) (*domain.LocationRecord, error) {
	result, err := s.store.Upsert(ctx, cmd.DeviceID, cmd.Point, cmd.Summary)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			metrics.IngestTotal.WithLabelValues(source, metrics.IngestInvalid).Inc()
			return nil, appErrors.NewAppError(appErrors.CodeInvalidInput, "invalid lat/lon", err)
		}
		metrics.IngestTotal.WithLabelValues(source, metrics.IngestWriteFailed).Inc()
		return nil, appErrors.NewAppError(appErrors.CodeStorageWriteFailure, "no write", err)
	}

	outcome := metrics.IngestAccepted
	if !result.Appended {
		outcome = metrics.IngestDeduplicated
	}
	metrics.IngestTotal.WithLabelValues(source, outcome).Inc()

	logger.Debug("Stored location report",
		zap.String("source", source),
		zap.String("device_id", cmd.DeviceID.String()),
		zap.Float64("lat", cmd.Point.Lat),
		zap.Float64("lon", cmd.Point.Lon),
		zap.String("ts", cmd.Point.Ts),
		zap.String("result", outcome),
	)

	return result.Record, nil
}
