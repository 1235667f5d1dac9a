package location

import (
	"context"
	"sort"

	domain "geomonitor/internal/domain/location"
)

// RecordLister is the read side of the store used for snapshots.
type RecordLister interface {
	ListAll(ctx context.Context) ([]*domain.LocationRecord, error)
}

// Aggregator builds the directory-wide snapshot served to pollers and pushed
// to stream subscribers.
type Aggregator struct {
	records RecordLister
}

func NewAggregator(records RecordLister) *Aggregator {
	return &Aggregator{records: records}
}

// Snapshot returns one view per readable record, ordered by device id.
func (a *Aggregator) Snapshot(ctx context.Context) ([]domain.DeviceView, error) {
	records, err := a.records.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]domain.DeviceView, 0, len(records))
	for _, record := range records {
		views = append(views, toDeviceView(record))
	}

	sort.Slice(views, func(i, j int) bool {
		return views[i].DeviceID < views[j].DeviceID
	})
	return views, nil
}

// toDeviceView fills summary fields from the record, falling back to the
// newest history point for the ones the record lacks.
func toDeviceView(record *domain.LocationRecord) domain.DeviceView {
	history := record.History
	if history == nil {
		history = []domain.HistoryPoint{}
	}

	view := domain.DeviceView{
		DeviceID:   record.DeviceID,
		Latitude:   record.Latitude,
		Longitude:  record.Longitude,
		Accuracy:   record.Accuracy,
		StepsTotal: record.StepsTotal,
		DeviceName: record.DeviceName,
		History:    history,
	}
	if record.LastUpdate != "" {
		lastUpdate := record.LastUpdate
		view.LastUpdate = &lastUpdate
	}

	if last := record.LastPoint(); last != nil {
		if view.Accuracy == nil {
			view.Accuracy = last.Accuracy
		}
		if view.StepsTotal == nil {
			view.StepsTotal = last.StepsTotal
		}
		if view.DeviceName == nil {
			view.DeviceName = last.DeviceName
		}
	}
	return view
}
