package ingestion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "geomonitor/internal/domain/location"
	"geomonitor/internal/usecase/location"
)

type recordingApplier struct {
	mu      sync.Mutex
	applied map[domain.DeviceID][]float64
	fail    domain.DeviceID
}

func newRecordingApplier() *recordingApplier {
	return &recordingApplier{applied: make(map[domain.DeviceID][]float64)}
}

func (r *recordingApplier) Apply(_ context.Context, _ string, cmd *location.IngestCommand) (*domain.LocationRecord, error) {
	if cmd.DeviceID == r.fail {
		return nil, errors.New("no write")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied[cmd.DeviceID] = append(r.applied[cmd.DeviceID], cmd.Point.Lat)
	return &domain.LocationRecord{DeviceID: cmd.DeviceID}, nil
}

func (r *recordingApplier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, lats := range r.applied {
		n += len(lats)
	}
	return n
}

func command(id domain.DeviceID, lat float64) *location.IngestCommand {
	return &location.IngestCommand{DeviceID: id, Point: domain.HistoryPoint{Lat: lat}}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestProcessorKeepsPerDeviceOrder(t *testing.T) {
	applier := newRecordingApplier()
	p := NewProcessor(applier, "mqtt", 4, 100)

	for i := 0; i < 50; i++ {
		p.Submit(command("a", float64(i)))
		p.Submit(command("b", float64(i)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Serve(ctx) }()

	waitFor(t, func() bool { return applier.count() == 100 })
	cancel()
	<-done

	for _, id := range []domain.DeviceID{"a", "b"} {
		lats := applier.applied[id]
		for i, lat := range lats {
			if lat != float64(i) {
				t.Fatalf("%s applied out of order: %v", id, lats)
			}
		}
	}

	stats := p.Stats()
	if stats.Received != 100 || stats.Applied != 100 || stats.QueueDepth != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestProcessorDropsWhenFull(t *testing.T) {
	p := NewProcessor(newRecordingApplier(), "mqtt", 1, 1)

	if !p.Submit(command("a", 1)) {
		t.Fatal("first report should be queued")
	}
	if p.Submit(command("a", 2)) {
		t.Error("report beyond buffer should be dropped")
	}

	stats := p.Stats()
	if stats.Received != 1 || stats.Dropped != 1 || stats.QueueDepth != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestProcessorCountsFailures(t *testing.T) {
	applier := newRecordingApplier()
	applier.fail = "broken"
	p := NewProcessor(applier, "mqtt", 2, 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Serve(ctx) }()

	p.Submit(command("broken", 1))
	p.Submit(command("fine", 1))

	waitFor(t, func() bool {
		s := p.Stats()
		return s.Failed == 1 && s.Applied == 1
	})
}
