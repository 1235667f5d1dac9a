// Package storagetest holds the behaviour every location backend must share.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	domain "geomonitor/internal/domain/location"
)

// Record builds a record with one history point per coordinate pair.
func Record(id domain.DeviceID, coords ...float64) *domain.LocationRecord {
	record := &domain.LocationRecord{DeviceID: id, LastUpdate: "2024-01-01 00:00:00"}
	for i := 0; i+1 < len(coords); i += 2 {
		record.History = append(record.History, domain.HistoryPoint{
			Lat: coords[i],
			Lon: coords[i+1],
			Ts:  fmt.Sprintf("2024-01-01 00:00:%02d", i/2),
		})
		record.Latitude = coords[i]
		record.Longitude = coords[i+1]
	}
	return record
}

// RunBackendTests exercises open() against the Backend contract. open must
// return an empty backend; it is closed by the caller's cleanup.
func RunBackendTests(t *testing.T, open func(t *testing.T) domain.Backend) {
	t.Run("LoadMissing", func(t *testing.T) {
		b := open(t)
		_, err := b.Load(context.Background(), "ghost")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("Load err = %v, want ErrNotFound", err)
		}
	})

	t.Run("SaveLoad", func(t *testing.T) {
		b := open(t)
		ctx := context.Background()
		name := "Über Phone"
		want := Record("dev1", 1.5, 2.5, 3.5, 4.5)
		want.DeviceName = &name

		if err := b.Save(ctx, want); err != nil {
			t.Fatalf("Save: %v", err)
		}
		got, err := b.Load(ctx, "dev1")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if got.DeviceID != "dev1" || got.Latitude != 3.5 || got.Longitude != 4.5 {
			t.Errorf("got %+v", got)
		}
		if len(got.History) != 2 || got.History[1].Ts != "2024-01-01 00:00:01" {
			t.Errorf("history = %+v", got.History)
		}
		if got.DeviceName == nil || *got.DeviceName != name {
			t.Errorf("DeviceName = %v", got.DeviceName)
		}
	})

	t.Run("SaveReplaces", func(t *testing.T) {
		b := open(t)
		ctx := context.Background()
		if err := b.Save(ctx, Record("dev", 1, 1)); err != nil {
			t.Fatal(err)
		}
		if err := b.Save(ctx, Record("dev", 1, 1, 2, 2)); err != nil {
			t.Fatal(err)
		}
		got, err := b.Load(ctx, "dev")
		if err != nil {
			t.Fatal(err)
		}
		if len(got.History) != 2 {
			t.Errorf("len(History) = %d, want 2", len(got.History))
		}
	})

	t.Run("ListAndRevisions", func(t *testing.T) {
		b := open(t)
		ctx := context.Background()
		for _, id := range []domain.DeviceID{"a", "b", "c"} {
			if err := b.Save(ctx, Record(id, 1, 2)); err != nil {
				t.Fatal(err)
			}
		}

		records, err := b.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(records) != 3 {
			t.Errorf("len(List) = %d, want 3", len(records))
		}

		revisions, err := b.Revisions(ctx)
		if err != nil {
			t.Fatalf("Revisions: %v", err)
		}
		for _, id := range []domain.DeviceID{"a", "b", "c"} {
			if _, ok := revisions[id]; !ok {
				t.Errorf("Revisions missing %q: %v", id, revisions)
			}
		}
	})

	t.Run("ConcurrentReadersSeeWholeRecords", func(t *testing.T) {
		b := open(t)
		ctx := context.Background()
		if err := b.Save(ctx, Record("dev", 1, 1)); err != nil {
			t.Fatal(err)
		}

		var wg sync.WaitGroup
		stop := make(chan struct{})
		wg.Add(1)
		go func() {
			defer wg.Done()
			coords := []float64{1, 1}
			for i := 0; i < 20; i++ {
				coords = append(coords, float64(i), float64(i))
				if err := b.Save(ctx, Record("dev", coords...)); err != nil {
					t.Errorf("Save: %v", err)
					return
				}
			}
			close(stop)
		}()

		for done := false; !done; {
			select {
			case <-stop:
				done = true
			default:
			}
			got, err := b.Load(ctx, "dev")
			if err != nil {
				t.Fatalf("Load during writes: %v", err)
			}
			if len(got.History) == 0 {
				t.Fatal("observed a record without history")
			}
		}
		wg.Wait()
	})

	t.Run("Ping", func(t *testing.T) {
		b := open(t)
		if err := b.Ping(context.Background()); err != nil {
			t.Errorf("Ping: %v", err)
		}
	})
}

// RunNotifierTests checks that Watch reports a Save and returns once ctx is
// cancelled.
func RunNotifierTests(t *testing.T, open func(t *testing.T) domain.Backend) {
	t.Run("WatchReportsSave", func(t *testing.T) {
		b := open(t)
		notifier, ok := b.(domain.Notifier)
		if !ok {
			t.Fatalf("%T does not implement Notifier", b)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		signals := make(chan struct{}, 1)
		done := make(chan error, 1)
		go func() {
			done <- notifier.Watch(ctx, func() {
				select {
				case signals <- struct{}{}:
				default:
				}
			})
		}()

		// the watch registers asynchronously; keep saving until it fires
		deadline := time.After(5 * time.Second)
		tick := time.NewTicker(50 * time.Millisecond)
		defer tick.Stop()
		for i := 0; ; i++ {
			if err := b.Save(context.Background(), Record("dev", float64(i), 0)); err != nil {
				t.Fatal(err)
			}
			select {
			case <-signals:
				cancel()
				select {
				case err := <-done:
					if !errors.Is(err, context.Canceled) {
						t.Errorf("Watch returned %v, want context.Canceled", err)
					}
				case <-time.After(5 * time.Second):
					t.Fatal("Watch did not return after cancel")
				}
				return
			case err := <-done:
				t.Fatalf("Watch returned early: %v", err)
			case <-deadline:
				t.Fatal("no notification after Save")
			case <-tick.C:
			}
		}
	})
}
