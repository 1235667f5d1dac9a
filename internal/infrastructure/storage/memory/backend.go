// Package memory is an in-process location backend for tests and ephemeral
// deployments. It supports change notification.
package memory

import (
	"context"
	"fmt"
	"sync"

	domain "geomonitor/internal/domain/location"
)

type entry struct {
	record   *domain.LocationRecord
	revision int64
}

type Backend struct {
	mu       sync.RWMutex
	records  map[domain.DeviceID]entry
	revision int64
	watchers map[chan struct{}]struct{}
	closed   bool
}

func New() *Backend {
	return &Backend{
		records:  make(map[domain.DeviceID]entry),
		watchers: make(map[chan struct{}]struct{}),
	}
}

func (b *Backend) Load(_ context.Context, id domain.DeviceID) (*domain.LocationRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return e.record.Clone(), nil
}

func (b *Backend) Save(_ context.Context, record *domain.LocationRecord) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("memory backend closed")
	}
	b.revision++
	b.records[record.DeviceID] = entry{record: record.Clone(), revision: b.revision}
	watchers := make([]chan struct{}, 0, len(b.watchers))
	for ch := range b.watchers {
		watchers = append(watchers, ch)
	}
	b.mu.Unlock()

	for _, ch := range watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

func (b *Backend) List(_ context.Context) ([]*domain.LocationRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	records := make([]*domain.LocationRecord, 0, len(b.records))
	for _, e := range b.records {
		records = append(records, e.record.Clone())
	}
	return records, nil
}

func (b *Backend) Revisions(_ context.Context) (map[domain.DeviceID]int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	revisions := make(map[domain.DeviceID]int64, len(b.records))
	for id, e := range b.records {
		revisions[id] = e.revision
	}
	return revisions, nil
}

// Watch calls notify after Saves until ctx is done. Saves that land while
// notify is running collapse into one further call.
func (b *Backend) Watch(ctx context.Context, notify func()) error {
	ch := make(chan struct{}, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("%w: memory backend closed", domain.ErrWatchUnavailable)
	}
	b.watchers[ch] = struct{}{}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.watchers, ch)
		b.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
			notify()
		}
	}
}

func (b *Backend) Ping(_ context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("memory backend closed")
	}
	return nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
