package stream

import (
	"context"
	"errors"
	"sync"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	domain "geomonitor/internal/domain/location"
	"geomonitor/internal/logger"
	"geomonitor/internal/metrics"
)

// ErrBrokerClosed is returned by Subscribe after the broker has shut down.
var ErrBrokerClosed = errors.New("stream broker closed")

// Snapshotter computes the aggregate view pushed to subscribers.
type Snapshotter interface {
	Snapshot(ctx context.Context) ([]domain.DeviceView, error)
}

// Update is one encoded snapshot. Payload is shared by every subscriber and
// must not be modified.
type Update struct {
	Seq     uint64
	Payload []byte
	Devices int
}

// Subscriber receives updates in the order they were computed. A subscriber
// that falls behind only ever holds the newest pending update.
type Subscriber struct {
	id        uint64
	transport string
	updates   chan *Update
	done      chan struct{}
	closeOnce sync.Once
}

// Updates delivers snapshots.
func (s *Subscriber) Updates() <-chan *Update {
	return s.updates
}

// Done is closed when the subscriber is removed or the broker shuts down.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

func (s *Subscriber) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// offer replaces any unconsumed update with u. Callers hold Broker.mu, so
// there is a single sender and the send cannot block.
func (s *Subscriber) offer(u *Update) {
	select {
	case <-s.updates:
		metrics.StreamSkippedUpdatesTotal.Inc()
	default:
	}
	s.updates <- u
}

// Broker computes one snapshot per change signal and hands it to every
// subscriber without waiting on any of them.
type Broker struct {
	snapshots Snapshotter
	changes   <-chan struct{}

	// refreshMu serializes compute-and-publish so sequence numbers follow
	// the order snapshots were taken.
	refreshMu sync.Mutex

	mu          sync.Mutex
	subscribers map[uint64]*Subscriber
	nextID      uint64
	seq         uint64
	latest      *Update
	closed      bool
}

func NewBroker(snapshots Snapshotter, changes <-chan struct{}) *Broker {
	return &Broker{
		snapshots:   snapshots,
		changes:     changes,
		subscribers: make(map[uint64]*Subscriber),
	}
}

// Serve refreshes on every change signal until ctx is done, then closes all
// subscribers.
func (b *Broker) Serve(ctx context.Context) error {
	log := logger.Named("stream-broker")
	log.Info("Stream broker started")

	for {
		select {
		case <-ctx.Done():
			b.shutdown()
			log.Info("Stream broker stopped", zap.NamedError("reason", ctx.Err()))
			return ctx.Err()
		case <-b.changes:
			if _, err := b.Refresh(ctx); err != nil && ctx.Err() == nil {
				log.Error("Failed to compute snapshot", zap.Error(err))
			}
		}
	}
}

// Refresh computes a snapshot now and publishes it to every subscriber.
func (b *Broker) Refresh(ctx context.Context) (*Update, error) {
	b.refreshMu.Lock()
	defer b.refreshMu.Unlock()

	timer := prometheus.NewTimer(metrics.SnapshotDuration)
	views, err := b.snapshots.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(views)
	if err != nil {
		return nil, err
	}
	timer.ObserveDuration()
	metrics.SnapshotsComputedTotal.Inc()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	update := &Update{Seq: b.seq, Payload: payload, Devices: len(views)}
	b.latest = update
	for _, s := range b.subscribers {
		s.offer(update)
	}
	return update, nil
}

// Subscribe registers a subscriber and queues the latest snapshot for it,
// computing one first if none exists yet.
func (b *Broker) Subscribe(ctx context.Context, transport string) (*Subscriber, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBrokerClosed
	}
	b.nextID++
	sub := &Subscriber{
		id:        b.nextID,
		transport: transport,
		updates:   make(chan *Update, 1),
		done:      make(chan struct{}),
	}
	b.subscribers[sub.id] = sub
	latest := b.latest
	if latest != nil {
		sub.offer(latest)
	}
	total := len(b.subscribers)
	b.mu.Unlock()

	metrics.StreamSubscribers.WithLabelValues(transport).Inc()
	logger.Debug("Stream subscriber connected",
		zap.Uint64("subscriber_id", sub.id),
		zap.String("transport", transport),
		zap.Int("total_subscribers", total),
	)

	if latest == nil {
		if _, err := b.Refresh(ctx); err != nil {
			b.Unsubscribe(sub)
			return nil, err
		}
	}
	return sub, nil
}

// Unsubscribe removes sub. Calling it more than once is harmless.
func (b *Broker) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	_, ok := b.subscribers[sub.id]
	delete(b.subscribers, sub.id)
	total := len(b.subscribers)
	b.mu.Unlock()

	sub.close()
	if !ok {
		return
	}
	metrics.StreamSubscribers.WithLabelValues(sub.transport).Dec()
	logger.Debug("Stream subscriber disconnected",
		zap.Uint64("subscriber_id", sub.id),
		zap.String("transport", sub.transport),
		zap.Int("total_subscribers", total),
	)
}

// SubscriberCount returns the number of connected subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Latest returns the most recently published update, if any.
func (b *Broker) Latest() *Update {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest
}

func (b *Broker) shutdown() {
	b.mu.Lock()
	subs := make([]*Subscriber, 0, len(b.subscribers))
	for id, s := range b.subscribers {
		subs = append(subs, s)
		delete(b.subscribers, id)
	}
	b.closed = true
	b.mu.Unlock()

	for _, s := range subs {
		metrics.StreamSubscribers.WithLabelValues(s.transport).Dec()
		s.close()
	}
}

func (b *Broker) String() string {
	return "stream-broker"
}
