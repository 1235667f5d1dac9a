// Package stream turns store mutations into snapshot updates for connected
// viewers. A Detector notices that the store changed; a Broker recomputes one
// snapshot per change and fans it out to subscribers.
package stream

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	domain "geomonitor/internal/domain/location"
	"geomonitor/internal/logger"
	"geomonitor/internal/metrics"
)

const (
	DefaultPollInterval = 200 * time.Millisecond

	// Detector mode selection.
	ModeAuto = "auto"
	ModePoll = "poll"
)

// RevisionSource is the part of a storage backend the detector polls.
type RevisionSource interface {
	Revisions(ctx context.Context) (map[domain.DeviceID]int64, error)
}

// Detector emits a change signal whenever the store mutates. Signals
// coalesce: the channel holds at most one pending signal, so a burst of
// writes yields at least one signal after the last write.
type Detector struct {
	source   RevisionSource
	notifier domain.Notifier
	mode     string
	interval time.Duration

	signals chan struct{}
	active  atomic.Value // string: metrics.ModeWatch or metrics.ModePoll
}

type DetectorOption func(*Detector)

// WithPollInterval sets the revision poll period.
func WithPollInterval(d time.Duration) DetectorOption {
	return func(det *Detector) {
		if d > 0 {
			det.interval = d
		}
	}
}

// WithMode forces poll mode when mode is ModePoll.
func WithMode(mode string) DetectorOption {
	return func(det *Detector) {
		if mode == ModePoll || mode == ModeAuto {
			det.mode = mode
		}
	}
}

// NewDetector watches backend. When backend implements domain.Notifier and
// the mode is auto, the detector uses push notifications and falls back to
// polling if they fail.
func NewDetector(backend RevisionSource, opts ...DetectorOption) *Detector {
	d := &Detector{
		source:   backend,
		mode:     ModeAuto,
		interval: DefaultPollInterval,
		signals:  make(chan struct{}, 1),
	}
	if n, ok := backend.(domain.Notifier); ok {
		d.notifier = n
	}
	for _, opt := range opts {
		opt(d)
	}
	d.active.Store(d.initialMode())
	return d
}

func (d *Detector) initialMode() string {
	if d.notifier != nil && d.mode == ModeAuto {
		return metrics.ModeWatch
	}
	return metrics.ModePoll
}

// Changes delivers change signals.
func (d *Detector) Changes() <-chan struct{} {
	return d.signals
}

// Mode reports the strategy currently in use.
func (d *Detector) Mode() string {
	return d.active.Load().(string)
}

func (d *Detector) signal() {
	metrics.DetectorSignalsTotal.WithLabelValues(d.Mode()).Inc()
	select {
	case d.signals <- struct{}{}:
	default:
	}
}

// Serve runs until ctx is done. It emits one signal immediately so the first
// subscribers get a snapshot without waiting for a write.
func (d *Detector) Serve(ctx context.Context) error {
	log := logger.Named("change-detector")

	if d.initialMode() == metrics.ModeWatch {
		d.active.Store(metrics.ModeWatch)
		log.Info("Change detector started", zap.String("mode", metrics.ModeWatch))
		d.signal()

		err := d.notifier.Watch(ctx, d.signal)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			err = domain.ErrWatchUnavailable
		}
		metrics.DetectorDegradationsTotal.Inc()
		log.Warn("Change notification failed, falling back to polling",
			zap.Duration("interval", d.interval),
			zap.Bool("watch_unavailable", errors.Is(err, domain.ErrWatchUnavailable)),
			zap.Error(err),
		)
	} else {
		log.Info("Change detector started",
			zap.String("mode", metrics.ModePoll),
			zap.Duration("interval", d.interval),
		)
	}

	d.active.Store(metrics.ModePoll)
	// Writes may have been missed between the watch failing and the first poll.
	d.signal()
	return d.poll(ctx)
}

func (d *Detector) poll(ctx context.Context) error {
	log := logger.Named("change-detector")

	seen, err := d.source.Revisions(ctx)
	if err != nil {
		log.Warn("Initial revision scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			current, err := d.source.Revisions(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Warn("Revision scan failed", zap.Error(err))
				continue
			}
			if revisionsChanged(seen, current) {
				d.signal()
			}
			seen = current
		}
	}
}

// revisionsChanged reports whether any record was added, rewritten or removed.
func revisionsChanged(prev, cur map[domain.DeviceID]int64) bool {
	if len(prev) != len(cur) {
		return true
	}
	for id, rev := range cur {
		old, ok := prev[id]
		if !ok || old != rev {
			return true
		}
	}
	return false
}

func (d *Detector) String() string {
	return "change-detector"
}
