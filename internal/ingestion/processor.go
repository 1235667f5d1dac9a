package ingestion

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	domain "geomonitor/internal/domain/location"
	"geomonitor/internal/logger"
	"geomonitor/internal/metrics"
	"geomonitor/internal/usecase/location"
)

// Applier stores a parsed location report.
type Applier interface {
	Apply(ctx context.Context, source string, cmd *location.IngestCommand) (*domain.LocationRecord, error)
}

// Processor applies queued reports on a fixed set of workers. Reports are
// sharded by device id, so one device's reports are applied in arrival order
// while different devices proceed in parallel.
type Processor struct {
	applier Applier
	source  string
	shards  []chan *location.IngestCommand
	stats   *StatsTracker
}

// NewProcessor creates workerCount shards, each buffering up to bufferSize reports.
func NewProcessor(applier Applier, source string, workerCount, bufferSize int) *Processor {
	if workerCount < 1 {
		workerCount = 1
	}
	if bufferSize < 1 {
		bufferSize = 1
	}

	shards := make([]chan *location.IngestCommand, workerCount)
	for i := range shards {
		shards[i] = make(chan *location.IngestCommand, bufferSize)
	}

	return &Processor{
		applier: applier,
		source:  source,
		shards:  shards,
		stats:   NewStatsTracker(),
	}
}

func (p *Processor) shardFor(id domain.DeviceID) chan *location.IngestCommand {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return p.shards[h.Sum32()%uint32(len(p.shards))]
}

// Submit queues cmd without blocking. It reports false when the device's
// shard is full and the report was dropped.
func (p *Processor) Submit(cmd *location.IngestCommand) bool {
	select {
	case p.shardFor(cmd.DeviceID) <- cmd:
		p.stats.Update(func(s *IngestStats) {
			s.Received++
		})
		return true
	default:
		metrics.IngestTotal.WithLabelValues(p.source, metrics.IngestDropped).Inc()
		p.stats.Update(func(s *IngestStats) {
			s.Dropped++
		})
		logger.Warn("Ingestion buffer full, dropping report",
			zap.String("source", p.source),
			zap.String("device_id", cmd.DeviceID.String()),
		)
		return false
	}
}

// Serve runs the workers until ctx is done. Reports still queued at that
// point are discarded.
func (p *Processor) Serve(ctx context.Context) error {
	log := logger.Named("ingest-processor")
	log.Info("Starting processor", zap.Int("workers", len(p.shards)), zap.Int("buffer", cap(p.shards[0])))

	var wg sync.WaitGroup
	for i, shard := range p.shards {
		wg.Add(1)
		go func(id int, queue <-chan *location.IngestCommand) {
			defer wg.Done()
			p.worker(ctx, id, queue)
		}(i, shard)
	}
	wg.Wait()

	log.Info("Processor stopped", zap.Int("discarded", p.queueDepth()))
	return ctx.Err()
}

func (p *Processor) worker(ctx context.Context, id int, queue <-chan *location.IngestCommand) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-queue:
			start := time.Now()
			if _, err := p.applier.Apply(ctx, p.source, cmd); err != nil {
				logger.Error("Failed to apply location report",
					zap.Int("worker", id),
					zap.String("source", p.source),
					zap.String("device_id", cmd.DeviceID.String()),
					zap.Error(err),
				)
				p.stats.Update(func(s *IngestStats) {
					s.Failed++
				})
				continue
			}

			elapsed := time.Since(start)
			p.stats.Update(func(s *IngestStats) {
				s.Applied++
				s.LastAppliedAt = time.Now()
				if s.AverageApplyTime == 0 {
					s.AverageApplyTime = elapsed
				} else {
					s.AverageApplyTime = (s.AverageApplyTime + elapsed) / 2
				}
			})
		}
	}
}

func (p *Processor) queueDepth() int {
	depth := 0
	for _, shard := range p.shards {
		depth += len(shard)
	}
	return depth
}

// Stats returns current counters.
func (p *Processor) Stats() IngestStats {
	stats := p.stats.Snapshot()
	stats.QueueDepth = p.queueDepth()
	return stats
}

func (p *Processor) String() string {
	return "ingest-processor"
}
