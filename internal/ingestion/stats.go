package ingestion

import (
	"sync"
	"time"
)

// IngestStats summarizes queued ingestion since startup.
type IngestStats struct {
	Received         int64         `json:"received"`
	Applied          int64         `json:"applied"`
	Failed           int64         `json:"failed"`
	Dropped          int64         `json:"dropped"`
	LastAppliedAt    time.Time     `json:"last_applied_at"`
	AverageApplyTime time.Duration `json:"average_apply_time"`
	QueueDepth       int           `json:"queue_depth"`
}

// StatsTracker provides a goroutine-safe wrapper around IngestStats.
type StatsTracker struct {
	mu    sync.RWMutex
	stats IngestStats
}

func NewStatsTracker() *StatsTracker {
	return &StatsTracker{}
}

// Update applies a mutation in a thread-safe way.
func (t *StatsTracker) Update(fn func(*IngestStats)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.stats)
}

// Snapshot returns a copy of the current stats.
func (t *StatsTracker) Snapshot() IngestStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stats
}
