package telemetry

import (
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// NamespaceStats accumulates operation counts for one oplog namespace.
type NamespaceStats struct {
	inserts  atomic.Int64
	noops    atomic.Int64
	other    atomic.Int64
	lastSeen atomic.Int64 // unix ms
}

// StatsCollector tracks per-namespace operation counts across the pipeline.
// Safe for concurrent use; recording is lock-free on the hot path.
type StatsCollector struct {
	namespaces   *xsync.MapOf[string, *NamespaceStats]
	decodeErrors atomic.Int64
	started      time.Time
}

// NewStatsCollector creates an empty collector.
func NewStatsCollector() *StatsCollector {
	return &StatsCollector{
		namespaces: xsync.NewMapOf[string, *NamespaceStats](),
		started:    time.Now(),
	}
}

// Record counts one decoded operation against its namespace. Noop records
// carry an empty namespace; they are tracked under "(none)".
func (c *StatsCollector) Record(namespace, kind string) {
	if namespace == "" {
		namespace = "(none)"
	}

	stats, _ := c.namespaces.LoadOrCompute(namespace, func() *NamespaceStats {
		return &NamespaceStats{}
	})

	switch kind {
	case "insert":
		stats.inserts.Add(1)
	case "noop":
		stats.noops.Add(1)
	default:
		stats.other.Add(1)
	}
	stats.lastSeen.Store(time.Now().UnixMilli())
}

// RecordDecodeError counts one record that failed to decode.
func (c *StatsCollector) RecordDecodeError() {
	c.decodeErrors.Add(1)
}

// NamespaceSnapshot is a point-in-time copy of one namespace's counters.
type NamespaceSnapshot struct {
	Inserts  int64 `json:"inserts"`
	Noops    int64 `json:"noops"`
	Other    int64 `json:"other"`
	LastSeen int64 `json:"last_seen_ms,omitempty"`
}

// Snapshot is a point-in-time copy of the collector state.
type Snapshot struct {
	UptimeSeconds int64                        `json:"uptime_seconds"`
	DecodeErrors  int64                        `json:"decode_errors"`
	Namespaces    map[string]NamespaceSnapshot `json:"namespaces"`
}

// Snapshot copies the current counters for reporting.
func (c *StatsCollector) Snapshot() Snapshot {
	snap := Snapshot{
		UptimeSeconds: int64(time.Since(c.started).Seconds()),
		DecodeErrors:  c.decodeErrors.Load(),
		Namespaces:    make(map[string]NamespaceSnapshot),
	}

	c.namespaces.Range(func(ns string, stats *NamespaceStats) bool {
		snap.Namespaces[ns] = NamespaceSnapshot{
			Inserts:  stats.inserts.Load(),
			Noops:    stats.noops.Load(),
			Other:    stats.other.Load(),
			LastSeen: stats.lastSeen.Load(),
		}
		return true
	})

	return snap
}
