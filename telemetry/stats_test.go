package telemetry

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsCollectorRecord(t *testing.T) {
	collector := NewStatsCollector()

	collector.Record("app.users", "insert")
	collector.Record("app.users", "insert")
	collector.Record("app.users", "noop")
	collector.Record("app.orders", "insert")
	collector.Record("app.orders", "command")

	snap := collector.Snapshot()

	users := snap.Namespaces["app.users"]
	assert.Equal(t, int64(2), users.Inserts)
	assert.Equal(t, int64(1), users.Noops)
	assert.Equal(t, int64(0), users.Other)
	assert.NotZero(t, users.LastSeen)

	orders := snap.Namespaces["app.orders"]
	assert.Equal(t, int64(1), orders.Inserts)
	assert.Equal(t, int64(1), orders.Other)
}

func TestStatsCollectorEmptyNamespace(t *testing.T) {
	collector := NewStatsCollector()

	// Noop records carry no namespace
	collector.Record("", "noop")

	snap := collector.Snapshot()
	assert.Equal(t, int64(1), snap.Namespaces["(none)"].Noops)
}

func TestStatsCollectorDecodeErrors(t *testing.T) {
	collector := NewStatsCollector()

	collector.RecordDecodeError()
	collector.RecordDecodeError()

	assert.Equal(t, int64(2), collector.Snapshot().DecodeErrors)
}

func TestStatsCollectorConcurrentRecord(t *testing.T) {
	collector := NewStatsCollector()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				collector.Record("app.users", "insert")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(8000), collector.Snapshot().Namespaces["app.users"].Inserts)
}

func TestSnapshotSerializesToJSON(t *testing.T) {
	collector := NewStatsCollector()
	collector.Record("app.users", "insert")

	data, err := json.Marshal(collector.Snapshot())
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Contains(t, decoded, "uptime_seconds")
	assert.Contains(t, decoded, "namespaces")
}
