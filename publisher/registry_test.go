package publisher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/oplogtail/oplogtail/cfg"
	"github.com/oplogtail/oplogtail/oplog"
	"github.com/oplogtail/oplogtail/telemetry"
)

// fakeSource replays a fixed set of records, then ends the stream.
type fakeSource struct {
	records []bson.Raw
	index   int
}

func (f *fakeSource) Next(ctx context.Context) (bson.Raw, error) {
	if f.index >= len(f.records) {
		return nil, oplog.ErrStreamEnded
	}
	record := f.records[f.index]
	f.index++
	return record, nil
}

func rawInsertRecord(t *testing.T, id int64, ns string) bson.Raw {
	t.Helper()
	data, err := bson.Marshal(bson.D{
		{Key: "op", Value: "i"},
		{Key: "ns", Value: ns},
		{Key: "h", Value: id},
		{Key: "ts", Value: primitive.Timestamp{T: 1479561394, I: 0}},
		{Key: "o", Value: bson.D{{Key: "_id", Value: id}}},
	})
	require.NoError(t, err)
	return bson.Raw(data)
}

func rawGarbageRecord(t *testing.T) bson.Raw {
	t.Helper()
	data, err := bson.Marshal(bson.D{{Key: "op", Value: "u"}})
	require.NoError(t, err)
	return bson.Raw(data)
}

func newTestRegistry(t *testing.T, source RecordSource, workers ...*Worker) *Registry {
	t.Helper()
	registry := &Registry{
		source:  source,
		stats:   telemetry.NewStatsCollector(),
		workers: workers,
	}
	registry.running.Store(true)
	return registry
}

func newTestWorker(t *testing.T, snk Sink) *Worker {
	t.Helper()
	worker, err := NewWorker(WorkerConfig{
		Name:        "test",
		Sink:        snk,
		Transformer: &mockTransformer{},
		Filter:      &mockFilter{},
	})
	require.NoError(t, err)
	return worker
}

func TestRegistryRunFansOutEvents(t *testing.T) {
	source := &fakeSource{records: []bson.Raw{
		rawInsertRecord(t, 1, "app.users"),
		rawInsertRecord(t, 2, "app.orders"),
	}}

	snkA := &mockSink{}
	snkB := &mockSink{}
	workerA := newTestWorker(t, snkA)
	workerB := newTestWorker(t, snkB)
	workerA.Start()
	workerB.Start()
	defer workerA.Stop()
	defer workerB.Stop()

	registry := newTestRegistry(t, source, workerA, workerB)

	err := registry.Run(context.Background())
	assert.ErrorIs(t, err, oplog.ErrStreamEnded)

	require.Eventually(t, func() bool {
		return snkA.messageCount() == 2 && snkB.messageCount() == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRegistryRunSkipsUndecodableRecords(t *testing.T) {
	source := &fakeSource{records: []bson.Raw{
		rawGarbageRecord(t),
		rawInsertRecord(t, 1, "app.users"),
	}}

	snk := &mockSink{}
	worker := newTestWorker(t, snk)
	worker.Start()
	defer worker.Stop()

	stats := telemetry.NewStatsCollector()
	registry := &Registry{source: source, stats: stats, workers: []*Worker{worker}}
	registry.running.Store(true)

	err := registry.Run(context.Background())
	assert.ErrorIs(t, err, oplog.ErrStreamEnded)

	require.Eventually(t, func() bool {
		return snk.messageCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	snapshot := stats.Snapshot()
	assert.Equal(t, int64(1), snapshot.DecodeErrors)
}

func TestRegistryRunRequiresStart(t *testing.T) {
	registry := &Registry{source: &fakeSource{}}
	err := registry.Run(context.Background())
	assert.Error(t, err)
}

func TestNewRegistryRequiresSource(t *testing.T) {
	_, err := NewRegistry(RegistryConfig{})
	assert.Error(t, err)
}

func TestNewRegistryRejectsUnknownSinkType(t *testing.T) {
	_, err := NewRegistry(RegistryConfig{
		Source: &fakeSource{},
		SinkConfigs: []cfg.SinkConfiguration{
			{Name: "bad", Type: "carrier-pigeon"},
		},
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
}

func TestDecodeErrorReason(t *testing.T) {
	assert.Equal(t, "missing_field", decodeErrorReason(&oplog.MissingFieldError{Field: "ts"}))
	assert.Equal(t, "unknown_operation", decodeErrorReason(&oplog.UnknownOperationError{Code: "u"}))
	assert.Equal(t, "other", decodeErrorReason(context.Canceled))
}
