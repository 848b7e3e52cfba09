package telemetry

// Stream metrics
var (
	// StreamRecordsTotal counts raw records pulled from the tailing cursor
	StreamRecordsTotal Counter = NoopStat{}

	// StreamRetriesTotal counts cursor pull errors that were retried
	StreamRetriesTotal Counter = NoopStat{}
)

// Decode metrics
var (
	// OperationsDecodedTotal counts decoded operations by kind (insert, noop)
	OperationsDecodedTotal CounterVec = noopCounterVec{}

	// DecodeErrorsTotal counts decode failures by reason
	// (missing_field, unknown_operation)
	DecodeErrorsTotal CounterVec = noopCounterVec{}
)

// Publisher metrics
var (
	// EventsPublishedTotal counts events delivered per sink
	EventsPublishedTotal CounterVec = noopCounterVec{}

	// EventsFilteredTotal counts events skipped by namespace filters per sink
	EventsFilteredTotal CounterVec = noopCounterVec{}

	// EventsDroppedTotal counts events dropped on a full sink queue
	EventsDroppedTotal CounterVec = noopCounterVec{}

	// PublishRetriesTotal counts failed publish attempts that were retried
	PublishRetriesTotal CounterVec = noopCounterVec{}

	// SinkQueueDepth tracks the number of events waiting per sink
	SinkQueueDepth GaugeVec = noopGaugeVec{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after the registry exists.
func InitMetrics() {
	StreamRecordsTotal = NewCounter(
		"stream_records_total",
		"Raw records pulled from the oplog tailing cursor",
	)
	StreamRetriesTotal = NewCounter(
		"stream_retries_total",
		"Cursor pull errors absorbed and retried by the stream",
	)

	OperationsDecodedTotal = NewCounterVec(
		"operations_decoded_total",
		"Decoded oplog operations by kind",
		[]string{"kind"},
	)
	DecodeErrorsTotal = NewCounterVec(
		"decode_errors_total",
		"Oplog records that failed to decode by reason",
		[]string{"reason"},
	)

	EventsPublishedTotal = NewCounterVec(
		"events_published_total",
		"Events delivered to a sink",
		[]string{"sink"},
	)
	EventsFilteredTotal = NewCounterVec(
		"events_filtered_total",
		"Events skipped by namespace filters",
		[]string{"sink"},
	)
	EventsDroppedTotal = NewCounterVec(
		"events_dropped_total",
		"Events dropped because a sink queue was full",
		[]string{"sink"},
	)
	PublishRetriesTotal = NewCounterVec(
		"publish_retries_total",
		"Failed publish attempts that were retried",
		[]string{"sink"},
	)
	SinkQueueDepth = NewGaugeVec(
		"sink_queue_depth",
		"Events waiting in a sink's queue",
		[]string{"sink"},
	)
}
