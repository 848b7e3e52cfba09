package publisher

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"github.com/oplogtail/oplogtail/telemetry"
)

const (
	// Default number of events buffered per sink
	DefaultQueueSize = 1024
	// Default size of the namespace -> topic cache
	DefaultTopicCacheSize = 512
	// Default initial retry delay for failed publish operations
	DefaultRetryInitial = 100 * time.Millisecond
	// Default maximum retry delay (exponential backoff cap)
	DefaultRetryMax = 30 * time.Second
	// Default exponential backoff multiplier
	DefaultRetryMultiplier = 2.0
	// Maximum number of retry attempts before dropping an event
	DefaultMaxRetries = 100
)

// WorkerConfig configures one sink worker
type WorkerConfig struct {
	Name            string        // Sink name (for logging and metrics)
	Sink            Sink          // Destination sink
	Transformer     Transformer   // Event transformer
	Filter          Filter        // Event filter
	TopicPrefix     string        // Topic prefix (e.g. "oplog")
	QueueSize       int           // Buffered events before drops
	RetryInitial    time.Duration // Initial retry delay
	RetryMax        time.Duration // Max retry delay
	RetryMultiplier float64       // Backoff multiplier
	MaxRetries      int           // Maximum retry attempts (0 = default)
}

// Worker consumes decoded oplog events from its queue and publishes them to
// a sink. Events are delivered best-effort from the live tail: there is no
// persistent log behind the queue, so a full queue drops and a publish whose
// retry budget is exhausted drops. Both cases are counted.
type Worker struct {
	config      WorkerConfig
	queue       chan Event
	topics      *lru.Cache[string, string] // namespace -> topic
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     atomic.Bool
	lifecycleMu sync.Mutex // Protects Start/Stop lifecycle operations
}

// NewWorker creates a new sink worker
func NewWorker(config WorkerConfig) (*Worker, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("worker name is required")
	}
	if config.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if config.Transformer == nil {
		return nil, fmt.Errorf("transformer is required")
	}
	if config.Filter == nil {
		return nil, fmt.Errorf("filter is required")
	}

	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if config.RetryInitial <= 0 {
		config.RetryInitial = DefaultRetryInitial
	}
	if config.RetryMax <= 0 {
		config.RetryMax = DefaultRetryMax
	}
	if config.RetryMultiplier <= 0 {
		config.RetryMultiplier = DefaultRetryMultiplier
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}

	topics, err := lru.New[string, string](DefaultTopicCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create topic cache: %w", err)
	}

	return &Worker{
		config: config,
		queue:  make(chan Event, config.QueueSize),
		topics: topics,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Enqueue offers an event to the worker without blocking the tailing loop.
// Returns false if the queue was full and the event was dropped.
func (w *Worker) Enqueue(event Event) bool {
	select {
	case w.queue <- event:
		telemetry.SinkQueueDepth.With(w.config.Name).Set(float64(len(w.queue)))
		return true
	default:
		telemetry.EventsDroppedTotal.With(w.config.Name).Inc()
		log.Warn().
			Str("worker", w.config.Name).
			Int64("id", event.ID).
			Msg("Sink queue full, dropping event")
		return false
	}
}

// Start starts the worker goroutine
func (w *Worker) Start() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if w.running.Load() {
		return // Already running
	}

	w.running.Store(true)
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	log.Info().Str("worker", w.config.Name).Msg("Starting sink worker")

	go w.consumeLoop()
}

// Stop stops the worker gracefully
func (w *Worker) Stop() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if !w.running.Load() {
		return // Not running
	}

	log.Info().Str("worker", w.config.Name).Msg("Stopping sink worker")

	close(w.stopCh)
	<-w.doneCh // Wait for goroutine to finish
	w.running.Store(false)

	log.Info().Str("worker", w.config.Name).Msg("Sink worker stopped")
}

// consumeLoop is the main worker loop
func (w *Worker) consumeLoop() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		case event := <-w.queue:
			telemetry.SinkQueueDepth.With(w.config.Name).Set(float64(len(w.queue)))
			if err := w.processEvent(event); err != nil {
				log.Error().
					Err(err).
					Str("worker", w.config.Name).
					Int64("id", event.ID).
					Msg("Dropping event after failed publish")
			}
		}
	}
}

// processEvent filters, transforms and publishes a single event
func (w *Worker) processEvent(event Event) error {
	database, collection := SplitNamespace(event.Namespace)
	if !w.config.Filter.Match(database, collection) {
		telemetry.EventsFilteredTotal.With(w.config.Name).Inc()
		return nil
	}

	data, err := w.config.Transformer.Transform(event)
	if err != nil {
		return fmt.Errorf("failed to transform event: %w", err)
	}

	topic := w.topicFor(event.Namespace)
	key := eventKey(event)

	if err := w.publishWithRetry(topic, key, data); err != nil {
		return err
	}

	telemetry.EventsPublishedTotal.With(w.config.Name).Inc()
	return nil
}

// eventKey derives the sink message key. The namespace hash keeps keys
// fixed-width so same-namespace events land on the same partition.
func eventKey(event Event) string {
	return fmt.Sprintf("%016x-%d", xxhash.Sum64String(event.Namespace), event.ID)
}

// topicFor resolves the topic for a namespace, caching the split and join.
func (w *Worker) topicFor(namespace string) string {
	if topic, ok := w.topics.Get(namespace); ok {
		return topic
	}

	database, collection := SplitNamespace(namespace)
	topic := buildTopic(w.config.TopicPrefix, database, collection)
	w.topics.Add(namespace, topic)
	return topic
}

// buildTopic joins the non-empty topic segments. Noop records have no
// namespace and fall back to a bare "oplog" topic.
func buildTopic(prefix, database, collection string) string {
	parts := make([]string, 0, 3)
	if prefix != "" {
		parts = append(parts, prefix)
	}
	if database != "" {
		parts = append(parts, database)
	}
	if collection != "" {
		parts = append(parts, collection)
	}
	if len(parts) == 0 {
		return "oplog"
	}
	return strings.Join(parts, ".")
}

// publishWithRetry publishes data with exponential backoff retry
// Returns error if max retries exhausted or worker stopped
func (w *Worker) publishWithRetry(topic, key string, data []byte) error {
	delay := w.config.RetryInitial
	attempts := 0

	for {
		err := w.config.Sink.Publish(topic, key, data)
		if err == nil {
			return nil
		}

		attempts++
		telemetry.PublishRetriesTotal.With(w.config.Name).Inc()

		if w.config.MaxRetries > 0 && attempts >= w.config.MaxRetries {
			return fmt.Errorf("exhausted max retries (%d) for topic %s: %w", w.config.MaxRetries, topic, err)
		}

		log.Warn().
			Err(err).
			Str("worker", w.config.Name).
			Str("topic", topic).
			Int("attempt", attempts).
			Dur("retry_delay", delay).
			Msg("Failed to publish event, retrying")

		if !w.sleep(delay) {
			return fmt.Errorf("worker stopped during retry")
		}

		delay = time.Duration(float64(delay) * w.config.RetryMultiplier)
		if delay > w.config.RetryMax {
			delay = w.config.RetryMax
		}
	}
}

// sleep sleeps for the given duration, checking stopCh
// Returns true if sleep completed, false if stopped
func (w *Worker) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-w.stopCh:
		return false
	case <-timer.C:
		return true
	}
}
