package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/oplogtail/oplogtail/cfg"
	"github.com/oplogtail/oplogtail/oplog"
	"github.com/oplogtail/oplogtail/telemetry"
)

// RecordSource is the stream of raw oplog records the registry drains.
// *oplog.Stream satisfies it.
type RecordSource interface {
	Next(ctx context.Context) (bson.Raw, error)
}

// SinkFactory builds a sink from its configuration
type SinkFactory func(config cfg.SinkConfiguration) (Sink, error)

// TransformerFactory builds a transformer for a wire format
type TransformerFactory func() Transformer

var (
	factoriesMu          sync.RWMutex
	sinkFactories        = map[string]SinkFactory{}
	transformerFactories = map[string]TransformerFactory{}
)

// RegisterSink registers a sink factory under a type name ("nats", "kafka").
// Called from sink package init functions.
func RegisterSink(sinkType string, factory SinkFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	sinkFactories[sinkType] = factory
}

// RegisterTransformer registers a transformer factory under a format name.
// Called from transformer package init functions.
func RegisterTransformer(format string, factory TransformerFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	transformerFactories[format] = factory
}

func createSink(config cfg.SinkConfiguration) (Sink, error) {
	factoriesMu.RLock()
	factory, ok := sinkFactories[config.Type]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown sink type %q", config.Type)
	}
	return factory(config)
}

func createTransformer(format string) (Transformer, error) {
	if format == "" {
		format = "json"
	}
	factoriesMu.RLock()
	factory, ok := transformerFactories[format]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown transformer format %q", format)
	}
	return factory(), nil
}

// RegistryConfig configures the publisher registry
type RegistryConfig struct {
	Source      RecordSource              // Tail stream to drain
	Stats       *telemetry.StatsCollector // Per-namespace counters (optional)
	SinkConfigs []cfg.SinkConfiguration   // From config
}

// Registry owns the tail loop and the sink workers. It is the single
// consumer of the record source: records are pulled once, decoded once, and
// fanned out to every worker's queue.
type Registry struct {
	source  RecordSource
	stats   *telemetry.StatsCollector
	workers []*Worker
	running atomic.Bool
	mu      sync.Mutex
}

// NewRegistry creates a registry and its workers from sink configurations
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.Source == nil {
		return nil, fmt.Errorf("record source is required")
	}

	registry := &Registry{
		source:  config.Source,
		stats:   config.Stats,
		workers: make([]*Worker, 0, len(config.SinkConfigs)),
	}

	for _, sinkCfg := range config.SinkConfigs {
		if err := registry.AddSink(sinkCfg); err != nil {
			for _, worker := range registry.workers {
				worker.config.Sink.Close()
			}
			return nil, fmt.Errorf("failed to add sink %q: %w", sinkCfg.Name, err)
		}
	}

	log.Info().
		Int("workers", len(registry.workers)).
		Msg("Publisher registry initialized")

	return registry, nil
}

// AddSink creates and adds a new worker for the given sink configuration
func (r *Registry) AddSink(config cfg.SinkConfiguration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snk, err := createSink(config)
	if err != nil {
		return fmt.Errorf("failed to create sink: %w", err)
	}

	trans, err := createTransformer(config.Format)
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create transformer: %w", err)
	}

	filter, err := NewGlobFilter(config.FilterCollections, config.FilterDatabases)
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create filter: %w", err)
	}

	worker, err := NewWorker(WorkerConfig{
		Name:            config.Name,
		Sink:            snk,
		Transformer:     trans,
		Filter:          filter,
		TopicPrefix:     config.TopicPrefix,
		QueueSize:       config.QueueSize,
		RetryInitial:    time.Duration(config.RetryInitialMS) * time.Millisecond,
		RetryMax:        time.Duration(config.RetryMaxMS) * time.Millisecond,
		RetryMultiplier: config.RetryMultiplier,
		MaxRetries:      config.MaxRetries,
	})
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create worker: %w", err)
	}

	r.workers = append(r.workers, worker)

	log.Info().
		Str("sink", config.Name).
		Str("type", config.Type).
		Str("format", config.Format).
		Msg("Added sink")

	return nil
}

// Start starts all workers
func (r *Registry) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running.Load() {
		return fmt.Errorf("registry already running")
	}

	log.Info().Int("workers", len(r.workers)).Msg("Starting publisher registry")

	for _, worker := range r.workers {
		worker.Start()
	}

	r.running.Store(true)

	return nil
}

// Stop stops all workers and closes their sinks
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running.Swap(false) {
		return // Already stopped
	}

	log.Info().Msg("Stopping publisher registry")

	for _, worker := range r.workers {
		worker.Stop()
		if err := worker.config.Sink.Close(); err != nil {
			log.Warn().Err(err).Str("worker", worker.config.Name).Msg("Failed to close sink")
		}
	}

	log.Info().Msg("Publisher registry stopped")
}

// Run drains the record source until it ends or ctx is cancelled. Decode
// failures are counted and skipped, never fatal: the stream outlives any
// single malformed record. Returns the error that ended the stream.
func (r *Registry) Run(ctx context.Context) error {
	if !r.running.Load() {
		return fmt.Errorf("registry not running")
	}

	for {
		raw, err := r.source.Next(ctx)
		if err != nil {
			if errors.Is(err, oplog.ErrStreamEnded) {
				log.Warn().Msg("Oplog stream ended")
			}
			return err
		}

		op, err := oplog.Decode(raw)
		if err != nil {
			telemetry.DecodeErrorsTotal.With(decodeErrorReason(err)).Inc()
			if r.stats != nil {
				r.stats.RecordDecodeError()
			}
			log.Warn().Err(err).Msg("Skipping undecodable oplog record")
			continue
		}

		telemetry.OperationsDecodedTotal.With(op.Kind.Name()).Inc()

		event, err := EventFromOperation(op)
		if err != nil {
			telemetry.DecodeErrorsTotal.With("payload").Inc()
			log.Warn().Err(err).Int64("id", op.ID).Msg("Skipping record with unreadable payload")
			continue
		}

		if r.stats != nil {
			r.stats.Record(event.Namespace, event.Kind)
		}

		for _, worker := range r.workers {
			worker.Enqueue(event)
		}
	}
}

func decodeErrorReason(err error) string {
	var missing *oplog.MissingFieldError
	var unknown *oplog.UnknownOperationError

	switch {
	case errors.As(err, &missing):
		return "missing_field"
	case errors.As(err, &unknown):
		return "unknown_operation"
	default:
		return "other"
	}
}
