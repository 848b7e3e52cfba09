package oplog

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/oplogtail/oplogtail/telemetry"
)

// Cursor is the live tailing cursor capability consumed by Stream. It is the
// contract of a tailable-await cursor over the oplog collection;
// *mongo.Cursor satisfies it through the adapter in mongo.go.
type Cursor interface {
	// TryNext advances to the next available document, returning false when
	// no document is currently buffered or an error occurred.
	TryNext(ctx context.Context) bool
	// Current returns the document TryNext advanced to.
	Current() bson.Raw
	// Err returns the error from the last failed pull, or nil.
	Err() error
	// ID returns the server-side cursor ID. Zero means the server cursor is
	// exhausted or closed.
	ID() int64
	// Close releases the server-side cursor.
	Close(ctx context.Context) error
}

// Retry defaults, matching the publish retry tuning used elsewhere in the
// pipeline.
const (
	DefaultRetryInitial    = 100 * time.Millisecond
	DefaultRetryMax        = 30 * time.Second
	DefaultRetryMultiplier = 2.0
	DefaultMaxRetries      = 100
)

// RetryPolicy bounds how Stream handles per-pull cursor errors. Transient
// empty reads during a tailable await are not errors and never count against
// the budget.
type RetryPolicy struct {
	Initial    time.Duration // First backoff delay
	Max        time.Duration // Backoff cap
	Multiplier float64       // Exponential backoff multiplier
	MaxRetries int           // Consecutive failed pulls before surfacing (<= 0 selects the default)
}

// DefaultRetryPolicy returns the retry tuning used when a field is left zero.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Initial:    DefaultRetryInitial,
		Max:        DefaultRetryMax,
		Multiplier: DefaultRetryMultiplier,
		MaxRetries: DefaultMaxRetries,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.Initial <= 0 {
		p.Initial = def.Initial
	}
	if p.Max <= 0 {
		p.Max = def.Max
	}
	if p.Multiplier <= 0 {
		p.Multiplier = def.Multiplier
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = def.MaxRetries
	}
	return p
}

// Stream is a blocking, pull-based sequence of raw oplog records over a
// single live cursor. It never inspects record contents; pair it with Decode.
//
// Stream owns its cursor and must not be used from multiple goroutines
// without external synchronization.
type Stream struct {
	cursor Cursor
	policy RetryPolicy
}

// NewStream wraps an already-open tailable-await cursor. Zero policy fields
// fall back to defaults.
func NewStream(cursor Cursor, policy RetryPolicy) *Stream {
	return &Stream{
		cursor: cursor,
		policy: policy.withDefaults(),
	}
}

// Next blocks until the next oplog record is available and returns it. The
// returned bson.Raw is only valid until the following Next call.
//
// Empty reads during the server's await window are absorbed silently.
// Per-pull cursor errors are retried with exponential backoff up to the
// policy's budget; exhausting it surfaces the last error as a DatabaseError.
// A dead server cursor surfaces as ErrStreamEnded, and context cancellation
// as the context's error.
func (s *Stream) Next(ctx context.Context) (bson.Raw, error) {
	delay := s.policy.Initial
	attempts := 0

	for {
		if s.cursor.TryNext(ctx) {
			telemetry.StreamRecordsTotal.Inc()
			return s.cursor.Current(), nil
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := s.cursor.Err(); err != nil {
			attempts++
			telemetry.StreamRetriesTotal.Inc()

			if s.policy.MaxRetries > 0 && attempts >= s.policy.MaxRetries {
				return nil, &DatabaseError{Op: "pull next record", Err: err}
			}

			log.Warn().
				Err(err).
				Int("attempt", attempts).
				Dur("retry_delay", delay).
				Msg("Oplog cursor pull failed, retrying")

			if !sleepContext(ctx, delay) {
				return nil, ctx.Err()
			}

			delay = time.Duration(float64(delay) * s.policy.Multiplier)
			if delay > s.policy.Max {
				delay = s.policy.Max
			}
			continue
		}

		if s.cursor.ID() == 0 {
			return nil, ErrStreamEnded
		}

		// Await window elapsed with no new records. This is the normal
		// tailing idle state: reset the error budget and pull again.
		attempts = 0
		delay = s.policy.Initial
	}
}

// Close releases the underlying server-side cursor.
func (s *Stream) Close(ctx context.Context) error {
	return s.cursor.Close(ctx)
}

// sleepContext sleeps for d, returning false if ctx was cancelled first.
func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
