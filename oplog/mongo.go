package oplog

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// The replication oplog lives in a fixed namespace on every replica set
// member.
const (
	oplogDatabase   = "local"
	oplogCollection = "oplog.rs"
)

// OpenOptions tunes how the tailing cursor is opened.
type OpenOptions struct {
	// MaxAwaitTime bounds how long each server-side await blocks for new
	// records before returning an empty batch. Zero leaves the server
	// default in place.
	MaxAwaitTime time.Duration

	// Retry is the stream's per-pull error retry policy.
	Retry RetryPolicy
}

// Open opens a live tailing stream over the replica set oplog. The cursor is
// opened tailable-await with no idle timeout; a failure to open it surfaces
// immediately as a DatabaseError.
func Open(ctx context.Context, client *mongo.Client, opts OpenOptions) (*Stream, error) {
	coll := client.Database(oplogDatabase).Collection(oplogCollection)

	findOpts := options.Find().
		SetCursorType(options.TailableAwait).
		SetNoCursorTimeout(true)
	if opts.MaxAwaitTime > 0 {
		findOpts.SetMaxAwaitTime(opts.MaxAwaitTime)
	}

	cursor, err := coll.Find(ctx, bson.D{}, findOpts)
	if err != nil {
		return nil, &DatabaseError{Op: "open tailing cursor", Err: err}
	}

	log.Info().
		Str("namespace", oplogDatabase+"."+oplogCollection).
		Int64("cursor_id", cursor.ID()).
		Msg("Opened oplog tailing cursor")

	return NewStream(&mongoCursor{cursor}, opts.Retry), nil
}

// mongoCursor adapts *mongo.Cursor to the Cursor interface; the driver
// exposes the current document as a struct field rather than a method.
type mongoCursor struct {
	*mongo.Cursor
}

func (c *mongoCursor) Current() bson.Raw {
	return c.Cursor.Current
}
