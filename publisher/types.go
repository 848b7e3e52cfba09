package publisher

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/oplogtail/oplogtail/oplog"
)

// Event is a decoded oplog operation flattened for publishing. Unlike
// oplog.Operation it owns its payload: Document is copied out of the raw
// record so events can be queued past the cursor's next pull.
type Event struct {
	ID          int64  `msgpack:"id" json:"id"`
	Kind        string `msgpack:"kind" json:"kind"`
	Namespace   string `msgpack:"ns,omitempty" json:"ns,omitempty"`
	TimestampMS int64  `msgpack:"ts_ms" json:"ts_ms"`
	Document    bson.M `msgpack:"doc" json:"doc"`
}

// EventFromOperation copies an Operation into a self-contained Event.
func EventFromOperation(op oplog.Operation) (Event, error) {
	var doc bson.M
	if err := bson.Unmarshal(op.Document, &doc); err != nil {
		return Event{}, err
	}

	ev := Event{
		ID:          op.ID,
		Kind:        op.Kind.Name(),
		TimestampMS: op.Timestamp.UnixMilli(),
		Document:    doc,
	}
	if ins, ok := op.Kind.(oplog.Insert); ok {
		ev.Namespace = ins.Namespace
	}
	return ev, nil
}

// SplitNamespace splits a qualified "database.collection" namespace. The
// collection part may itself contain dots; only the first dot separates the
// database. Noop records carry an empty namespace, yielding two empty parts.
func SplitNamespace(ns string) (database, collection string) {
	database, collection, _ = strings.Cut(ns, ".")
	return database, collection
}

// Sink represents a destination for oplog events (e.g. Kafka, NATS)
type Sink interface {
	// Publish sends an event to the sink
	Publish(topic string, key string, value []byte) error
	// Close releases any resources held by the sink
	Close() error
}

// Transformer converts events to sink-specific wire formats
type Transformer interface {
	// Transform converts an event to bytes for publishing
	Transform(event Event) ([]byte, error)
}

// Filter determines whether an event should be published
type Filter interface {
	// Match returns true if the event should be published
	Match(database, collection string) bool
}
