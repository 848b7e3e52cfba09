// Package oplog decodes MongoDB replication oplog records into typed
// operations and exposes a blocking, live-tailing stream over the
// local/oplog.rs collection.
package oplog

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// Operation codes as they appear in the oplog "op" field.
const (
	opCodeNoop     = "n"
	opCodeInsert   = "i"
	opCodeUpdate   = "u"
	opCodeDelete   = "d"
	opCodeCommand  = "c"
	opCodeDatabase = "db"
)

// Kind is the closed set of oplog operation categories. Only Insert and Noop
// are ever produced by Decode; the remaining variants exist so the type is
// honest about the domain even though decoding them is unimplemented.
type Kind interface {
	// Name returns the short category name ("insert", "noop", ...).
	Name() string
	isKind()
}

// Insert is a document insertion into the given namespace.
type Insert struct {
	// Namespace is the qualified "database.collection" name the insert
	// applies to, referencing the string from the source record.
	Namespace string
}

// Update is a document update. Recognized but not decodable.
type Update struct{}

// Delete is a document removal. Recognized but not decodable.
type Delete struct{}

// Command is an applied database command. Recognized but not decodable.
type Command struct{}

// Database is a database-level operation. Recognized but not decodable.
type Database struct{}

// Noop is an informational no-op record (e.g. replica set initiation).
type Noop struct{}

func (Insert) Name() string   { return "insert" }
func (Update) Name() string   { return "update" }
func (Delete) Name() string   { return "delete" }
func (Command) Name() string  { return "command" }
func (Database) Name() string { return "database" }
func (Noop) Name() string     { return "noop" }

func (Insert) isKind()   {}
func (Update) isKind()   {}
func (Delete) isKind()   {}
func (Command) isKind()  {}
func (Database) isKind() {}
func (Noop) isKind()     {}

// Operation is a single decoded oplog record.
//
// Document is a view into the raw record's backing bytes, not a copy. An
// Operation must not be retained past the lifetime of the bson.Raw it was
// decoded from; callers that buffer operations must copy Document first.
type Operation struct {
	// ID is the record identifier from the "h" field, unique within the
	// source oplog.
	ID int64

	// Timestamp is the record's composite oplog timestamp converted to
	// calendar time. See timestampTime for the exact conversion.
	Timestamp time.Time

	// Document is the operation payload from the "o" field.
	Document bson.Raw

	Kind Kind
}

// Decode converts one raw oplog record into an Operation. It is pure and
// safe for concurrent use. Records whose "op" code is outside the decodable
// set fail with UnknownOperationError; absent or mistyped required fields
// fail with MissingFieldError. Errors never abort the stream the record came
// from; the caller decides whether to skip or halt.
func Decode(raw bson.Raw) (Operation, error) {
	op, err := lookupString(raw, "op")
	if err != nil {
		return Operation{}, err
	}

	switch op {
	case opCodeNoop:
		return decodeWithKind(raw, Noop{})
	case opCodeInsert:
		ns, err := lookupString(raw, "ns")
		if err != nil {
			return Operation{}, err
		}
		return decodeWithKind(raw, Insert{Namespace: ns})
	default:
		return Operation{}, &UnknownOperationError{Code: op}
	}
}

// decodeWithKind reads the fields common to every decodable kind.
func decodeWithKind(raw bson.Raw, kind Kind) (Operation, error) {
	h, err := lookupInt64(raw, "h")
	if err != nil {
		return Operation{}, err
	}

	ts, err := lookupTimestamp(raw, "ts")
	if err != nil {
		return Operation{}, err
	}

	doc, err := lookupDocument(raw, "o")
	if err != nil {
		return Operation{}, err
	}

	return Operation{
		ID:        h,
		Timestamp: timestampTime(ts),
		Document:  doc,
		Kind:      kind,
	}, nil
}

// timestampTime converts a packed oplog timestamp to calendar time. The high
// 32 bits are epoch seconds (arithmetic shift, so pre-epoch values stay
// negative) and the low 32 bits are the intra-second ordinal counter, scaled
// by 1e6 and truncated to uint32.
//
// Treating the ordinal as a millisecond count is questionable but preserved
// bit-for-bit: downstream consumers already depend on this exact arithmetic.
func timestampTime(packed int64) time.Time {
	seconds := packed >> 32
	nanoseconds := uint32((packed & 0xFFFFFFFF) * 1000000)

	return time.Unix(seconds, int64(nanoseconds)).UTC()
}

func lookupString(raw bson.Raw, field string) (string, error) {
	val, err := raw.LookupErr(field)
	if err != nil {
		return "", &MissingFieldError{Field: field, Err: err}
	}
	s, ok := val.StringValueOK()
	if !ok {
		return "", &MissingFieldError{Field: field, Err: fmt.Errorf("expected string, found %s", val.Type)}
	}
	return s, nil
}

func lookupInt64(raw bson.Raw, field string) (int64, error) {
	val, err := raw.LookupErr(field)
	if err != nil {
		return 0, &MissingFieldError{Field: field, Err: err}
	}
	i, ok := val.Int64OK()
	if !ok {
		return 0, &MissingFieldError{Field: field, Err: fmt.Errorf("expected int64, found %s", val.Type)}
	}
	return i, nil
}

func lookupTimestamp(raw bson.Raw, field string) (int64, error) {
	val, err := raw.LookupErr(field)
	if err != nil {
		return 0, &MissingFieldError{Field: field, Err: err}
	}
	t, i, ok := val.TimestampOK()
	if !ok {
		return 0, &MissingFieldError{Field: field, Err: fmt.Errorf("expected timestamp, found %s", val.Type)}
	}
	return int64(t)<<32 | int64(i), nil
}

func lookupDocument(raw bson.Raw, field string) (bson.Raw, error) {
	val, err := raw.LookupErr(field)
	if err != nil {
		return nil, &MissingFieldError{Field: field, Err: err}
	}
	doc, ok := val.DocumentOK()
	if !ok {
		return nil, &MissingFieldError{Field: field, Err: fmt.Errorf("expected document, found %s", val.Type)}
	}
	return doc, nil
}
