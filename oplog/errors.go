package oplog

import (
	"errors"
	"fmt"
)

// ErrStreamEnded is returned by Stream.Next when the server-side cursor has
// been exhausted or closed. A healthy tailing cursor over oplog.rs never
// reaches this state; seeing it usually means the cursor was killed
// out-of-band or the node stopped being a replica set member.
var ErrStreamEnded = errors.New("oplog: stream ended: tailing cursor exhausted")

// MissingFieldError reports a required oplog record field that is absent or
// holds a value of the wrong BSON type.
type MissingFieldError struct {
	Field string
	Err   error
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("oplog: missing or mistyped field %q: %v", e.Field, e.Err)
}

func (e *MissingFieldError) Unwrap() error {
	return e.Err
}

// UnknownOperationError reports an "op" code outside the decodable set.
// This is a terminal classification for the record, not a transient failure:
// update ("u"), delete ("d"), command ("c") and database ("db") records are
// recognized categories but are intentionally not decoded.
type UnknownOperationError struct {
	Code string
}

func (e *UnknownOperationError) Error() string {
	return fmt.Sprintf("oplog: unknown operation %q", e.Code)
}

// DatabaseError wraps a failure reported by the underlying MongoDB
// connection, either while opening the tailing cursor or after the stream's
// retry budget for per-pull errors has been exhausted.
type DatabaseError struct {
	Op  string
	Err error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("oplog: %s: %v", e.Op, e.Err)
}

func (e *DatabaseError) Unwrap() error {
	return e.Err
}
