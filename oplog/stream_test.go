package oplog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

const (
	stepEmpty = iota
	stepDoc
	stepFail
)

type cursorStep struct {
	kind int
	doc  bson.Raw
	err  error
}

// fakeCursor replays a scripted sequence of pulls. Once the script is
// exhausted it behaves like a dead server cursor (ID zero, no error).
type fakeCursor struct {
	steps   []cursorStep
	idx     int
	current bson.Raw
	err     error
	closed  bool
}

func (c *fakeCursor) TryNext(ctx context.Context) bool {
	if c.idx >= len(c.steps) {
		c.err = nil
		return false
	}

	step := c.steps[c.idx]
	c.idx++

	switch step.kind {
	case stepDoc:
		c.current = step.doc
		c.err = nil
		return true
	case stepFail:
		c.err = step.err
		return false
	default:
		c.err = nil
		return false
	}
}

func (c *fakeCursor) Current() bson.Raw { return c.current }
func (c *fakeCursor) Err() error        { return c.err }

func (c *fakeCursor) ID() int64 {
	if c.idx >= len(c.steps) {
		return 0
	}
	return 42
}

func (c *fakeCursor) Close(ctx context.Context) error {
	c.closed = true
	return nil
}

func testDoc(t *testing.T, msg string) bson.Raw {
	t.Helper()
	raw, err := bson.Marshal(bson.D{{Key: "msg", Value: msg}})
	require.NoError(t, err)
	return bson.Raw(raw)
}

func fastRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Initial:    time.Microsecond,
		Max:        time.Millisecond,
		Multiplier: 2.0,
		MaxRetries: 100,
	}
}

func TestStreamAbsorbsTransientStates(t *testing.T) {
	docA := testDoc(t, "A")
	docB := testDoc(t, "B")

	cursor := &fakeCursor{steps: []cursorStep{
		{kind: stepEmpty},
		{kind: stepEmpty},
		{kind: stepFail, err: errors.New("connection reset")},
		{kind: stepDoc, doc: docA},
		{kind: stepEmpty},
		{kind: stepDoc, doc: docB},
	}}

	stream := NewStream(cursor, fastRetryPolicy())

	got, err := stream.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, docA, got)

	got, err = stream.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, docB, got)
}

func TestStreamSurfacesAfterRetryBudget(t *testing.T) {
	pullErr := errors.New("no reachable servers")
	cursor := &fakeCursor{steps: []cursorStep{
		{kind: stepFail, err: pullErr},
		{kind: stepFail, err: pullErr},
		{kind: stepFail, err: pullErr},
		{kind: stepFail, err: pullErr},
	}}

	policy := fastRetryPolicy()
	policy.MaxRetries = 3
	stream := NewStream(cursor, policy)

	_, err := stream.Next(context.Background())
	var dbErr *DatabaseError
	require.ErrorAs(t, err, &dbErr)
	assert.ErrorIs(t, err, pullErr)
}

func TestStreamEmptyReadsResetRetryBudget(t *testing.T) {
	pullErr := errors.New("transient")
	doc := testDoc(t, "after errors")

	// Two errors, an idle read, two more errors: with a budget of three the
	// idle read in between keeps the stream alive.
	cursor := &fakeCursor{steps: []cursorStep{
		{kind: stepFail, err: pullErr},
		{kind: stepFail, err: pullErr},
		{kind: stepEmpty},
		{kind: stepFail, err: pullErr},
		{kind: stepFail, err: pullErr},
		{kind: stepDoc, doc: doc},
	}}

	policy := fastRetryPolicy()
	policy.MaxRetries = 3
	stream := NewStream(cursor, policy)

	got, err := stream.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, doc, got)
}

func TestStreamEndsWhenCursorExhausted(t *testing.T) {
	cursor := &fakeCursor{steps: []cursorStep{
		{kind: stepDoc, doc: testDoc(t, "last")},
	}}

	stream := NewStream(cursor, fastRetryPolicy())

	_, err := stream.Next(context.Background())
	require.NoError(t, err)

	_, err = stream.Next(context.Background())
	assert.ErrorIs(t, err, ErrStreamEnded)
}

func TestStreamReturnsContextError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cursor := &fakeCursor{steps: []cursorStep{
		{kind: stepEmpty},
		{kind: stepEmpty},
	}}

	stream := NewStream(cursor, fastRetryPolicy())

	_, err := stream.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStreamCloseClosesCursor(t *testing.T) {
	cursor := &fakeCursor{}
	stream := NewStream(cursor, RetryPolicy{})

	require.NoError(t, stream.Close(context.Background()))
	assert.True(t, cursor.closed)
}

func TestRetryPolicyDefaults(t *testing.T) {
	p := RetryPolicy{}.withDefaults()
	assert.Equal(t, DefaultRetryInitial, p.Initial)
	assert.Equal(t, DefaultRetryMax, p.Max)
	assert.Equal(t, DefaultRetryMultiplier, p.Multiplier)
	assert.Equal(t, DefaultMaxRetries, p.MaxRetries)

	// Partially-filled policies keep their explicit fields.
	p = RetryPolicy{MaxRetries: 7}.withDefaults()
	assert.Equal(t, 7, p.MaxRetries)
	assert.Equal(t, DefaultRetryInitial, p.Initial)
}
