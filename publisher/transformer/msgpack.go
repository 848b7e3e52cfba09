package transformer

import (
	"fmt"

	"github.com/oplogtail/oplogtail/encoding"
	"github.com/oplogtail/oplogtail/publisher"
)

func init() {
	publisher.RegisterTransformer("msgpack", func() publisher.Transformer {
		return &MsgpackTransformer{}
	})
}

// MsgpackTransformer emits events as msgpack envelopes, for consumers that
// want a compact binary format instead of JSON.
type MsgpackTransformer struct{}

// Transform converts an event to a msgpack message
func (t *MsgpackTransformer) Transform(event publisher.Event) ([]byte, error) {
	data, err := encoding.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event %d: %w", event.ID, err)
	}
	return data, nil
}
