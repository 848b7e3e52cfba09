// Package transformer provides implementations of the publisher.Transformer
// interface for converting decoded oplog events to sink wire formats.
package transformer

import (
	"encoding/json"
	"fmt"

	"github.com/oplogtail/oplogtail/publisher"
)

func init() {
	publisher.RegisterTransformer("json", func() publisher.Transformer {
		return &JSONTransformer{}
	})
}

// JSONTransformer emits events as plain JSON envelopes. BSON payload values
// that have no JSON representation (ObjectId, Binary, dates) render through
// the driver's default marshalling of bson.M.
type JSONTransformer struct{}

// Transform converts an event to a JSON message
func (t *JSONTransformer) Transform(event publisher.Event) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event %d: %w", event.ID, err)
	}
	return data, nil
}
