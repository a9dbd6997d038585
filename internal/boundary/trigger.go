package boundary

import (
	"encoding/json"
	"fmt"
	"io"
)

// DecodeTriggerMessage parses one TriggerMessage from r using a strict
// schema: unknown fields are rejected rather than silently ignored, so
// a malformed or mistyped trigger bus payload fails fast instead of
// producing a sender launched with zero-value parameters.
func DecodeTriggerMessage(r io.Reader) (TriggerMessage, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var msg TriggerMessage
	if err := dec.Decode(&msg); err != nil {
		return TriggerMessage{}, fmt.Errorf("decoding trigger message: %w", err)
	}
	if msg.DestinationTag == "" {
		return TriggerMessage{}, fmt.Errorf("trigger message missing destination_tag")
	}
	return msg, nil
}
