package channel

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event names a message type on the wire.
type Event string

// Synthetic lifecycle events emitted by the channel itself.
const (
	EventConnected    Event = "connected"
	EventDisconnected Event = "disconnected"
)

// Lifecycle reports whether e is generated locally rather than by the peer.
func (e Event) Lifecycle() bool {
	return e == EventConnected || e == EventDisconnected
}

// Envelope is the wire unit in both directions.
type Envelope struct {
	Event   Event `json:"event"`
	Payload any   `json:"payload"`
}

// inboundEnvelope defers payload decoding to the listener.
type inboundEnvelope struct {
	Event   *Event          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

var errMissingEvent = errors.New("envelope has no event name")

// DecodeError reports an inbound frame or payload that could not be decoded.
type DecodeError struct {
	Event Event  // Empty when the envelope itself was malformed
	Data  []byte // Offending bytes
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Event == "" {
		return fmt.Sprintf("decode envelope: %v", e.Err)
	}
	return fmt.Sprintf("decode %q payload: %v", e.Event, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// decodeEnvelope parses one inbound text frame.
func decodeEnvelope(data []byte) (Event, json.RawMessage, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, &DecodeError{Data: data, Err: err}
	}
	if env.Event == nil {
		return "", nil, &DecodeError{Data: data, Err: errMissingEvent}
	}
	return *env.Event, env.Payload, nil
}

// encodeEvent builds the outbound frame for SendEvent. A nil payload is sent
// as an empty object.
func encodeEvent(event Event, payload any) ([]byte, error) {
	if payload == nil {
		payload = struct{}{}
	}
	data, err := json.Marshal(Envelope{Event: event, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("encode %q envelope: %w", event, err)
	}
	return data, nil
}
