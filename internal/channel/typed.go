package channel

import (
	"encoding/json"
)

// Handle subscribes a typed callback to event. The payload is decoded into T
// before fn runs; a payload that does not decode is reported as a
// *DecodeError and fn is skipped. A nil payload (lifecycle events, or an
// envelope without one) yields the zero T.
func Handle[T any](c *Channel, event Event, fn func(T)) *Listener {
	return c.On(event, func(payload json.RawMessage) {
		var v T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &v); err != nil {
				c.decodeErrors.Add(1)
				c.reportError(&DecodeError{Event: event, Data: payload, Err: err})
				return
			}
		}
		fn(v)
	})
}
