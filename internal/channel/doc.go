// Package channel implements the reconnecting event channel.
//
// A Channel keeps one WebSocket open to a fixed address and never gives up:
// every close, clean or not, is followed by a new attempt after a constant
// reconnect delay. Frames are JSON envelopes of the form
//
//	{"event": "<name>", "payload": <any JSON value>}
//
// Inbound envelopes are fanned out through a Registry to the listeners
// subscribed to the event name. The channel also emits two synthetic events
// with a nil payload, EventConnected and EventDisconnected, on every
// transition.
//
// Socket reactions and retry timers are serialized onto a single goroutine,
// so lifecycle events and inbound messages reach listeners one at a time and
// in the order they happened. Outbound messages are never queued: Send fails
// with ErrNotConnected while the socket is down.
package channel
