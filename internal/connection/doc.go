// Package connection implements the socket layer under a Channel.
//
// A Socket is one WebSocket connection:
//   - Dialed through a Dialer so the channel can swap in fakes
//   - Reads frames on its own goroutine and exposes them on Messages
//   - Answers server pings and sends keepalive pings on an interval
//   - Reports the first read/heartbeat failure on Errors, then stops
//
// A Socket is never reused. Reconnecting means dialing a new one.
package connection
