package connection

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// TimestampedMessage wraps raw frame data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw text frame from the WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// Config configures sockets created by a WebSocketDialer.
type Config struct {
	Header           http.Header   // Extra handshake headers
	HandshakeTimeout time.Duration // Dial handshake deadline
	PingInterval     time.Duration // Keepalive ping interval (0 disables heartbeat)
	PingTimeout      time.Duration // Max time without ping/pong before considering connection stale
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Message channel buffer size
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      90 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       256,
	}
}

// IsNormalClose reports whether err is a clean close handshake from the peer.
func IsNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
