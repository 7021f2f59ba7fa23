package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Socket represents a single WebSocket connection.
type Socket interface {
	// Close closes the connection. Safe to call more than once.
	Close() error

	// Send writes one text frame. It returns ErrAlreadyClosed after Close
	// and ErrNotConnected after a read or heartbeat failure.
	Send(data []byte) error

	// Messages returns a channel of inbound text frames.
	// Each message includes a local timestamp for when it was received.
	Messages() <-chan TimestampedMessage

	// Errors returns the first read or heartbeat failure. Nothing is sent
	// after Close.
	Errors() <-chan error
}

// Dialer opens sockets.
type Dialer interface {
	Dial(ctx context.Context, url string) (Socket, error)
}

// WebSocketDialer dials gorilla/websocket connections.
type WebSocketDialer struct {
	cfg    Config
	logger *slog.Logger
}

// NewDialer creates a Dialer for real WebSocket connections.
func NewDialer(cfg Config, logger *slog.Logger) *WebSocketDialer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultConfig().HandshakeTimeout
	}
	return &WebSocketDialer{cfg: cfg, logger: logger}
}

// Dial establishes the WebSocket connection and starts its read loop.
func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Socket, error) {
	dialer := websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: d.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, url, d.cfg.Header.Clone())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	s := &socket{
		cfg:        d.cfg,
		logger:     d.logger,
		conn:       conn,
		messages:   make(chan TimestampedMessage, d.cfg.BufferSize),
		errors:     make(chan error, 1),
		done:       make(chan struct{}),
		connected:  true,
		lastPingAt: time.Now(),
	}

	// Server sends ping, we respond with pong
	conn.SetPingHandler(func(data string) error {
		s.touch()
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})

	// Server responds to our keepalive
	conn.SetPongHandler(func(string) error {
		s.touch()
		return nil
	})

	go s.readLoop()
	if d.cfg.PingInterval > 0 {
		go s.heartbeatLoop()
	}

	d.logger.Debug("websocket connected", "url", url)

	return s, nil
}

// socket implements the Socket interface.
type socket struct {
	cfg    Config
	logger *slog.Logger

	conn *websocket.Conn

	// Output channels
	messages chan TimestampedMessage
	errors   chan error
	done     chan struct{}

	// Write serialization
	writeMu sync.Mutex

	// State
	mu         sync.RWMutex
	connected  bool
	lastPingAt time.Time
	closed     bool
}

// Close closes the connection, attempting a close handshake first.
func (s *socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.connected = false
	s.mu.Unlock()

	// Signal goroutines to stop
	close(s.done)

	// Best effort; the peer may already be gone.
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return s.conn.Close()
}

// Send writes one text frame to the connection.
func (s *socket) Send(data []byte) error {
	s.mu.RLock()
	closed, connected := s.closed, s.connected
	s.mu.RUnlock()

	if closed {
		return ErrAlreadyClosed
	}
	if !connected {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Messages returns the messages channel.
func (s *socket) Messages() <-chan TimestampedMessage {
	return s.messages
}

// Errors returns the errors channel.
func (s *socket) Errors() <-chan error {
	return s.errors
}

func (s *socket) touch() {
	s.mu.Lock()
	s.lastPingAt = time.Now()
	s.mu.Unlock()
}

// fail reports err unless the socket was closed locally.
func (s *socket) fail(err error) {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()

	select {
	case <-s.done:
		return
	default:
	}

	select {
	case s.errors <- err:
	default:
	}
}

// readLoop reads frames and forwards them in order. A full buffer applies
// backpressure to the peer rather than dropping frames.
func (s *socket) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		receivedAt := time.Now() // Capture timestamp immediately

		if err != nil {
			s.fail(err)
			return
		}

		select {
		case s.messages <- TimestampedMessage{Data: data, ReceivedAt: receivedAt}:
		case <-s.done:
			return
		}
	}
}

// heartbeatLoop pings the server and detects stale connections.
func (s *socket) heartbeatLoop() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				s.logger.Debug("failed to send ping", "error", err)
			}

			if s.cfg.PingTimeout <= 0 {
				continue
			}

			s.mu.RLock()
			lastPing := s.lastPingAt
			s.mu.RUnlock()

			if time.Since(lastPing) > s.cfg.PingTimeout {
				s.logger.Warn("no ping received, connection stale",
					"last_ping", lastPing,
					"timeout", s.cfg.PingTimeout,
				)
				s.fail(ErrStaleConnection)
				return
			}
		}
	}
}
