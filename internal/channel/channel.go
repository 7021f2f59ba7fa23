package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/rickgao/channels/internal/connection"
	"github.com/rickgao/channels/internal/loop"
)

// DefaultReconnectInterval is used when Options.ReconnectInterval is unset
// or invalid.
const DefaultReconnectInterval = 5000 // milliseconds

// Errors
var (
	ErrNotConnected             = connection.ErrNotConnected
	ErrClosed                   = errors.New("channel closed")
	ErrInvalidReconnectInterval = errors.New("reconnect interval must be a positive number of milliseconds")
)

// State is a Connection Manager state.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateAwaitingRetry
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAwaitingRetry:
		return "awaiting_retry"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Options configures a Channel.
type Options struct {
	// ReconnectInterval is the fixed delay in milliseconds before every new
	// connection attempt. Zero means DefaultReconnectInterval; a negative
	// value is reported as ErrInvalidReconnectInterval and also falls back.
	ReconnectInterval int

	// ErrorHandler receives decode errors, listener panics and configuration
	// errors. Transport errors are only logged; they feed the reconnect path.
	ErrorHandler func(error)

	// Dialer opens sockets. Nil means a WebSocket dialer built from Socket.
	Dialer connection.Dialer

	// Socket configures the default dialer.
	Socket connection.Config
}

// Stats provides counters about the channel.
type Stats struct {
	State          State
	Attempts       int64
	Opens          int64
	Messages       int64
	DecodeErrors   int64
	ListenerPanics int64
	Queue          loop.Stats // Pending reactions for the loop goroutine
}

type reactionKind int

const (
	kindConnect reactionKind = iota
	kindOpened
	kindMessage
	kindFailed
	kindClosed
)

// reaction is one unit of work for the loop goroutine. attempt ties socket
// reactions to the dial that produced them so late events from a replaced
// socket are dropped.
type reaction struct {
	kind    reactionKind
	attempt uuid.UUID
	sock    connection.Socket
	msg     connection.TimestampedMessage
	err     error
}

// waiter is a callback parked until the next open.
type waiter struct {
	fn func()
}

// Channel is a reconnecting publish/subscribe client over one WebSocket.
type Channel struct {
	address  string
	delay    time.Duration
	dialer   connection.Dialer
	onError  func(error)
	logger   *slog.Logger
	registry *Registry

	queue  *loop.Queue[reaction]
	ctx    context.Context
	cancel context.CancelFunc

	// Owned by the loop goroutine; guarded so Send, Close and the state
	// accessors can read it from elsewhere.
	mu        sync.RWMutex
	state     State
	connected bool
	closed    bool
	attempt   uuid.UUID
	sock      connection.Socket
	pumpStop  chan struct{}
	policy    backoff.BackOff
	retry     *time.Timer
	waiters   []*waiter

	attempts     atomic.Int64
	opens        atomic.Int64
	messages     atomic.Int64
	decodeErrors atomic.Int64
}

// New creates a Channel for address and starts connecting immediately.
func New(address string, opts Options, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "channel", "address", address)

	ctx, cancel := context.WithCancel(context.Background())

	c := &Channel{
		address: address,
		onError: opts.ErrorHandler,
		logger:  logger,
		queue:   loop.NewQueue[reaction](64),
		ctx:     ctx,
		cancel:  cancel,
		state:   StateConnecting,
	}
	c.registry = NewRegistry(logger, c.reportError)

	c.delay = time.Duration(DefaultReconnectInterval) * time.Millisecond
	switch {
	case opts.ReconnectInterval > 0:
		c.delay = time.Duration(opts.ReconnectInterval) * time.Millisecond
	case opts.ReconnectInterval < 0:
		c.reportError(fmt.Errorf("%w: got %d, using %d",
			ErrInvalidReconnectInterval, opts.ReconnectInterval, DefaultReconnectInterval))
	}
	c.policy = backoff.NewConstantBackOff(c.delay)

	c.dialer = opts.Dialer
	if c.dialer == nil {
		c.dialer = connection.NewDialer(opts.Socket, logger)
	}

	go c.run()
	c.post(reaction{kind: kindConnect})

	return c
}

// Address returns the target address.
func (c *Channel) Address() string {
	return c.address
}

// ReconnectDelay returns the fixed delay between a close and the next attempt.
func (c *Channel) ReconnectDelay() time.Duration {
	return c.delay
}

// Connected reports the most recent transition seen by the channel.
func (c *Channel) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// State returns the current Connection Manager state.
func (c *Channel) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Stats returns current counters.
func (c *Channel) Stats() Stats {
	return Stats{
		State:          c.State(),
		Attempts:       c.attempts.Load(),
		Opens:          c.opens.Load(),
		Messages:       c.messages.Load(),
		DecodeErrors:   c.decodeErrors.Load(),
		ListenerPanics: c.registry.Panics(),
		Queue:          c.queue.Stats(),
	}
}

// Registry exposes the listener registry.
func (c *Channel) Registry() *Registry {
	return c.registry
}

// Subscribe adds l to the listeners for event.
func (c *Channel) Subscribe(event Event, l *Listener) {
	c.registry.Subscribe(event, l)
}

// Unsubscribe removes every subscription of l to event.
func (c *Channel) Unsubscribe(event Event, l *Listener) {
	c.registry.Unsubscribe(event, l)
}

// On subscribes fn to event and returns the listener for Unsubscribe.
func (c *Channel) On(event Event, fn func(payload json.RawMessage)) *Listener {
	l := NewListener(fn)
	c.registry.Subscribe(event, l)
	return l
}

// Send JSON-encodes payload and writes it to the current socket. Nothing is
// buffered: while disconnected it returns ErrNotConnected.
func (c *Channel) Send(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return c.write(data)
}

// SendEvent sends the envelope {event, payload}. A nil payload is sent as {}.
func (c *Channel) SendEvent(event Event, payload any) error {
	data, err := encodeEvent(event, payload)
	if err != nil {
		return err
	}
	return c.write(data)
}

func (c *Channel) write(data []byte) error {
	c.mu.RLock()
	sock, closed := c.sock, c.closed
	c.mu.RUnlock()

	if closed {
		return ErrClosed
	}
	if sock == nil {
		return ErrNotConnected
	}
	err := sock.Send(data)
	if errors.Is(err, connection.ErrAlreadyClosed) {
		// Detached and closed by a reconnect while we were writing.
		return ErrNotConnected
	}
	return err
}

// AfterConnect runs fn once the channel is connected: immediately on the
// calling goroutine if it already is, otherwise on the loop goroutine right
// after the next "connected" dispatch. Pending callbacks are dropped by Close.
func (c *Channel) AfterConnect(fn func()) {
	if _, now := c.addWaiter(fn); now {
		fn()
	}
}

// WaitConnected blocks until the channel is connected, ctx is done, or the
// channel is closed. A wait abandoned through ctx leaves nothing parked.
func (c *Channel) WaitConnected(ctx context.Context) error {
	ready := make(chan struct{})
	var once sync.Once
	remove, now := c.addWaiter(func() { once.Do(func() { close(ready) }) })
	if now {
		return nil
	}
	if remove == nil {
		return ErrClosed
	}

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		remove()
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrClosed
	}
}

// addWaiter parks fn until the next open. now reports that the channel is
// already connected and fn was not parked; remove is nil unless fn was parked.
func (c *Channel) addWaiter(fn func()) (remove func(), now bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, false
	}
	if c.connected {
		return nil, true
	}

	w := &waiter{fn: fn}
	c.waiters = append(c.waiters, w)
	return func() { c.removeWaiter(w) }, false
}

func (c *Channel) removeWaiter(w *waiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := slices.Index(c.waiters, w); i >= 0 {
		c.waiters = slices.Delete(c.waiters, i, i+1)
	}
}

// Close stops reconnecting and closes the socket. No lifecycle events are
// emitted after Close. Safe to call more than once.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	c.state = StateClosed
	if c.retry != nil {
		c.retry.Stop()
	}
	c.waiters = nil
	old := c.detachLocked()
	c.mu.Unlock()

	c.cancel()
	c.queue.Close()
	discardPending(c.queue)

	c.logger.Info("channel closed")

	if old != nil {
		return old.Close()
	}
	return nil
}

func (c *Channel) post(r reaction) {
	c.queue.Push(r)
}

// run is the loop goroutine.
func (c *Channel) run() {
	for {
		select {
		case <-c.ctx.Done():
			discardPending(c.queue)
			return
		case <-c.queue.Ready():
		}

		for {
			r, ok := c.queue.TryPop()
			if !ok {
				break
			}
			if c.ctx.Err() != nil {
				discard(r)
				discardPending(c.queue)
				return
			}
			c.handle(r)
		}
	}
}

// discard releases a reaction that will never be handled.
func discard(r reaction) {
	if r.sock != nil {
		r.sock.Close()
	}
}

// discardPending empties q once the loop has stopped, closing sockets that
// were opened but never handed over.
func discardPending(q *loop.Queue[reaction]) {
	for _, r := range q.DrainTo(0) {
		discard(r)
	}
}

func (c *Channel) handle(r reaction) {
	switch r.kind {
	case kindConnect:
		c.connect(r.attempt)
	case kindOpened:
		c.opened(r)
	case kindMessage:
		c.message(r)
	case kindFailed:
		c.failed(r)
	case kindClosed:
		c.disconnected(r.attempt)
	}
}

// connect abandons the previous socket and dials a new one in the background.
func (c *Channel) connect(prev uuid.UUID) {
	c.mu.Lock()
	if c.closed || prev != c.attempt {
		c.mu.Unlock()
		return
	}
	old := c.detachLocked()
	attempt := uuid.New()
	c.attempt = attempt
	c.state = StateConnecting
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}

	c.attempts.Add(1)
	c.logger.Info("trying to connect", "attempt", attempt)

	go c.dial(attempt)
}

func (c *Channel) dial(attempt uuid.UUID) {
	sock, err := c.dialer.Dial(c.ctx, c.address)
	if err != nil {
		c.post(reaction{kind: kindFailed, attempt: attempt, err: err})
		return
	}
	if !c.queue.Push(reaction{kind: kindOpened, attempt: attempt, sock: sock}) {
		sock.Close()
	}
}

func (c *Channel) opened(r reaction) {
	c.mu.Lock()
	if c.closed || r.attempt != c.attempt || c.sock != nil {
		c.mu.Unlock()
		r.sock.Close()
		return
	}
	c.sock = r.sock
	c.pumpStop = make(chan struct{})
	c.connected = true
	c.state = StateConnected
	waiters := c.waiters
	c.waiters = nil
	stop := c.pumpStop
	c.mu.Unlock()

	c.policy.Reset()
	c.opens.Add(1)
	c.logger.Info("connection established", "attempt", r.attempt)

	go c.pump(r.attempt, r.sock, stop)

	c.registry.Dispatch(EventConnected, nil)
	for _, w := range waiters {
		c.runWaiter(w.fn)
	}
}

// pump forwards one socket's frames and its terminal error to the loop.
func (c *Channel) pump(attempt uuid.UUID, sock connection.Socket, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-c.ctx.Done():
			return
		case msg := <-sock.Messages():
			c.post(reaction{kind: kindMessage, attempt: attempt, msg: msg})
		case err := <-sock.Errors():
			// Frames read before the failure go first.
		drain:
			for {
				select {
				case msg := <-sock.Messages():
					c.post(reaction{kind: kindMessage, attempt: attempt, msg: msg})
				default:
					break drain
				}
			}

			kind := kindFailed
			if connection.IsNormalClose(err) {
				kind = kindClosed
			}
			c.post(reaction{kind: kind, attempt: attempt, err: err})
			return
		}
	}
}

func (c *Channel) message(r reaction) {
	if !c.isCurrent(r.attempt) {
		return
	}

	c.messages.Add(1)

	event, payload, err := decodeEnvelope(r.msg.Data)
	if err != nil {
		// Drop the frame, keep the connection.
		c.decodeErrors.Add(1)
		c.reportError(err)
		return
	}

	c.registry.Dispatch(event, payload)
}

// failed records a transport error, then funnels into the close path.
func (c *Channel) failed(r reaction) {
	c.mu.RLock()
	current := !c.closed && r.attempt == c.attempt
	c.mu.RUnlock()
	if !current {
		return
	}

	c.logger.Warn("connection error", "attempt", r.attempt, "error", r.err)
	c.disconnected(r.attempt)
}

// disconnected closes the socket, emits "disconnected" and schedules the
// next attempt. It runs after every close, including failed dials.
func (c *Channel) disconnected(attempt uuid.UUID) {
	c.mu.Lock()
	if c.closed || attempt != c.attempt {
		c.mu.Unlock()
		return
	}
	old := c.detachLocked()
	c.connected = false
	c.state = StateAwaitingRetry
	delay := c.policy.NextBackOff()
	c.retry = time.AfterFunc(delay, func() {
		c.post(reaction{kind: kindConnect, attempt: attempt})
	})
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}

	c.logger.Info("connection closed", "attempt", attempt, "retry_in", delay)

	c.registry.Dispatch(EventDisconnected, nil)
}

// detachLocked drops the socket reference and stops its pump. The caller
// closes the returned socket outside the lock.
func (c *Channel) detachLocked() connection.Socket {
	old := c.sock
	if old == nil {
		return nil
	}
	close(c.pumpStop)
	c.sock = nil
	c.pumpStop = nil
	return old
}

func (c *Channel) isCurrent(attempt uuid.UUID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed && c.sock != nil && attempt == c.attempt
}

func (c *Channel) runWaiter(fn func()) {
	defer func() {
		if v := recover(); v != nil {
			c.logger.Error("after-connect callback panicked", "panic", v)
			c.reportError(fmt.Errorf("after-connect callback panicked: %v", v))
		}
	}()
	fn()
}

// reportError is the diagnostics path for decode, configuration and
// listener errors. Without an ErrorHandler they are logged.
func (c *Channel) reportError(err error) {
	if c.onError != nil {
		c.onError(err)
		return
	}
	c.logger.Warn("channel error", "error", err)
}
