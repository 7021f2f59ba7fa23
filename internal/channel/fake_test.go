package channel

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/channels/internal/connection"
)

// fakeSocket is a connection.Socket driven by the test.
type fakeSocket struct {
	messages chan connection.TimestampedMessage
	errors   chan error

	mu     sync.Mutex
	sent   [][]byte
	closed bool
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		messages: make(chan connection.TimestampedMessage, 16),
		errors:   make(chan error, 1),
	}
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSocket) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return connection.ErrAlreadyClosed
	}
	s.sent = append(s.sent, append([]byte(nil), data...))
	return nil
}

func (s *fakeSocket) Messages() <-chan connection.TimestampedMessage { return s.messages }
func (s *fakeSocket) Errors() <-chan error                          { return s.errors }

// deliver simulates a frame from the peer.
func (s *fakeSocket) deliver(data string) {
	s.messages <- connection.TimestampedMessage{Data: []byte(data), ReceivedAt: time.Now()}
}

// fail simulates a transport error.
func (s *fakeSocket) fail(err error) {
	s.errors <- err
}

func (s *fakeSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSocket) sentFrames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	for i, b := range s.sent {
		out[i] = string(b)
	}
	return out
}

var errDialRefused = errors.New("connection refused")

// fakeDialer hands out fakeSockets. A dial only completes when the test
// accepts it with next, so listeners can be subscribed first and the
// Connecting state can be observed. Refused dials fail immediately.
type fakeDialer struct {
	mu     sync.Mutex
	refuse bool
	dials  int
	accept chan *fakeSocket
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{accept: make(chan *fakeSocket)}
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (connection.Socket, error) {
	d.mu.Lock()
	d.dials++
	refuse := d.refuse
	d.mu.Unlock()

	if refuse {
		return nil, errDialRefused
	}

	s := newFakeSocket()
	select {
	case d.accept <- s:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *fakeDialer) setRefuse(v bool) {
	d.mu.Lock()
	d.refuse = v
	d.mu.Unlock()
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// next completes the pending dial and returns its socket.
func (d *fakeDialer) next(t *testing.T) *fakeSocket {
	t.Helper()
	select {
	case s := <-d.accept:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for dial")
		return nil
	}
}

// recorder collects dispatched events in order.
type recorder struct {
	mu     sync.Mutex
	events []Event
	notify chan Event
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan Event, 64)}
}

func (r *recorder) listen(c *Channel, events ...Event) {
	for _, e := range events {
		e := e
		c.On(e, func(json.RawMessage) {
			r.mu.Lock()
			r.events = append(r.events, e)
			r.mu.Unlock()
			r.notify <- e
		})
	}
}

func (r *recorder) wait(t *testing.T, want Event) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-r.notify:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %q event", want)
		}
	}
}

func (r *recorder) seen() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// errorSink collects errors from Options.ErrorHandler.
type errorSink struct {
	mu   sync.Mutex
	errs []error
}

func (s *errorSink) handle(err error) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
}

func (s *errorSink) all() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}
