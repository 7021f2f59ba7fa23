package channel

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

type chatMessage struct {
	From string `json:"from"`
	Text string `json:"text"`
}

func TestHandle_DecodesPayload(t *testing.T) {
	d := newFakeDialer()
	c, sink := newTestChannel(t, d, 50)

	got := make(chan chatMessage, 2)
	Handle(c, "chat", func(m chatMessage) { got <- m })

	sock := d.next(t)
	waitFor(t, "connected", c.Connected)

	sock.deliver(`{"event":"chat","payload":{"from":"ana","text":"hi"}}`)

	select {
	case m := <-got:
		if m.From != "ana" || m.Text != "hi" {
			t.Errorf("message = %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("typed listener not invoked")
	}

	if errs := sink.all(); len(errs) != 0 {
		t.Errorf("unexpected errors: %v", errs)
	}
}

func TestHandle_BadPayloadIsReported(t *testing.T) {
	d := newFakeDialer()
	c, sink := newTestChannel(t, d, 50)

	var calls int
	Handle(c, "chat", func(chatMessage) { calls++ })

	// Dispatch straight through the registry; the socket is not needed.
	c.Registry().Dispatch("chat", json.RawMessage(`"not an object"`))

	if calls != 0 {
		t.Errorf("typed listener invoked %d times for a bad payload", calls)
	}

	errs := sink.all()
	if len(errs) != 1 {
		t.Fatalf("reported %d errors, want 1", len(errs))
	}
	var de *DecodeError
	if !errors.As(errs[0], &de) || de.Event != "chat" {
		t.Errorf("reported %v, want *DecodeError for chat", errs[0])
	}
}

func TestHandle_LifecycleZeroValue(t *testing.T) {
	d := newFakeDialer()
	c, _ := newTestChannel(t, d, 50)

	got := make(chan struct{}, 1)
	Handle(c, EventConnected, func(v struct{}) { got <- v })

	d.next(t)

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("typed lifecycle listener not invoked")
	}
}

func TestHandle_Unsubscribe(t *testing.T) {
	d := newFakeDialer()
	c, _ := newTestChannel(t, d, 50)

	var calls int
	l := Handle(c, "n", func(int) { calls++ })
	c.Unsubscribe("n", l)

	c.Registry().Dispatch("n", json.RawMessage(`1`))
	if calls != 0 {
		t.Errorf("calls = %d after Unsubscribe, want 0", calls)
	}
}
