package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/channels/internal/channel"
	"github.com/rickgao/channels/internal/config"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// echoServer accepts WebSocket connections and echoes every frame back.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// syncBuffer is a bytes.Buffer safe for use from listener goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		wantEvent channel.Event
		wantBody  string
		wantErr   bool
	}{
		{name: "event only", line: "ping", wantEvent: "ping"},
		{name: "event with object", line: `chat {"text":"hi"}`, wantEvent: "chat", wantBody: `{"text":"hi"}`},
		{name: "surrounding space", line: "  chat   [1,2]  ", wantEvent: "chat", wantBody: "[1,2]"},
		{name: "empty", line: "   ", wantErr: true},
		{name: "invalid json", line: "chat {text}", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, payload, err := parseLine(tt.line)
			if tt.wantErr {
				if err == nil {
					t.Errorf("parseLine(%q) expected error", tt.line)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseLine(%q) unexpected error: %v", tt.line, err)
			}
			if event != tt.wantEvent {
				t.Errorf("event = %q, want %q", event, tt.wantEvent)
			}
			if tt.wantBody == "" {
				if payload != nil {
					t.Errorf("payload = %v, want nil", payload)
				}
				return
			}
			raw, ok := payload.(json.RawMessage)
			if !ok || string(raw) != tt.wantBody {
				t.Errorf("payload = %v, want %s", payload, tt.wantBody)
			}
		})
	}
}

func TestChannelOptions(t *testing.T) {
	ping := time.Duration(0)
	cfg := config.ChannelConfig{
		ReconnectInterval: config.Interval{Millis: 1500},
		Headers:           map[string]string{"authorization": "Bearer abc"},
		PingInterval:      &ping,
		WriteTimeout:      2 * time.Second,
		BufferSize:        16,
	}

	opts := channelOptions(cfg, quietLogger())

	if opts.ReconnectInterval != 1500 {
		t.Errorf("ReconnectInterval = %d, want 1500", opts.ReconnectInterval)
	}
	if got := opts.Socket.Header.Get("Authorization"); got != "Bearer abc" {
		t.Errorf("Authorization header = %q, want %q", got, "Bearer abc")
	}
	if opts.Socket.PingInterval != 0 {
		t.Errorf("PingInterval = %v, want 0 (heartbeat disabled)", opts.Socket.PingInterval)
	}
	if opts.Socket.BufferSize != 16 {
		t.Errorf("BufferSize = %d, want 16", opts.Socket.BufferSize)
	}
	if opts.ErrorHandler == nil {
		t.Error("ErrorHandler is nil")
	}
}

func TestHealthHandler(t *testing.T) {
	srv := echoServer(t)

	ch := channel.New(wsURL(srv), channel.Options{ReconnectInterval: 50}, quietLogger())
	defer ch.Close()

	handler := createHealthHandler(ch, nil)

	check := func() (int, healthResponse) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		var body healthResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode health body: %v", err)
		}
		return rec.Code, body
	}

	waitFor(t, "connected", ch.Connected)

	code, body := check()
	if code != http.StatusOK {
		t.Errorf("status code = %d, want 200", code)
	}
	if body.Status != "healthy" {
		t.Errorf("status = %q, want healthy", body.Status)
	}
	component, ok := body.Components["channel"].(map[string]any)
	if !ok {
		t.Fatalf("channel component = %v, want object", body.Components["channel"])
	}
	if _, ok := component["queue_len"]; !ok {
		t.Error("channel component has no queue_len")
	}

	ch.Close()

	code, body = check()
	if code != http.StatusServiceUnavailable {
		t.Errorf("status code after close = %d, want 503", code)
	}
	if body.Status != "unhealthy" {
		t.Errorf("status after close = %q, want unhealthy", body.Status)
	}
}

func TestSendLinesAndWatchEvents(t *testing.T) {
	srv := echoServer(t)

	ch := channel.New(wsURL(srv), channel.Options{ReconnectInterval: 50}, quietLogger())
	defer ch.Close()

	out := &syncBuffer{}
	watchEvents(ch, eventNames([]string{"chat"}), out)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := ch.WaitConnected(ctx); err != nil {
		t.Fatalf("WaitConnected failed: %v", err)
	}

	input := strings.NewReader("chat {\"text\":\"hi\"}\n\nbogus {nope}\n")
	sendLines(ctx, input, ch, quietLogger())

	waitFor(t, "echoed chat", func() bool {
		return strings.Contains(out.String(), `[chat] {"text":"hi"}`)
	})
	if strings.Contains(out.String(), "bogus") {
		t.Errorf("output contains invalid line: %q", out.String())
	}
}
