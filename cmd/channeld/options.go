package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/rickgao/channels/internal/channel"
	"github.com/rickgao/channels/internal/config"
	"github.com/rickgao/channels/internal/connection"
)

// channelOptions maps the channel config section onto channel.Options.
func channelOptions(cfg config.ChannelConfig, logger *slog.Logger) channel.Options {
	ping := config.DefaultPingInterval
	if cfg.PingInterval != nil {
		ping = *cfg.PingInterval
	}

	header := http.Header{}
	for k, v := range cfg.Headers {
		header.Set(k, v)
	}

	return channel.Options{
		ReconnectInterval: cfg.ReconnectInterval.Millis,
		ErrorHandler: func(err error) {
			logger.Warn("channel error", "error", err)
		},
		Socket: connection.Config{
			Header:           header,
			HandshakeTimeout: cfg.HandshakeTimeout,
			PingInterval:     ping,
			PingTimeout:      cfg.PingTimeout,
			WriteTimeout:     cfg.WriteTimeout,
			BufferSize:       cfg.BufferSize,
		},
	}
}

func eventNames(names []string) []channel.Event {
	events := make([]channel.Event, 0, len(names))
	for _, n := range names {
		events = append(events, channel.Event(n))
	}
	return events
}

// watchEvents prints lifecycle events and every configured event to out.
func watchEvents(ch *channel.Channel, events []channel.Event, out io.Writer) {
	var mu sync.Mutex
	printer := func(event channel.Event) func(json.RawMessage) {
		return func(payload json.RawMessage) {
			mu.Lock()
			defer mu.Unlock()
			if len(payload) == 0 {
				fmt.Fprintf(out, "[%s]\n", event)
				return
			}
			fmt.Fprintf(out, "[%s] %s\n", event, payload)
		}
	}

	ch.On(channel.EventConnected, printer(channel.EventConnected))
	ch.On(channel.EventDisconnected, printer(channel.EventDisconnected))
	for _, ev := range events {
		if ev.Lifecycle() {
			continue
		}
		ch.On(ev, printer(ev))
	}
}
