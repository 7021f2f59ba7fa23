package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/rickgao/channels/internal/channel"
)

var errEmptyLine = errors.New("empty line")

// parseLine splits "event {json}" into an event name and payload. A line
// without a payload sends an empty object.
func parseLine(line string) (channel.Event, any, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", nil, errEmptyLine
	}

	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return channel.Event(name), nil, nil
	}
	if !json.Valid([]byte(rest)) {
		return "", nil, fmt.Errorf("payload for %q is not valid JSON", name)
	}
	return channel.Event(name), json.RawMessage(rest), nil
}

// sendLines reads events from r and sends them until EOF or ctx is done.
func sendLines(ctx context.Context, r io.Reader, ch *channel.Channel, logger *slog.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		event, payload, err := parseLine(scanner.Text())
		if errors.Is(err, errEmptyLine) {
			continue
		}
		if err != nil {
			logger.Warn("invalid input line", "error", err)
			continue
		}

		if err := ch.SendEvent(event, payload); err != nil {
			logger.Warn("send failed", "event", event, "error", err)
			continue
		}
		logger.Debug("sent event", "event", event)
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("stdin read failed", "error", err)
	}
}
