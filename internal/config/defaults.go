package config

import (
	"fmt"
	"time"
)

// Default values for optional configuration fields.
const (
	DefaultReconnectInterval = 5000 // milliseconds
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultPingInterval      = 30 * time.Second
	DefaultPingTimeout       = 90 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
	DefaultSocketBufferSize  = 256
	DefaultBatchSize         = 500
	DefaultFlushInterval     = 1 * time.Second
	DefaultJournalBufferSize = 10000
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 4
	DefaultMinConns          = 1
	DefaultHealthPort        = 8080
)

func (c *Config) applyDefaults() {
	// Channel defaults
	if c.Channel.ReconnectInterval.Millis <= 0 {
		c.Channel.ReconnectInterval.Millis = DefaultReconnectInterval
	}
	if c.Channel.HandshakeTimeout == 0 {
		c.Channel.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Channel.PingInterval == nil {
		ping := DefaultPingInterval
		c.Channel.PingInterval = &ping
	}
	if c.Channel.PingTimeout == 0 {
		c.Channel.PingTimeout = DefaultPingTimeout
	}
	if c.Channel.WriteTimeout == 0 {
		c.Channel.WriteTimeout = DefaultWriteTimeout
	}
	if c.Channel.BufferSize == 0 {
		c.Channel.BufferSize = DefaultSocketBufferSize
	}

	// Journal defaults
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultJournalBufferSize
	}
	applyDBDefaults(&c.Journal.Database)

	// Health defaults
	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}

// Warnings lists settings that were ignored in favour of a default.
func (c *Config) Warnings() []string {
	var warnings []string
	if c.Channel.ReconnectInterval.Invalid {
		warnings = append(warnings, fmt.Sprintf(
			"channel.reconnect_interval %q is not a positive integer, using %dms",
			c.Channel.ReconnectInterval.Raw, DefaultReconnectInterval,
		))
	}
	return warnings
}
