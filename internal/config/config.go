package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for channeld.
type Config struct {
	Channel ChannelConfig `yaml:"channel"`
	Journal JournalConfig `yaml:"journal"`
	Health  HealthConfig  `yaml:"health"`
}

// ChannelConfig holds the connection settings for one channel.
type ChannelConfig struct {
	Address           string            `yaml:"address"`            // ws:// or wss:// URL
	ReconnectInterval Interval          `yaml:"reconnect_interval"` // Milliseconds, positive integer
	Headers           map[string]string `yaml:"headers"`            // Extra handshake headers
	HandshakeTimeout  time.Duration     `yaml:"handshake_timeout"`
	PingInterval      *time.Duration    `yaml:"ping_interval"` // 0s disables the heartbeat
	PingTimeout       time.Duration     `yaml:"ping_timeout"`
	WriteTimeout      time.Duration     `yaml:"write_timeout"`
	BufferSize        int               `yaml:"buffer_size"`
	Events            []string          `yaml:"events"` // Events to print and journal
}

// JournalConfig holds the optional received-event journal.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
	Database      DBConfig      `yaml:"database"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// HealthConfig holds the health endpoint settings.
type HealthConfig struct {
	Port int `yaml:"port"`
}

// Interval is a reconnect interval in milliseconds. Only positive YAML
// integers are accepted; anything else is remembered as invalid so the
// default can be applied with a warning instead of failing the load.
type Interval struct {
	Millis  int
	Raw     string // Value as written, for warnings
	Invalid bool
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (i *Interval) UnmarshalYAML(node *yaml.Node) error {
	*i = Interval{Raw: node.Value}

	if node.Kind == yaml.ScalarNode && node.ShortTag() == "!!int" {
		var n int
		if err := node.Decode(&n); err == nil && n > 0 {
			i.Millis = n
			return nil
		}
	}

	i.Invalid = true
	return nil
}

// Duration returns the interval as a time.Duration.
func (i Interval) Duration() time.Duration {
	return time.Duration(i.Millis) * time.Millisecond
}
