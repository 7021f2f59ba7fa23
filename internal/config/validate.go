package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Channel.Address == "" {
		return errors.New("channel.address is required")
	}
	u, err := url.Parse(c.Channel.Address)
	if err != nil {
		return fmt.Errorf("channel.address: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("channel.address scheme must be ws or wss, got %q", u.Scheme)
	}
	if c.Channel.BufferSize < 1 {
		return errors.New("channel.buffer_size must be >= 1")
	}
	if c.Channel.PingInterval != nil && *c.Channel.PingInterval < 0 {
		return errors.New("channel.ping_interval must be >= 0")
	}

	if c.Journal.Enabled {
		if len(c.Channel.Events) == 0 {
			return errors.New("channel.events is required when journal is enabled")
		}
		if c.Journal.BatchSize < 1 {
			return errors.New("journal.batch_size must be >= 1")
		}
		if c.Journal.BufferSize < 1 {
			return errors.New("journal.buffer_size must be >= 1")
		}
		if err := c.Journal.Database.validate("journal.database"); err != nil {
			return err
		}
	}

	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
