package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if len(c.Services) == 0 {
		return errors.New("at least one service is required")
	}
	seen := make(map[string]bool, len(c.Services))
	for i, svc := range c.Services {
		if svc.Name == "" {
			return fmt.Errorf("services[%d].name is required", i)
		}
		if seen[svc.Name] {
			return fmt.Errorf("services[%d].name %q is duplicated", i, svc.Name)
		}
		seen[svc.Name] = true
		if svc.WSURL == "" {
			return fmt.Errorf("services[%d].ws_url is required", i)
		}
	}

	if c.Store.Addr == "" {
		return errors.New("store.addr is required")
	}
	if c.Store.EventRetention < 0 {
		return errors.New("store.event_retention must be >= 0")
	}

	if c.Health.PongTimeout >= c.Health.PingInterval {
		return fmt.Errorf("health.pong_timeout (%v) must be shorter than ping_interval (%v)",
			c.Health.PongTimeout, c.Health.PingInterval)
	}

	if c.Reconnect.MinInterval > c.Reconnect.MaxInterval {
		return fmt.Errorf("reconnect.min_interval (%v) cannot exceed max_interval (%v)",
			c.Reconnect.MinInterval, c.Reconnect.MaxInterval)
	}
	if c.Reconnect.Multiplier < 1 {
		return errors.New("reconnect.multiplier must be >= 1")
	}

	if c.Alerting.HistorySize < 1 {
		return errors.New("alerting.history_size must be >= 1")
	}

	if err := c.Database.Timescale.validate("database.timescale"); err != nil {
		return err
	}

	if c.Writers.BatchSize < 1 {
		return errors.New("writers.batch_size must be >= 1")
	}
	if c.Writers.BufferSize < 1 {
		return errors.New("writers.buffer_size must be >= 1")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
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
