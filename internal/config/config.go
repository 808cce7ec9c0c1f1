package config

import "time"

// Config is the root configuration for a feedsync instance.
type Config struct {
	Instance  InstanceConfig  `yaml:"instance"`
	Services  []ServiceConfig `yaml:"services"`
	Store     StoreConfig     `yaml:"store"`
	Health    HealthConfig    `yaml:"health"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Alerting  AlertingConfig  `yaml:"alerting"`
	Database  DatabaseConfig  `yaml:"database"`
	Writers   WritersConfig   `yaml:"writers"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// InstanceConfig identifies this feedsync instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
	AZ string `yaml:"az"`
}

// ServiceConfig describes one logical exchange feed connection.
type ServiceConfig struct {
	Name          string   `yaml:"name"`
	WSURL         string   `yaml:"ws_url"`
	APIKey        string   `yaml:"api_key"` // Bearer token (empty = no auth)
	Channels      []string `yaml:"channels"`
	MarketTickers []string `yaml:"market_tickers"`
}

// StoreConfig holds the Redis reconnection-state store settings.
type StoreConfig struct {
	Addr            string        `yaml:"addr"`
	Password        string        `yaml:"password"`
	DB              int           `yaml:"db"`
	KeyPrefix       string        `yaml:"key_prefix"`
	EventRetention  time.Duration `yaml:"event_retention"`
	MetricsTTL      time.Duration `yaml:"metrics_ttl"`
	JanitorInterval time.Duration `yaml:"janitor_interval"`
	RecordMaxAge    time.Duration `yaml:"record_max_age"`
}

// HealthConfig holds keepalive monitor settings.
type HealthConfig struct {
	PingInterval  time.Duration `yaml:"ping_interval"`
	PongTimeout   time.Duration `yaml:"pong_timeout"`
	CheckInterval time.Duration `yaml:"check_interval"`
}

// ReconnectConfig holds backoff and failure classification settings.
type ReconnectConfig struct {
	MinInterval        time.Duration `yaml:"min_interval"`
	MaxInterval        time.Duration `yaml:"max_interval"`
	Multiplier         float64       `yaml:"multiplier"`
	TerminalCloseCodes []int         `yaml:"terminal_close_codes"`
	SubscribeTimeout   time.Duration `yaml:"subscribe_timeout"`
}

// AlertingConfig holds alert gate settings.
type AlertingConfig struct {
	GracePeriod time.Duration `yaml:"grace_period"`
	HistorySize int           `yaml:"history_size"`
}

// DatabaseConfig holds the TimescaleDB connection for time-series data.
type DatabaseConfig struct {
	Timescale DBConfig `yaml:"timescale"`
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

// WritersConfig holds batch writer settings.
type WritersConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
