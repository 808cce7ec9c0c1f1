package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultWSURL              = "wss://api.elections.kalshi.com"
	DefaultStoreAddr          = "localhost:6379"
	DefaultStoreKeyPrefix     = "feedsync:"
	DefaultEventRetention     = 24 * time.Hour
	DefaultMetricsTTL         = time.Hour
	DefaultJanitorInterval    = 10 * time.Minute
	DefaultRecordMaxAge       = 24 * time.Hour
	DefaultPingInterval       = 15 * time.Second
	DefaultPongTimeout        = 5 * time.Second
	DefaultHealthInterval     = 5 * time.Second
	DefaultReconnectMin       = 1 * time.Second
	DefaultReconnectMax       = 60 * time.Second
	DefaultReconnectFactor    = 2.0
	DefaultSubscribeTimeout   = 10 * time.Second
	DefaultAlertGracePeriod   = 5 * time.Minute
	DefaultAlertHistorySize   = 256
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 10
	DefaultMinConns           = 2
	DefaultBatchSize          = 1000
	DefaultFlushInterval      = 1 * time.Second
	DefaultBufferSize         = 10000
	DefaultMetricsPort        = 9090
	DefaultMetricsPath        = "/metrics"
)

// Close codes that are never worth retrying: protocol error, unsupported
// data, invalid payload, policy violation.
var defaultTerminalCloseCodes = []int{1002, 1003, 1007, 1008}

func (c *Config) applyDefaults() {
	// Service defaults
	for i := range c.Services {
		if c.Services[i].WSURL == "" {
			c.Services[i].WSURL = DefaultWSURL
		}
	}

	// Store defaults
	if c.Store.Addr == "" {
		c.Store.Addr = DefaultStoreAddr
	}
	if c.Store.KeyPrefix == "" {
		c.Store.KeyPrefix = DefaultStoreKeyPrefix
	}
	if c.Store.EventRetention == 0 {
		c.Store.EventRetention = DefaultEventRetention
	}
	if c.Store.MetricsTTL == 0 {
		c.Store.MetricsTTL = DefaultMetricsTTL
	}
	if c.Store.JanitorInterval == 0 {
		c.Store.JanitorInterval = DefaultJanitorInterval
	}
	if c.Store.RecordMaxAge == 0 {
		c.Store.RecordMaxAge = DefaultRecordMaxAge
	}

	// Health defaults
	if c.Health.PingInterval == 0 {
		c.Health.PingInterval = DefaultPingInterval
	}
	if c.Health.PongTimeout == 0 {
		c.Health.PongTimeout = DefaultPongTimeout
	}
	if c.Health.CheckInterval == 0 {
		c.Health.CheckInterval = DefaultHealthInterval
	}

	// Reconnect defaults
	if c.Reconnect.MinInterval == 0 {
		c.Reconnect.MinInterval = DefaultReconnectMin
	}
	if c.Reconnect.MaxInterval == 0 {
		c.Reconnect.MaxInterval = DefaultReconnectMax
	}
	if c.Reconnect.Multiplier == 0 {
		c.Reconnect.Multiplier = DefaultReconnectFactor
	}
	if c.Reconnect.TerminalCloseCodes == nil {
		c.Reconnect.TerminalCloseCodes = defaultTerminalCloseCodes
	}
	if c.Reconnect.SubscribeTimeout == 0 {
		c.Reconnect.SubscribeTimeout = DefaultSubscribeTimeout
	}

	// Alerting defaults
	if c.Alerting.GracePeriod == 0 {
		c.Alerting.GracePeriod = DefaultAlertGracePeriod
	}
	if c.Alerting.HistorySize == 0 {
		c.Alerting.HistorySize = DefaultAlertHistorySize
	}

	// Database defaults
	applyDBDefaults(&c.Database.Timescale)

	// Writers defaults
	if c.Writers.BatchSize == 0 {
		c.Writers.BatchSize = DefaultBatchSize
	}
	if c.Writers.FlushInterval == 0 {
		c.Writers.FlushInterval = DefaultFlushInterval
	}
	if c.Writers.BufferSize == 0 {
		c.Writers.BufferSize = DefaultBufferSize
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
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
