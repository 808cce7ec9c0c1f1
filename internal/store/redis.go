package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/rickgao/kalshi-sync/internal/metrics"
	"github.com/rickgao/kalshi-sync/internal/model"
)

// Config holds Redis store settings.
type Config struct {
	Addr           string
	Password       string
	DB             int
	KeyPrefix      string        // Default: "feedsync:"
	EventRetention time.Duration // Default: 24h
	MetricsTTL     time.Duration // Default: 1h
	DialTimeout    time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:           "localhost:6379",
		KeyPrefix:      "feedsync:",
		EventRetention: 24 * time.Hour,
		MetricsTTL:     time.Hour,
		DialTimeout:    5 * time.Second,
		ReadTimeout:    3 * time.Second,
		WriteTimeout:   3 * time.Second,
	}
}

// RedisStore implements Store on top of Redis.
type RedisStore struct {
	client  *redis.Client
	cfg     Config
	logger  *slog.Logger
	breaker *gobreaker.CircuitBreaker

	now func() time.Time
}

// NewRedisStore creates a store with its own Redis client. The client's
// lifecycle belongs to the caller via Close.
func NewRedisStore(cfg Config, logger *slog.Logger) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	return NewRedisStoreWithClient(client, cfg, logger)
}

// NewRedisStoreWithClient wraps an existing client (tests use a mock).
func NewRedisStoreWithClient(client *redis.Client, cfg Config, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "feedsync:"
	}
	if cfg.EventRetention == 0 {
		cfg.EventRetention = 24 * time.Hour
	}
	if cfg.MetricsTTL == 0 {
		cfg.MetricsTTL = time.Hour
	}

	// The breaker keeps a dead Redis from adding per-call latency on the
	// hot transition path; mutations fail fast while it is open.
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "reconnection-store",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &RedisStore{
		client:  client,
		cfg:     cfg,
		logger:  logger,
		breaker: breaker,
		now:     time.Now,
	}
}

// Close releases the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping verifies the store is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) recordsKey() string {
	return s.cfg.KeyPrefix + "connections"
}

func (s *RedisStore) eventsKey(serviceName string) string {
	return s.cfg.KeyPrefix + "events:" + serviceName
}

func (s *RedisStore) metricsKey(serviceName string) string {
	return s.cfg.KeyPrefix + "metrics:" + serviceName
}

// Put writes the whole record, replacing any previous one.
func (s *RedisStore) Put(ctx context.Context, record model.ConnectionStateRecord) bool {
	data, err := json.Marshal(record)
	if err != nil {
		s.mutationFailed("put", record.ServiceName, err)
		return false
	}

	_, err = s.breaker.Execute(func() (interface{}, error) {
		return nil, s.client.HSet(ctx, s.recordsKey(), record.ServiceName, data).Err()
	})
	if err != nil {
		s.mutationFailed("put", record.ServiceName, err)
		return false
	}
	return true
}

// Get returns the record for a service, nil when absent or undecodable.
func (s *RedisStore) Get(ctx context.Context, serviceName string) (*model.ConnectionStateRecord, error) {
	data, err := s.client.HGet(ctx, s.recordsKey(), serviceName).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get connection record: %w", err)
	}

	record, ok := s.decodeRecord(serviceName, []byte(data))
	if !ok {
		return nil, nil
	}
	return &record, nil
}

// GetAll returns every decodable record; malformed entries are skipped so
// one corrupted record cannot hide all other services' state.
func (s *RedisStore) GetAll(ctx context.Context) (map[string]model.ConnectionStateRecord, error) {
	raw, err := s.client.HGetAll(ctx, s.recordsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("get all connection records: %w", err)
	}

	records := make(map[string]model.ConnectionStateRecord, len(raw))
	for service, data := range raw {
		record, ok := s.decodeRecord(service, []byte(data))
		if !ok {
			continue
		}
		records[service] = record
	}
	return records, nil
}

// AppendEvent appends to the service's sorted event log and trims entries
// outside the retention window.
func (s *RedisStore) AppendEvent(ctx context.Context, event model.ReconnectionEvent) bool {
	data, err := json.Marshal(event)
	if err != nil {
		s.mutationFailed("append_event", event.ServiceName, err)
		return false
	}

	key := s.eventsKey(event.ServiceName)
	cutoff := event.Timestamp - s.cfg.EventRetention.Microseconds()

	_, err = s.breaker.Execute(func() (interface{}, error) {
		if err := s.client.ZAdd(ctx, key, redis.Z{
			Score:  float64(event.Timestamp),
			Member: string(data),
		}).Err(); err != nil {
			return nil, err
		}
		if err := s.client.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10)).Err(); err != nil {
			return nil, err
		}
		// Self-heal after prolonged silence.
		return nil, s.client.Expire(ctx, key, s.cfg.EventRetention).Err()
	})
	if err != nil {
		s.mutationFailed("append_event", event.ServiceName, err)
		return false
	}
	return true
}

// RecentEvents returns the service's events at or after since, oldest first.
func (s *RedisStore) RecentEvents(ctx context.Context, serviceName string, since time.Time) ([]model.ReconnectionEvent, error) {
	raw, err := s.client.ZRangeByScore(ctx, s.eventsKey(serviceName), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMicro(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("get recent events: %w", err)
	}

	events := make([]model.ReconnectionEvent, 0, len(raw))
	for _, data := range raw {
		var event model.ReconnectionEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			s.logger.Warn("skipping malformed stored event",
				"service", serviceName,
				"error", err,
			)
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// PutMetrics writes the service's counters with a TTL.
func (s *RedisStore) PutMetrics(ctx context.Context, m model.ServiceMetrics) bool {
	data, err := json.Marshal(m)
	if err != nil {
		s.mutationFailed("put_metrics", m.ServiceName, err)
		return false
	}

	_, err = s.breaker.Execute(func() (interface{}, error) {
		return nil, s.client.Set(ctx, s.metricsKey(m.ServiceName), data, s.cfg.MetricsTTL).Err()
	})
	if err != nil {
		s.mutationFailed("put_metrics", m.ServiceName, err)
		return false
	}
	return true
}

// GetMetrics returns the service's counters, nil when absent or undecodable.
func (s *RedisStore) GetMetrics(ctx context.Context, serviceName string) (*model.ServiceMetrics, error) {
	data, err := s.client.Get(ctx, s.metricsKey(serviceName)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get service metrics: %w", err)
	}

	var m model.ServiceMetrics
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		s.logger.Warn("skipping malformed stored metrics",
			"service", serviceName,
			"error", err,
		)
		return nil, nil
	}
	return &m, nil
}

// PruneStale removes records whose state_changed_at is older than maxAge,
// plus any record that no longer decodes. Returns the count removed.
func (s *RedisStore) PruneStale(ctx context.Context, maxAge time.Duration) (int, error) {
	raw, err := s.client.HGetAll(ctx, s.recordsKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("scan connection records: %w", err)
	}

	cutoff := s.now().Add(-maxAge).UnixMicro()
	var stale []string
	for service, data := range raw {
		record, ok := s.decodeRecord(service, []byte(data))
		if !ok || record.StateChangedAt < cutoff {
			stale = append(stale, service)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	if err := s.client.HDel(ctx, s.recordsKey(), stale...).Err(); err != nil {
		return 0, fmt.Errorf("prune stale records: %w", err)
	}

	s.logger.Info("pruned stale connection records",
		"count", len(stale),
		"max_age", maxAge,
	)
	return len(stale), nil
}

// decodeRecord parses a stored record, rejecting unknown state enum values.
func (s *RedisStore) decodeRecord(serviceName string, data []byte) (model.ConnectionStateRecord, bool) {
	var record model.ConnectionStateRecord
	if err := json.Unmarshal(data, &record); err != nil {
		s.logger.Warn("skipping malformed stored record",
			"service", serviceName,
			"error", err,
		)
		return model.ConnectionStateRecord{}, false
	}
	if !record.State.Valid() {
		s.logger.Warn("skipping stored record with unknown state",
			"service", serviceName,
			"state", record.State,
		)
		return model.ConnectionStateRecord{}, false
	}
	return record, true
}

func (s *RedisStore) mutationFailed(op, serviceName string, err error) {
	metrics.StoreWriteFailures.WithLabelValues(op).Inc()
	s.logger.Error("store mutation failed",
		"op", op,
		"service", serviceName,
		"error", err,
	)
}
