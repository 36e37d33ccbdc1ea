package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/meshworks/rag-gateway/internal/observability"
)

const (
	// DefaultCompressionThreshold is the payload size above which values
	// are gzip-compressed before transmission
	DefaultCompressionThreshold = 1024

	// DefaultOperationTimeout bounds every shared-tier call; on timeout
	// the call is reported as backend-unavailable, never retried inline
	DefaultOperationTimeout = 2 * time.Second

	defaultDialTimeout = 5 * time.Second
	defaultKeyPrefix   = "raggw:"
)

// RedisConfig configures the shared tier connection
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	Database     int           `mapstructure:"database"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`

	// OperationTimeout bounds each get/set/delete against the backend
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`

	// CompressionThreshold is the minimum payload size for compression
	CompressionThreshold int `mapstructure:"compression_threshold"`

	// KeyPrefix namespaces this gateway's keys within the shared backend
	KeyPrefix string `mapstructure:"key_prefix"`

	// MaxDialRetries bounds the exponential backoff on initial connect
	MaxDialRetries uint64 `mapstructure:"max_dial_retries"`
}

// DefaultRedisConfig returns the shared tier defaults
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:              true,
		Address:              "localhost:6379",
		Database:             0,
		DialTimeout:          defaultDialTimeout,
		ReadTimeout:          DefaultOperationTimeout,
		WriteTimeout:         DefaultOperationTimeout,
		PoolSize:             10,
		MinIdleConns:         2,
		OperationTimeout:     DefaultOperationTimeout,
		CompressionThreshold: DefaultCompressionThreshold,
		KeyPrefix:            defaultKeyPrefix,
		MaxDialRetries:       3,
	}
}

// RedisStore is the shared tier adapter. Payloads above the compression
// threshold are gzipped before transmission and transparently decompressed
// on read. All calls are routed through a circuit breaker: once the
// backend has failed repeatedly, calls short-circuit to
// ErrBackendUnavailable until the breaker half-opens.
type RedisStore struct {
	client  *redis.Client
	config  RedisConfig
	breaker *gobreaker.CircuitBreaker
	logger  observability.Logger
}

// NewRedisStore connects to the shared tier, retrying the initial ping
// with exponential backoff. Pool sizing and connection reuse are the
// client's responsibility.
func NewRedisStore(cfg RedisConfig, logger observability.Logger) (*RedisStore, error) {
	store := newRedisStore(cfg, logger)

	ctx, cancel := context.WithTimeout(context.Background(), store.config.DialTimeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = time.Second

	ping := func() error {
		return store.client.Ping(ctx).Err()
	}
	if err := backoff.Retry(ping, backoff.WithContext(backoff.WithMaxRetries(b, store.config.MaxDialRetries), ctx)); err != nil {
		_ = store.client.Close()
		return nil, fmt.Errorf("connect to shared tier at %s: %w", cfg.Address, err)
	}

	store.logger.Info("shared tier connected", map[string]interface{}{
		"address":   store.config.Address,
		"database":  store.config.Database,
		"pool_size": store.config.PoolSize,
	})

	return store, nil
}

// NewDeferredRedisStore creates the shared tier without requiring the
// backend to be reachable. Calls fail with ErrBackendUnavailable until the
// backend comes up; recovery is governed by the circuit breaker, so a tier
// that was down at startup starts serving as soon as it is back.
func NewDeferredRedisStore(cfg RedisConfig, logger observability.Logger) *RedisStore {
	store := newRedisStore(cfg, logger)
	store.logger.Info("shared tier connection deferred", map[string]interface{}{
		"address": store.config.Address,
	})
	return store
}

func newRedisStore(cfg RedisConfig, logger observability.Logger) *RedisStore {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	logger = logger.WithPrefix("redis-cache")

	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = DefaultOperationTimeout
	}
	if cfg.CompressionThreshold <= 0 {
		cfg.CompressionThreshold = DefaultCompressionThreshold
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	store := &RedisStore{
		client: client,
		config: cfg,
		logger: logger,
	}
	store.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "shared-tier",
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// A miss is an expected outcome, not a backend failure
			return err == nil || errors.Is(err, ErrCacheMiss)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})
	return store
}

// Get returns the payload for key, decompressed if it was stored
// compressed. Returns ErrCacheMiss when absent and ErrBackendUnavailable
// when the backend cannot answer.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := s.breaker.Execute(func() (interface{}, error) {
		opCtx, cancel := context.WithTimeout(ctx, s.config.OperationTimeout)
		defer cancel()

		data, err := s.client.Get(opCtx, s.makeKey(key)).Bytes()
		if err == redis.Nil {
			return nil, ErrCacheMiss
		}
		if err != nil {
			return nil, err
		}
		return data, nil
	})
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("%w: get %s: %v", ErrBackendUnavailable, key, err)
	}

	data := result.([]byte)
	if isCompressed(data) {
		decompressed, err := decompress(data)
		if err != nil {
			return nil, fmt.Errorf("decompress value for %s: %w", key, err)
		}
		data = decompressed
	}
	return data, nil
}

// Set stores the payload under key with the given TTL, compressing it
// when larger than the threshold. A compression failure falls back to
// storing the payload uncompressed rather than failing the set.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	// Compression is flagged by the gzip magic on the stored payload, so a
	// raw value that itself starts with the magic must also be compressed
	// or it would be wrongly inflated on read.
	payload := value
	if len(value) > s.config.CompressionThreshold || isCompressed(value) {
		compressed, err := compress(value)
		if err != nil {
			s.logger.Warn("compression failed, storing uncompressed", map[string]interface{}{
				"key":   key,
				"size":  len(value),
				"error": err.Error(),
			})
		} else {
			payload = compressed
		}
	}

	_, err := s.breaker.Execute(func() (interface{}, error) {
		opCtx, cancel := context.WithTimeout(ctx, s.config.OperationTimeout)
		defer cancel()
		return nil, s.client.Set(opCtx, s.makeKey(key), payload, ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrBackendUnavailable, key, err)
	}
	return nil
}

// Delete removes a key from the shared tier
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		opCtx, cancel := context.WithTimeout(ctx, s.config.OperationTimeout)
		defer cancel()
		return nil, s.client.Del(opCtx, s.makeKey(key)).Err()
	})
	if err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrBackendUnavailable, key, err)
	}
	return nil
}

// DeletePattern removes every key matching pattern under this gateway's
// prefix and returns the number deleted. Used by namespace-wide clears.
func (s *RedisStore) DeletePattern(ctx context.Context, pattern string) (int, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.config.OperationTimeout*10)
	defer cancel()

	deleted := 0
	iter := s.client.Scan(opCtx, 0, s.makeKey(pattern), 100).Iterator()
	for iter.Next(opCtx) {
		if err := s.client.Del(opCtx, iter.Val()).Err(); err != nil {
			s.logger.Warn("failed to delete key during clear", map[string]interface{}{
				"key":   iter.Val(),
				"error": err.Error(),
			})
			continue
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("%w: scan %s: %v", ErrBackendUnavailable, pattern, err)
	}
	return deleted, nil
}

// Ping reports backend reachability
func (s *RedisStore) Ping(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, s.config.OperationTimeout)
	defer cancel()

	if err := s.client.Ping(opCtx).Err(); err != nil {
		return fmt.Errorf("%w: ping: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Close releases the client's connection pool
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) makeKey(key string) string {
	return s.config.KeyPrefix + key
}

// isCompressed detects the gzip magic bytes. The write path guarantees
// that every stored payload starting with the magic is in fact gzipped.
func isCompressed(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}
