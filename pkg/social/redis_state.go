package social

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStateStore keeps pending auth state in redis with a TTL, so the
// completing request can be served by any node. GETDEL gives the single-use
// consume without a round trip race.
type RedisStateStore struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisConfig holds the connection settings for the redis state store.
type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
	StateTTL time.Duration
}

// NewRedisStateStore connects to redis and verifies the connection.
func NewRedisStateStore(cfg RedisConfig) (*RedisStateStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB > 0 {
		opts.DB = cfg.DB
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ttl := cfg.StateTTL
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	return &RedisStateStore{client: client, ttl: ttl}, nil
}

// Client exposes the underlying redis client for health checks.
func (s *RedisStateStore) Client() *redis.Client { return s.client }

// NewRedisStateStoreWithClient wraps an existing client; used by tests.
func NewRedisStateStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStateStore {
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	return &RedisStateStore{client: client, ttl: ttl}
}

func redisStateKey(sessionID, provider string) string {
	return fmt.Sprintf("socialauth:pending:%s:%s", sessionID, provider)
}

// Save stores state for the session/provider pair with the configured TTL.
func (s *RedisStateStore) Save(ctx context.Context, sessionID, provider string, state *PendingAuthState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal pending state: %w", err)
	}
	return s.client.Set(ctx, redisStateKey(sessionID, provider), data, s.ttl).Err()
}

// Load returns the pending state without consuming it.
func (s *RedisStateStore) Load(ctx context.Context, sessionID, provider string) (*PendingAuthState, error) {
	data, err := s.client.Get(ctx, redisStateKey(sessionID, provider)).Result()
	return s.decode(data, err)
}

// Consume atomically returns and deletes the pending state.
func (s *RedisStateStore) Consume(ctx context.Context, sessionID, provider string) (*PendingAuthState, error) {
	data, err := s.client.GetDel(ctx, redisStateKey(sessionID, provider)).Result()
	return s.decode(data, err)
}

func (s *RedisStateStore) decode(data string, err error) (*PendingAuthState, error) {
	if err == redis.Nil {
		return nil, ErrMissingPendingState
	}
	if err != nil {
		return nil, fmt.Errorf("redis state fetch failed: %w", err)
	}
	var state PendingAuthState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending state: %w", err)
	}
	return &state, nil
}

// Ping checks redis connectivity, for health probes.
func (s *RedisStateStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying connection pool.
func (s *RedisStateStore) Close() error {
	return s.client.Close()
}
