package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces snapshot keys in shared backends.
const DefaultKeyPrefix = "timequery:snapshot:"

// RedisStore implements the Store interface using Redis as a backend.
// It lets several daemon instances share published cell results, with
// configurable TTL-based expiration.
type RedisStore struct {
	client *redis.Client
	codec  *codec
	ttl    time.Duration
	prefix string
	mu     sync.RWMutex
}

// NewRedisStore creates a new Redis-backed store.
//
// Parameters:
//   - addr: Redis server address (e.g., "localhost:6379")
//   - password: Redis password (empty string for no auth)
//   - db: Redis database number (typically 0)
//   - ttl: Snapshot expiration duration (0 uses default of 30 minutes)
//
// Returns an error if the connection to Redis fails or if parameters are invalid.
func NewRedisStore(addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	if db < 0 {
		return nil, errors.New("redis database number must be >= 0")
	}

	if ttl == 0 {
		ttl = 30 * time.Minute
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	c, err := newCodec()
	if err != nil {
		client.Close()
		return nil, err
	}

	return &RedisStore{
		client: client,
		codec:  c,
		ttl:    ttl,
		prefix: DefaultKeyPrefix,
	}, nil
}

func (r *RedisStore) key(cell string) string {
	return r.prefix + cell
}

// Put stores a snapshot in Redis with TTL-based expiration.
// The key format is "timequery:snapshot:{cell}".
func (r *RedisStore) Put(ctx context.Context, s Snapshot) error {
	if err := ValidateCellName(s.Cell); err != nil {
		return err
	}

	data, err := r.codec.encode(s)
	if err != nil {
		return err
	}

	if err := r.client.Set(ctx, r.key(s.Cell), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store snapshot in redis: %w", err)
	}

	return nil
}

// GetLatest retrieves the latest snapshot of a cell.
//
// Returns:
//   - snapshot: The cell snapshot (zero value if not found)
//   - found: true if snapshot exists, false if not found
//   - error: non-nil if an error occurred (excluding "not found")
func (r *RedisStore) GetLatest(ctx context.Context, cell string) (Snapshot, bool, error) {
	if cell == "" {
		return Snapshot{}, false, errors.New("cell name required")
	}

	data, err := r.client.Get(ctx, r.key(cell)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, fmt.Errorf("failed to get snapshot from redis: %w", err)
	}

	snapshot, err := r.codec.decode(data)
	if err != nil {
		return Snapshot{}, false, err
	}

	return snapshot, true, nil
}

// Delete removes the snapshot of a cell.
func (r *RedisStore) Delete(ctx context.Context, cell string) (bool, error) {
	n, err := r.client.Del(ctx, r.key(cell)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to delete snapshot from redis: %w", err)
	}
	return n > 0, nil
}

// Close closes the Redis client connection.
// It is safe to call multiple times (idempotent).
func (r *RedisStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client == nil {
		return nil
	}

	err := r.client.Close()
	r.client = nil
	r.codec.close()
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}

	return err
}

// Ping checks the Redis connection health.
// Returns an error if the connection is unavailable.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
