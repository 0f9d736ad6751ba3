package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements SnapshotStore on Redis, suitable for
// multi-node deployments where any node may recover a session saved
// by another.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	mu     sync.RWMutex
	closed bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string `yaml:"addr"`
	// Password is the Redis password (optional).
	Password string `yaml:"password"`
	// DB is the Redis database number.
	DB int `yaml:"db"`
	// Prefix is the key prefix for all snapshot keys
	// (default: "voxgo:session:").
	Prefix string `yaml:"prefix"`
	// TTL is the expiry applied to snapshot keys. Setting it to the
	// recovery window lets Redis discard snapshots that recovery
	// would reject anyway (0 = never expire).
	TTL time.Duration `yaml:"ttl"`
	// PoolSize is the connection pool size (default: 10).
	PoolSize int `yaml:"pool_size"`
}

// NewRedisStore creates a Redis snapshot store and verifies the
// connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisStoreFromClient(client, cfg.Prefix, cfg.TTL), nil
}

// NewRedisStoreFromClient creates a Redis store from an existing
// client. Useful for testing with miniredis.
func NewRedisStoreFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "voxgo:session:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (r *RedisStore) liveKey(sessionID string) string {
	return r.prefix + "live:" + sessionID
}

func (r *RedisStore) archiveKey(sessionID string) string {
	return r.prefix + "archive:" + sessionID
}

func (r *RedisStore) checkClosed() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrStoreClosed
	}
	return nil
}

// Save creates or replaces the live snapshot.
func (r *RedisStore) Save(ctx context.Context, snap *Snapshot) error {
	if err := r.checkClosed(); err != nil {
		return err
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := r.client.Set(ctx, r.liveKey(snap.ID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load returns the live snapshot, falling back to the archived one.
func (r *RedisStore) Load(ctx context.Context, sessionID string) (*Snapshot, error) {
	if err := r.checkClosed(); err != nil {
		return nil, err
	}

	data, err := r.client.Get(ctx, r.liveKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		data, err = r.client.Get(ctx, r.archiveKey(sessionID)).Bytes()
	}
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// Archive records a session leaving the table.
func (r *RedisStore) Archive(ctx context.Context, snap *Snapshot) error {
	if err := r.checkClosed(); err != nil {
		return err
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := r.client.Set(ctx, r.archiveKey(snap.ID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("archive snapshot: %w", err)
	}
	return nil
}

// Delete removes the live snapshot.
func (r *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := r.checkClosed(); err != nil {
		return err
	}

	if err := r.client.Del(ctx, r.liveKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// Close releases the client's connection pool.
func (r *RedisStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.client.Close()
}

// Ping checks that the Redis connection is alive.
func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.checkClosed(); err != nil {
		return err
	}
	return r.client.Ping(ctx).Err()
}
