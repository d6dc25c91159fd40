package image

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Index maps source hashes to the image IDs they built. The image bytes
// themselves live in the artifact store under the ID.
type Index interface {
	Lookup(ctx context.Context, sourceHash string) (ID, bool, error)
	Record(ctx context.Context, sourceHash string, id ID) error
	Forget(ctx context.Context, sourceHash string) error
}

// MemoryIndex is a process-local Index.
type MemoryIndex struct {
	mu sync.RWMutex
	m  map[string]ID
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{m: make(map[string]ID)}
}

func (x *MemoryIndex) Lookup(_ context.Context, sourceHash string) (ID, bool, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	id, ok := x.m[sourceHash]
	return id, ok, nil
}

func (x *MemoryIndex) Record(_ context.Context, sourceHash string, id ID) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.m[sourceHash] = id
	return nil
}

func (x *MemoryIndex) Forget(_ context.Context, sourceHash string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.m, sourceHash)
	return nil
}

// RedisIndex shares the source-to-image mapping between hosts.
type RedisIndex struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisIndexConfig configures a RedisIndex. A zero TTL keeps entries forever.
type RedisIndexConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// NewRedisIndex creates an index backed by Redis. It does not dial until
// the first command.
func NewRedisIndex(cfg RedisIndexConfig) *RedisIndex {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "zkbench:image:"
	}
	return &RedisIndex{client: rdb, prefix: prefix, ttl: cfg.TTL}
}

// Ping checks connectivity.
func (x *RedisIndex) Ping(ctx context.Context) error {
	return x.client.Ping(ctx).Err()
}

func (x *RedisIndex) Lookup(ctx context.Context, sourceHash string) (ID, bool, error) {
	val, err := x.client.Get(ctx, x.prefix+sourceHash).Result()
	if errors.Is(err, redis.Nil) {
		return ID{}, false, nil
	}
	if err != nil {
		return ID{}, false, fmt.Errorf("redis index lookup: %w", err)
	}
	id, err := ParseID(val)
	if err != nil {
		return ID{}, false, fmt.Errorf("redis index entry %s: %w", sourceHash, err)
	}
	return id, true, nil
}

func (x *RedisIndex) Record(ctx context.Context, sourceHash string, id ID) error {
	if err := x.client.Set(ctx, x.prefix+sourceHash, id.String(), x.ttl).Err(); err != nil {
		return fmt.Errorf("redis index record: %w", err)
	}
	return nil
}

func (x *RedisIndex) Forget(ctx context.Context, sourceHash string) error {
	if err := x.client.Del(ctx, x.prefix+sourceHash).Err(); err != nil {
		return fmt.Errorf("redis index forget: %w", err)
	}
	return nil
}

// Close releases the client.
func (x *RedisIndex) Close() error {
	return x.client.Close()
}
