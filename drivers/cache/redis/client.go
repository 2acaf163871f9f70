// Package redis stores second-level cache regions in Redis.
// Importing it registers the "redis" region factory.
package redis

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"github.com/goomon/persistlab"
)

func init() {
	persistlab.RegisterRegionFactory("redis", func(props persistlab.Properties) (persistlab.CacheClient, error) {
		return NewClient(nil, &Options{
			Addr:     props.String(persistlab.PropRedisAddr, "localhost:6379"),
			Password: props.String(persistlab.PropRedisPassword, ""),
			DB:       props.Int(persistlab.PropRedisDB, 0),
		})
	})
}

// client implements persistlab.CacheClient using Redis.
// The counters field tracks operation statistics for monitoring (thread-safe).
type client struct {
	redisClient       *redis.Client
	mu                sync.Mutex
	counters          map[string]int
	createdInternally bool
}

var (
	_ persistlab.CacheClient = (*client)(nil)
	_ io.Closer              = (*client)(nil)
)

func (c *client) incrementCounter(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counters == nil {
		c.counters = make(map[string]int)
	}
	c.counters[name]++
}

// Options holds configuration for the Redis client.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Close only closes the Redis connection when NewClient created it.
func (c *client) Close() error {
	if c.createdInternally && c.redisClient != nil {
		return c.redisClient.Close()
	}
	return nil
}

// NewClient creates a new Redis cache client wrapper.
// If redisCli is not nil it is used directly, otherwise opts builds a new one.
func NewClient(redisCli *redis.Client, opts *Options) (persistlab.CacheClient, error) {
	rdb := redisCli
	createdInternally := false
	if rdb == nil {
		if opts == nil {
			opts = &Options{}
		}
		rdb = redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		})
		createdInternally = true

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
	}

	log.Info("Redis cache client initialized", "addr", rdb.Options().Addr)
	return &client{redisClient: rdb, counters: make(map[string]int), createdInternally: createdInternally}, nil
}

// GetModel returns the disassembled state stored under key.
func (c *client) GetModel(ctx context.Context, key string) (map[string]interface{}, error) {
	c.incrementCounter("GetModel")
	val, err := c.redisClient.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		c.incrementCounter("GetModelMiss")
		return nil, persistlab.ErrNotFound
	} else if err != nil {
		c.incrementCounter("GetModelError")
		return nil, fmt.Errorf("redis Get error for key '%s': %w", key, err)
	}
	c.incrementCounter("GetModelHit")

	var state map[string]interface{}
	if err := gob.NewDecoder(bytes.NewReader(val)).Decode(&state); err != nil {
		return nil, fmt.Errorf("redis Gob decode error for key '%s': %w", key, err)
	}
	return state, nil
}

// SetModel stores state gob-encoded under key.
func (c *client) SetModel(ctx context.Context, key string, state map[string]interface{}, expiration time.Duration) error {
	c.incrementCounter("SetModel")
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(state); err != nil {
		return fmt.Errorf("redis Gob encode error for key '%s': %w", key, err)
	}
	if err := c.redisClient.Set(ctx, key, buf.Bytes(), expiration).Err(); err != nil {
		return fmt.Errorf("redis Set error for key '%s': %w", key, err)
	}
	return nil
}

func (c *client) DeleteModel(ctx context.Context, key string) error {
	c.incrementCounter("DeleteModel")
	err := c.redisClient.Del(ctx, key).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis Del error for key '%s': %w", key, err)
	}
	return nil
}

// AcquireLock tries to acquire a lock using Redis SETNX.
func (c *client) AcquireLock(ctx context.Context, lockKey string, expiration time.Duration) (bool, error) {
	c.incrementCounter("AcquireLock")
	acquired, err := c.redisClient.SetNX(ctx, lockKey, "1", expiration).Result()
	if err != nil {
		return false, fmt.Errorf("redis SetNX error for lock key '%s': %w", lockKey, err)
	}
	return acquired, nil
}

// ReleaseLock releases a lock by deleting the key.
func (c *client) ReleaseLock(ctx context.Context, lockKey string) error {
	c.incrementCounter("ReleaseLock")
	err := c.redisClient.Del(ctx, lockKey).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis Del error for lock key '%s': %w", lockKey, err)
	}
	return nil
}

// DeleteByPrefix removes all keys starting with prefix, iterating with SCAN.
func (c *client) DeleteByPrefix(ctx context.Context, prefix string) error {
	c.incrementCounter("DeleteByPrefix")
	const scanCount = 100
	var (
		cursor       uint64
		keysToDelete []string
	)
	for {
		keys, next, err := c.redisClient.Scan(ctx, cursor, prefix+"*", scanCount).Result()
		if err != nil {
			log.Error("Redis SCAN failed", "prefix", prefix, "error", err)
			return fmt.Errorf("redis SCAN error for prefix '%s': %w", prefix, err)
		}
		keysToDelete = append(keysToDelete, keys...)
		cursor = next
		if cursor == 0 {
			break
		}
	}

	if len(keysToDelete) == 0 {
		log.Debug("Redis cache: nothing to delete", "prefix", prefix)
		return nil
	}
	log.Debug("Redis cache: deleting keys", "prefix", prefix, "count", len(keysToDelete))
	if err := c.redisClient.Del(ctx, keysToDelete...).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis DEL error for prefix '%s': %w", prefix, err)
	}
	return nil
}

// GetCacheStats returns a copy of the operation counters.
func (c *client) GetCacheStats(ctx context.Context) persistlab.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := make(map[string]int, len(c.counters))
	for k, v := range c.counters {
		stats[k] = v
	}
	return persistlab.CacheStats{Counters: stats}
}
