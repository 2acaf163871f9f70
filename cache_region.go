package persistlab

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
)

// softLockDuration bounds how long a READ_WRITE entry stays locked when a
// transaction never completes.
const softLockDuration = 30 * time.Second

// Region is the second-level cache area of one entity type.
type Region struct {
	name     string
	prefix   string
	strategy CacheConcurrency
	client   CacheClient
	ttl      time.Duration
	stats    *Statistics
}

func (r *Region) key(id int64) string {
	return fmt.Sprintf("%s:%s:%d", r.prefix, r.name, id)
}

func (r *Region) lockKey(id int64) string {
	return "lock:" + r.key(id)
}

// get looks an entry up and records a hit or a miss.
func (r *Region) get(ctx context.Context, id int64) (map[string]interface{}, bool) {
	entry, err := r.client.GetModel(ctx, r.key(id))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Warn("Second-level cache read failed", "region", r.name, "id", id, "error", err)
		}
		r.stats.regionMiss(r.name)
		return nil, false
	}
	r.stats.regionHit(r.name)
	return entry, true
}

// contains checks for an entry without touching statistics.
func (r *Region) contains(ctx context.Context, id int64) bool {
	_, err := r.client.GetModel(ctx, r.key(id))
	return err == nil
}

// put stores an entry and records a put.
func (r *Region) put(ctx context.Context, id int64, entry map[string]interface{}) {
	if err := r.client.SetModel(ctx, r.key(id), entry, r.ttl); err != nil {
		log.Warn("Second-level cache put failed", "region", r.name, "id", id, "error", err)
		return
	}
	r.stats.regionPut(r.name)
}

// putFromLoad caches a state read from the database unless a writer holds
// the entry's soft lock.
func (r *Region) putFromLoad(ctx context.Context, id int64, entry map[string]interface{}) {
	if r.strategy == CacheReadWrite {
		ok, err := r.client.AcquireLock(ctx, r.lockKey(id), softLockDuration)
		if err != nil || !ok {
			return
		}
		defer r.unlock(ctx, id)
	}
	r.put(ctx, id, entry)
}

func (r *Region) evict(ctx context.Context, id int64) {
	if err := r.client.DeleteModel(ctx, r.key(id)); err != nil {
		log.Warn("Second-level cache evict failed", "region", r.name, "id", id, "error", err)
	}
}

func (r *Region) evictAll(ctx context.Context) error {
	return r.client.DeleteByPrefix(ctx, fmt.Sprintf("%s:%s:", r.prefix, r.name))
}

// softLock marks the entry as being written so concurrent loads skip caching it.
func (r *Region) softLock(ctx context.Context, id int64) bool {
	ok, err := r.client.AcquireLock(ctx, r.lockKey(id), softLockDuration)
	if err != nil {
		log.Warn("Second-level cache soft lock failed", "region", r.name, "id", id, "error", err)
		return false
	}
	return ok
}

func (r *Region) unlock(ctx context.Context, id int64) {
	if err := r.client.ReleaseLock(ctx, r.lockKey(id)); err != nil {
		log.Warn("Second-level cache unlock failed", "region", r.name, "id", id, "error", err)
	}
}

// SecondLevelCache gives access to the cache regions of a factory.
type SecondLevelCache struct {
	f *Factory
}

func (c *SecondLevelCache) region(entity interface{}) (*Region, error) {
	t, err := entityType(entity)
	if err != nil {
		return nil, err
	}
	p, err := c.f.persister(t)
	if err != nil {
		return nil, err
	}
	if p.region == nil {
		return nil, fmt.Errorf("%w: %s is not cacheable", ErrCacheNotSet, p.name())
	}
	return p.region, nil
}

// Contains reports whether the entity of the given type and id is cached.
// entity may be a prototype such as &Account{} or a reflect.Type.
func (c *SecondLevelCache) Contains(ctx context.Context, entity interface{}, id int64) bool {
	r, err := c.region(entity)
	if err != nil {
		return false
	}
	return r.contains(ctx, id)
}

// Evict removes one entry.
func (c *SecondLevelCache) Evict(ctx context.Context, entity interface{}, id int64) error {
	r, err := c.region(entity)
	if err != nil {
		return err
	}
	r.evict(ctx, id)
	return nil
}

// EvictRegion removes every entry of one entity type.
func (c *SecondLevelCache) EvictRegion(ctx context.Context, entity interface{}) error {
	r, err := c.region(entity)
	if err != nil {
		return err
	}
	return r.evictAll(ctx)
}

// EvictAll removes every entry of every region.
func (c *SecondLevelCache) EvictAll(ctx context.Context) error {
	for _, p := range c.f.persisters {
		if p.region != nil {
			if err := p.region.evictAll(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// Client returns the storage behind the regions.
func (c *SecondLevelCache) Client() CacheClient {
	return c.f.cacheClient
}
