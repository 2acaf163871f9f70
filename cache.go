package persistlab

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

func init() {
	gob.Register(time.Time{})
}

// ChannelLock is a one-slot lock that can be tried without blocking.
type ChannelLock struct {
	ch      chan struct{}
	mu      sync.Mutex
	expires time.Time
}

// NewChannelLock returns an unheld lock.
func NewChannelLock() *ChannelLock {
	return &ChannelLock{ch: make(chan struct{}, 1)}
}

// TryLock takes the lock unless it is held and its expiration has not passed.
func (l *ChannelLock) TryLock(expiration time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case l.ch <- struct{}{}:
	default:
		if l.expires.IsZero() || time.Now().Before(l.expires) {
			return false
		}
		// The previous holder's lease ran out; take over the slot.
	}
	l.expires = time.Time{}
	if expiration > 0 {
		l.expires = time.Now().Add(expiration)
	}
	return true
}

// Unlock releases the lock. It reports false when the lock was not held.
func (l *ChannelLock) Unlock() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.ch:
		l.expires = time.Time{}
		return true
	default:
		return false
	}
}

type localEntry struct {
	data    []byte
	expires time.Time
}

// localCache implements CacheClient in memory. Entries are gob-encoded so a
// cached state never aliases the entity it was taken from.
type localCache struct {
	store      sync.Map   // map[string]localEntry
	lockPool   sync.Map   // map[string]*ChannelLock
	counters   sync.Map   // map[string]int
	countersMu sync.Mutex // protects counters increment
}

// NewLocalCache returns the in-memory region storage used by cache.region.factory=local.
func NewLocalCache() CacheClient {
	return &localCache{}
}

func (m *localCache) GetModel(ctx context.Context, key string) (map[string]interface{}, error) {
	m.incrCounter("GetModel")
	raw, ok := m.store.Load(key)
	if !ok {
		m.incrCounter("GetModelMiss")
		return nil, ErrNotFound
	}
	entry := raw.(localEntry)
	if !entry.expires.IsZero() && time.Now().After(entry.expires) {
		m.store.Delete(key)
		m.incrCounter("GetModelMiss")
		return nil, ErrNotFound
	}
	var state map[string]interface{}
	if err := gob.NewDecoder(bytes.NewReader(entry.data)).Decode(&state); err != nil {
		log.Error("localCache: failed to decode entry", "key", key, "error", err)
		return nil, fmt.Errorf("localCache: gob decode error for key '%s': %w", key, err)
	}
	m.incrCounter("GetModelHit")
	return state, nil
}

func (m *localCache) SetModel(ctx context.Context, key string, state map[string]interface{}, expiration time.Duration) error {
	m.incrCounter("SetModel")
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(state); err != nil {
		return fmt.Errorf("localCache: gob encode error for key '%s': %w", key, err)
	}
	entry := localEntry{data: buf.Bytes()}
	if expiration > 0 {
		entry.expires = time.Now().Add(expiration)
	}
	m.store.Store(key, entry)
	return nil
}

func (m *localCache) DeleteModel(ctx context.Context, key string) error {
	m.incrCounter("DeleteModel")
	m.store.Delete(key)
	return nil
}

func (m *localCache) DeleteByPrefix(ctx context.Context, prefix string) error {
	m.incrCounter("DeleteByPrefix")
	m.store.Range(func(key, _ any) bool {
		if k, ok := key.(string); ok && strings.HasPrefix(k, prefix) {
			m.store.Delete(key)
		}
		return true
	})
	return nil
}

// getLock retrieves or creates a channel lock for the given key
func (m *localCache) getLock(key string) *ChannelLock {
	actual, _ := m.lockPool.LoadOrStore(key, NewChannelLock())
	return actual.(*ChannelLock)
}

func (m *localCache) AcquireLock(ctx context.Context, lockKey string, expiration time.Duration) (bool, error) {
	m.incrCounter("AcquireLock")
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return m.getLock(lockKey).TryLock(expiration), nil
}

func (m *localCache) ReleaseLock(ctx context.Context, lockKey string) error {
	m.incrCounter("ReleaseLock")
	if !m.getLock(lockKey).Unlock() {
		log.Warn("Attempted to release lock that was not held", "key", lockKey)
	}
	return nil
}

func (m *localCache) Close() error {
	m.store.Range(func(key, _ any) bool {
		m.store.Delete(key)
		return true
	})
	return nil
}

func (m *localCache) incrCounter(name string) {
	m.countersMu.Lock()
	defer m.countersMu.Unlock()
	val, _ := m.counters.LoadOrStore(name, 0)
	m.counters.Store(name, val.(int)+1)
}

func (m *localCache) GetCacheStats(ctx context.Context) CacheStats {
	clonedCounters := make(map[string]int)
	m.counters.Range(func(key, value any) bool {
		k, ok1 := key.(string)
		v, ok2 := value.(int)
		if ok1 && ok2 {
			clonedCounters[k] = v
		}
		return true
	})
	return CacheStats{Counters: clonedCounters}
}
