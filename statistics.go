package persistlab

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Statistics collects factory-wide counters when generate_statistics is enabled.
// Counters stay at zero otherwise.
type Statistics struct {
	enabled bool

	prepareStatementCount  atomic.Int64
	entityInsertCount      atomic.Int64
	entityUpdateCount      atomic.Int64
	entityDeleteCount      atomic.Int64
	entityLoadCount        atomic.Int64
	entityFetchCount       atomic.Int64
	flushCount             atomic.Int64
	transactionCount       atomic.Int64
	successfulTransactions atomic.Int64
	secondLevelCacheHits   atomic.Int64
	secondLevelCacheMisses atomic.Int64
	secondLevelCachePuts   atomic.Int64

	regions sync.Map // map[string]*CacheRegionStatistics
}

func newStatistics(enabled bool) *Statistics {
	return &Statistics{enabled: enabled}
}

// IsEnabled reports whether counters are being collected.
func (s *Statistics) IsEnabled() bool { return s.enabled }

func (s *Statistics) inc(c *atomic.Int64) {
	if s.enabled {
		c.Add(1)
	}
}

func (s *Statistics) PrepareStatementCount() int64 { return s.prepareStatementCount.Load() }
func (s *Statistics) EntityInsertCount() int64     { return s.entityInsertCount.Load() }
func (s *Statistics) EntityUpdateCount() int64     { return s.entityUpdateCount.Load() }
func (s *Statistics) EntityDeleteCount() int64     { return s.entityDeleteCount.Load() }
func (s *Statistics) EntityLoadCount() int64       { return s.entityLoadCount.Load() }
func (s *Statistics) EntityFetchCount() int64      { return s.entityFetchCount.Load() }
func (s *Statistics) FlushCount() int64            { return s.flushCount.Load() }
func (s *Statistics) TransactionCount() int64      { return s.transactionCount.Load() }
func (s *Statistics) SuccessfulTransactionCount() int64 {
	return s.successfulTransactions.Load()
}
func (s *Statistics) SecondLevelCacheHitCount() int64  { return s.secondLevelCacheHits.Load() }
func (s *Statistics) SecondLevelCacheMissCount() int64 { return s.secondLevelCacheMisses.Load() }
func (s *Statistics) SecondLevelCachePutCount() int64  { return s.secondLevelCachePuts.Load() }

// RegionStatistics returns the counters of a cache region. Regions are named
// after the entity they cache.
func (s *Statistics) RegionStatistics(region string) *CacheRegionStatistics {
	actual, _ := s.regions.LoadOrStore(region, &CacheRegionStatistics{name: region})
	return actual.(*CacheRegionStatistics)
}

// RegionNames lists the regions that recorded any activity.
func (s *Statistics) RegionNames() []string {
	var names []string
	s.regions.Range(func(key, _ any) bool {
		names = append(names, key.(string))
		return true
	})
	sort.Strings(names)
	return names
}

// Clear resets every counter.
func (s *Statistics) Clear() {
	for _, c := range []*atomic.Int64{
		&s.prepareStatementCount, &s.entityInsertCount, &s.entityUpdateCount,
		&s.entityDeleteCount, &s.entityLoadCount, &s.entityFetchCount,
		&s.flushCount, &s.transactionCount, &s.successfulTransactions,
		&s.secondLevelCacheHits, &s.secondLevelCacheMisses, &s.secondLevelCachePuts,
	} {
		c.Store(0)
	}
	s.regions.Range(func(key, _ any) bool {
		s.regions.Delete(key)
		return true
	})
}

func (s *Statistics) regionHit(region string) {
	if s.enabled {
		s.secondLevelCacheHits.Add(1)
		s.RegionStatistics(region).hits.Add(1)
	}
}

func (s *Statistics) regionMiss(region string) {
	if s.enabled {
		s.secondLevelCacheMisses.Add(1)
		s.RegionStatistics(region).misses.Add(1)
	}
}

func (s *Statistics) regionPut(region string) {
	if s.enabled {
		s.secondLevelCachePuts.Add(1)
		s.RegionStatistics(region).puts.Add(1)
	}
}

// CacheRegionStatistics holds the hit, miss and put counters of one region.
type CacheRegionStatistics struct {
	name   string
	hits   atomic.Int64
	misses atomic.Int64
	puts   atomic.Int64
}

func (r *CacheRegionStatistics) Name() string     { return r.name }
func (r *CacheRegionStatistics) HitCount() int64  { return r.hits.Load() }
func (r *CacheRegionStatistics) MissCount() int64 { return r.misses.Load() }
func (r *CacheRegionStatistics) PutCount() int64  { return r.puts.Load() }
