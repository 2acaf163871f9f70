package persistlab

import (
	"context"
	"fmt"
)

// CacheConcurrency is the second-level cache strategy of an entity.
type CacheConcurrency int

const (
	CacheNone CacheConcurrency = iota
	// CacheReadOnly caches entities that are never updated; flushing an update fails.
	CacheReadOnly
	// CacheNonStrictReadWrite evicts the entry after commit without locking it.
	CacheNonStrictReadWrite
	// CacheReadWrite soft-locks the entry during the transaction and refreshes it after commit.
	CacheReadWrite
)

func (c CacheConcurrency) String() string {
	switch c {
	case CacheNone:
		return "NONE"
	case CacheReadOnly:
		return "READ_ONLY"
	case CacheNonStrictReadWrite:
		return "NONSTRICT_READ_WRITE"
	case CacheReadWrite:
		return "READ_WRITE"
	}
	return fmt.Sprintf("CacheConcurrency(%d)", int(c))
}

// Cacheable entities opt into the second-level cache.
//
//	func (Account) CacheConcurrency() persistlab.CacheConcurrency { return persistlab.CacheReadWrite }
type Cacheable interface {
	CacheConcurrency() CacheConcurrency
}

// Immutable entities are never updated: changes to a managed instance are ignored at flush.
type Immutable interface {
	Immutable() bool
}

// Entity callback methods. An entity declaring one of these has it invoked
// before the listeners registered on the factory for the same event.
type (
	PrePersister interface {
		PrePersist(ctx context.Context) error
	}
	PostPersister interface {
		PostPersist(ctx context.Context) error
	}
	PreUpdater interface {
		PreUpdate(ctx context.Context) error
	}
	PostUpdater interface {
		PostUpdate(ctx context.Context) error
	}
	PreRemover interface {
		PreRemove(ctx context.Context) error
	}
	PostRemover interface {
		PostRemove(ctx context.Context) error
	}
	PostLoader interface {
		PostLoad(ctx context.Context) error
	}
)
