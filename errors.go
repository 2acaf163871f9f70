package persistlab

import "errors"

// ErrNotFound is returned when a requested row or cache entry does not exist.
var ErrNotFound = errors.New("persistlab: requested item not found")

// Session and transaction state errors.
var (
	ErrSessionClosed     = errors.New("persistlab: session is closed")
	ErrFactoryClosed     = errors.New("persistlab: factory is closed")
	ErrTransactionDone   = errors.New("persistlab: transaction has already been committed or rolled back")
	ErrTransactionActive = errors.New("persistlab: a transaction is already active on this session")
	ErrNoTransaction     = errors.New("persistlab: no active transaction")
	ErrNilContext        = errors.New("persistlab: nil context provided")
)

// Entity state errors.
var (
	ErrUnknownEntity      = errors.New("persistlab: type is not an entity of this persistence unit")
	ErrDetachedEntity     = errors.New("persistlab: detached entity passed to persist")
	ErrEntityExists       = errors.New("persistlab: an entity with the same identifier is already managed")
	ErrNotManaged         = errors.New("persistlab: entity is not managed by this session")
	ErrTransientReference = errors.New("persistlab: association references an unsaved transient entity")
)

// Fetching errors.
var (
	// ErrLazyInitialization is returned when a lazy association is accessed after its session closed.
	ErrLazyInitialization = errors.New("persistlab: could not initialize lazy association, session is closed")
	// ErrMultipleBagFetch is returned when a query join-fetches more than one collection.
	ErrMultipleBagFetch   = errors.New("persistlab: cannot simultaneously fetch multiple bags")
	ErrUnknownAssociation = errors.New("persistlab: unknown association")
)

// Locking and caching errors.
var (
	// ErrLockTimeout is returned when NOWAIT or a lock timeout prevents acquiring a row lock.
	ErrLockTimeout = errors.New("persistlab: could not acquire row lock")
	// ErrReadOnlyCacheUpdate is returned when flushing a change to an entity cached READ_ONLY.
	ErrReadOnlyCacheUpdate = errors.New("persistlab: cannot update an entity cached as read-only")
	ErrCacheNotSet         = errors.New("persistlab: second-level cache is not enabled")
)

// Configuration errors.
var (
	ErrInvalidUnit   = errors.New("persistlab: invalid persistence unit")
	ErrSchemaDrift   = errors.New("persistlab: schema validation failed")
	ErrUnknownDriver = errors.New("persistlab: unknown data source driver")
)
