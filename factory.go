package persistlab

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"go.uber.org/multierr"

	"github.com/goomon/persistlab/internal/schema"
)

// Factory is built once per persistence unit. It is safe for concurrent use
// and hands out single-goroutine Sessions.
type Factory struct {
	unit        *PersistenceUnit
	db          DBAdapter
	builder     *SQLBuilder
	persisters  map[reflect.Type]*entityPersister
	ordered     []*entityPersister // referenced tables first
	cacheClient CacheClient
	ownsCache   bool
	cache       *SecondLevelCache
	stats       *Statistics
	listeners   *listenerRegistry
	logger      *log.Logger

	flushMode       FlushMode
	defaultReadOnly bool
	batchSize       int
	formatSQL       bool
	schemaAction    string

	closed atomic.Bool
}

// NewFactory validates unit, builds the entity metadata, applies the schema
// action and sets up the second-level cache.
func NewFactory(ctx context.Context, unit *PersistenceUnit) (*Factory, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if unit == nil {
		return nil, fmt.Errorf("%w: nil unit", ErrInvalidUnit)
	}
	if err := unit.Validate(); err != nil {
		return nil, err
	}
	props := unit.Properties
	flushMode, _ := ParseFlushMode(props.String(PropFlushMode, FlushAuto.String()))

	f := &Factory{
		unit:            unit,
		db:              unit.DataSource,
		builder:         NewSQLBuilder(unit.DataSource.Dialect()),
		persisters:      make(map[reflect.Type]*entityPersister, len(unit.Entities)),
		stats:           newStatistics(props.Bool(PropGenerateStatistics, false)),
		listeners:       newListenerRegistry(),
		logger:          log.With("unit", unit.Name),
		flushMode:       flushMode,
		defaultReadOnly: props.Bool(PropDefaultReadOnly, false),
		batchSize:       props.Int(PropBatchSize, 0),
		formatSQL:       props.Bool(PropFormatSQL, false),
		schemaAction:    props.String(PropSchemaAction, SchemaNone),
	}
	f.cache = &SecondLevelCache{f: f}

	if err := f.buildPersisters(); err != nil {
		return nil, err
	}
	if err := f.setupCache(); err != nil {
		return nil, err
	}
	if err := f.applySchema(ctx); err != nil {
		if f.ownsCache {
			_ = f.cacheClient.Close()
		}
		return nil, err
	}

	f.logger.Info("Persistence unit ready",
		"dialect", f.db.Dialect().Name(),
		"entities", len(f.persisters),
		"schema", f.schemaAction,
		"flush_mode", f.flushMode,
		"second_level_cache", f.cacheClient != nil,
		"statistics", f.stats.IsEnabled())
	return f, nil
}

func (f *Factory) buildPersisters() error {
	metas := make([]*schema.EntityMeta, 0, len(f.unit.Entities))
	for _, e := range f.unit.Entities {
		t, err := entityType(e)
		if err != nil {
			return err
		}
		if _, dup := f.persisters[t]; dup {
			continue
		}
		p, err := newPersister(t)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidUnit, err)
		}
		f.persisters[t] = p
		metas = append(metas, p.meta)
	}
	for _, p := range f.persisters {
		for _, a := range p.meta.Associations {
			target, ok := f.persisters[a.Target]
			if !ok {
				return fmt.Errorf("%w: %s.%s targets %s which is not listed in unit %s",
					ErrInvalidUnit, p.name(), a.Name, a.Target.Name(), f.unit.Name)
			}
			p.targets[a.Name] = target
		}
	}
	ordered, err := schema.CreationOrder(metas)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidUnit, err)
	}
	for _, m := range ordered {
		f.ordered = append(f.ordered, f.persisters[m.Type])
	}
	return nil
}

func (f *Factory) setupCache() error {
	props := f.unit.Properties
	if !props.Bool(PropUseSecondLevelCache, false) {
		return nil
	}
	client := f.unit.CacheClient
	if client == nil {
		var err error
		client, err = openRegionFactory(props.String(PropRegionFactory, "local"), props)
		if err != nil {
			return err
		}
		f.ownsCache = true
	}
	f.cacheClient = client
	ttl := props.Duration(PropCacheTTL, DefaultCacheTTL)
	for _, p := range f.ordered {
		if p.cache == CacheNone {
			continue
		}
		p.region = &Region{
			name:     p.name(),
			prefix:   f.unit.Name,
			strategy: p.cache,
			client:   client,
			ttl:      ttl,
			stats:    f.stats,
		}
	}
	return nil
}

func (f *Factory) applySchema(ctx context.Context) error {
	dialect := f.db.Dialect().Name()
	switch f.schemaAction {
	case SchemaCreate, SchemaCreateDrop:
		if err := f.dropSchema(ctx); err != nil {
			return err
		}
		for _, p := range f.ordered {
			stmts, err := schema.GenerateCreateTableSQL(p.meta, dialect)
			if err != nil {
				return err
			}
			for _, stmt := range stmts {
				if _, err := f.db.Exec(ctx, stmt); err != nil {
					return fmt.Errorf("create table %s: %w", p.table(), err)
				}
			}
		}
		f.logger.Debug("Schema created", "tables", len(f.ordered))
	case SchemaValidate:
		var problems []string
		for _, p := range f.ordered {
			cols, err := f.db.TableColumns(ctx, p.table())
			if err != nil {
				return fmt.Errorf("inspect table %s: %w", p.table(), err)
			}
			if len(cols) == 0 {
				problems = append(problems, fmt.Sprintf("missing table %s", p.table()))
				continue
			}
			if missing := schema.MissingColumns(p.meta, cols); len(missing) > 0 {
				problems = append(problems, fmt.Sprintf("table %s is missing columns [%s]", p.table(), strings.Join(missing, ", ")))
			}
		}
		if len(problems) > 0 {
			return fmt.Errorf("%w: %s", ErrSchemaDrift, strings.Join(problems, "; "))
		}
	}
	return nil
}

func (f *Factory) dropSchema(ctx context.Context) error {
	dialect := f.db.Dialect().Name()
	for i := len(f.ordered) - 1; i >= 0; i-- {
		p := f.ordered[i]
		if _, err := f.db.Exec(ctx, schema.GenerateDropTableSQL(p.meta, dialect)); err != nil {
			return fmt.Errorf("drop table %s: %w", p.table(), err)
		}
	}
	return nil
}

func (f *Factory) persister(t reflect.Type) (*entityPersister, error) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	p, ok := f.persisters[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, t)
	}
	return p, nil
}

// OpenSession starts a unit of work. The session is not safe for concurrent use.
func (f *Factory) OpenSession() *Session {
	return newSession(f)
}

// Statistics returns the factory counters.
func (f *Factory) Statistics() *Statistics { return f.stats }

// Cache returns the second-level cache, or nil when it is disabled.
func (f *Factory) Cache() *SecondLevelCache {
	if f.cacheClient == nil {
		return nil
	}
	return f.cache
}

// Unit returns the persistence unit the factory was built from.
func (f *Factory) Unit() *PersistenceUnit { return f.unit }

// DataSource returns the adapter sessions run their statements on.
func (f *Factory) DataSource() DBAdapter { return f.db }

// Close drops the schema for create-drop, closes the cache storage the
// factory created and closes the data source.
func (f *Factory) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return ErrFactoryClosed
	}
	var err error
	if f.schemaAction == SchemaCreateDrop {
		err = multierr.Append(err, f.dropSchema(context.Background()))
	}
	if f.ownsCache && f.cacheClient != nil {
		err = multierr.Append(err, f.cacheClient.Close())
	}
	err = multierr.Append(err, f.db.Close())
	if err != nil {
		f.logger.Error("Closing persistence unit failed", "error", err)
	}
	return err
}
