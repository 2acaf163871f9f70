package persistlab

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/goomon/persistlab/internal/schema"
)

// Property keys understood by NewFactory.
const (
	PropSchemaAction        = "schema.action" // none, create, create-drop, validate
	PropDialect             = "dialect"
	PropUseSecondLevelCache = "cache.use_second_level_cache"
	PropRegionFactory       = "cache.region.factory" // local or redis
	PropCacheTTL            = "cache.ttl"
	PropRedisAddr           = "cache.redis.addr"
	PropRedisPassword       = "cache.redis.password"
	PropRedisDB             = "cache.redis.db"
	PropGenerateStatistics  = "generate_statistics"
	PropBatchSize           = "jdbc.batch_size"
	PropFlushMode           = "flush_mode"
	PropDefaultReadOnly     = "default_read_only"
	PropFormatSQL           = "format_sql"
)

// Schema actions.
const (
	SchemaNone       = "none"
	SchemaCreate     = "create"
	SchemaCreateDrop = "create-drop"
	SchemaValidate   = "validate"
)

// DefaultCacheTTL is the expiration of second-level cache entries when cache.ttl is unset.
const DefaultCacheTTL = time.Hour

// Properties is the string keyed configuration of a persistence unit.
type Properties map[string]string

// String returns the property or def when it is unset.
func (p Properties) String(key, def string) string {
	if v, ok := p[key]; ok && v != "" {
		return v
	}
	return def
}

func (p Properties) Bool(key string, def bool) bool {
	if v, err := strconv.ParseBool(p[key]); err == nil {
		return v
	}
	return def
}

func (p Properties) Int(key string, def int) int {
	if v, err := strconv.Atoi(p[key]); err == nil {
		return v
	}
	return def
}

func (p Properties) Duration(key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(p[key]); err == nil {
		return v
	}
	return def
}

// PersistenceUnit describes one persistence configuration: the managed
// entity types, the provider properties and the data source.
type PersistenceUnit struct {
	Name       string
	Entities   []interface{} // entity prototypes, e.g. &Post{}
	Properties Properties
	DataSource DBAdapter
	// CacheClient overrides the region factory named by cache.region.factory.
	CacheClient CacheClient
}

// Validate checks the unit before a factory is built from it.
func (u *PersistenceUnit) Validate() error {
	if u.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidUnit)
	}
	if u.DataSource == nil {
		return fmt.Errorf("%w: %s has no data source", ErrInvalidUnit, u.Name)
	}
	if len(u.Entities) == 0 {
		return fmt.Errorf("%w: %s lists no entities", ErrInvalidUnit, u.Name)
	}
	switch action := u.Properties.String(PropSchemaAction, SchemaNone); action {
	case SchemaNone, SchemaCreate, SchemaCreateDrop, SchemaValidate:
	default:
		return fmt.Errorf("%w: unknown %s %q", ErrInvalidUnit, PropSchemaAction, action)
	}
	if _, err := ParseFlushMode(u.Properties.String(PropFlushMode, FlushAuto.String())); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidUnit, err)
	}
	if d := u.Properties.String(PropDialect, ""); d != "" && d != u.DataSource.Dialect().Name() {
		return fmt.Errorf("%w: dialect %q does not match data source %q", ErrInvalidUnit, d, u.DataSource.Dialect().Name())
	}
	return nil
}

func entityType(prototype interface{}) (reflect.Type, error) {
	if t, ok := prototype.(reflect.Type); ok {
		prototype = reflect.New(t).Interface()
	}
	t := reflect.TypeOf(prototype)
	if t == nil {
		return nil, fmt.Errorf("%w: nil entity prototype", ErrInvalidUnit)
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: entity %s is not a struct", ErrInvalidUnit, t)
	}
	return t, nil
}

// --- Data sources ---

// DataSourceConfig configures the connection pool behind a DBAdapter.
type DataSourceConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// WithDefaults sizes an unset pool at four connections per usable CPU.
func (c DataSourceConfig) WithDefaults() DataSourceConfig {
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = runtime.GOMAXPROCS(0) * 4
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = c.MaxOpenConns
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
	return c
}

// DataSourceFactory opens a DBAdapter for a driver name.
type DataSourceFactory func(cfg DataSourceConfig) (DBAdapter, error)

// RegionFactory builds the CacheClient behind second-level cache regions.
type RegionFactory func(props Properties) (CacheClient, error)

var (
	registryMu      sync.RWMutex
	dataSources     = map[string]DataSourceFactory{}
	regionFactories = map[string]RegionFactory{
		"local": func(Properties) (CacheClient, error) { return NewLocalCache(), nil },
	}
)

// RegisterDataSource makes a driver available to OpenDataSource.
// Driver packages call it from init.
func RegisterDataSource(driver string, factory DataSourceFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	dataSources[driver] = factory
}

// RegisterRegionFactory makes a cache backend available to cache.region.factory.
func RegisterRegionFactory(name string, factory RegionFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	regionFactories[name] = factory
}

// OpenDataSource opens a DBAdapter through a registered driver.
func OpenDataSource(cfg DataSourceConfig) (DBAdapter, error) {
	registryMu.RLock()
	factory, ok := dataSources[cfg.Driver]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (is the driver package imported?)", ErrUnknownDriver, cfg.Driver)
	}
	return factory(cfg.WithDefaults())
}

func openRegionFactory(name string, props Properties) (CacheClient, error) {
	registryMu.RLock()
	factory, ok := regionFactories[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown region factory %q", ErrInvalidUnit, name)
	}
	return factory(props)
}

// --- Descriptor file ---

type unitFile struct {
	Name       string                 `yaml:"name"`
	Entities   []string               `yaml:"entities"`
	Properties map[string]interface{} `yaml:"properties"`
	DataSource DataSourceConfig       `yaml:"datasource"`
}

// LoadPersistenceUnit reads a YAML persistence unit descriptor. ${VAR}
// references are expanded from the environment. Entity names in the file
// are matched against the given prototypes; the data source is opened
// through the registered driver.
//
//	name: lab
//	entities: [Post, PostComment]
//	properties:
//	  schema.action: create
//	  generate_statistics: true
//	datasource:
//	  driver: sqlite
//	  dsn: ${DB_PATH}
func LoadPersistenceUnit(r io.Reader, entities ...interface{}) (*PersistenceUnit, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read persistence unit: %w", err)
	}
	var file unitFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUnit, err)
	}

	known := make(map[string]interface{}, len(entities))
	for _, e := range entities {
		t, err := entityType(e)
		if err != nil {
			return nil, err
		}
		meta, err := schema.Inspect(t)
		if err != nil {
			return nil, err
		}
		known[meta.Name] = e
		known[t.Name()] = e
	}

	unit := &PersistenceUnit{
		Name:       file.Name,
		Properties: make(Properties, len(file.Properties)),
	}
	for _, name := range file.Entities {
		e, ok := known[strings.TrimSpace(name)]
		if !ok {
			return nil, fmt.Errorf("%w: unknown entity %q", ErrInvalidUnit, name)
		}
		unit.Entities = append(unit.Entities, e)
	}
	for k, v := range file.Properties {
		unit.Properties[k] = fmt.Sprint(v)
	}

	if file.DataSource.Driver != "" {
		ds, err := OpenDataSource(file.DataSource)
		if err != nil {
			return nil, err
		}
		unit.DataSource = ds
	}
	return unit, nil
}
