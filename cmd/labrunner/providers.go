package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/charmbracelet/log"

	"github.com/goomon/persistlab"
	"github.com/goomon/persistlab/domain"
	_ "github.com/goomon/persistlab/drivers/cache/redis"
	_ "github.com/goomon/persistlab/drivers/db/mysql"
	_ "github.com/goomon/persistlab/drivers/db/postgres"
	_ "github.com/goomon/persistlab/drivers/db/sqlite"
	"github.com/goomon/persistlab/internal/config"
	"github.com/goomon/persistlab/migrations"
)

// labApp holds the wired runner.
type labApp struct {
	cfg     *config.Config
	factory *persistlab.Factory
	server  *http.Server
}

func newLabApp(cfg *config.Config, factory *persistlab.Factory, server *http.Server) *labApp {
	return &labApp{cfg: cfg, factory: factory, server: server}
}

// provideUnit builds the persistence unit from PERSISTENCE_UNIT when set,
// otherwise from the environment. The cleanup closes the data source.
func provideUnit(cfg *config.Config) (*persistlab.PersistenceUnit, func(), error) {
	var unit *persistlab.PersistenceUnit
	if cfg.UnitFile != "" {
		f, err := os.Open(cfg.UnitFile)
		if err != nil {
			return nil, nil, fmt.Errorf("open persistence unit: %w", err)
		}
		defer f.Close()
		unit, err = persistlab.LoadPersistenceUnit(f, domain.Entities()...)
		if err != nil {
			return nil, nil, err
		}
		log.Info("Persistence unit loaded", "file", cfg.UnitFile, "unit", unit.Name)
	} else {
		unit = &persistlab.PersistenceUnit{
			Name:     "labrunner",
			Entities: domain.Entities(),
			Properties: persistlab.Properties{
				persistlab.PropUseSecondLevelCache: "true",
				persistlab.PropRegionFactory:       cfg.Cache.RegionFactory,
				persistlab.PropRedisAddr:           cfg.Cache.RedisAddr,
				persistlab.PropCacheTTL:            cfg.Cache.TTL.String(),
				persistlab.PropGenerateStatistics:  "true",
				persistlab.PropFormatSQL:           strconv.FormatBool(cfg.Logging.FormatSQL),
			},
		}
	}

	if unit.DataSource == nil {
		ds, err := persistlab.OpenDataSource(persistlab.DataSourceConfig{
			Driver:          cfg.Database.Driver,
			DSN:             cfg.Database.DSN,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return nil, nil, err
		}
		unit.DataSource = ds
	}
	if cfg.UnitFile == "" {
		unit.Properties[persistlab.PropSchemaAction] = persistlab.SchemaCreate
		if cfg.Database.Migrate && migrations.Supports(unit.DataSource.Dialect().Name()) {
			unit.Properties[persistlab.PropSchemaAction] = persistlab.SchemaValidate
		}
	}
	cleanup := func() {
		if err := unit.DataSource.Close(); err != nil {
			log.Error("Error closing data source", "error", err)
		}
	}
	return unit, cleanup, nil
}

// provideFactory migrates the schema when enabled and builds the factory.
func provideFactory(ctx context.Context, cfg *config.Config, unit *persistlab.PersistenceUnit) (*persistlab.Factory, func(), error) {
	dialect := unit.DataSource.Dialect().Name()
	switch {
	case !cfg.Database.Migrate:
	case !migrations.Supports(dialect):
		log.Warn("No migrations for dialect, relying on schema.action", "dialect", dialect)
	default:
		log.Debug("Running database migrations", "dialect", dialect)
		if err := migrations.Up(unit.DataSource.DB(), dialect); err != nil {
			return nil, nil, err
		}
	}
	factory, err := persistlab.NewFactory(ctx, unit)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := factory.Close(); err != nil {
			log.Error("Error closing factory", "error", err)
		}
	}
	return factory, cleanup, nil
}

func provideServer(cfg *config.Config, factory *persistlab.Factory) *http.Server {
	return &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      newRouter(factory),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}
