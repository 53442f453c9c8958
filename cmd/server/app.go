package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/aethra/lowcode/internal/auth"
	"github.com/aethra/lowcode/internal/config"
	"github.com/aethra/lowcode/internal/database"
	"github.com/aethra/lowcode/internal/functions"
	"github.com/aethra/lowcode/internal/generator"
	"github.com/aethra/lowcode/internal/logging"
	"github.com/aethra/lowcode/internal/migration"
	"github.com/aethra/lowcode/internal/module"
	"github.com/aethra/lowcode/internal/registry"
	"github.com/aethra/lowcode/internal/seeder"
)

// app holds the services shared by every command
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *gorm.DB

	codec    generator.Codec
	compiler *generator.Compiler
	modules  *module.Registry
	schema   *registry.Registry
	migrator *migration.Runner
	seeds    *migration.Runner
	perms    *auth.PermissionService
	jwt      *auth.JWTService
	tools    *functions.Tools
	registry *functions.Registry
}

// newApp loads the configuration, connects to the database and assembles the
// model services. The registry is reloaded once before returning.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.New(cfg.Server.Mode, cfg.Chat.Debug)

	db, err := database.Connect(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	if err := database.Bootstrap(ctx, db, logging.Component(logger, "database")); err != nil {
		return nil, fmt.Errorf("bootstrap failed: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, db: db}
	a.codec = generator.NewCodec()
	a.compiler = generator.NewCompiler(a.codec)
	a.modules = module.NewRegistry(cfg.Paths.Modules, module.Dirs{
		Models:     cfg.Paths.Models,
		Migrations: cfg.Paths.Migrations,
		Seeders:    cfg.Paths.Seeders,
	}, logging.Component(logger, "modules"))
	a.schema = registry.New(db, a.compiler, a.modules.ModelDirs, logging.Component(logger, "registry"))

	a.migrator = migration.NewRunner(db, database.NewLedger(db, database.MigrationsTable),
		a.modules.MigrationDirs, "migration", logging.Component(logger, "migrations"))
	a.seeds = seeder.NewRunner(db, a.modules.SeederDirs, logging.Component(logger, "seeders"))
	a.modules.SetRunners(a.migrator, a.seeds)

	a.perms = auth.NewPermissionService(db, logging.Component(logger, "permissions"))
	if err := a.perms.SeedCapabilities(ctx); err != nil {
		return nil, fmt.Errorf("failed to seed capabilities: %w", err)
	}
	a.jwt = auth.NewJWTService(cfg.Auth, logging.Component(logger, "auth"))

	dialect := migration.ParseDialect(database.DialectName(db))
	a.tools = functions.NewTools(functions.Deps{
		DB:          db,
		Schema:      a.schema,
		Modules:     a.modules,
		Codec:       a.codec,
		Migrations:  migration.NewGenerator(dialect, a.schema, logging.Component(logger, "migrations")),
		Seeders:     seeder.NewGenerator(dialect, a.codec, a.modules.ModelDirs, logging.Component(logger, "seeders")),
		Migrator:    a.migrator,
		Seeds:       a.seeds,
		Permissions: a.perms,
		Paths:       cfg.Paths,
		Logger:      logging.Component(logger, "functions"),
	})
	a.registry = functions.NewRegistry(logging.Component(logger, "functions"))
	if err := a.tools.Install(a.registry); err != nil {
		return nil, err
	}

	if _, err := a.schema.Reload(ctx); err != nil {
		logger.Warn("initial registry reload failed", zap.Error(err))
	}
	return a, nil
}

// Close releases the database connection and flushes the logger
func (a *app) Close() {
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = a.logger.Sync()
}
