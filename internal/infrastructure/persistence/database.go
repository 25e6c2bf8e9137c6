package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/exchange/internal/infrastructure/config"
	"github.com/erp/exchange/internal/infrastructure/persistence/models"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database wraps the gorm handle shared by every repository
type Database struct {
	DB *gorm.DB
}

// OpenOption configures Open
type OpenOption func(*gorm.Config)

// WithGormLogger routes statements through l instead of discarding them
func WithGormLogger(l logger.Interface) OpenOption {
	return func(c *gorm.Config) {
		c.Logger = l
	}
}

func dialectorFor(cfg *config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "sqlite":
		return sqlite.Open(cfg.Path), nil
	case "", "postgres":
		return postgres.Open(cfg.DSN()), nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

// Open connects to the configured database and verifies the connection
func Open(cfg *config.DatabaseConfig, opts ...OpenOption) (*Database, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}
	isSQLite := cfg.Driver == "sqlite"

	gcfg := &gorm.Config{
		Logger:                 logger.Discard,
		SkipDefaultTransaction: true,
		PrepareStmt:            !isSQLite,
	}
	for _, opt := range opts {
		opt(gcfg)
	}

	db, err := gorm.Open(dialector, gcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	pool, err := db.DB()
	if err != nil {
		return nil, err
	}

	if isSQLite {
		// every connection to :memory: is its own database
		pool.SetMaxOpenConns(1)
	} else {
		pool.SetMaxOpenConns(cfg.MaxOpenConns)
		pool.SetMaxIdleConns(cfg.MaxIdleConns)
		pool.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)
		pool.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Minute)
	}

	d := &Database{DB: db}
	if err := d.PingContext(context.Background()); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return d, nil
}

// AutoMigrate creates the exchange tables from the models. Tests and the
// sqlite driver use it; postgres schemas come from the SQL migrations.
func (d *Database) AutoMigrate() error {
	if err := d.DB.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("failed to auto-migrate: %w", err)
	}
	return nil
}

func (d *Database) PingContext(ctx context.Context) error {
	pool, err := d.DB.DB()
	if err != nil {
		return err
	}
	return pool.PingContext(ctx)
}

func (d *Database) Close() error {
	pool, err := d.DB.DB()
	if err != nil {
		return err
	}
	return pool.Close()
}
