package sqlstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"klinewatch/config"

	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Client struct {
	DB *gorm.DB
}

func NewClient(dialector gorm.Dialector) (*Client, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Client{DB: db}, nil
}

// NewPostgresClient opens a Postgres connection pool from cfg.
func NewPostgresClient(cfg config.PostgresConfig, env string) (*Client, error) {
	dsn, err := cfg.DSN(env)
	if err != nil {
		return nil, err
	}

	client, err := NewClient(postgres.Open(dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	sqlDB, err := client.DB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve raw DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return client, nil
}

// NewSQLiteClient opens a SQLite database; ":memory:" works for tests.
func NewSQLiteClient(path string) (*Client, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
	}
	client, err := NewClient(sqlite.Open(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}
	return client, nil
}

// Open connects to the database selected by cfg.Driver and migrates it.
func Open(cfg config.SQLConfig, env string) (*Client, error) {
	var (
		client *Client
		err    error
	)

	switch cfg.Driver {
	case "postgres":
		if cfg.Postgres.CreateDB {
			if err := CreateDatabase(cfg.Postgres, env); err != nil {
				return nil, fmt.Errorf("failed to create database: %w", err)
			}
		}
		client, err = NewPostgresClient(cfg.Postgres, env)
	case "sqlite":
		client, err = NewSQLiteClient(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported sql driver: %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := client.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return client, nil
}

func (c *Client) AutoMigrate() error {
	if err := c.DB.AutoMigrate(&IndicatorRecord{}); err != nil {
		return fmt.Errorf("auto-migrate indicator table: %w", err)
	}
	return nil
}

func (c *Client) IsHealthy(ctx context.Context) bool {
	db, err := c.DB.DB()
	if err != nil {
		return false
	}
	return db.PingContext(ctx) == nil
}

func (c *Client) Close() error {
	db, err := c.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to retrieve raw DB: %w", err)
	}
	return db.Close()
}
