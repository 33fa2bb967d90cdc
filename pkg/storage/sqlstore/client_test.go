package sqlstore_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"klinewatch/config"
	"klinewatch/pkg/storage/sqlstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func configWithDriver(driver string) config.SQLConfig {
	return config.SQLConfig{Driver: driver}
}

// go test -v --run ^TestOpenSQLite$
func TestOpenSQLite(t *testing.T) {
	cfg := config.SQLConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "klinewatch.db"),
	}

	client, err := sqlstore.Open(cfg, "dev")
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	assert.True(t, client.IsHealthy(ctx))
	assert.True(t, client.DB.Migrator().HasTable(&sqlstore.IndicatorRecord{}))
}

// go test -v --run ^TestPostgresClientWithConfig$
func TestPostgresClientWithConfig(t *testing.T) {
	if testing.Short() {
		t.Skip("needs a local postgres")
	}

	cfg := config.PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "yourpw",
		DBName:   "klinewatch",
		SSLMode:  "disable",

		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 1 * time.Hour,
	}

	client, err := sqlstore.NewPostgresClient(cfg, "dev")
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if !client.IsHealthy(ctx) {
		t.Skip("postgres not reachable")
	}

	require.NoError(t, client.AutoMigrate())
}
