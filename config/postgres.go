package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// PostgresConfig defines the configuration for connecting to a PostgreSQL database.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	TimeZone string `mapstructure:"timezone"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`

	CreateDB bool `mapstructure:"create_db"`
}

// DSN builds the connection string. In prod host, user and password come
// from Parameter Store.
func (cfg *PostgresConfig) DSN(env string) (string, error) {
	host, user, password := cfg.Host, cfg.User, cfg.Password

	if env == "prod" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var err error
		if host, err = getParameterStoreValue(ctx, "KLINEWATCH_DB_HOST", true); err != nil {
			return "", err
		}
		if user, err = getParameterStoreValue(ctx, "KLINEWATCH_DB_USER", true); err != nil {
			return "", err
		}
		if password, err = getParameterStoreValue(ctx, "KLINEWATCH_DB_PASSWORD", true); err != nil {
			return "", err
		}
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host, cfg.Port, user, password, cfg.DBName, cfg.SSLMode,
	)
	if cfg.TimeZone != "" {
		dsn += fmt.Sprintf(" TimeZone=%s", cfg.TimeZone)
	}
	return dsn, nil
}

// ParameterGetter is the slice of the SSM client used here.
type ParameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// newParameterGetter is swapped in tests.
var newParameterGetter = func(ctx context.Context) (ParameterGetter, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return ssm.NewFromConfig(cfg), nil
}

func getParameterStoreValue(ctx context.Context, parameterName string, decrypt bool) (string, error) {
	if parameterName == "" {
		return "", errors.New("empty parameter name")
	}

	client, err := newParameterGetter(ctx)
	if err != nil {
		return "", err
	}

	input := &ssm.GetParameterInput{
		Name:           &parameterName,
		WithDecryption: &decrypt,
	}

	result, err := client.GetParameter(ctx, input)
	if err != nil {
		return "", fmt.Errorf("get parameter %s: %w", parameterName, err)
	}

	if result.Parameter == nil || result.Parameter.Value == nil {
		return "", fmt.Errorf("parameter %s has no value", parameterName)
	}

	return *result.Parameter.Value, nil
}
