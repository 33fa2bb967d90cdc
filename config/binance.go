package config

import (
	"context"
	"fmt"
	"time"
)

type BinanceConfig struct {
	WS        WSConfig   `mapstructure:"ws"`
	REST      RESTConfig `mapstructure:"rest"`
	APIKey    string     `mapstructure:"api_key"`
	APISecret string     `mapstructure:"api_secret"`
	SSM       SSMKeys    `mapstructure:"ssm"`
}

type WSConfig struct {
	URL              string        `mapstructure:"url"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
}

type RESTConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SSMKeys names the Parameter Store entries holding the API key pair in prod.
type SSMKeys struct {
	APIKeyParam    string `mapstructure:"api_key_param"`
	APISecretParam string `mapstructure:"api_secret_param"`
}

// Credentials returns the API key pair, read from Parameter Store in prod.
func (cfg *BinanceConfig) Credentials(ctx context.Context, env string) (string, string, error) {
	if env != "prod" {
		return cfg.APIKey, cfg.APISecret, nil
	}

	key, err := getParameterStoreValue(ctx, cfg.SSM.APIKeyParam, true)
	if err != nil {
		return "", "", fmt.Errorf("binance api key: %w", err)
	}
	secret, err := getParameterStoreValue(ctx, cfg.SSM.APISecretParam, true)
	if err != nil {
		return "", "", fmt.Errorf("binance api secret: %w", err)
	}
	return key, secret, nil
}
