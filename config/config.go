package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"klinewatch/internal/model"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Binance   BinanceConfig   `mapstructure:"binance"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Indicator IndicatorConfig `mapstructure:"indicator"`
	Signal    SignalConfig    `mapstructure:"signal"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Live      LiveConfig      `mapstructure:"live"`
	HTTP      HTTPConfig      `mapstructure:"http"`
}

// Options defines the logger configuration options.
type LogConfig struct {
	Level       string `mapstructure:"level"`       // log level: "debug", "info", "warn", "error"
	Format      string `mapstructure:"format"`      // log format: "json" or "console"
	OutputFile  string `mapstructure:"output_file"` // file path to store logs (optional)
	Environment string `mapstructure:"environment"` // environment: "dev" or "prod"
}

type StreamConfig struct {
	Symbols     []string      `mapstructure:"symbols"`
	Intervals   []string      `mapstructure:"intervals"`
	Pairs       []string      `mapstructure:"pairs"` // extra "SYMBOL@interval" entries
	Backoff     time.Duration `mapstructure:"backoff"`
	MaxAttempts int           `mapstructure:"max_attempts"` // 0 retries forever
	Warmup      bool          `mapstructure:"warmup"`
	StatsEvery  time.Duration `mapstructure:"stats_every"`
}

type IndicatorConfig struct {
	RSIPeriod int `mapstructure:"rsi_period"`
	MAPeriod  int `mapstructure:"ma_period"`
	MaxWindow int `mapstructure:"max_window"` // 0 derives the cap from the periods
}

type SignalConfig struct {
	Oversold     float64       `mapstructure:"oversold"`
	Overbought   float64       `mapstructure:"overbought"`
	Quantity     float64       `mapstructure:"quantity"`
	RequireFill  bool          `mapstructure:"require_fill"`
	OrderTimeout time.Duration `mapstructure:"order_timeout"`
}

// ExecutionConfig selects the order side-effect: "paper", "binance" or "none".
type ExecutionConfig struct {
	Mode string `mapstructure:"mode"`
}

type DispatchConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

type StorageConfig struct {
	CSV CSVConfig `mapstructure:"csv"`
	SQL SQLConfig `mapstructure:"sql"`
	S3  S3Config  `mapstructure:"s3"`
	// History names the store served by the history endpoint: "sql", "s3" or "".
	History string `mapstructure:"history"`
}

type CSVConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

type SQLConfig struct {
	Enabled    bool           `mapstructure:"enabled"`
	Driver     string         `mapstructure:"driver"` // "postgres" or "sqlite"
	SQLitePath string         `mapstructure:"sqlite_path"`
	Retention  time.Duration  `mapstructure:"retention"`
	Postgres   PostgresConfig `mapstructure:"postgres"`
}

type S3Config struct {
	Enabled  bool   `mapstructure:"enabled"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
}

type LiveConfig struct {
	Hub          bool        `mapstructure:"hub"`
	SendBuffer   int         `mapstructure:"send_buffer"`
	HistoryLimit int         `mapstructure:"history_limit"`
	Redis        RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Addr          string `mapstructure:"addr"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

type HTTPConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Flat environment names accepted alongside the dotted ones.
var envBindings = map[string]string{
	"indicator.rsi_period": "RSI_PERIOD",
	"indicator.ma_period":  "MA_PERIOD",
	"indicator.max_window": "MAX_WINDOW",
	"signal.oversold":      "RSI_OVERSOLD",
	"signal.overbought":    "RSI_OVERBOUGHT",
	"signal.quantity":      "TRADE_QUANTITY",
	"stream.backoff":       "RECONNECT_BACKOFF",
	"binance.api_key":      "BINANCE_API_KEY",
	"binance.api_secret":   "BINANCE_API_SECRET",
	"log.environment":      "APP_ENV",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output_file", "")
	v.SetDefault("log.environment", "dev")

	v.SetDefault("binance.ws.url", "wss://stream.binance.com:9443")
	v.SetDefault("binance.ws.read_timeout", 90*time.Second)
	v.SetDefault("binance.ws.handshake_timeout", 10*time.Second)
	v.SetDefault("binance.rest.base_url", "https://api.binance.com")
	v.SetDefault("binance.rest.timeout", 10*time.Second)
	v.SetDefault("binance.api_key", "")
	v.SetDefault("binance.api_secret", "")
	v.SetDefault("binance.ssm.api_key_param", "BINANCE_API_KEY")
	v.SetDefault("binance.ssm.api_secret_param", "BINANCE_API_SECRET")

	v.SetDefault("stream.symbols", []string{"BTCUSDT"})
	v.SetDefault("stream.intervals", []string{"1m"})
	v.SetDefault("stream.pairs", []string{})
	v.SetDefault("stream.backoff", 5*time.Second)
	v.SetDefault("stream.max_attempts", 0)
	v.SetDefault("stream.warmup", false)
	v.SetDefault("stream.stats_every", time.Minute)

	v.SetDefault("indicator.rsi_period", 14)
	v.SetDefault("indicator.ma_period", 14)
	v.SetDefault("indicator.max_window", 0)

	v.SetDefault("signal.oversold", 30.0)
	v.SetDefault("signal.overbought", 70.0)
	v.SetDefault("signal.quantity", 0.001)
	v.SetDefault("signal.require_fill", false)
	v.SetDefault("signal.order_timeout", 10*time.Second)

	v.SetDefault("execution.mode", "paper")

	v.SetDefault("dispatch.timeout", 2*time.Second)
	v.SetDefault("dispatch.retry_attempts", 1)
	v.SetDefault("dispatch.retry_delay", 200*time.Millisecond)

	v.SetDefault("storage.history", "")
	v.SetDefault("storage.csv.enabled", true)
	v.SetDefault("storage.csv.dir", "data")
	v.SetDefault("storage.sql.enabled", false)
	v.SetDefault("storage.sql.driver", "sqlite")
	v.SetDefault("storage.sql.sqlite_path", "data/klinewatch.db")
	v.SetDefault("storage.sql.retention", 0)
	v.SetDefault("storage.sql.postgres.host", "localhost")
	v.SetDefault("storage.sql.postgres.port", 5432)
	v.SetDefault("storage.sql.postgres.user", "postgres")
	v.SetDefault("storage.sql.postgres.password", "")
	v.SetDefault("storage.sql.postgres.dbname", "klinewatch")
	v.SetDefault("storage.sql.postgres.sslmode", "disable")
	v.SetDefault("storage.sql.postgres.timezone", "")
	v.SetDefault("storage.sql.postgres.max_open_conns", 10)
	v.SetDefault("storage.sql.postgres.max_idle_conns", 5)
	v.SetDefault("storage.sql.postgres.conn_max_lifetime", time.Hour)
	v.SetDefault("storage.sql.postgres.create_db", false)
	v.SetDefault("storage.s3.enabled", false)
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.prefix", "")
	v.SetDefault("storage.s3.region", "")
	v.SetDefault("storage.s3.endpoint", "")

	v.SetDefault("live.hub", true)
	v.SetDefault("live.send_buffer", 256)
	v.SetDefault("live.history_limit", 500)
	v.SetDefault("live.redis.enabled", false)
	v.SetDefault("live.redis.addr", "localhost:6379")
	v.SetDefault("live.redis.password", "")
	v.SetDefault("live.redis.db", 0)
	v.SetDefault("live.redis.channel_prefix", "klines")

	v.SetDefault("http.enabled", true)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 5*time.Second)
}

// Load reads configuration using Viper. An explicit path must exist; without
// one config.yaml is searched for next to the binary and in ./config, and
// defaults apply when none is found. Environment variables override both.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config") // config.yaml
		v.SetConfigType("yaml")
		if ex, err := os.Executable(); err == nil {
			v.AddConfigPath(filepath.Join(filepath.Dir(ex), "../config"))
		}
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	// Support environment variables with dot notation (e.g., STREAM_BACKOFF)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsToDurationHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// secondsToDurationHookFunc reads a bare number as seconds, so
// RECONNECT_BACKOFF=5 and "5s" mean the same. Strings with a unit fall
// through to StringToTimeDurationHookFunc.
func secondsToDurationHookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if t != durationType || f == durationType {
			return data, nil
		}

		var secs float64
		switch f.Kind() {
		case reflect.String:
			n, err := strconv.ParseFloat(strings.TrimSpace(data.(string)), 64)
			if err != nil {
				return data, nil
			}
			secs = n
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			secs = float64(reflect.ValueOf(data).Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			secs = float64(reflect.ValueOf(data).Uint())
		case reflect.Float32, reflect.Float64:
			secs = reflect.ValueOf(data).Float()
		default:
			return data, nil
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
}

// Env returns the deployment environment ("dev" or "prod").
func (c *Config) Env() string {
	return c.Log.Environment
}

// Pairs expands symbols x intervals and appends the explicit pairs,
// dropping duplicates while keeping first-seen order.
func (c *Config) Pairs() ([]model.Key, error) {
	seen := make(map[model.Key]bool)
	var keys []model.Key
	add := func(k model.Key) {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}

	for _, sym := range c.Stream.Symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		for _, raw := range c.Stream.Intervals {
			iv, err := model.ParseInterval(strings.TrimSpace(raw))
			if err != nil {
				return nil, err
			}
			add(model.Key{Symbol: sym, Interval: iv})
		}
	}
	for _, p := range c.Stream.Pairs {
		k, err := model.ParseKey(p)
		if err != nil {
			return nil, err
		}
		add(k)
	}
	return keys, nil
}

// MinWindow is the shortest window the indicators are computed over.
func (c IndicatorConfig) MinWindow() int {
	return max(c.RSIPeriod, c.MAPeriod, 2)
}

// Capacity is the number of closes retained per pair.
func (c IndicatorConfig) Capacity() int {
	if c.MaxWindow > 0 {
		return c.MaxWindow
	}
	return max(c.RSIPeriod, c.MAPeriod) + 1
}

func (c *Config) Validate() error {
	keys, err := c.Pairs()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return errors.New("no symbol/interval pairs configured")
	}

	ind := c.Indicator
	if ind.RSIPeriod < 1 || ind.MAPeriod < 1 {
		return fmt.Errorf("indicator periods must be positive: rsi=%d ma=%d", ind.RSIPeriod, ind.MAPeriod)
	}
	if ind.Capacity() < ind.MinWindow() {
		return fmt.Errorf("max_window %d is below the minimum window %d", ind.Capacity(), ind.MinWindow())
	}

	sig := c.Signal
	if !(sig.Oversold < sig.Overbought) {
		return fmt.Errorf("oversold %.2f must be below overbought %.2f", sig.Oversold, sig.Overbought)
	}
	if sig.Oversold < 0 || sig.Overbought > 100 {
		return fmt.Errorf("rsi thresholds must lie in [0, 100]")
	}

	switch c.Execution.Mode {
	case "none":
	case "paper", "binance":
		if sig.Quantity <= 0 {
			return fmt.Errorf("trade quantity must be positive, got %v", sig.Quantity)
		}
	default:
		return fmt.Errorf("unknown execution mode %q", c.Execution.Mode)
	}

	if c.Stream.Backoff < 0 {
		return fmt.Errorf("negative reconnect backoff %s", c.Stream.Backoff)
	}

	st := c.Storage
	if st.SQL.Enabled && st.SQL.Driver != "postgres" && st.SQL.Driver != "sqlite" {
		return fmt.Errorf("unsupported sql driver %q", st.SQL.Driver)
	}
	if st.S3.Enabled && st.S3.Bucket == "" {
		return errors.New("storage.s3.bucket is required when s3 is enabled")
	}
	switch st.History {
	case "":
	case "sql":
		if !st.SQL.Enabled {
			return errors.New("history source sql requires storage.sql.enabled")
		}
	case "s3":
		if !st.S3.Enabled {
			return errors.New("history source s3 requires storage.s3.enabled")
		}
	default:
		return fmt.Errorf("unknown history source %q", st.History)
	}
	return nil
}
