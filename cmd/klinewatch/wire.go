package main

import (
	"context"
	"errors"
	"fmt"

	"klinewatch/config"
	"klinewatch/internal/api"
	"klinewatch/internal/dispatch"
	"klinewatch/internal/execution"
	"klinewatch/internal/live"
	"klinewatch/internal/metrics"
	"klinewatch/internal/signal"
	"klinewatch/pkg/binance"
	"klinewatch/pkg/storage/csvfile"
	"klinewatch/pkg/storage/objectstore"
	"klinewatch/pkg/storage/sqlstore"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func newExecutor(ctx context.Context, cfg *config.Config, rest *binance.RESTClient, log *zap.Logger) (signal.Executor, error) {
	switch cfg.Execution.Mode {
	case "paper":
		return execution.NewPaperExecutor(log), nil
	case "binance":
		key, secret, err := cfg.Binance.Credentials(ctx, cfg.Env())
		if err != nil {
			return nil, err
		}
		if key == "" || secret == "" {
			return nil, errors.New("binance execution needs an api key pair")
		}
		return execution.NewBinanceExecutor(rest.WithCredentials(key, secret), log), nil
	default:
		// "none": transitions only change state
		return nil, nil
	}
}

// sinkSet holds the configured outputs and what the HTTP layer needs of them.
type sinkSet struct {
	live    []dispatch.Sink
	storage []dispatch.Sink

	hub     *live.Hub
	redis   *redis.Client
	pub     *live.RedisPublisher
	sql     *sqlstore.Client
	history live.HistoryReader
}

func newSinks(ctx context.Context, cfg *config.Config, log *zap.Logger, m *metrics.Metrics) (*sinkSet, error) {
	s := &sinkSet{}
	st := cfg.Storage

	if st.CSV.Enabled {
		w, err := csvfile.NewWriter(st.CSV.Dir)
		if err != nil {
			return nil, err
		}
		s.storage = append(s.storage, w)
		log.Info("csv sink enabled", zap.String("dir", st.CSV.Dir))
	}

	if st.SQL.Enabled {
		client, err := sqlstore.Open(st.SQL, cfg.Env())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to DB: %w", err)
		}
		s.sql = client
		s.storage = append(s.storage, sqlstore.NewSink(client))
		if st.History == "sql" {
			s.history = client
		}
		log.Info("sql sink enabled", zap.String("driver", st.SQL.Driver))
	}

	if st.S3.Enabled {
		client, err := objectstore.NewS3Client(ctx, st.S3.Region, st.S3.Endpoint)
		if err != nil {
			s.Close()
			return nil, err
		}
		objects := objectstore.New(client, st.S3.Bucket, st.S3.Prefix)
		s.storage = append(s.storage, objects)
		if st.History == "s3" {
			s.history = objects
		}
		log.Info("s3 sink enabled", zap.String("bucket", st.S3.Bucket))
	}

	if cfg.Live.Hub {
		s.hub = live.NewHub(live.HubConfig{
			SendBuffer:   cfg.Live.SendBuffer,
			HistoryLimit: cfg.Live.HistoryLimit,
		}, s.history, log, m)
		s.live = append(s.live, s.hub)
	}

	if r := cfg.Live.Redis; r.Enabled {
		s.redis = live.NewRedisClient(r.Addr, r.Password, r.DB)
		s.pub = live.NewRedisPublisher(s.redis, r.ChannelPrefix)
		s.live = append(s.live, s.pub)
		log.Info("redis publisher enabled", zap.String("addr", r.Addr))
	}

	if len(s.live)+len(s.storage) == 0 {
		log.Warn("no sinks configured, records are computed and dropped")
	}
	return s, nil
}

func (s *sinkSet) checks() map[string]api.CheckFunc {
	checks := make(map[string]api.CheckFunc)
	if s.sql != nil {
		checks["sql"] = func(ctx context.Context) error {
			if !s.sql.IsHealthy(ctx) {
				return errors.New("database unreachable")
			}
			return nil
		}
	}
	if s.pub != nil {
		checks["redis"] = s.pub.Ping
	}
	return checks
}

func (s *sinkSet) Close() {
	if s.sql != nil {
		s.sql.Close()
	}
	if s.redis != nil {
		s.redis.Close()
	}
}
