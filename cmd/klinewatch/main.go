package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"klinewatch/config"
	"klinewatch/internal/api"
	"klinewatch/internal/dispatch"
	"klinewatch/internal/indicator"
	"klinewatch/internal/memorystore"
	"klinewatch/internal/metrics"
	"klinewatch/internal/pipeline"
	"klinewatch/internal/signal"
	"klinewatch/internal/supervisor"
	"klinewatch/logger"
	"klinewatch/pkg/binance"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: search ./config and next to the binary)")
	flag.Parse()

	// viper config
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// zap logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("klinewatch failed", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	pairs, err := cfg.Pairs()
	if err != nil {
		return err
	}

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store := memorystore.NewWindowStore(cfg.Indicator.Capacity())
	rest := binance.NewRESTClient(cfg.Binance.REST.BaseURL, cfg.Binance.REST.Timeout)

	executor, err := newExecutor(ctx, cfg, rest, log)
	if err != nil {
		return err
	}
	evaluator := signal.NewEvaluator(signal.Config{
		Oversold:     cfg.Signal.Oversold,
		Overbought:   cfg.Signal.Overbought,
		Quantity:     cfg.Signal.Quantity,
		RequireFill:  cfg.Signal.RequireFill,
		OrderTimeout: cfg.Signal.OrderTimeout,
	}, store, executor, log, m)

	sinks, err := newSinks(ctx, cfg, log, m)
	if err != nil {
		return err
	}
	defer sinks.Close()

	dispatcher := dispatch.New(dispatch.Config{
		Timeout: cfg.Dispatch.Timeout,
		Retry: dispatch.Retry{
			Attempts: cfg.Dispatch.RetryAttempts,
			Delay:    cfg.Dispatch.RetryDelay,
		},
	}, sinks.live, sinks.storage, log, m)

	ws := binance.NewWSSource(cfg.Binance.WS.URL, cfg.Binance.WS.ReadTimeout, log).
		WithHandshakeTimeout(cfg.Binance.WS.HandshakeTimeout)

	p, err := pipeline.New(pipeline.Config{
		Pairs: pairs,
		Backoff: supervisor.Backoff{
			Interval:    cfg.Stream.Backoff,
			MaxAttempts: cfg.Stream.MaxAttempts,
		},
		Warmup:        cfg.Stream.Warmup,
		WarmupTimeout: cfg.Binance.REST.Timeout,
		StatsEvery:    cfg.Stream.StatsEvery,
	}, pipeline.Deps{
		Source: pipeline.BinanceSource(ws),
		Store:  store,
		Calculator: indicator.Calculator{
			RSIPeriod: cfg.Indicator.RSIPeriod,
			MAPeriod:  cfg.Indicator.MAPeriod,
		},
		Evaluator:  evaluator,
		Dispatcher: dispatcher,
		Fetcher:    rest,
		Logger:     log,
		Metrics:    m,
	})
	if err != nil {
		return err
	}

	if cfg.HTTP.Enabled {
		srv := newHTTPServer(cfg, sinks, reg, log)
		go func() {
			log.Info("http server listening", zap.String("addr", cfg.HTTP.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server failed", zap.Error(err))
				stop()
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer cancel()
			if sinks.hub != nil {
				sinks.hub.Close()
			}
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn("http shutdown", zap.Error(err))
			}
		}()
	}

	if sinks.sql != nil && cfg.Storage.SQL.Retention > 0 {
		go pruneRecords(ctx, sinks, cfg.Storage.SQL.Retention, log)
	}

	log.Info("starting subscriptions", zap.Int("pairs", len(pairs)), zap.Int("window", store.Capacity()))
	err = p.Run(ctx)
	log.Info("subscriptions stopped")
	return err
}

func newHTTPServer(cfg *config.Config, sinks *sinkSet, reg *prometheus.Registry, log *zap.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)

	opts := api.Options{
		History:  sinks.history,
		Gatherer: reg,
		Checks:   sinks.checks(),
		Logger:   log,
	}
	if sinks.hub != nil {
		opts.WS = sinks.hub.ServeWS
	}

	return &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.NewRouter(opts),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// pruneRecords deletes SQL rows older than retention once an hour.
func pruneRecords(ctx context.Context, sinks *sinkSet, retention time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		cutoff := time.Now().Add(-retention).UnixMilli()
		n, err := sinks.sql.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			log.Warn("failed to prune records", zap.Error(err))
		} else if n > 0 {
			log.Info("pruned records", zap.Int64("rows", n))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
