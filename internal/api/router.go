// Package api serves the HTTP surface: stored history, health, metrics and
// the live websocket endpoint.
package api

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"klinewatch/internal/live"
	"klinewatch/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	defaultLimit = 500
	maxLimit     = 5000
)

// CheckFunc reports the health of one dependency.
type CheckFunc func(ctx context.Context) error

type Options struct {
	History  live.HistoryReader   // nil disables /api/data
	WS       http.HandlerFunc     // nil disables /ws
	Gatherer prometheus.Gatherer  // nil disables /metrics
	Checks   map[string]CheckFunc // run by /healthz
	Logger   *zap.Logger
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// NewRouter builds the gin engine.
func NewRouter(opts Options) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(opts.Logger))

	h := &handlers{history: opts.History, checks: opts.Checks}
	r.GET("/healthz", h.health)
	r.GET("/api/data/:symbol/:interval", h.data)

	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
	if opts.WS != nil {
		r.GET("/ws", gin.WrapF(opts.WS))
	}
	return r
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

type handlers struct {
	history live.HistoryReader
	checks  map[string]CheckFunc
}

// data returns stored records of one pair, newest first.
//
// GET /api/data/:symbol/:interval?limit=100
func (h *handlers) data(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "history not configured"})
		return
	}

	iv, err := model.ParseInterval(c.Param("interval"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	key := model.Key{Symbol: strings.ToUpper(c.Param("symbol")), Interval: iv}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLimit)))
	if err != nil || limit <= 0 {
		limit = defaultLimit
	}
	limit = min(limit, maxLimit)

	records, err := h.history.ListRecords(c.Request.Context(), key, limit)
	if err != nil {
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: err.Error()})
		return
	}
	if records == nil {
		records = []model.Record{}
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].EventTime > records[j].EventTime
	})

	c.JSON(http.StatusOK, records)
}

func (h *handlers) health(c *gin.Context) {
	c.Header("Cache-Control", "no-store")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	c.JSON(code, gin.H{"status": status, "checks": results})
}
