package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
)

type redisCollector struct {
	rdb    *redis.Client
	logger *slog.Logger

	runsDesc     *prometheus.Desc
	requestsDesc *prometheus.Desc
}

func newRedisCollector(rdb *redis.Client, logger *slog.Logger) *redisCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisCollector{
		rdb:    rdb,
		logger: logger,
		runsDesc: prometheus.NewDesc(
			"testlogger_backend_runs",
			"Test runs stored by the fake backend, by state.",
			[]string{"state"},
			nil,
		),
		requestsDesc: prometheus.NewDesc(
			"testlogger_backend_captured_requests",
			"Requests captured by the fake backend.",
			nil,
			nil,
		),
	}
}

func (c *redisCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.runsDesc
	ch <- c.requestsDesc
}

func (c *redisCollector) Collect(ch chan<- prometheus.Metric) {
	if c.rdb == nil {
		return
	}

	// Keep Redis reads bounded so scrapes do not hang.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pipe := c.rdb.Pipeline()
	states := []string{"InProgress", "Completed"}
	stateCmds := make(map[string]*redis.IntCmd, len(states))
	for _, s := range states {
		stateCmds[s] = pipe.SCard(ctx, keyRunsByState(s))
	}
	requests := pipe.LLen(ctx, keyRequests())

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		c.logger.Warn("prometheus redis collector failed", "err", err)
		return
	}

	for _, s := range states {
		emitGauge(ch, c.runsDesc, float64(stateCmds[s].Val()), s)
	}
	emitGauge(ch, c.requestsDesc, float64(requests.Val()))
}

func keyRunsByState(state string) string { return "testlogger:runs:state:" + state }
func keyRequests() string                { return "testlogger:requests" }

var registerRedisCollectorOnce sync.Once

func RegisterRedisCollector(rdb *redis.Client, logger *slog.Logger) {
	registerRedisCollectorOnce.Do(func() {
		prometheus.MustRegister(newRedisCollector(rdb, logger))
	})
}
