// Package redis builds the shared go-redis client used by the search index,
// the record locker and the rate limiter.
package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"crvs/internal/platform/config"
)

// Client is a connected go-redis client.
type Client struct {
	*redis.Client
}

type Option func(*redis.Client)

// WithMetrics records command latency and failures. redis.Nil is a miss,
// not a failure.
func WithMetrics(reg prometheus.Registerer) Option {
	f := promauto.With(reg)
	h := &metricsHook{
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crvs_redis_command_duration_seconds",
			Help:    "Redis command latency by command name",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		}, []string{"cmd"}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crvs_redis_command_failures_total",
			Help: "Redis commands that returned an error other than a miss",
		}, []string{"cmd"}),
	}
	return func(c *redis.Client) { c.AddHook(h) }
}

// New connects and pings. An empty URL returns (nil, nil) so callers fall
// back to in-memory implementations.
func New(ctx context.Context, cfg config.RedisConfig, opts ...Option) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	ropts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	ropts.PoolSize = cfg.PoolSize
	ropts.MinIdleConns = cfg.MinIdleConns
	ropts.DialTimeout = cfg.DialTimeout
	ropts.ReadTimeout = cfg.ReadTimeout
	ropts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(ropts)
	for _, opt := range opts {
		opt(client)
	}

	pingCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", ropts.Addr, err)
	}
	return &Client{Client: client}, nil
}

// Health is the readiness check for /healthz.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.Client.Close()
}

type metricsHook struct {
	duration *prometheus.HistogramVec
	failures *prometheus.CounterVec
}

func (h *metricsHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			h.failures.WithLabelValues("dial").Inc()
		}
		return conn, err
	}
}

func (h *metricsHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		h.observe(cmd.Name(), start, err)
		return err
	}
}

func (h *metricsHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		h.observe("pipeline", start, err)
		return err
	}
}

func (h *metricsHook) observe(name string, start time.Time, err error) {
	h.duration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil && !errors.Is(err, redis.Nil) {
		h.failures.WithLabelValues(name).Inc()
	}
}
