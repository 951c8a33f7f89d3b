package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/gray-logic-tuya/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	fallbackBatchSize     = 100
	fallbackFlushInterval = 10 // seconds
)

// Client batches telemetry points into one bucket. Points are queued
// without blocking; delivery failures arrive on the SetOnError callback.
type Client struct {
	influx influxdb2.Client
	points api.WriteAPI
	open   atomic.Bool

	errMu   sync.RWMutex
	onError func(err error)
}

// Connect pings cfg.URL and starts the batching writer. It returns
// ErrDisabled without dialling when telemetry is switched off.
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	influx := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg))

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := ping(pingCtx, influx); err != nil {
		influx.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.URL, err)
	}

	c := &Client{influx: influx, points: influx.WriteAPI(cfg.Org, cfg.Bucket)}
	c.open.Store(true)
	go c.forwardErrors(c.points.Errors())
	return c, nil
}

// writeOptions applies batch_size and flush_interval, falling back to the
// defaults for unset values. The client library takes milliseconds.
func writeOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := uint(fallbackBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize)
	}
	flush := uint(fallbackFlushInterval)
	if cfg.FlushInterval > 0 {
		flush = uint(cfg.FlushInterval)
	}
	return influxdb2.DefaultOptions().SetBatchSize(batch).SetFlushInterval(flush * 1000)
}

func ping(ctx context.Context, influx influxdb2.Client) error {
	ok, err := influx.Ping(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnhealthy
	}
	return nil
}

func (c *Client) forwardErrors(errs <-chan error) {
	for err := range errs {
		c.errMu.RLock()
		fn := c.onError
		c.errMu.RUnlock()
		if fn != nil {
			fn(err)
		}
	}
}

// SetOnError registers fn to receive asynchronous write failures.
func (c *Client) SetOnError(fn func(err error)) {
	c.errMu.Lock()
	c.onError = fn
	c.errMu.Unlock()
}

// IsConnected reports whether Connect succeeded and Close has not run. Use
// HealthCheck for a live answer.
func (c *Client) IsConnected() bool {
	return c.open.Load()
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(ctx, c.influx); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// Flush blocks until every queued point has been sent. It does nothing
// after Close.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.points.Flush()
	}
}

// Close sends queued points and releases the client.
func (c *Client) Close() error {
	if !c.open.Swap(false) {
		return nil
	}
	c.points.Flush()
	c.influx.Close()
	return nil
}
