package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/gray-logic-zones/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	// Zone transitions are sparse; enforcement checks arrive in short bursts
	// while an entity is being retried. A small batch with a short flush keeps
	// dashboards close to real time without a request per point.
	defaultBatchSize     = 50
	defaultFlushInterval = 5 // seconds

	// Transitions triggered by one motion event land milliseconds apart.
	writePrecision = time.Millisecond

	maxRetries      = 3
	applicationName = "gray-logic-zones"
)

// Option adjusts the write options before the client is created.
type Option func(*influxdb2.Options)

// WithDefaultTag stamps every point with key=value, typically the site id.
// Empty values are ignored.
func WithDefaultTag(key, value string) Option {
	return func(o *influxdb2.Options) {
		if value != "" {
			o.AddDefaultTag(key, value)
		}
	}
}

// writeOptions derives the client options from the config.
func writeOptions(cfg config.InfluxDBConfig, opts ...Option) *influxdb2.Options {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	flush := cfg.FlushInterval
	if flush <= 0 {
		flush = defaultFlushInterval
	}

	// #nosec G115 -- both values are positive here
	o := influxdb2.DefaultOptions().
		SetBatchSize(uint(batch)).
		SetFlushInterval(uint(flush) * uint(time.Second/time.Millisecond)).
		SetPrecision(writePrecision).
		SetMaxRetries(maxRetries).
		SetApplicationName(applicationName)
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Client records zone transitions and enforcement checks as time series.
// Writes never block the caller: points are batched by the underlying
// WriteAPI and failures arrive through SetOnError.
//
// A Client is safe for concurrent use.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	closed   atomic.Bool

	mu      sync.RWMutex
	onError func(err error)

	now func() time.Time
}

// Connect pings the server and starts the batching writer for cfg.Bucket.
// It returns ErrDisabled when telemetry is switched off.
func Connect(cfg config.InfluxDBConfig, opts ...Option) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg, opts...))

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := ping(ctx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := newClient(client, client.WriteAPI(cfg.Org, cfg.Bucket))
	go c.drainErrors(c.writeAPI.Errors())
	return c, nil
}

func newClient(client influxdb2.Client, w api.WriteAPI) *Client {
	return &Client{client: client, writeAPI: w, now: time.Now}
}

func ping(ctx context.Context, client influxdb2.Client) error {
	healthy, err := client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if !healthy {
		return fmt.Errorf("server reports not ready")
	}
	return nil
}

// drainErrors forwards asynchronous write failures until the WriteAPI
// closes its channel.
func (c *Client) drainErrors(errs <-chan error) {
	for err := range errs {
		writeErrors.Inc()

		c.mu.RLock()
		fn := c.onError
		c.mu.RUnlock()
		if fn != nil {
			fn(err)
		}
	}
}

// SetOnError registers fn for write failures.
func (c *Client) SetOnError(fn func(err error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// Flush sends buffered points now. It is a no-op after Close.
func (c *Client) Flush() {
	if c.writeAPI == nil || c.closed.Load() {
		return
	}
	c.writeAPI.Flush()
}

// Close flushes what is buffered and releases the connection. Points
// written afterwards are dropped.
func (c *Client) Close() error {
	if c.client == nil || c.closed.Swap(true) {
		return nil
	}
	c.writeAPI.Flush()
	c.client.Close()
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.client == nil || c.closed.Load() {
		return ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(ctx, c.client); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}
