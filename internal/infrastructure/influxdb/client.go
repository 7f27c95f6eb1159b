package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/openrgb-bridge/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second

	// Used when the config leaves batching unset. A poll of a few hundred
	// LEDs fits in one batch.
	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// Client records light state and server availability as InfluxDB points.
//
// Writes never block the bridge: points are batched by the non-blocking
// write API and failures surface through the OnError callback. Points
// written after Close are counted as skipped and discarded.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	cfg      config.InfluxDBConfig

	connected bool
	mu        sync.RWMutex
	onError   func(err error)

	written       atomic.Uint64
	skipped       atomic.Uint64
	failedBatches atomic.Uint64
}

// WriteStats counts what happened to the points handed to the client.
type WriteStats struct {
	// Written points were queued for a batch.
	Written uint64
	// Skipped points arrived while the client was closed.
	Skipped uint64
	// FailedBatches were rejected by the server or never delivered.
	FailedBatches uint64
}

// Connect pings the server and prepares the batched write API for
// cfg.Org / cfg.Bucket. It returns ErrDisabled when cfg.Enabled is false.
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, batchOptions(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()
	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping %s: %w", ErrConnectionFailed, cfg.URL, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: %s reports unhealthy", ErrConnectionFailed, cfg.URL)
	}

	c := &Client{
		client:    client,
		writeAPI:  client.WriteAPI(cfg.Org, cfg.Bucket),
		cfg:       cfg,
		connected: true,
	}
	go c.watchErrors(c.writeAPI.Errors())
	return c, nil
}

// batchOptions maps the batching config onto client options, falling
// back to defaults for non-positive values.
func batchOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batchSize := uint(defaultBatchSize)
	if cfg.BatchSize > 0 {
		batchSize = uint(cfg.BatchSize)
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}
	return influxdb2.DefaultOptions().
		SetBatchSize(batchSize).
		SetFlushInterval(uint(flush.Milliseconds()))
}

// watchErrors drains the write API's error channel until the client closes.
func (c *Client) watchErrors(errs <-chan error) {
	for err := range errs {
		c.failedBatches.Add(1)

		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()
		if callback != nil {
			callback(fmt.Errorf("%w: bucket %s: %w", ErrWriteFailed, c.cfg.Bucket, err))
		}
	}
}

// write queues p unless the client is closed.
func (c *Client) write(p *write.Point) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected {
		c.skipped.Add(1)
		return
	}
	c.writeAPI.WritePoint(p)
	c.written.Add(1)
}

// Close flushes queued points and releases the client. It is safe to call
// on a zero Client and more than once.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	c.Flush()

	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.mu.Unlock()

	if wasConnected {
		c.client.Close()
	}
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	healthy, err := c.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb health check: %s reports unhealthy", c.cfg.URL)
	}
	return nil
}

// IsConnected reports whether the client still accepts points.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// SetOnError sets the callback for rejected batches.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	c.onError = callback
	c.mu.Unlock()
}

// Stats returns the write counters.
func (c *Client) Stats() WriteStats {
	return WriteStats{
		Written:       c.written.Load(),
		Skipped:       c.skipped.Load(),
		FailedBatches: c.failedBatches.Load(),
	}
}

// Flush sends queued points now. It is a no-op once the client is closed.
func (c *Client) Flush() {
	if !c.IsConnected() || c.writeAPI == nil {
		return
	}
	c.writeAPI.Flush()
}
