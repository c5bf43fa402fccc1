package influx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"vera-home/config"
	"vera-home/internal/domain"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second
)

var (
	ErrDisabled         = errors.New("influxdb: disabled in configuration")
	ErrConnectionFailed = errors.New("influxdb: connection failed")
	ErrNotConnected     = errors.New("influxdb: not connected")
)

// Client writes numeric device attributes to InfluxDB through the
// non-blocking, batched write API.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   *slog.Logger

	mu        sync.RWMutex
	connected bool
}

func Connect(cfg config.InfluxDBConfig, logger *slog.Logger) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	flushMs := uint(cfg.FlushInterval / time.Millisecond)
	if flushMs == 0 {
		flushMs = 10_000
	}
	batch := cfg.BatchSize
	if batch == 0 {
		batch = 100
	}

	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(batch).
			SetFlushInterval(flushMs),
	)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	c := &Client{
		client:    client,
		writeAPI:  client.WriteAPI(cfg.Org, cfg.Bucket),
		logger:    logger,
		connected: true,
	}
	go c.drainErrors(c.writeAPI.Errors())

	return c, nil
}

func (c *Client) drainErrors(errs <-chan error) {
	for err := range errs {
		c.logger.Error("influxdb write failed", "error", err)
	}
}

func (c *Client) Name() string { return "influxdb" }

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// HandleState queues a point for the snapshot. Snapshots without numeric
// attributes are skipped.
func (c *Client) HandleState(_ context.Context, snap domain.DeviceSnapshot) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if p := BuildPoint(snap); p != nil {
		c.writeAPI.WritePoint(p)
	}
	return nil
}

func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	healthy, err := c.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	if !healthy {
		return errors.New("influxdb health check: server not healthy")
	}
	return nil
}

func (c *Client) Flush() {
	if c.IsConnected() {
		c.writeAPI.Flush()
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = false
	c.mu.Unlock()

	c.writeAPI.Flush()
	c.client.Close()
	return nil
}
