// Package milvus holds the concept embedding index.  Resolution uses it to
// block candidate duplicate pairs once a project outgrows in-memory pairwise
// comparison, and the query surface uses it for similar-concept lookups.
package milvus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"

	"github.com/athene-kg/athene/internal/config"
	"github.com/athene-kg/athene/internal/infrastructure/monitoring/logging"
	"github.com/athene-kg/athene/pkg/errors"
)

// clientFactory allows tests to swap the SDK constructor.
type clientFactory func(ctx context.Context, conf client.Config) (client.Client, error)

var newMilvusClient clientFactory = client.NewClient

// ErrUnhealthy is returned when the cluster fails its health check.
var ErrUnhealthy = errors.New(errors.ErrCodeStoreUnavailable, "milvus unhealthy")

const connectTimeout = 10 * time.Second

// Client wraps the milvus SDK client with health tracking.
type Client struct {
	mc      client.Client
	cfg     config.MilvusConfig
	logger  logging.Logger
	healthy atomic.Bool
	once    sync.Once
}

// NewClient connects and verifies the cluster is reachable.
func NewClient(ctx context.Context, cfg config.MilvusConfig, logger logging.Logger) (*Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New(errors.ErrCodeValidation, "milvus addr required")
	}
	dbName := cfg.DBName
	if dbName == "" {
		dbName = "default"
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	mc, err := newMilvusClient(connectCtx, client.Config{
		Address: cfg.Addr,
		DBName:  dbName,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStoreUnavailable, "connecting to milvus")
	}

	c := &Client{mc: mc, cfg: cfg, logger: logger}
	if err := c.HealthCheck(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}

	logger.Info("connected to milvus", logging.String("addr", cfg.Addr))
	return c, nil
}

// NewClientWithSDK wraps an existing SDK client, for tests.
func NewClientWithSDK(mc client.Client, cfg config.MilvusConfig, logger logging.Logger) *Client {
	return &Client{mc: mc, cfg: cfg, logger: logger}
}

// SDK exposes the underlying client for the collection and index layers.
func (c *Client) SDK() client.Client { return c.mc }

// HealthCheck pings the cluster and updates the cached state.
func (c *Client) HealthCheck(ctx context.Context) error {
	if _, err := c.mc.CheckHealth(ctx); err != nil {
		c.healthy.Store(false)
		c.logger.Warn("milvus health check failed", logging.Err(err))
		return ErrUnhealthy
	}
	c.healthy.Store(true)
	return nil
}

// IsHealthy reports the last health check outcome.
func (c *Client) IsHealthy() bool { return c.healthy.Load() }

// Close releases the connection.  Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		err = c.mc.Close()
		c.logger.Info("milvus client closed")
	})
	return err
}
