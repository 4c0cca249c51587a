// Package opensearch holds the entity name index.  It backs fuzzy
// name lookups over canonical names and aliases, scoped per project,
// for the query surface and for resolution candidate blocking.
package opensearch

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"

	"github.com/athene-kg/athene/internal/config"
	"github.com/athene-kg/athene/internal/infrastructure/monitoring/logging"
	"github.com/athene-kg/athene/pkg/errors"
)

const (
	pingTimeout       = 5 * time.Second
	defaultMaxRetries = 3
)

// retryStatuses are transient statuses worth retrying: gateway errors
// and cluster backpressure.
var retryStatuses = []int{502, 503, 504, 429}

// Client wraps the opensearch SDK client.
type Client struct {
	os     *opensearch.Client
	cfg    config.OpenSearchConfig
	logger logging.Logger
}

// NewClient connects to the cluster and verifies it responds to a ping.
func NewClient(ctx context.Context, cfg config.OpenSearchConfig, logger logging.Logger) (*Client, error) {
	return newClient(ctx, cfg, nil, logger)
}

// NewClientWithTransport builds a client over a custom transport.  Tests
// use it to stub cluster responses.
func NewClientWithTransport(ctx context.Context, cfg config.OpenSearchConfig, rt http.RoundTripper, logger logging.Logger) (*Client, error) {
	return newClient(ctx, cfg, rt, logger)
}

func newClient(ctx context.Context, cfg config.OpenSearchConfig, rt http.RoundTripper, logger logging.Logger) (*Client, error) {
	if len(cfg.Addresses) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "opensearch: at least one address is required")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	if rt == nil {
		rt = &http.Transport{
			MaxIdleConnsPerHost: 10,
			TLSClientConfig:     &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify},
		}
	}

	osc, err := opensearch.NewClient(opensearch.Config{
		Addresses:     cfg.Addresses,
		Username:      cfg.User,
		Password:      cfg.Password,
		MaxRetries:    defaultMaxRetries,
		RetryOnStatus: retryStatuses,
		Transport:     rt,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStoreUnavailable, "opensearch: building client")
	}

	c := &Client{os: osc, cfg: cfg, logger: logger}
	if err := c.HealthCheck(ctx); err != nil {
		return nil, err
	}

	logger.Info("connected to opensearch", logging.Int("addresses", len(cfg.Addresses)))
	return c, nil
}

// SDK exposes the underlying client for request builders.
func (c *Client) SDK() *opensearch.Client {
	return c.os
}

// Config returns the configuration the client was built with.
func (c *Client) Config() config.OpenSearchConfig {
	return c.cfg
}

// HealthCheck pings the cluster.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	resp, err := c.os.Ping(c.os.Ping.WithContext(ctx))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStoreUnavailable, "opensearch: ping failed")
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return errors.Newf(errors.ErrCodeStoreUnavailable, "opensearch: ping returned status %d", resp.StatusCode)
	}
	return nil
}
