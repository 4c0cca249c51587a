package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athene-kg/athene/internal/config"
	"github.com/athene-kg/athene/internal/infrastructure/monitoring/logging"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewClient(config.RedisConfig{Addr: mr.Addr(), KeyPrefix: "athene"}, logging.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestNewClient_PingsOnConnect(t *testing.T) {
	client, _ := newTestClient(t)
	assert.NoError(t, client.HealthCheck(context.Background()))
}

func TestNewClient_Unreachable(t *testing.T) {
	_, err := NewClient(config.RedisConfig{Addr: "127.0.0.1:1"}, logging.NewNopLogger())
	assert.Error(t, err)
}

func TestClient_KeyPrefixing(t *testing.T) {
	client, _ := newTestClient(t)
	assert.Equal(t, "athene:query:p1", client.key("query:p1"))

	bare := NewClientWithRedis(client.Redis(), "", logging.NewNopLogger())
	assert.Equal(t, "query:p1", bare.key("query:p1"))
}

func TestClient_HealthCheck_AfterShutdown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client, err := NewClient(config.RedisConfig{Addr: mr.Addr()}, logging.NewNopLogger())
	require.NoError(t, err)
	defer client.Close()

	mr.Close()
	assert.Error(t, client.HealthCheck(context.Background()))
}

func TestClient_Close_Idempotent(t *testing.T) {
	client, _ := newTestClient(t)
	assert.NoError(t, client.Close())
	assert.NoError(t, client.Close())
}
