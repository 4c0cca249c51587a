package opensearch

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athene-kg/athene/internal/config"
	"github.com/athene-kg/athene/internal/infrastructure/monitoring/logging"
)

// recordedRequest captures what the transport saw.
type recordedRequest struct {
	Method string
	Path   string
	Body   string
}

// mockTransport answers cluster requests from a handler and records
// everything it receives.
type mockTransport struct {
	handler  func(req *http.Request) (*http.Response, error)
	requests []recordedRequest
}

func (m *mockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body string
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		body = string(b)
		req.Body = io.NopCloser(strings.NewReader(body))
	}
	m.requests = append(m.requests, recordedRequest{
		Method: req.Method,
		Path:   req.URL.Path,
		Body:   body,
	})
	if m.handler != nil {
		return m.handler(req)
	}
	return jsonResponse(200, "{}"), nil
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func testOpenSearchConfig() config.OpenSearchConfig {
	return config.OpenSearchConfig{
		Enabled:       true,
		Addresses:     []string{"http://localhost:9200"},
		BulkBatchSize: 2,
		IndexPrefix:   "athene",
	}
}

func newTestClient(t *testing.T, handler func(req *http.Request) (*http.Response, error)) (*Client, *mockTransport) {
	t.Helper()
	mt := &mockTransport{handler: handler}
	c, err := NewClientWithTransport(context.Background(), testOpenSearchConfig(), mt, logging.NewNopLogger())
	require.NoError(t, err)
	return c, mt
}

func TestNewClient_PingsOnConnect(t *testing.T) {
	_, mt := newTestClient(t, nil)

	require.Len(t, mt.requests, 1)
	assert.Equal(t, http.MethodHead, mt.requests[0].Method)
	assert.Equal(t, "/", mt.requests[0].Path)
}

func TestNewClient_RequiresAddresses(t *testing.T) {
	cfg := testOpenSearchConfig()
	cfg.Addresses = nil

	_, err := NewClientWithTransport(context.Background(), cfg, &mockTransport{}, logging.NewNopLogger())
	assert.Error(t, err)
}

func TestNewClient_FailsWhenClusterDown(t *testing.T) {
	mt := &mockTransport{handler: func(req *http.Request) (*http.Response, error) {
		return jsonResponse(500, `{"error":"boom"}`), nil
	}}

	_, err := NewClientWithTransport(context.Background(), testOpenSearchConfig(), mt, logging.NewNopLogger())
	assert.Error(t, err)
}

func TestHealthCheck(t *testing.T) {
	status := 200
	c, _ := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(status, "{}"), nil
	})

	assert.NoError(t, c.HealthCheck(context.Background()))

	status = 503
	assert.Error(t, c.HealthCheck(context.Background()))
}
