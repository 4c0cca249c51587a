package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athene-kg/athene/internal/infrastructure/monitoring/logging"
	"github.com/athene-kg/athene/pkg/errors"
)

func chatServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": reply}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{
		BaseURL:        baseURL,
		RequestTimeout: 2 * time.Second,
		RetryBackoff:   time.Millisecond,
	}, logging.NewNopLogger())
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient(ClientConfig{}, logging.NewNopLogger())
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
}

func TestGenerate(t *testing.T) {
	srv := chatServer(t, "three bridging questions")
	defer srv.Close()

	text, err := newTestClient(t, srv.URL).Generate(context.Background(), "suggest questions")
	require.NoError(t, err)
	assert.Equal(t, "three bridging questions", text)
}

func TestVerifyPairs_ParsesDecisions(t *testing.T) {
	srv := chatServer(t, "Here you go:\n[{\"same\": true, \"confidence\": 0.95}, {\"same\": false, \"confidence\": 0.7}]")
	defer srv.Close()

	pairs := []MergePair{
		{NameA: "GCN", NameB: "graph convolutional network", EntityType: "Method", Score: 0.88},
		{NameA: "SAT", NameB: "student aptitude test", EntityType: "Concept", Score: 0.83},
	}
	decisions, err := newTestClient(t, srv.URL).VerifyPairs(context.Background(), pairs)
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	assert.True(t, decisions[0].Same)
	assert.False(t, decisions[1].Same)
}

func TestVerifyPairs_CountMismatchIsError(t *testing.T) {
	srv := chatServer(t, `[{"same": true, "confidence": 0.9}]`)
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).VerifyPairs(context.Background(), []MergePair{
		{NameA: "a", NameB: "b"}, {NameA: "c", NameB: "d"},
	})
	assert.True(t, errors.IsCode(err, errors.ErrCodeVerifierBatchFailed))
}

func TestVerifyPairs_EmptyBatch(t *testing.T) {
	decisions, err := newTestClient(t, "http://unused.invalid").VerifyPairs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, decisions)
}

func TestEmbed_AlignsByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embeddings", r.URL.Path)
		// Deliberately out of order.
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"index": 1, "embedding": []float32{0.2}},
				{"index": 0, "embedding": []float32{0.1}},
			},
		})
	}))
	defer srv.Close()

	vecs, err := newTestClient(t, srv.URL).Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{0.1}, vecs[0])
	assert.Equal(t, []float32{0.2}, vecs[1])
}

func TestPost_RetriesOn5xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "ok"}},
			},
		})
	}))
	defer srv.Close()

	text, err := newTestClient(t, srv.URL).Generate(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, int32(2), calls.Load())
}

func TestPost_NoRetryOn4xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Generate(context.Background(), "p")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNopCapabilities(t *testing.T) {
	caps := NopCapabilities()

	decisions, err := caps.Verifier.VerifyPairs(context.Background(), []MergePair{{NameA: "a", NameB: "b"}})
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.False(t, decisions[0].Same)

	_, err = caps.Generator.Generate(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNoGenerator)

	vecs, err := caps.Embedder.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Nil(t, vecs[0])
}
