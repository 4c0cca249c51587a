package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/athene-kg/athene/internal/infrastructure/monitoring/logging"
	"github.com/athene-kg/athene/pkg/errors"
)

// ClientConfig holds the parameters for an OpenAI-compatible backend.  The
// same client shape serves hosted APIs and self-hosted vLLM/Ollama gateways.
type ClientConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	ChatModel      string        `mapstructure:"chat_model"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	Temperature    float64       `mapstructure:"temperature"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
}

// Client is an OpenAI-compatible HTTP backend implementing Verifier,
// Generator, and Embedder.  Every request carries the configured timeout so
// no pipeline stage can be blocked indefinitely by the model service.
type Client struct {
	cfg  ClientConfig
	http *http.Client
	log  logging.Logger
}

// NewClient constructs a Client, applying defaults for unset fields.
func NewClient(cfg ClientConfig, log logging.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New(errors.ErrCodeValidation, "llm base_url must not be empty")
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = "gpt-4o-mini"
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.RequestTimeout},
		log:  log.Named("llm"),
	}, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Generate implements Generator via the chat completions endpoint.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	req := chatRequest{
		Model:       c.cfg.ChatModel,
		Temperature: c.cfg.Temperature,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
	}
	var resp chatResponse
	if err := c.post(ctx, "/chat/completions", req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New(errors.ErrCodeExternalService, "llm returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed implements Embedder via the embeddings endpoint.  The result slice
// is index-aligned with texts.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	req := embeddingRequest{Model: c.cfg.EmbeddingModel, Input: texts}
	var resp embeddingResponse
	if err := c.post(ctx, "/embeddings", req, &resp); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = d.Embedding
		}
	}
	return out, nil
}

// verifyPrompt instructs the model to return a strict JSON array so the
// response can be parsed without heuristics.
const verifyPrompt = `You are reviewing candidate duplicate entities extracted from academic papers.
For each numbered pair below, decide whether the two names denote the SAME real-world concept, method, or finding.
Respond with ONLY a JSON array of objects, one per pair in order: [{"same": true|false, "confidence": 0.0-1.0}, ...]

Pairs:
%s`

// VerifyPairs implements Verifier.  One chat call per batch; the caller has
// already bounded the batch size.  Any transport or parse failure is
// returned as a single error for the batch — the resolver treats the whole
// batch as unconfirmed.
func (c *Client) VerifyPairs(ctx context.Context, pairs []MergePair) ([]Decision, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	var sb strings.Builder
	for i, p := range pairs {
		fmt.Fprintf(&sb, "%d. [%s] %q vs %q (heuristic score %.2f)\n",
			i+1, p.EntityType, p.NameA, p.NameB, p.Score)
	}
	text, err := c.Generate(ctx, fmt.Sprintf(verifyPrompt, sb.String()))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeVerifierBatchFailed, "verifier call failed")
	}
	decisions, err := parseDecisions(text, len(pairs))
	if err != nil {
		c.log.Warn("unparseable verifier response, treating batch as unconfirmed",
			logging.Int("pairs", len(pairs)), logging.Err(err))
		return nil, err
	}
	return decisions, nil
}

// parseDecisions extracts the first JSON array from text and unmarshals it.
// Models occasionally wrap the array in prose or a code fence.
func parseDecisions(text string, want int) ([]Decision, error) {
	start := strings.IndexByte(text, '[')
	end := strings.LastIndexByte(text, ']')
	if start < 0 || end <= start {
		return nil, errors.New(errors.ErrCodeVerifierBatchFailed, "no JSON array in verifier response")
	}
	var decisions []Decision
	if err := json.Unmarshal([]byte(text[start:end+1]), &decisions); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeVerifierBatchFailed, "malformed verifier JSON")
	}
	if len(decisions) != want {
		return nil, errors.Newf(errors.ErrCodeVerifierBatchFailed,
			"verifier returned %d decisions for %d pairs", len(decisions), want)
	}
	return decisions, nil
}

// post sends one JSON request with bounded retries on transport errors and
// 5xx/429 responses.  Context cancellation is never retried.
func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "llm request encode failed")
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), errors.ErrCodeTimeout, "llm request cancelled")
			case <-time.After(c.cfg.RetryBackoff * time.Duration(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			strings.TrimRight(c.cfg.BaseURL, "/")+path, bytes.NewReader(payload))
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "llm request build failed")
		}
		req.Header.Set("Content-Type", "application/json")
		if c.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return errors.Wrap(ctx.Err(), errors.ErrCodeTimeout, "llm request cancelled")
			}
			lastErr = err
			continue
		}

		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("llm backend returned %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return errors.Newf(errors.ErrCodeExternalService,
				"llm backend returned %d: %s", resp.StatusCode, truncate(string(data), 200))
		}
		if err := json.Unmarshal(data, out); err != nil {
			return errors.Wrap(err, errors.ErrCodeSerialization, "llm response decode failed")
		}
		return nil
	}
	return errors.Wrap(lastErr, errors.ErrCodeExternalService, "llm request failed after retries")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
