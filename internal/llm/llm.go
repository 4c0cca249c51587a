// Package llm defines the capability interfaces for the optional language
// model collaborator: pair verification (entity resolution), free-text
// generation (research question suggestion, prerequisite inference), and text
// embedding.
//
// Every core algorithm has a fully deterministic path with no LLM: components
// receive one of these interfaces at construction time and a Nop
// implementation is injected when no backend is configured, so there is no
// "if llm != nil" branching at call sites.  All calls carry an explicit
// timeout; a timed-out or failed call degrades to the heuristic fallback and
// MUST NOT fail the surrounding run.
package llm

import "context"

// MergePair is one candidate duplicate pair submitted for verification.
type MergePair struct {
	NameA      string `json:"name_a"`
	NameB      string `json:"name_b"`
	EntityType string `json:"entity_type"`
	// Score is the heuristic similarity that triggered the escalation,
	// supplied as context for the verifier.
	Score float64 `json:"score"`
}

// Decision is the verifier's verdict on one pair.
type Decision struct {
	Same       bool    `json:"same"`
	Confidence float64 `json:"confidence"`
}

// Verifier decides whether candidate pairs denote the same real-world
// concept.  Implementations receive pairs in batches sized by the caller
// (the resolver batches ≤20–40 pairs per call to bound suspension count).
//
// A returned error means the whole batch is unconfirmed; the resolver treats
// that as "no merges" — conservative under-merging, never false merges.
type Verifier interface {
	VerifyPairs(ctx context.Context, pairs []MergePair) ([]Decision, error)
}

// Generator produces free text from a prompt.  Used for bridging research
// question suggestion and prerequisite inference; both callers have fixed
// template fallbacks for when generation fails or is unavailable.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Embedder converts texts into dense vectors.  The resolver embeds
// canonical names that arrived without a precomputed vector before
// candidate generation.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Capabilities bundles the three collaborator interfaces selected once at
// construction time.
type Capabilities struct {
	Verifier  Verifier
	Generator Generator
	Embedder  Embedder
}

// NopCapabilities returns a Capabilities value whose members are all no-op:
// the fully deterministic, LLM-free configuration.
func NopCapabilities() Capabilities {
	return Capabilities{
		Verifier:  NopVerifier{},
		Generator: NopGenerator{},
		Embedder:  NopEmbedder{},
	}
}

// NopVerifier confirms nothing: every pair comes back Same=false, which
// leaves the resolver's heuristic thresholds in sole control of merging.
type NopVerifier struct{}

// VerifyPairs implements Verifier.
func (NopVerifier) VerifyPairs(_ context.Context, pairs []MergePair) ([]Decision, error) {
	return make([]Decision, len(pairs)), nil
}

// ErrNoGenerator is returned by NopGenerator so callers take their template
// fallback path.
var ErrNoGenerator = generatorUnavailableError{}

type generatorUnavailableError struct{}

func (generatorUnavailableError) Error() string { return "llm: no generator configured" }

// NopGenerator always fails, routing callers onto their deterministic
// fallback.
type NopGenerator struct{}

// Generate implements Generator.
func (NopGenerator) Generate(_ context.Context, _ string) (string, error) {
	return "", ErrNoGenerator
}

// NopEmbedder returns no vectors; candidate generation then proceeds with
// string similarity only.
type NopEmbedder struct{}

// Embed implements Embedder.
func (NopEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	return make([][]float32, len(texts)), nil
}
