package embed

import (
	"context"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"

	apperrors "github.com/tribridrag/tribridrag/internal/errors"
)

// DefaultStaticDimensions is the dimension used when none is configured.
const DefaultStaticDimensions = 256

// Feature weights for the hash projection.
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// codeStopWords are keywords too common in source text to carry signal.
var codeStopWords = map[string]bool{
	"func": true, "function": true, "def": true, "class": true,
	"return": true, "import": true, "const": true, "var": true,
	"let": true, "int": true, "string": true, "bool": true,
	"void": true, "true": true, "false": true, "nil": true,
	"null": true, "this": true, "self": true, "new": true,
}

// StaticEmbedder produces deterministic hash-projection embeddings
// with no network or model dependency. Semantic quality is low; it
// exists for tests and offline smoke runs.
type StaticEmbedder struct {
	dimensions int

	mu     sync.RWMutex
	closed bool
}

// NewStaticEmbedder creates a static embedder with the given
// dimension. Non-positive dimensions fall back to the default.
func NewStaticEmbedder(dimensions int) *StaticEmbedder {
	if dimensions <= 0 {
		dimensions = DefaultStaticDimensions
	}
	return &StaticEmbedder{dimensions: dimensions}
}

func (e *StaticEmbedder) Dimensions() int   { return e.dimensions }
func (e *StaticEmbedder) Provider() string  { return "static" }
func (e *StaticEmbedder) ModelName() string { return "static-hash" }

// Close marks the embedder unusable.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// Embed generates a deterministic embedding for one text.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, apperrors.New(apperrors.KindInternal, "static embedder is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, e.dimensions), nil
	}

	vector := make([]float32, e.dimensions)
	for _, token := range e.tokens(trimmed) {
		vector[hashToIndex(token, e.dimensions)] += tokenWeight
	}
	lowered := strings.ToLower(trimmed)
	for i := 0; i+ngramSize <= len(lowered); i++ {
		vector[hashToIndex(lowered[i:i+ngramSize], e.dimensions)] += ngramWeight
	}
	return normalizeVector(vector), nil
}

// EmbedBatch embeds each text independently.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		results[i] = vec
	}
	return results, nil
}

// tokens splits text into lowercased identifiers, splitting camelCase
// so Go and TypeScript symbols share features with prose queries.
func (e *StaticEmbedder) tokens(text string) []string {
	var out []string
	for _, word := range tokenRegex.FindAllString(text, -1) {
		for _, part := range splitCamelCase(word) {
			part = strings.ToLower(part)
			if len(part) > 1 && !codeStopWords[part] {
				out = append(out, part)
			}
		}
	}
	return out
}

func splitCamelCase(s string) []string {
	var parts []string
	start := 0
	for i := 1; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' && s[i-1] >= 'a' && s[i-1] <= 'z' {
			parts = append(parts, s[start:i])
			start = i
		}
	}
	parts = append(parts, s[start:])
	return parts
}

func hashToIndex(s string, dimensions int) int {
	h := fnv.New32a()
	h.Write([]byte(s))
	return int(h.Sum32() % uint32(dimensions))
}
