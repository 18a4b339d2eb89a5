package embeddings

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// LocalEmbedder is a deterministic, dependency-free embedder: tokens are
// hashed into a fixed number of buckets and the resulting counts are L2
// normalized. It trades semantic quality for zero configuration, which is
// enough for keyword-ish matching of agent and skill descriptions.
type LocalEmbedder struct {
	dims int
}

// DefaultLocalDimensions is used when no dimension is configured.
const DefaultLocalDimensions = 256

// NewLocalEmbedder creates a hashing embedder with the given vector size.
func NewLocalEmbedder(dims int) *LocalEmbedder {
	if dims <= 0 {
		dims = DefaultLocalDimensions
	}
	return &LocalEmbedder{dims: dims}
}

// Dimension returns the configured vector size.
func (e *LocalEmbedder) Dimension() int {
	return e.dims
}

// Embed hashes each text into a normalized bag-of-tokens vector.
func (e *LocalEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = e.embedOne(text)
	}
	return out, nil
}

func (e *LocalEmbedder) embedOne(text string) []float32 {
	vec := make([]float32, e.dims)
	for _, token := range tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		vec[int(h.Sum32())%e.dims]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

// tokenize lowercases and splits on anything that is not a letter or digit.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
