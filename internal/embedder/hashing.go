package embedder

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/recallgraph/recalld/internal/fingerprint"
)

// HashingEmbedder is a deterministic, dependency-free embedder for tests and
// local development. It hashes word tokens into a fixed number of buckets and
// L2-normalizes the result, so identical texts always produce identical
// vectors and overlapping texts produce similar ones.
type HashingEmbedder struct {
	dimension int
}

// NewHashingEmbedder creates a hashing embedder with the given dimension.
func NewHashingEmbedder(dimension int) *HashingEmbedder {
	if dimension <= 0 {
		dimension = 64
	}
	return &HashingEmbedder{dimension: dimension}
}

// Embed maps text tokens into hash buckets and normalizes the vector.
func (h *HashingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dimension)
	start := 0
	norm := fingerprint.Normalize(text)
	flush := func(end int) {
		if end <= start {
			return
		}
		hf := fnv.New32a()
		_, _ = hf.Write([]byte(norm[start:end]))
		vec[int(hf.Sum32())%h.dimension]++
	}
	for i, r := range norm {
		if r == ' ' || r == '\t' || r == '\n' {
			flush(i)
			start = i + 1
		}
	}
	flush(len(norm))

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum > 0 {
		mag := float32(math.Sqrt(sum))
		for i := range vec {
			vec[i] /= mag
		}
	}
	return vec, nil
}

// Dimension returns the configured vector dimension.
func (h *HashingEmbedder) Dimension() int {
	return h.dimension
}
