// Package embeddings turns record content and scheduling queries into
// vectors for the scheduler's semantic scorer.
package embeddings

import (
	"context"
	"errors"
	"math"
)

// ErrEmbedding wraps every failure of an embedding provider.
var ErrEmbedding = errors.New("embedding failed")

// Embedder provides text embedding capabilities.
type Embedder interface {
	// Embed converts text into a vector embedding.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Close releases any resources held by the embedder.
	Close() error
}

// Cosine returns the cosine similarity of a and b clamped to [0, 1]. Vectors
// of different length or zero magnitude score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return min(1, max(0, sim))
}
