// Package embedder defines the embedding port and its provider adapters.
// The engine treats vectors as opaque; only the dimension is interpreted,
// and only to provision the vector collection.
package embedder

import "context"

// Embedder generates a fixed-dimension vector embedding from text.
// Implementations must be deterministic for a given provider and model.
type Embedder interface {
	// Embed returns a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int
}
