package embeddings

import (
	"context"

	"github.com/rotisserie/eris"
)

// ErrEmptyText is returned when asked to embed blank input.
var ErrEmptyText = eris.New("embeddings: empty text")

// Embedder defines the interface for generating text embeddings.
type Embedder interface {
	// Embed generates embeddings for one or more texts, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the number of dimensions in the embedding vectors.
	Dimensions() int

	// Name returns the name/identifier of the embedding model.
	Name() string
}
