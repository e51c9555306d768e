// Package vectorindex stores embedding vectors with text and flat string
// metadata, and answers nearest-neighbour queries by cosine similarity.
package vectorindex

import (
	"context"
	"math"
)

// Record is one entry written to an index.
type Record struct {
	ID       string
	Vector   []float32
	Text     string
	Metadata map[string]string
}

// Candidate is one query hit. Score is normalized to [0,1] with 1 meaning
// identical direction, regardless of backend.
type Candidate struct {
	ID       string
	Text     string
	Metadata map[string]string
	Score    float64
}

// Filter restricts a query to entries whose metadata contains every
// key/value pair. A nil or empty filter matches everything.
type Filter map[string]string

// Index is a single corpus in a vector backend.
type Index interface {
	// Upsert inserts records, replacing any existing entry with the same ID.
	Upsert(ctx context.Context, records []Record) error
	// Query returns at most k candidates ordered by descending score.
	// An empty index yields an empty result, not an error.
	Query(ctx context.Context, vector []float32, k int, filter Filter) ([]Candidate, error)
	// Delete removes the given IDs. Unknown IDs are ignored.
	Delete(ctx context.Context, ids []string) error
	Count(ctx context.Context) (int, error)
	Name() string
}

// ScoreFromSimilarity maps cosine similarity in [-1,1] to [0,1].
func ScoreFromSimilarity(cos float64) float64 {
	return clamp01((1 + cos) / 2)
}

// ScoreFromCosineDistance maps cosine distance (1 - cos, in [0,2]) to the
// same scale as ScoreFromSimilarity.
func ScoreFromCosineDistance(d float64) float64 {
	return clamp01(1 - d/2)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

func copyMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
