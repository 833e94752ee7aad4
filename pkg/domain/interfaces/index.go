package interfaces

import (
	"context"

	"github.com/secmon-lab/badgewise/pkg/domain/model"
)

// VectorIndex is a similarity index over badge embeddings.
// All implementations use cosine similarity on L2-normalized vectors and
// order query results by descending similarity, ties by ascending id.
type VectorIndex interface {
	// Upsert inserts or replaces the vector and metadata stored under id
	Upsert(ctx context.Context, id string, vector []float32, metadata model.Metadata) error

	// Delete removes id. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error

	// Query returns at most k matches satisfying filter
	Query(ctx context.Context, vector []float32, k int, filter model.Filter) ([]*model.Match, error)

	// Dimension is the fixed vector length of the index
	Dimension() int
}

// Embedder maps text into the vector space of the index
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Generator turns a generation request into a recommendation result.
// Failures of the generation model are absorbed and never returned.
type Generator interface {
	Generate(ctx context.Context, req *model.GenerationRequest) *model.RecommendationResult
}
