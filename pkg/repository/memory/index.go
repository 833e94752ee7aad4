package memory

import (
	"context"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/badgewise/pkg/domain/interfaces"
	"github.com/secmon-lab/badgewise/pkg/domain/model"
	"github.com/secmon-lab/badgewise/pkg/utils/metrics"
)

type indexEntry struct {
	vector   []float32
	metadata model.Metadata
}

// Index is an in-process flat vector index. Queries scan every entry.
type Index struct {
	dimension int
	mu        sync.RWMutex
	entries   map[string]*indexEntry
}

var _ interfaces.VectorIndex = &Index{}

// NewIndex creates an empty index of the given dimension
func NewIndex(dimension int) *Index {
	return &Index{
		dimension: dimension,
		entries:   make(map[string]*indexEntry),
	}
}

func (x *Index) Dimension() int {
	return x.dimension
}

func (x *Index) Upsert(ctx context.Context, id string, vector []float32, metadata model.Metadata) (err error) {
	defer func() { metrics.IndexOperation("memory", "upsert", err) }()

	if id == "" {
		return goerr.Wrap(model.ErrInvalidInput, "vector id is required")
	}
	if err := model.CheckDimension(vector, x.dimension); err != nil {
		return goerr.Wrap(err, "failed to upsert vector", goerr.V("id", id))
	}

	entry := &indexEntry{
		vector:   model.Normalize(vector),
		metadata: metadata.Clone(),
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries[id] = entry
	return nil
}

func (x *Index) Delete(ctx context.Context, id string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	delete(x.entries, id)
	metrics.IndexOperation("memory", "delete", nil)
	return nil
}

func (x *Index) Query(ctx context.Context, vector []float32, k int, filter model.Filter) (_ []*model.Match, err error) {
	defer func() { metrics.IndexOperation("memory", "query", err) }()

	if k <= 0 {
		return nil, goerr.Wrap(model.ErrInvalidInput, "k must be positive", goerr.V("k", k))
	}
	if err := model.CheckDimension(vector, x.dimension); err != nil {
		return nil, goerr.Wrap(err, "failed to query vectors")
	}
	if err := ctx.Err(); err != nil {
		return nil, goerr.Wrap(model.WithKind(err, model.ErrIndexUnavailable), "query cancelled")
	}

	query := model.Normalize(vector)

	x.mu.RLock()
	matches := make([]*model.Match, 0, len(x.entries))
	for id, entry := range x.entries {
		if !filter.Matches(entry.metadata) {
			continue
		}
		matches = append(matches, &model.Match{
			ID:         id,
			Similarity: model.Cosine(query, entry.vector),
			Metadata:   entry.metadata.Clone(),
		})
	}
	x.mu.RUnlock()

	model.SortMatches(matches)
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Len returns the number of stored vectors
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}
