package usecase

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/badgewise/pkg/domain/interfaces"
	"github.com/secmon-lab/badgewise/pkg/domain/model"
	"github.com/secmon-lab/badgewise/pkg/utils/metrics"
)

// Retriever fetches the nearest badges of a profile vector from the vector index
type Retriever struct {
	index   interfaces.VectorIndex
	margin  int
	timeout time.Duration
}

// NewRetriever creates a Retriever. margin is the number of extra matches queried
// on top of k and the excluded ids.
func NewRetriever(index interfaces.VectorIndex, margin int, timeout time.Duration) *Retriever {
	return &Retriever{
		index:   index,
		margin:  max(margin, 0),
		timeout: timeout,
	}
}

// Retrieve returns at most k candidates nearest to vector, excluding the given badge ids.
// Returning fewer than k candidates is not an error.
func (r *Retriever) Retrieve(ctx context.Context, vector []float32, k int, exclude []model.BadgeID, filter model.Filter) ([]*model.Candidate, error) {
	if k <= 0 {
		return nil, goerr.Wrap(model.ErrInvalidInput, "k must be positive", goerr.V("k", k))
	}
	defer metrics.ObserveStage("retrieval", time.Now())

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	excluded := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		excluded[string(id)] = struct{}{}
	}

	query := k + len(excluded) + r.margin
	matches, err := r.index.Query(ctx, vector, query, filter)
	if err != nil {
		return nil, goerr.Wrap(model.WithKind(err, model.ErrRetrieval), "failed to query vector index",
			goerr.V("k", query))
	}

	candidates := make([]*model.Candidate, 0, min(k, len(matches)))
	for _, m := range matches {
		if _, skip := excluded[m.ID]; skip {
			continue
		}
		candidates = append(candidates, &model.Candidate{
			Badge:      model.BadgeFromMatch(m),
			Similarity: m.Similarity,
		})
		if len(candidates) == k {
			break
		}
	}
	return candidates, nil
}
