package firestore

import (
	"context"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/badgewise/pkg/domain/interfaces"
	"github.com/secmon-lab/badgewise/pkg/domain/model"
	"github.com/secmon-lab/badgewise/pkg/utils/metrics"
	"google.golang.org/api/iterator"
)

const (
	// distanceField receives the cosine distance computed by FindNearest
	distanceField = "_vector_distance"

	// maxNearestLimit is the largest limit Firestore accepts for FindNearest
	maxNearestLimit = 1000

	defaultTieMargin = 8
)

// vectorDoc is the Firestore document representation of an indexed badge vector.
// Embedding is stored as firestore.Vector32 so that FindNearest vector search works.
type vectorDoc struct {
	ID        string             `firestore:"ID"`
	Embedding firestore.Vector32 `firestore:"Embedding"`
	Metadata  map[string]any     `firestore:"Metadata"`
	UpdatedAt time.Time          `firestore:"UpdatedAt"`
}

// Index is a vector index backed by Firestore vector search
type Index struct {
	client     *firestore.Client
	collection string
	dimension  int
	tieMargin  int
}

var _ interfaces.VectorIndex = &Index{}

type IndexOption func(*Index)

// WithTieMargin sets how many extra neighbours are fetched so that ties at the k-th
// position are resolved by ascending id rather than by Firestore's internal order
func WithTieMargin(n int) IndexOption {
	return func(x *Index) {
		if n >= 0 {
			x.tieMargin = n
		}
	}
}

// NewIndex creates a vector index on the given collection
func NewIndex(client *firestore.Client, collection string, dimension int, opts ...IndexOption) *Index {
	x := &Index{
		client:     client,
		collection: collection,
		dimension:  dimension,
		tieMargin:  defaultTieMargin,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

func (x *Index) Dimension() int {
	return x.dimension
}

func (x *Index) coll() *firestore.CollectionRef {
	return x.client.Collection(x.collection)
}

func validateDocID(id string) error {
	if id == "" || strings.Contains(id, "/") {
		return goerr.Wrap(model.ErrInvalidInput, "invalid vector id", goerr.V("id", id))
	}
	return nil
}

func (x *Index) Upsert(ctx context.Context, id string, vector []float32, metadata model.Metadata) (err error) {
	defer func() { metrics.IndexOperation("firestore", "upsert", err) }()

	if err := validateDocID(id); err != nil {
		return err
	}
	if err := model.CheckDimension(vector, x.dimension); err != nil {
		return goerr.Wrap(err, "failed to upsert vector", goerr.V("id", id))
	}

	doc := &vectorDoc{
		ID:        id,
		Embedding: firestore.Vector32(model.Normalize(vector)),
		Metadata:  metadata.Clone(),
		UpdatedAt: time.Now().UTC(),
	}
	if doc.Metadata == nil {
		doc.Metadata = map[string]any{}
	}

	if _, err := x.coll().Doc(id).Set(ctx, doc); err != nil {
		return goerr.Wrap(model.WithKind(err, model.ErrIndexUnavailable), "failed to upsert vector",
			goerr.V("collection", x.collection), goerr.V("id", id))
	}
	return nil
}

func (x *Index) Delete(ctx context.Context, id string) (err error) {
	defer func() { metrics.IndexOperation("firestore", "delete", err) }()

	if err := validateDocID(id); err != nil {
		return err
	}
	// Deleting a missing document succeeds in Firestore
	if _, err := x.coll().Doc(id).Delete(ctx); err != nil {
		return goerr.Wrap(model.WithKind(err, model.ErrIndexUnavailable), "failed to delete vector",
			goerr.V("collection", x.collection), goerr.V("id", id))
	}
	return nil
}

func (x *Index) Query(ctx context.Context, vector []float32, k int, filter model.Filter) (_ []*model.Match, err error) {
	defer func() { metrics.IndexOperation("firestore", "query", err) }()

	if k <= 0 {
		return nil, goerr.Wrap(model.ErrInvalidInput, "k must be positive", goerr.V("k", k))
	}
	if err := model.CheckDimension(vector, x.dimension); err != nil {
		return nil, goerr.Wrap(err, "failed to query vectors")
	}

	query := x.coll().Query
	keys := make([]string, 0, len(filter))
	for key := range filter {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		query = query.Where("Metadata."+key, "==", filter[key])
	}

	limit := min(k+x.tieMargin, maxNearestLimit)
	vq := query.FindNearest("Embedding", firestore.Vector32(model.Normalize(vector)), limit,
		firestore.DistanceMeasureCosine,
		&firestore.FindNearestOptions{DistanceResultField: distanceField})

	iter := vq.Documents(ctx)
	defer iter.Stop()

	matches := make([]*model.Match, 0, limit)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(model.WithKind(err, model.ErrIndexUnavailable), "failed to iterate vector search results",
				goerr.V("collection", x.collection))
		}

		var d vectorDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal vector document", goerr.V("id", doc.Ref.ID))
		}

		distance, _ := model.Metadata(doc.Data()).Float(distanceField)
		matches = append(matches, &model.Match{
			ID:         doc.Ref.ID,
			Similarity: max(-1, min(1, 1-distance)),
			Metadata:   d.Metadata,
		})
	}

	model.SortMatches(matches)
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}
