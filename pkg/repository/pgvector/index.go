package pgvector

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/m-mizutani/goerr/v2"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"github.com/secmon-lab/badgewise/pkg/domain/interfaces"
	"github.com/secmon-lab/badgewise/pkg/domain/model"
	"github.com/secmon-lab/badgewise/pkg/utils/metrics"
)

const (
	DefaultTable     = "badges"
	defaultTieMargin = 8
)

// Index is a vector index on PostgreSQL with the pgvector extension
type Index struct {
	pool      *pgxpool.Pool
	table     string
	dimension int
	tieMargin int
}

var _ interfaces.VectorIndex = &Index{}

type Option func(*Index)

// WithTable sets the table holding badge vectors
func WithTable(table string) Option {
	return func(x *Index) {
		x.table = table
	}
}

// WithTieMargin sets how many extra neighbours are fetched to resolve ties at the k-th position by id
func WithTieMargin(n int) Option {
	return func(x *Index) {
		if n >= 0 {
			x.tieMargin = n
		}
	}
}

// New connects to PostgreSQL. The vector extension must already exist (see Migrate).
func New(ctx context.Context, dsn string, dimension int, opts ...Option) (*Index, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse pgvector DSN")
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, goerr.Wrap(model.WithKind(err, model.ErrIndexUnavailable), "failed to create pgvector pool")
	}

	x := &Index{
		pool:      pool,
		table:     DefaultTable,
		dimension: dimension,
		tieMargin: defaultTieMargin,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x, nil
}

func (x *Index) Dimension() int {
	return x.dimension
}

func (x *Index) Close() error {
	x.pool.Close()
	return nil
}

func (x *Index) ident() string {
	return pgx.Identifier{x.table}.Sanitize()
}

func (x *Index) Upsert(ctx context.Context, id string, vector []float32, metadata model.Metadata) (err error) {
	defer func() { metrics.IndexOperation("pgvector", "upsert", err) }()

	if id == "" {
		return goerr.Wrap(model.ErrInvalidInput, "vector id is required")
	}
	if err := model.CheckDimension(vector, x.dimension); err != nil {
		return goerr.Wrap(err, "failed to upsert vector", goerr.V("id", id))
	}
	if metadata == nil {
		metadata = model.Metadata{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal metadata", goerr.V("id", id))
	}

	sql := fmt.Sprintf(`INSERT INTO %s (id, embedding, metadata, updated_at)
VALUES ($1, $2, $3::jsonb, now())
ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding, metadata = EXCLUDED.metadata, updated_at = now()`, x.ident())

	if _, err := x.pool.Exec(ctx, sql, id, pgvector.NewVector(model.Normalize(vector)), string(raw)); err != nil {
		return goerr.Wrap(model.WithKind(err, model.ErrIndexUnavailable), "failed to upsert vector",
			goerr.V("table", x.table), goerr.V("id", id))
	}
	return nil
}

func (x *Index) Delete(ctx context.Context, id string) (err error) {
	defer func() { metrics.IndexOperation("pgvector", "delete", err) }()

	sql := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, x.ident())
	if _, err := x.pool.Exec(ctx, sql, id); err != nil {
		return goerr.Wrap(model.WithKind(err, model.ErrIndexUnavailable), "failed to delete vector",
			goerr.V("table", x.table), goerr.V("id", id))
	}
	return nil
}

func (x *Index) Query(ctx context.Context, vector []float32, k int, filter model.Filter) (_ []*model.Match, err error) {
	defer func() { metrics.IndexOperation("pgvector", "query", err) }()

	if k <= 0 {
		return nil, goerr.Wrap(model.ErrInvalidInput, "k must be positive", goerr.V("k", k))
	}
	if err := model.CheckDimension(vector, x.dimension); err != nil {
		return nil, goerr.Wrap(err, "failed to query vectors")
	}
	if filter == nil {
		filter = model.Filter{}
	}
	rawFilter, err := json.Marshal(filter)
	if err != nil {
		return nil, goerr.Wrap(model.WithKind(err, model.ErrInvalidInput), "failed to marshal filter")
	}

	// The HNSW index serves ORDER BY distance only; ties are resolved below
	sql := fmt.Sprintf(`SELECT id, 1 - (embedding <=> $1) AS similarity, metadata
FROM %s
WHERE metadata @> $2::jsonb
ORDER BY embedding <=> $1
LIMIT $3`, x.ident())

	rows, err := x.pool.Query(ctx, sql, pgvector.NewVector(model.Normalize(vector)), string(rawFilter), k+x.tieMargin)
	if err != nil {
		return nil, goerr.Wrap(model.WithKind(err, model.ErrIndexUnavailable), "failed to query vectors",
			goerr.V("table", x.table))
	}
	defer rows.Close()

	matches := make([]*model.Match, 0, k+x.tieMargin)
	for rows.Next() {
		var (
			id         string
			similarity float64
			metadata   map[string]any
		)
		if err := rows.Scan(&id, &similarity, &metadata); err != nil {
			return nil, goerr.Wrap(err, "failed to scan vector row", goerr.V("table", x.table))
		}
		matches = append(matches, &model.Match{
			ID:         id,
			Similarity: max(-1, min(1, similarity)),
			Metadata:   metadata,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(model.WithKind(err, model.ErrIndexUnavailable), "failed to read vector rows",
			goerr.V("table", x.table))
	}

	model.SortMatches(matches)
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}
