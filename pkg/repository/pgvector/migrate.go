package pgvector

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/m-mizutani/goerr/v2"
)

// Statements returns the DDL creating the vector table and its indexes
func Statements(table string, dimension int) []string {
	ident := pgx.Identifier{table}.Sanitize()
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	embedding vector(%d) NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, ident, dimension),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)`,
			pgx.Identifier{table + "_embedding_idx"}.Sanitize(), ident),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING gin (metadata jsonb_path_ops)`,
			pgx.Identifier{table + "_metadata_idx"}.Sanitize(), ident),
	}
}

// Migrate applies Statements on a dedicated connection. It runs before New because
// connections of the pool require the vector type to exist.
func Migrate(ctx context.Context, dsn, table string, dimension int) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return goerr.Wrap(err, "failed to connect to postgres")
	}
	defer func() { _ = conn.Close(ctx) }()

	for _, stmt := range Statements(table, dimension) {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return goerr.Wrap(err, "failed to apply migration", goerr.V("statement", stmt))
		}
	}
	return nil
}
