package config

import (
	"context"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/badgewise/pkg/domain/interfaces"
	"github.com/secmon-lab/badgewise/pkg/repository/firestore"
	"github.com/secmon-lab/badgewise/pkg/repository/memory"
	"github.com/secmon-lab/badgewise/pkg/repository/pgvector"
	"github.com/secmon-lab/badgewise/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

const (
	BackendMemory    = "memory"
	BackendFirestore = "firestore"
	BackendPgvector  = "pgvector"
)

// Repository holds CLI flags for the profile store and the vector index backends
type Repository struct {
	backend          string
	indexBackend     string
	projectID        string
	databaseID       string
	collectionPrefix string
	pgDSN            string
	pgTable          string
}

// Flags returns CLI flags for repository configuration
func (r *Repository) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "repository-backend",
			Usage:       "Profile repository backend type (firestore or memory)",
			Category:    "Storage",
			Value:       BackendFirestore,
			Sources:     cli.EnvVars("BADGEWISE_REPOSITORY_BACKEND"),
			Destination: &r.backend,
		},
		&cli.StringFlag{
			Name:        "index-backend",
			Usage:       "Vector index backend type (firestore, pgvector or memory)",
			Category:    "Storage",
			Value:       BackendFirestore,
			Sources:     cli.EnvVars("BADGEWISE_INDEX_BACKEND"),
			Destination: &r.indexBackend,
		},
		&cli.StringFlag{
			Name:        "firestore-project-id",
			Usage:       "Firestore Project ID (required when using firestore backend)",
			Category:    "Storage",
			Sources:     cli.EnvVars("BADGEWISE_FIRESTORE_PROJECT_ID"),
			Destination: &r.projectID,
		},
		&cli.StringFlag{
			Name:        "firestore-database-id",
			Usage:       "Firestore Database ID",
			Category:    "Storage",
			Sources:     cli.EnvVars("BADGEWISE_FIRESTORE_DATABASE_ID"),
			Destination: &r.databaseID,
		},
		&cli.StringFlag{
			Name:        "firestore-collection-prefix",
			Usage:       "Prefix of Firestore collection names",
			Category:    "Storage",
			Sources:     cli.EnvVars("BADGEWISE_FIRESTORE_COLLECTION_PREFIX"),
			Destination: &r.collectionPrefix,
		},
		&cli.StringFlag{
			Name:        "pgvector-dsn",
			Usage:       "PostgreSQL connection string (required when using pgvector backend)",
			Category:    "Storage",
			Sources:     cli.EnvVars("BADGEWISE_PGVECTOR_DSN"),
			Destination: &r.pgDSN,
		},
		&cli.StringFlag{
			Name:        "pgvector-table",
			Usage:       "PostgreSQL table holding badge vectors",
			Category:    "Storage",
			Value:       pgvector.DefaultTable,
			Sources:     cli.EnvVars("BADGEWISE_PGVECTOR_TABLE"),
			Destination: &r.pgTable,
		},
	}
}

// LogAttrs returns log attributes for the repository configuration. The DSN is never logged.
func (r *Repository) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String("backend", r.backend),
		slog.String("index_backend", r.indexBackend),
		slog.String("firestore_project_id", r.projectID),
		slog.String("firestore_database_id", r.databaseID),
		slog.String("firestore_collection_prefix", r.collectionPrefix),
		slog.String("pgvector_table", r.pgTable),
	}
}

// IndexBackend returns the configured vector index backend
func (r *Repository) IndexBackend() string {
	return r.indexBackend
}

// ProjectID returns the Firestore project ID
func (r *Repository) ProjectID() string {
	return r.projectID
}

// DatabaseID returns the Firestore database ID
func (r *Repository) DatabaseID() string {
	return r.databaseID
}

// CollectionPrefix returns the Firestore collection name prefix
func (r *Repository) CollectionPrefix() string {
	return r.collectionPrefix
}

// PgvectorDSN returns the PostgreSQL connection string
func (r *Repository) PgvectorDSN() string {
	return r.pgDSN
}

// PgvectorTable returns the PostgreSQL table name
func (r *Repository) PgvectorTable() string {
	return r.pgTable
}

func (r *Repository) newFirestore(ctx context.Context) (*firestore.Firestore, error) {
	if r.projectID == "" {
		return nil, goerr.Wrap(ErrMissingCredentials, "firestore-project-id is required when using firestore backend")
	}
	repo, err := firestore.New(ctx, r.projectID, r.databaseID, firestore.WithCollectionPrefix(r.collectionPrefix))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to initialize firestore repository")
	}
	return repo, nil
}

// Configure initializes and returns the profile repository based on the configured backend.
// The caller is responsible for calling Close() on the returned repository.
func (r *Repository) Configure(ctx context.Context) (interfaces.Repository, error) {
	switch r.backend {
	case BackendFirestore:
		repo, err := r.newFirestore(ctx)
		if err != nil {
			return nil, err
		}
		logging.Default().Info("Using Firestore repository",
			"project_id", r.projectID,
			"database_id", r.databaseID,
		)
		return repo, nil

	case BackendMemory:
		logging.Default().Info("Using in-memory repository (development mode)")
		return memory.New(), nil

	default:
		return nil, goerr.Wrap(ErrUnknownBackend, "invalid repository backend", goerr.V(BackendKey, r.backend))
	}
}

// ConfigureIndex initializes the vector index. A Firestore index shares the
// client of repo when repo is Firestore. The returned function releases the index.
func (r *Repository) ConfigureIndex(ctx context.Context, repo interfaces.Repository, dimension int) (interfaces.VectorIndex, func(), error) {
	switch r.indexBackend {
	case BackendFirestore:
		if fs, ok := repo.(*firestore.Firestore); ok {
			return fs.BadgeIndex(dimension), func() {}, nil
		}
		fs, err := r.newFirestore(ctx)
		if err != nil {
			return nil, nil, err
		}
		logging.Default().Info("Using Firestore vector index", "project_id", r.projectID, "dimension", dimension)
		return fs.BadgeIndex(dimension), func() {
			if err := fs.Close(); err != nil {
				logging.Default().Error("failed to close firestore index", "error", err)
			}
		}, nil

	case BackendPgvector:
		if r.pgDSN == "" {
			return nil, nil, goerr.Wrap(ErrMissingCredentials, "pgvector-dsn is required when using pgvector backend")
		}
		index, err := pgvector.New(ctx, r.pgDSN, dimension, pgvector.WithTable(r.pgTable))
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to initialize pgvector index")
		}
		logging.Default().Info("Using pgvector index", "table", r.pgTable, "dimension", dimension)
		return index, func() {
			if err := index.Close(); err != nil {
				logging.Default().Error("failed to close pgvector index", "error", err)
			}
		}, nil

	case BackendMemory:
		logging.Default().Info("Using in-memory vector index (development mode)", "dimension", dimension)
		return memory.NewIndex(dimension), func() {}, nil

	default:
		return nil, nil, goerr.Wrap(ErrUnknownBackend, "invalid index backend", goerr.V(BackendKey, r.indexBackend))
	}
}
