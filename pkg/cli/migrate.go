package cli

import (
	"context"

	"github.com/m-mizutani/fireconf"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/badgewise/pkg/cli/config"
	"github.com/secmon-lab/badgewise/pkg/domain/model"
	"github.com/secmon-lab/badgewise/pkg/repository/firestore"
	"github.com/secmon-lab/badgewise/pkg/repository/pgvector"
	"github.com/secmon-lab/badgewise/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func cmdMigrate() *cli.Command {
	var repoCfg config.Repository
	var dimension int
	var dryRun bool

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "embedding-dimension",
			Usage:       "Embedding vector dimension of the index",
			Value:       768,
			Sources:     cli.EnvVars("BADGEWISE_EMBEDDING_DIMENSION"),
			Destination: &dimension,
		},
		&cli.BoolFlag{
			Name:        "dry-run",
			Usage:       "Preview changes without applying",
			Destination: &dryRun,
		},
	}
	flags = append(flags, repoCfg.Flags()...)

	return &cli.Command{
		Name:    "migrate",
		Aliases: []string{"m"},
		Usage:   "Migrate Firestore indexes and the pgvector schema",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logger := logging.Default()

			if dimension <= 0 {
				return goerr.New("embedding dimension must be positive", goerr.V("dimension", dimension))
			}
			if repoCfg.ProjectID() == "" && repoCfg.PgvectorDSN() == "" {
				return goerr.New("either --firestore-project-id or --pgvector-dsn is required")
			}

			if repoCfg.ProjectID() != "" {
				if err := migrateFirestore(ctx, &repoCfg, dimension, dryRun); err != nil {
					return err
				}
			}

			if repoCfg.PgvectorDSN() != "" {
				if dryRun {
					for _, stmt := range pgvector.Statements(repoCfg.PgvectorTable(), dimension) {
						logger.Info("Migration statement", "table", repoCfg.PgvectorTable(), "statement", stmt)
					}
				} else {
					if err := pgvector.Migrate(ctx, repoCfg.PgvectorDSN(), repoCfg.PgvectorTable(), dimension); err != nil {
						return goerr.Wrap(err, "failed to migrate pgvector schema")
					}
					logger.Info("pgvector schema migrated", "table", repoCfg.PgvectorTable())
				}
			}

			return nil
		},
	}
}

func migrateFirestore(ctx context.Context, repoCfg *config.Repository, dimension int, dryRun bool) error {
	logger := logging.Default()

	logger.Info("Migrate configuration",
		"projectID", repoCfg.ProjectID(),
		"databaseID", repoCfg.DatabaseID(),
		"dryRun", dryRun)

	indexConfig := getIndexConfig(repoCfg.CollectionPrefix(), dimension)

	if dryRun {
		logger.Info("Dry run mode - showing target configuration")
		for _, col := range indexConfig.Collections {
			for _, idx := range col.Indexes {
				paths := make([]string, 0, len(idx.Fields))
				for _, f := range idx.Fields {
					paths = append(paths, f.Path)
				}
				logger.Info("Index",
					"collection", col.Name,
					"fields", paths)
			}
		}
		return nil
	}

	client, err := fireconf.New(ctx, repoCfg.ProjectID(), repoCfg.DatabaseID(), indexConfig)
	if err != nil {
		return goerr.Wrap(err, "failed to create fireconf client")
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Error("failed to close fireconf client", "error", err.Error())
		}
	}()

	logger.Info("Applying migrations")
	if err := client.Migrate(ctx); err != nil {
		return goerr.Wrap(err, "failed to apply migrations")
	}
	logger.Info("Migrations applied successfully")
	return nil
}

// getIndexConfig returns the Firestore index configuration of the badge collection.
// Filtered vector search needs a composite index per filtered metadata field.
func getIndexConfig(prefix string, dimension int) *fireconf.Config {
	vector := fireconf.IndexField{
		Path:   "Embedding",
		Vector: &fireconf.VectorConfig{Dimension: dimension},
	}

	indexes := []fireconf.Index{
		{Fields: []fireconf.IndexField{vector}},
	}
	for _, key := range []string{model.MetaIssuer, model.MetaCompetency} {
		indexes = append(indexes, fireconf.Index{
			Fields: []fireconf.IndexField{
				{Path: "Metadata." + key, Order: fireconf.OrderAscending},
				vector,
			},
		})
	}

	return &fireconf.Config{
		Collections: []fireconf.Collection{
			{
				Name:    firestore.CollectionName(prefix, firestore.BadgeCollection),
				Indexes: indexes,
			},
		},
	}
}
