package cli

import (
	"context"
	"io"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/badgewise/pkg/service/source"
	"github.com/secmon-lab/badgewise/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func cmdIngest() *cli.Command {
	var sourceURI string
	var engine engineFlags

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "source",
			Aliases:     []string{"s"},
			Usage:       "Directory or gs://bucket/prefix holding badge_*.json and user_*.json records",
			Required:    true,
			Sources:     cli.EnvVars("BADGEWISE_INGEST_SOURCE"),
			Destination: &sourceURI,
		},
	}
	flags = append(flags, engine.Flags()...)

	return &cli.Command{
		Name:    "ingest",
		Aliases: []string{"i"},
		Usage:   "Embed and index badge records and store learner profiles",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logger := logging.Default()

			src, err := source.Open(ctx, sourceURI)
			if err != nil {
				return goerr.Wrap(err, "failed to open record source")
			}
			if closer, ok := src.(io.Closer); ok {
				defer func() {
					if err := closer.Close(); err != nil {
						logger.Error("failed to close record source", "error", err)
					}
				}()
			}

			uc, closer, err := engine.build(ctx)
			if err != nil {
				return err
			}
			defer closer()

			result, err := uc.Ingest.Run(ctx, src)
			if err != nil {
				return goerr.Wrap(err, "failed to ingest records", goerr.V("source", sourceURI))
			}

			logger.Info("Ingestion completed",
				"source", src.String(),
				"badges", result.Badges,
				"profiles", result.Profiles,
				"skipped", result.Skipped)
			return nil
		},
	}
}
