package cli

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/badgewise/pkg/domain/model"
	"github.com/secmon-lab/badgewise/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func cmdRemove() *cli.Command {
	var engine engineFlags

	return &cli.Command{
		Name:      "remove",
		Usage:     "Remove badges from the vector index",
		ArgsUsage: "BADGE_ID [BADGE_ID...]",
		Flags:     engine.Flags(),
		Action: func(ctx context.Context, c *cli.Command) error {
			args := c.Args().Slice()
			if len(args) == 0 {
				return goerr.New("at least one badge ID is required")
			}
			ids := make([]model.BadgeID, len(args))
			for i, arg := range args {
				ids[i] = model.BadgeID(arg)
			}

			uc, closer, err := engine.build(ctx)
			if err != nil {
				return err
			}
			defer closer()

			if err := uc.Ingest.RemoveBadges(ctx, ids); err != nil {
				return goerr.Wrap(err, "failed to remove badges")
			}
			logging.Default().Info("Badges removed", "count", len(ids))
			return nil
		},
	}
}
