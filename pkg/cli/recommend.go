package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/badgewise/pkg/domain/model"
	"github.com/secmon-lab/badgewise/pkg/usecase"
	"github.com/secmon-lab/badgewise/pkg/utils/safe"
	"github.com/urfave/cli/v3"
)

func cmdRecommend() *cli.Command {
	var (
		userID      string
		profilePath string
		k           int
		filters     []string
		asJSON      bool
		engine      engineFlags
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "user-id",
			Aliases:     []string{"u"},
			Usage:       "Recommend for a stored learner profile",
			Destination: &userID,
		},
		&cli.StringFlag{
			Name:        "profile",
			Aliases:     []string{"p"},
			Usage:       "Recommend for the learner profile in a user_*.json record file",
			Destination: &profilePath,
		},
		&cli.IntFlag{
			Name:        "k",
			Usage:       "Number of badges to recommend (engine default when 0)",
			Destination: &k,
		},
		&cli.StringSliceFlag{
			Name:        "filter",
			Aliases:     []string{"f"},
			Usage:       "Metadata filter as key=value, e.g. issuer=Academy (repeatable)",
			Destination: &filters,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "Print the result as JSON",
			Destination: &asJSON,
		},
	}
	flags = append(flags, engine.Flags()...)

	return &cli.Command{
		Name:    "recommend",
		Aliases: []string{"r"},
		Usage:   "Recommend badges for a learner once and print the result",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if (userID == "") == (profilePath == "") {
				return goerr.New("exactly one of --user-id or --profile is required")
			}
			filter, err := parseFilter(filters)
			if err != nil {
				return err
			}

			uc, closer, err := engine.build(ctx)
			if err != nil {
				return err
			}
			defer closer()

			opts := usecase.RecommendOptions{K: k, Filter: filter}
			if opts.K == 0 {
				opts.K = uc.Recommend.DefaultK()
			}

			var result *model.RecommendationResult
			if userID != "" {
				result, err = uc.Recommend.RecommendByUserID(ctx, model.UserID(userID), opts)
			} else {
				var profile *model.UserProfile
				profile, err = loadProfile(ctx, profilePath)
				if err != nil {
					return err
				}
				result, err = uc.Recommend.Recommend(ctx, profile, opts)
			}
			if err != nil {
				return goerr.Wrap(err, "failed to recommend badges")
			}

			if asJSON {
				enc := json.NewEncoder(c.Root().Writer)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			printResult(c.Root().Writer, result)
			return nil
		},
	}
}

func parseFilter(values []string) (model.Filter, error) {
	if len(values) == 0 {
		return nil, nil
	}
	filter := make(model.Filter, len(values))
	for _, v := range values {
		key, value, ok := strings.Cut(v, "=")
		if !ok || key == "" {
			return nil, goerr.New("filter must be key=value", goerr.V("filter", v))
		}
		filter[key] = value
	}
	return filter, nil
}

func loadProfile(ctx context.Context, path string) (*model.UserProfile, error) {
	// #nosec G304 - path is expected to be provided by CLI argument
	f, err := os.Open(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open profile file", goerr.V("path", path))
	}
	defer safe.Close(ctx, f)

	profiles, err := usecase.DecodeProfiles(f)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load profile", goerr.V("path", path))
	}
	if len(profiles) != 1 {
		return nil, goerr.New("profile file must contain exactly one learner",
			goerr.V("path", path), goerr.V("count", len(profiles)))
	}
	return profiles[0], nil
}

func printResult(w io.Writer, result *model.RecommendationResult) {
	title := color.New(color.FgCyan, color.Bold)
	label := color.New(color.FgHiBlack)
	warn := color.New(color.FgYellow)

	_, _ = title.Fprintf(w, "Recommendations for %s\n", result.UserID)
	_, _ = label.Fprintf(w, "request %s, outcome %s\n", result.RequestID, result.Outcome)
	if result.Outcome == model.OutcomeFallback {
		_, _ = warn.Fprintf(w, "generation unavailable (%s), ordered by similarity\n", result.FallbackReason)
	}
	if result.Stale {
		_, _ = warn.Fprintln(w, "candidates served from an expired cache entry")
	}
	if len(result.Items) == 0 {
		_, _ = fmt.Fprintln(w, "no badges to recommend")
		return
	}

	for i, item := range result.Items {
		_, _ = fmt.Fprintln(w)
		_, _ = color.New(color.FgGreen, color.Bold).Fprintf(w, "%d. %s", i+1, item.Title)
		_, _ = label.Fprintf(w, " [%s] score %.3f similarity %.3f\n", item.BadgeID, item.Score, item.Similarity)
		if item.Justification != "" {
			_, _ = fmt.Fprintf(w, "   %s\n", item.Justification)
		}
		for _, step := range item.PreparationSteps {
			_, _ = fmt.Fprintf(w, "   - %s\n", step)
		}
		if item.ExpectedBenefits != "" {
			_, _ = label.Fprint(w, "   benefits: ")
			_, _ = fmt.Fprintln(w, item.ExpectedBenefits)
		}
	}
}
