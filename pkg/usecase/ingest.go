package usecase

import (
	"context"
	"path"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/badgewise/pkg/domain/interfaces"
	"github.com/secmon-lab/badgewise/pkg/domain/model"
	"github.com/secmon-lab/badgewise/pkg/utils/logging"
	"github.com/secmon-lab/badgewise/pkg/utils/safe"
	"golang.org/x/sync/errgroup"
)

const (
	badgeFilePrefix = "badge_"
	userFilePrefix  = "user_"
	recordFileExt   = ".json"
)

// IngestUseCase loads badges into the vector index and profiles into the repository
type IngestUseCase struct {
	index       interfaces.VectorIndex
	embedder    interfaces.Embedder
	profiles    *ProfileUseCase
	batchSize   int
	concurrency int
}

// IngestResult summarizes an ingestion run
type IngestResult struct {
	Badges   int
	Profiles int
	Skipped  []string
}

// NewIngestUseCase creates a new IngestUseCase
func NewIngestUseCase(index interfaces.VectorIndex, embedder interfaces.Embedder, profiles *ProfileUseCase, batchSize, concurrency int) *IngestUseCase {
	return &IngestUseCase{
		index:       index,
		embedder:    embedder,
		profiles:    profiles,
		batchSize:   max(batchSize, 1),
		concurrency: max(concurrency, 1),
	}
}

// Run ingests every badge_*.json and user_*.json record of src. Other objects are skipped.
func (uc *IngestUseCase) Run(ctx context.Context, src interfaces.RecordSource) (*IngestResult, error) {
	logger := logging.From(ctx).With("source", src.String())

	names, err := src.List(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list records", goerr.V("source", src.String()))
	}
	slices.Sort(names)

	result := &IngestResult{}
	var (
		badges   []*model.Badge
		profiles []*model.UserProfile
	)
	for _, name := range names {
		base := path.Base(name)
		if !strings.HasSuffix(base, recordFileExt) {
			result.Skipped = append(result.Skipped, name)
			continue
		}

		switch {
		case strings.HasPrefix(base, badgeFilePrefix):
			records, err := readRecords[badgeRecord](ctx, src, name)
			if err != nil {
				return nil, err
			}
			for _, rec := range records {
				badge, err := rec.toBadge()
				if err != nil {
					return nil, goerr.Wrap(err, "invalid badge record", goerr.V("file", name))
				}
				badges = append(badges, badge)
			}

		case strings.HasPrefix(base, userFilePrefix):
			records, err := readRecords[userRecord](ctx, src, name)
			if err != nil {
				return nil, err
			}
			for _, rec := range records {
				profile, err := rec.toProfile()
				if err != nil {
					return nil, goerr.Wrap(err, "invalid user record", goerr.V("file", name))
				}
				profiles = append(profiles, profile)
			}

		default:
			result.Skipped = append(result.Skipped, name)
		}
	}

	logger.Info("records loaded", "badges", len(badges), "profiles", len(profiles), "skipped", len(result.Skipped))

	if result.Badges, err = uc.IngestBadges(ctx, badges); err != nil {
		return nil, err
	}
	if result.Profiles, err = uc.IngestProfiles(ctx, profiles); err != nil {
		return nil, err
	}
	return result, nil
}

func readRecords[T any](ctx context.Context, src interfaces.RecordSource, name string) ([]T, error) {
	r, err := src.Open(ctx, name)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open record", goerr.V("file", name))
	}
	defer safe.Close(ctx, r)

	records, err := decodeRecords[T](r)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read record file", goerr.V("file", name))
	}
	return records, nil
}

// IngestBadges embeds badges in batches and upserts them into the vector index.
// When the same id appears more than once the last badge wins.
func (uc *IngestUseCase) IngestBadges(ctx context.Context, badges []*model.Badge) (int, error) {
	badges = dedupeBadges(badges)
	if len(badges) == 0 {
		return 0, nil
	}
	for _, badge := range badges {
		if err := badge.Validate(); err != nil {
			return 0, err
		}
	}

	logger := logging.From(ctx)
	start := time.Now()
	var done atomic.Int64

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(uc.concurrency)
	for batch := range slices.Chunk(badges, uc.batchSize) {
		eg.Go(func() error {
			texts := make([]string, len(batch))
			for i, badge := range batch {
				texts[i] = badge.EmbeddingText()
			}

			vectors, err := uc.embedder.EmbedBatch(ctx, texts)
			if err != nil {
				return goerr.Wrap(model.WithKind(err, model.ErrEmbedding), "failed to embed badges",
					goerr.V(model.BadgeIDKey, batch[0].ID), goerr.V("batch", len(batch)))
			}

			for i, badge := range batch {
				if err := uc.index.Upsert(ctx, string(badge.ID), vectors[i], badge.IndexMetadata()); err != nil {
					return goerr.Wrap(err, "failed to upsert badge", goerr.V(model.BadgeIDKey, badge.ID))
				}
			}

			n := done.Add(int64(len(batch)))
			logger.Debug("badge batch ingested", "done", n, "total", len(badges))
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return int(done.Load()), err
	}

	logger.Info("badges ingested", "count", len(badges), "elapsed", time.Since(start))
	return len(badges), nil
}

// IngestProfiles saves profiles with their embeddings
func (uc *IngestUseCase) IngestProfiles(ctx context.Context, profiles []*model.UserProfile) (int, error) {
	if len(profiles) == 0 {
		return 0, nil
	}
	if uc.profiles == nil {
		return 0, goerr.New("profile repository is not configured")
	}

	var done atomic.Int64
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(uc.concurrency)
	for _, profile := range profiles {
		eg.Go(func() error {
			if _, err := uc.profiles.Save(ctx, profile); err != nil {
				return err
			}
			done.Add(1)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return int(done.Load()), err
	}

	logging.From(ctx).Info("profiles ingested", "count", len(profiles))
	return len(profiles), nil
}

// RemoveBadges deletes badges from the vector index. Absent ids are ignored.
func (uc *IngestUseCase) RemoveBadges(ctx context.Context, ids []model.BadgeID) error {
	for _, id := range ids {
		if id == "" {
			return goerr.Wrap(model.ErrInvalidInput, "badge ID is required")
		}
		if err := uc.index.Delete(ctx, string(id)); err != nil {
			return goerr.Wrap(err, "failed to delete badge", goerr.V(model.BadgeIDKey, id))
		}
	}
	logging.From(ctx).Info("badges removed", "count", len(ids))
	return nil
}

func dedupeBadges(badges []*model.Badge) []*model.Badge {
	last := make(map[model.BadgeID]int, len(badges))
	for i, badge := range badges {
		last[badge.ID] = i
	}
	deduped := make([]*model.Badge, 0, len(last))
	for i, badge := range badges {
		if last[badge.ID] == i {
			deduped = append(deduped, badge)
		}
	}
	return deduped
}
