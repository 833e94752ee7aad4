package usecase

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/badgewise/pkg/domain/interfaces"
	"github.com/secmon-lab/badgewise/pkg/domain/model"
	"github.com/secmon-lab/badgewise/pkg/utils/logging"
)

// ProfileUseCase manages stored learner profiles
type ProfileUseCase struct {
	repo      interfaces.Repository
	embedder  interfaces.Embedder
	recommend *RecommendUseCase
	now       func() time.Time
}

// NewProfileUseCase creates a new ProfileUseCase
func NewProfileUseCase(repo interfaces.Repository, embedder interfaces.Embedder, recommend *RecommendUseCase, now func() time.Time) *ProfileUseCase {
	if now == nil {
		now = time.Now
	}
	return &ProfileUseCase{
		repo:      repo,
		embedder:  embedder,
		recommend: recommend,
		now:       now,
	}
}

// Get returns the stored profile of id
func (uc *ProfileUseCase) Get(ctx context.Context, id model.UserID) (*model.UserProfile, error) {
	profile, err := uc.repo.Profile().Get(ctx, id)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get profile", goerr.V(model.UserIDKey, id))
	}
	return profile, nil
}

// Save stores profile with an up to date embedding and drops cached
// recommendations computed from its previous content
func (uc *ProfileUseCase) Save(ctx context.Context, profile *model.UserProfile) (*model.UserProfile, error) {
	if profile == nil {
		return nil, goerr.Wrap(model.ErrInvalidInput, "profile is required")
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	saved := profile.Copy()
	if _, ok := saved.CurrentEmbedding(); !ok {
		vector, err := uc.embedder.Embed(ctx, saved.ProfileText())
		if err != nil {
			return nil, goerr.Wrap(model.WithKind(err, model.ErrEmbedding), "failed to embed profile",
				goerr.V(model.UserIDKey, saved.ID))
		}
		saved.Embedding = vector
		saved.EmbeddingHash = saved.TextHash()
	}
	saved.UpdatedAt = uc.now().UTC()

	if err := uc.repo.Profile().Put(ctx, saved); err != nil {
		return nil, goerr.Wrap(err, "failed to put profile", goerr.V(model.UserIDKey, saved.ID))
	}
	if uc.recommend != nil {
		uc.recommend.Invalidate(saved.ID)
	}

	logging.From(ctx).Debug("profile saved", model.UserIDKey, saved.ID)
	return saved, nil
}

// Delete removes the profile of id and its cached recommendations
func (uc *ProfileUseCase) Delete(ctx context.Context, id model.UserID) error {
	if err := uc.repo.Profile().Delete(ctx, id); err != nil {
		return goerr.Wrap(err, "failed to delete profile", goerr.V(model.UserIDKey, id))
	}
	if uc.recommend != nil {
		uc.recommend.Invalidate(id)
	}
	return nil
}
