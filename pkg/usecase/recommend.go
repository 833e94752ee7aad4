package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/badgewise/pkg/domain/interfaces"
	"github.com/secmon-lab/badgewise/pkg/domain/model"
	"github.com/secmon-lab/badgewise/pkg/domain/model/config"
	"github.com/secmon-lab/badgewise/pkg/utils/logging"
	"github.com/secmon-lab/badgewise/pkg/utils/metrics"
)

// RecommendOptions are the per-request parameters of a recommendation
type RecommendOptions struct {
	// K is the number of recommendations, in [1, MaxK]
	K int

	// Filter restricts candidates by badge metadata equality
	Filter model.Filter
}

// RecommendUseCase runs the retrieval-augmented recommendation pipeline
type RecommendUseCase struct {
	repo      interfaces.Repository
	embedder  interfaces.Embedder
	retriever *Retriever
	generator interfaces.Generator
	engine    config.Engine
	now       func() time.Time
	language  string

	embeddings *Cache[[]float32]
	candidates *Cache[[]*model.Candidate]
}

// NewRecommendUseCase creates a new RecommendUseCase. repo may be nil when
// recommendations are only requested with complete profiles.
func NewRecommendUseCase(
	repo interfaces.Repository,
	index interfaces.VectorIndex,
	embedder interfaces.Embedder,
	generator interfaces.Generator,
	engine config.Engine,
	now func() time.Time,
	language string,
) *RecommendUseCase {
	if now == nil {
		now = time.Now
	}
	return &RecommendUseCase{
		repo:       repo,
		embedder:   embedder,
		retriever:  NewRetriever(index, engine.Retrieval.Margin, engine.Retrieval.Timeout),
		generator:  generator,
		engine:     engine,
		now:        now,
		language:   language,
		embeddings: NewCache[[]float32]("embedding", engine.Cache.TTL, 0, now),
		candidates: NewCache[[]*model.Candidate]("retrieval", engine.Cache.TTL, engine.Cache.StaleWindow, now),
	}
}

// Recommend returns up to opts.K badges for profile. Badges the learner already
// holds are never recommended. Generation failures degrade to the retrieval
// ordering and are not returned as errors.
func (uc *RecommendUseCase) Recommend(ctx context.Context, profile *model.UserProfile, opts RecommendOptions) (*model.RecommendationResult, error) {
	defer metrics.ObserveStage("recommend", time.Now())

	if profile == nil {
		return nil, goerr.Wrap(model.ErrInvalidInput, "profile is required")
	}
	if opts.K < 1 || opts.K > uc.engine.Retrieval.MaxK {
		return nil, goerr.Wrap(model.ErrInvalidInput, "k is out of range",
			goerr.V("k", opts.K),
			goerr.V("max_k", uc.engine.Retrieval.MaxK),
		)
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	opts.Filter = normalizeFilter(opts.Filter)

	pool := opts.K * max(uc.engine.Retrieval.PoolFactor, 1)
	fingerprint := requestFingerprint(profile, opts, pool)
	owner := string(profile.ID)

	logger := logging.From(ctx).With(
		model.FingerprintKey, fingerprint,
		model.UserIDKey, profile.ID,
	)
	ctx = logging.With(ctx, logger)

	vector, err := uc.profileEmbedding(ctx, profile)
	if err != nil {
		logger.Error("failed to embed profile", model.StageKey, "embedding", "error", err)
		return nil, goerr.Wrap(model.WithKind(err, model.ErrEmbedding), "failed to embed profile",
			goerr.V(model.FingerprintKey, fingerprint))
	}

	stale := false
	retrievalKey := "ret:" + fingerprint
	candidates, err := uc.candidates.GetOrCompute(ctx, retrievalKey, owner, func(ctx context.Context) ([]*model.Candidate, error) {
		return uc.retriever.Retrieve(ctx, vector, pool, profile.BadgeHistory, opts.Filter)
	})
	if err != nil {
		cached, ok := uc.candidates.Stale(retrievalKey)
		if !ok || !(errors.Is(err, model.ErrIndexUnavailable) || errors.Is(err, model.ErrDimensionMismatch)) {
			logger.Error("failed to retrieve candidates", model.StageKey, "retrieval", "error", err)
			return nil, goerr.Wrap(err, "failed to retrieve candidates", goerr.V(model.FingerprintKey, fingerprint))
		}
		logger.Warn("serving stale candidates", model.StageKey, "retrieval", "error", err)
		candidates, stale = cached, true
	}

	ranked := Rank(candidates, Signals{Now: uc.now(), Rank: uc.engine.Rank})

	var promptOpts []PromptOption
	if uc.language != "" {
		promptOpts = append(promptOpts, WithPromptLanguage(uc.language))
	}
	prompt, err := BuildPrompt(profile, ranked, opts.K, uc.engine.Prompt.Budget, promptOpts...)
	if err != nil {
		logger.Error("failed to build prompt", model.StageKey, "prompt", "error", err)
		return nil, goerr.Wrap(err, "failed to build prompt", goerr.V(model.FingerprintKey, fingerprint))
	}

	start := time.Now()
	result := uc.generator.Generate(ctx, &model.GenerationRequest{
		SystemPrompt: prompt.System,
		UserPrompt:   prompt.User,
		Candidates:   prompt.Candidates,
		MaxItems:     opts.K,
		UserID:       profile.ID,
		Fingerprint:  fingerprint,
	})
	metrics.ObserveStage("generation", start)

	result.UserID = profile.ID
	result.Stale = stale
	if len(result.Items) > opts.K {
		result.Items = result.Items[:opts.K]
	}

	logger.Info("recommendation completed",
		"outcome", result.Outcome,
		"fallback_reason", result.FallbackReason,
		"items", len(result.Items),
		"candidates", len(candidates),
		"stale", stale,
	)
	return result, nil
}

// RecommendByUserID resolves the stored profile of userID and recommends badges for it
func (uc *RecommendUseCase) RecommendByUserID(ctx context.Context, userID model.UserID, opts RecommendOptions) (*model.RecommendationResult, error) {
	if uc.repo == nil {
		return nil, goerr.New("profile repository is not configured")
	}
	profile, err := uc.repo.Profile().Get(ctx, userID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get profile", goerr.V(model.UserIDKey, userID))
	}
	return uc.Recommend(ctx, profile, opts)
}

// Invalidate drops every cached value computed for userID
func (uc *RecommendUseCase) Invalidate(userID model.UserID) {
	uc.embeddings.InvalidateOwner(string(userID))
	uc.candidates.InvalidateOwner(string(userID))
}

// DefaultK returns the k used when a caller does not specify one
func (uc *RecommendUseCase) DefaultK() int {
	return uc.engine.Retrieval.DefaultK
}

func (uc *RecommendUseCase) profileEmbedding(ctx context.Context, profile *model.UserProfile) ([]float32, error) {
	if vector, ok := profile.CurrentEmbedding(); ok && len(vector) == uc.embedder.Dimension() {
		return vector, nil
	}

	defer metrics.ObserveStage("embedding", time.Now())
	return uc.embeddings.GetOrCompute(ctx, "emb:"+profile.TextHash(), string(profile.ID), func(ctx context.Context) ([]float32, error) {
		return uc.embedder.Embed(ctx, profile.ProfileText())
	})
}

// requestFingerprint identifies every input that changes the retrieved candidate set
func requestFingerprint(profile *model.UserProfile, opts RecommendOptions, pool int) string {
	h := sha256.New()
	fmt.Fprintf(h, "user=%s\nprofile=%s\nk=%d\npool=%d\n", profile.ID, profile.ContentHash(), opts.K, pool)

	keys := make([]string, 0, len(opts.Filter))
	for key := range opts.Filter {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		fmt.Fprintf(h, "filter.%s=%v\n", key, opts.Filter[key])
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// normalizeFilter trims keys and drops empty ones
func normalizeFilter(filter model.Filter) model.Filter {
	if len(filter) == 0 {
		return nil
	}
	normalized := make(model.Filter, len(filter))
	for key, value := range filter {
		if key = strings.TrimSpace(key); key != "" {
			normalized[key] = value
		}
	}
	return normalized
}
