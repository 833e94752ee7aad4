package usecase_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/badgewise/pkg/domain/model"
	"github.com/secmon-lab/badgewise/pkg/domain/model/config"
	"github.com/secmon-lab/badgewise/pkg/repository/memory"
	"github.com/secmon-lab/badgewise/pkg/service/generation"
	"github.com/secmon-lab/badgewise/pkg/usecase"
)

type testEnv struct {
	uc       *usecase.UseCases
	repo     *memory.Memory
	index    *switchableIndex
	embedder *keywordEmbedder
	llm      *mockLLMClient
	clock    *fakeClock
}

func newTestEnv(t *testing.T, llm *mockLLMClient, opts ...usecase.Option) *testEnv {
	t.Helper()
	env := &testEnv{
		repo:     memory.New(),
		embedder: &keywordEmbedder{},
		llm:      llm,
		clock:    newFakeClock(),
	}
	env.index = newScenarioIndex(t, env.embedder)

	generator, err := generation.New(llm,
		generation.WithTimeout(20*time.Millisecond),
		generation.WithBackoff(time.Millisecond, 2*time.Millisecond),
		generation.WithClock(env.clock.Now),
	)
	gt.NoError(t, err).Required()

	opts = append([]usecase.Option{usecase.WithClock(env.clock.Now)}, opts...)
	env.uc = usecase.New(env.repo, env.index, env.embedder, generator, opts...)
	return env
}

func TestRecommend_Scenarios(t *testing.T) {
	ctx := context.Background()

	t.Run("recommends the two most similar badges", func(t *testing.T) {
		env := newTestEnv(t, &mockLLMClient{})
		result, err := env.uc.Recommend.Recommend(ctx, scenarioProfile(), usecase.RecommendOptions{K: 2})
		gt.NoError(t, err).Required()

		gt.Value(t, result.Outcome).Equal(model.OutcomeGenerated)
		gt.Array(t, result.BadgeIDs()).Equal([]model.BadgeID{"A", "B"})
		gt.Value(t, result.UserID).Equal(model.UserID("learner-1"))
		gt.Value(t, result.Items[0].Justification).Equal("matches your goal")
		gt.Array(t, result.Items[0].PreparationSteps).Equal([]string{"study"})
		gt.Bool(t, result.Stale).False()
	})

	t.Run("never recommends a badge the learner holds", func(t *testing.T) {
		env := newTestEnv(t, &mockLLMClient{})
		profile := scenarioProfile()
		profile.BadgeHistory = []model.BadgeID{"A"}

		result, err := env.uc.Recommend.Recommend(ctx, profile, usecase.RecommendOptions{K: 2})
		gt.NoError(t, err).Required()
		gt.Array(t, result.BadgeIDs()).Equal([]model.BadgeID{"B", "C"})
	})

	t.Run("falls back to similarity ordering when generation times out twice", func(t *testing.T) {
		llm := &mockLLMClient{hang: true}
		env := newTestEnv(t, llm)

		result, err := env.uc.Recommend.Recommend(ctx, scenarioProfile(), usecase.RecommendOptions{K: 2})
		gt.NoError(t, err).Required()
		gt.Value(t, result.Outcome).Equal(model.OutcomeFallback)
		gt.Value(t, result.FallbackReason).Equal(generation.ReasonCallFailed)
		gt.Array(t, result.BadgeIDs()).Equal([]model.BadgeID{"A", "B"})
		for _, item := range result.Items {
			gt.String(t, item.Justification).NotEqual("")
		}
		gt.Value(t, llm.calls()).Equal(2)
	})

	t.Run("learner holding every badge gets an empty result", func(t *testing.T) {
		llm := &mockLLMClient{}
		env := newTestEnv(t, llm)
		profile := scenarioProfile()
		profile.BadgeHistory = []model.BadgeID{"A", "B", "C"}

		result, err := env.uc.Recommend.Recommend(ctx, profile, usecase.RecommendOptions{K: 2})
		gt.NoError(t, err).Required()
		gt.Array(t, result.Items).Length(0)
		gt.Value(t, llm.calls()).Equal(0)
	})

	t.Run("restricts candidates with a metadata filter", func(t *testing.T) {
		env := newTestEnv(t, &mockLLMClient{})
		result, err := env.uc.Recommend.Recommend(ctx, scenarioProfile(), usecase.RecommendOptions{
			K:      3,
			Filter: model.Filter{model.MetaSkills: "python"},
		})
		gt.NoError(t, err).Required()
		gt.Array(t, result.BadgeIDs()).Equal([]model.BadgeID{"B"})
	})
}

func TestRecommend_Validation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, &mockLLMClient{})

	t.Run("rejects k out of range", func(t *testing.T) {
		for _, k := range []int{0, -1, config.DefaultEngine().Retrieval.MaxK + 1} {
			_, err := env.uc.Recommend.Recommend(ctx, scenarioProfile(), usecase.RecommendOptions{K: k})
			gt.Error(t, err).Is(model.ErrInvalidInput)
		}
	})

	t.Run("rejects an empty profile", func(t *testing.T) {
		_, err := env.uc.Recommend.Recommend(ctx, &model.UserProfile{ID: "empty"}, usecase.RecommendOptions{K: 1})
		gt.Error(t, err).Is(model.ErrInvalidInput)

		_, err = env.uc.Recommend.Recommend(ctx, nil, usecase.RecommendOptions{K: 1})
		gt.Error(t, err).Is(model.ErrInvalidInput)
	})

	t.Run("embedding failure is fatal", func(t *testing.T) {
		env := newTestEnv(t, &mockLLMClient{})
		env.embedder.err = model.ErrEmbedding
		_, err := env.uc.Recommend.Recommend(ctx, scenarioProfile(), usecase.RecommendOptions{K: 1})
		gt.Error(t, err).Is(model.ErrEmbedding)
	})

	t.Run("too small prompt budget is reported", func(t *testing.T) {
		engine := config.DefaultEngine()
		engine.Prompt.Budget = 50
		env := newTestEnv(t, &mockLLMClient{}, usecase.WithEngine(engine))
		_, err := env.uc.Recommend.Recommend(ctx, scenarioProfile(), usecase.RecommendOptions{K: 1})
		gt.Error(t, err).Is(model.ErrBudgetTooSmall)
	})
}

func TestRecommend_Cache(t *testing.T) {
	ctx := context.Background()

	t.Run("repeated requests reuse embedding and candidates", func(t *testing.T) {
		env := newTestEnv(t, &mockLLMClient{})
		for range 3 {
			_, err := env.uc.Recommend.Recommend(ctx, scenarioProfile(), usecase.RecommendOptions{K: 2})
			gt.NoError(t, err).Required()
		}
		gt.Value(t, env.index.queries.Load()).Equal(int64(1))
		gt.Value(t, env.embedder.calls.Load()).Equal(int64(1 + len(scenarioBadges())))
	})

	t.Run("concurrent identical requests query the index once", func(t *testing.T) {
		env := newTestEnv(t, &mockLLMClient{})
		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := env.uc.Recommend.Recommend(ctx, scenarioProfile(), usecase.RecommendOptions{K: 2})
				gt.NoError(t, err)
			}()
		}
		wg.Wait()
		gt.Value(t, env.index.queries.Load()).Equal(int64(1))
	})

	t.Run("serves stale candidates while the index is down", func(t *testing.T) {
		env := newTestEnv(t, &mockLLMClient{})
		_, err := env.uc.Recommend.Recommend(ctx, scenarioProfile(), usecase.RecommendOptions{K: 2})
		gt.NoError(t, err).Required()

		env.clock.Advance(config.DefaultEngine().Cache.TTL + time.Minute)
		env.index.down.Store(true)

		result, err := env.uc.Recommend.Recommend(ctx, scenarioProfile(), usecase.RecommendOptions{K: 2})
		gt.NoError(t, err).Required()
		gt.Bool(t, result.Stale).True()
		gt.Array(t, result.BadgeIDs()).Equal([]model.BadgeID{"A", "B"})

		env.clock.Advance(config.DefaultEngine().Cache.StaleWindow)
		_, err = env.uc.Recommend.Recommend(ctx, scenarioProfile(), usecase.RecommendOptions{K: 2})
		gt.Error(t, err).Is(model.ErrIndexUnavailable)
		gt.Error(t, err).Is(model.ErrRetrieval)
	})

	t.Run("index outage without cached candidates is fatal", func(t *testing.T) {
		env := newTestEnv(t, &mockLLMClient{})
		env.index.down.Store(true)
		_, err := env.uc.Recommend.Recommend(ctx, scenarioProfile(), usecase.RecommendOptions{K: 2})
		gt.Error(t, err).Is(model.ErrRetrieval)
	})

	t.Run("changed badge history changes the fingerprint", func(t *testing.T) {
		env := newTestEnv(t, &mockLLMClient{})
		profile := scenarioProfile()
		_, err := env.uc.Recommend.Recommend(ctx, profile, usecase.RecommendOptions{K: 2})
		gt.NoError(t, err).Required()

		profile.BadgeHistory = []model.BadgeID{"A"}
		result, err := env.uc.Recommend.Recommend(ctx, profile, usecase.RecommendOptions{K: 2})
		gt.NoError(t, err).Required()
		gt.Array(t, result.BadgeIDs()).Equal([]model.BadgeID{"B", "C"})
		gt.Value(t, env.index.queries.Load()).Equal(int64(2))
	})

	t.Run("disabled cache changes nothing but latency", func(t *testing.T) {
		engine := config.DefaultEngine()
		engine.Cache.TTL = 0
		env := newTestEnv(t, &mockLLMClient{}, usecase.WithEngine(engine))

		first, err := env.uc.Recommend.Recommend(ctx, scenarioProfile(), usecase.RecommendOptions{K: 2})
		gt.NoError(t, err).Required()
		second, err := env.uc.Recommend.Recommend(ctx, scenarioProfile(), usecase.RecommendOptions{K: 2})
		gt.NoError(t, err).Required()

		gt.Array(t, second.BadgeIDs()).Equal(first.BadgeIDs())
		gt.Value(t, env.index.queries.Load()).Equal(int64(2))
	})
}

func TestRecommend_ByUserID(t *testing.T) {
	ctx := context.Background()

	t.Run("uses the stored profile and its embedding", func(t *testing.T) {
		env := newTestEnv(t, &mockLLMClient{})
		saved, err := env.uc.Profile.Save(ctx, scenarioProfile())
		gt.NoError(t, err).Required()
		gt.Value(t, saved.EmbeddingHash).Equal(saved.TextHash())
		calls := env.embedder.calls.Load()

		result, err := env.uc.Recommend.RecommendByUserID(ctx, "learner-1", usecase.RecommendOptions{K: 2})
		gt.NoError(t, err).Required()
		gt.Array(t, result.BadgeIDs()).Equal([]model.BadgeID{"A", "B"})
		gt.Value(t, env.embedder.calls.Load()).Equal(calls)
	})

	t.Run("saving a profile invalidates its cached candidates", func(t *testing.T) {
		env := newTestEnv(t, &mockLLMClient{})
		_, err := env.uc.Profile.Save(ctx, scenarioProfile())
		gt.NoError(t, err).Required()

		_, err = env.uc.Recommend.RecommendByUserID(ctx, "learner-1", usecase.RecommendOptions{K: 2})
		gt.NoError(t, err).Required()
		_, err = env.uc.Profile.Save(ctx, scenarioProfile())
		gt.NoError(t, err).Required()
		_, err = env.uc.Recommend.RecommendByUserID(ctx, "learner-1", usecase.RecommendOptions{K: 2})
		gt.NoError(t, err).Required()

		gt.Value(t, env.index.queries.Load()).Equal(int64(2))
	})

	t.Run("unknown user is not found", func(t *testing.T) {
		env := newTestEnv(t, &mockLLMClient{})
		_, err := env.uc.Recommend.RecommendByUserID(ctx, "nobody", usecase.RecommendOptions{K: 2})
		gt.Error(t, err).Is(model.ErrNotFound)
	})
}
