package usecase

import (
	"time"

	"github.com/secmon-lab/badgewise/pkg/domain/interfaces"
	"github.com/secmon-lab/badgewise/pkg/domain/model/config"
)

// UseCases wires the recommendation pipeline together
type UseCases struct {
	repo      interfaces.Repository
	index     interfaces.VectorIndex
	embedder  interfaces.Embedder
	generator interfaces.Generator

	engine      config.Engine
	now         func() time.Time
	language    string
	batchSize   int
	concurrency int

	Recommend *RecommendUseCase
	Profile   *ProfileUseCase
	Ingest    *IngestUseCase
}

type Option func(*UseCases)

// WithEngine replaces the default pipeline tuning
func WithEngine(engine config.Engine) Option {
	return func(uc *UseCases) {
		uc.engine = engine
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(uc *UseCases) {
		uc.now = now
	}
}

// WithLanguage sets the language of generated justifications
func WithLanguage(language string) Option {
	return func(uc *UseCases) {
		uc.language = language
	}
}

// WithIngestBatch sets how many badges are embedded per call and how many batches run in parallel
func WithIngestBatch(batchSize, concurrency int) Option {
	return func(uc *UseCases) {
		if batchSize > 0 {
			uc.batchSize = batchSize
		}
		if concurrency > 0 {
			uc.concurrency = concurrency
		}
	}
}

func New(
	repo interfaces.Repository,
	index interfaces.VectorIndex,
	embedder interfaces.Embedder,
	generator interfaces.Generator,
	opts ...Option,
) *UseCases {
	uc := &UseCases{
		repo:        repo,
		index:       index,
		embedder:    embedder,
		generator:   generator,
		engine:      config.DefaultEngine(),
		now:         time.Now,
		batchSize:   32,
		concurrency: 4,
	}

	for _, opt := range opts {
		opt(uc)
	}

	uc.Recommend = NewRecommendUseCase(repo, index, embedder, generator, uc.engine, uc.now, uc.language)
	uc.Profile = NewProfileUseCase(repo, embedder, uc.Recommend, uc.now)
	uc.Ingest = NewIngestUseCase(index, embedder, uc.Profile, uc.batchSize, uc.concurrency)

	return uc
}
