package cli

import (
	"context"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/badgewise/pkg/cli/config"
	"github.com/secmon-lab/badgewise/pkg/service/embedding"
	"github.com/secmon-lab/badgewise/pkg/service/generation"
	"github.com/secmon-lab/badgewise/pkg/usecase"
	"github.com/secmon-lab/badgewise/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// engineFlags gathers the configuration shared by every command that runs the pipeline
type engineFlags struct {
	engine config.Engine
	llm    config.LLM
	repo   config.Repository
}

func (e *engineFlags) Flags() []cli.Flag {
	var flags []cli.Flag
	flags = append(flags, e.engine.Flags()...)
	flags = append(flags, e.llm.Flags()...)
	flags = append(flags, e.repo.Flags()...)
	return flags
}

// build wires the repositories, model clients and use cases. The returned function
// releases every backend and must be called once the use cases are no longer needed.
func (e *engineFlags) build(ctx context.Context) (*usecase.UseCases, func(), error) {
	logger := logging.Default()

	engineCfg, err := e.engine.Configure()
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to load engine configuration")
	}

	llmGen, llmEmbed, err := e.llm.Configure(ctx)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to configure LLM clients")
	}
	logger.LogAttrs(ctx, slog.LevelInfo, "LLM configured", e.llm.LogAttrs()...)

	embedder, err := embedding.New(llmEmbed, e.llm.Dimension(), engineCfg.EmbeddingOptions()...)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to create embedding client")
	}
	generator, err := generation.New(llmGen, engineCfg.GenerationOptions()...)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to create generation client")
	}

	repo, err := e.repo.Configure(ctx)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to initialize repository")
	}
	logger.LogAttrs(ctx, slog.LevelInfo, "Repository configured", e.repo.LogAttrs()...)
	index, closeIndex, err := e.repo.ConfigureIndex(ctx, repo, e.llm.Dimension())
	if err != nil {
		if cerr := repo.Close(); cerr != nil {
			logger.Error("failed to close repository", "error", cerr)
		}
		return nil, nil, goerr.Wrap(err, "failed to initialize vector index")
	}

	opts := []usecase.Option{
		usecase.WithEngine(engineCfg.ToDomainEngine()),
		usecase.WithLanguage(engineCfg.Language()),
	}
	if n := engineCfg.BatchSize(); n > 0 {
		opts = append(opts, usecase.WithIngestBatch(n, 4))
	}
	uc := usecase.New(repo, index, embedder, generator, opts...)

	closer := func() {
		closeIndex()
		if err := repo.Close(); err != nil {
			logger.Error("failed to close repository", "error", err)
		}
	}
	return uc, closer, nil
}
