package config

import (
	"context"
	"log/slog"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/m-mizutani/gollem/llm/claude"
	"github.com/m-mizutani/gollem/llm/gemini"
	"github.com/m-mizutani/gollem/llm/openai"
	"github.com/secmon-lab/badgewise/pkg/service/embedding"
	"github.com/secmon-lab/badgewise/pkg/service/generation"
	"github.com/urfave/cli/v3"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderClaude = "claude"
)

// LLM holds configuration of the generation and embedding models
type LLM struct {
	provider          string
	embeddingProvider string
	geminiProject     string
	geminiLocation    string
	openaiAPIKey      string
	claudeAPIKey      string
	dimension         int
}

// Flags returns CLI flags for LLM configuration
func (l *LLM) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "llm-provider",
			Usage:       "Generation model provider (gemini, openai or claude)",
			Category:    "LLM",
			Value:       ProviderGemini,
			Sources:     cli.EnvVars("BADGEWISE_LLM_PROVIDER"),
			Destination: &l.provider,
		},
		&cli.StringFlag{
			Name:        "embedding-provider",
			Usage:       "Embedding model provider (gemini or openai)",
			Category:    "LLM",
			Value:       ProviderGemini,
			Sources:     cli.EnvVars("BADGEWISE_EMBEDDING_PROVIDER"),
			Destination: &l.embeddingProvider,
		},
		&cli.IntFlag{
			Name:        "embedding-dimension",
			Usage:       "Embedding vector dimension, must match the vector index",
			Category:    "LLM",
			Value:       768,
			Sources:     cli.EnvVars("BADGEWISE_EMBEDDING_DIMENSION"),
			Destination: &l.dimension,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini API",
			Category:    "LLM",
			Sources:     cli.EnvVars("BADGEWISE_GEMINI_PROJECT"),
			Destination: &l.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini API",
			Category:    "LLM",
			Value:       "us-central1",
			Sources:     cli.EnvVars("BADGEWISE_GEMINI_LOCATION"),
			Destination: &l.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "openai-api-key",
			Usage:       "OpenAI API key",
			Category:    "LLM",
			Sources:     cli.EnvVars("BADGEWISE_OPENAI_API_KEY"),
			Destination: &l.openaiAPIKey,
		},
		&cli.StringFlag{
			Name:        "claude-api-key",
			Usage:       "Anthropic API key for Claude",
			Category:    "LLM",
			Sources:     cli.EnvVars("BADGEWISE_CLAUDE_API_KEY"),
			Destination: &l.claudeAPIKey,
		},
	}
}

// LogAttrs returns log attributes for the LLM configuration. Keys are never logged.
func (l *LLM) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String("provider", l.provider),
		slog.String("embedding_provider", l.embeddingProvider),
		slog.Int("dimension", l.dimension),
		slog.String("gemini_project", l.geminiProject),
		slog.String("gemini_location", l.geminiLocation),
		slog.Bool("openai_api_key", l.openaiAPIKey != ""),
		slog.Bool("claude_api_key", l.claudeAPIKey != ""),
	}
}

// Dimension returns the configured embedding dimension
func (l *LLM) Dimension() int {
	return l.dimension
}

// Configure creates the generation and embedding LLM clients
func (l *LLM) Configure(ctx context.Context) (generator gollem.LLMClient, embedder gollem.LLMClient, err error) {
	if l.dimension <= 0 {
		return nil, nil, goerr.Wrap(ErrInvalidConfig, "embedding dimension must be positive", goerr.V("dimension", l.dimension))
	}
	if l.embeddingProvider == ProviderClaude {
		return nil, nil, goerr.Wrap(ErrUnknownBackend, "claude does not provide embeddings", goerr.V(BackendKey, l.embeddingProvider))
	}

	clients := map[string]gollem.LLMClient{}
	for _, provider := range []string{l.provider, l.embeddingProvider} {
		if _, ok := clients[provider]; ok {
			continue
		}
		client, err := l.newClient(ctx, provider)
		if err != nil {
			return nil, nil, err
		}
		clients[provider] = client
	}

	return clients[l.provider], clients[l.embeddingProvider], nil
}

func (l *LLM) newClient(ctx context.Context, provider string) (gollem.LLMClient, error) {
	switch provider {
	case ProviderGemini:
		if l.geminiProject == "" {
			return nil, goerr.Wrap(ErrMissingCredentials, "gemini-project is required", goerr.V(BackendKey, provider))
		}
		client, err := gemini.New(ctx, l.geminiProject, l.geminiLocation)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create Gemini client")
		}
		return client, nil

	case ProviderOpenAI:
		if l.openaiAPIKey == "" {
			return nil, goerr.Wrap(ErrMissingCredentials, "openai-api-key is required", goerr.V(BackendKey, provider))
		}
		client, err := openai.New(ctx, l.openaiAPIKey)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create OpenAI client")
		}
		return client, nil

	case ProviderClaude:
		if l.claudeAPIKey == "" {
			return nil, goerr.Wrap(ErrMissingCredentials, "claude-api-key is required", goerr.V(BackendKey, provider))
		}
		client, err := claude.New(ctx, l.claudeAPIKey)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create Claude client")
		}
		return client, nil

	default:
		return nil, goerr.Wrap(ErrUnknownBackend, "unsupported LLM provider", goerr.V(BackendKey, provider))
	}
}

// GenerationOptions converts the [generation] section into client options
func (e *EngineConfig) GenerationOptions() []generation.Option {
	g := e.Generation
	if g == nil {
		return nil
	}

	var opts []generation.Option
	if d, _ := parseDuration(g.Timeout, "generation", "timeout"); d > 0 {
		opts = append(opts, generation.WithTimeout(d))
	}
	if g.MaxRetries != nil {
		opts = append(opts, generation.WithMaxRetries(*g.MaxRetries))
	}
	initial, _ := parseDuration(g.InitialBackoff, "generation", "initial_backoff")
	maxBackoff, _ := parseDuration(g.MaxBackoff, "generation", "max_backoff")
	if initial > 0 || maxBackoff > 0 {
		if initial == 0 {
			initial = 500 * time.Millisecond
		}
		if maxBackoff < initial {
			maxBackoff = initial
		}
		opts = append(opts, generation.WithBackoff(initial, maxBackoff))
	}
	if g.TripFailures != nil || g.OpenTimeout != "" {
		trip := uint32(5)
		if g.TripFailures != nil {
			trip = uint32(*g.TripFailures) // #nosec G115 - validated as non-negative
		}
		openTimeout, _ := parseDuration(g.OpenTimeout, "generation", "open_timeout")
		if openTimeout == 0 {
			openTimeout = 30 * time.Second
		}
		opts = append(opts, generation.WithCircuitBreaker(trip, openTimeout))
	}
	return opts
}

// EmbeddingOptions converts the [embedding] section into client options
func (e *EngineConfig) EmbeddingOptions() []embedding.Option {
	em := e.Embedding
	if em == nil {
		return nil
	}

	var opts []embedding.Option
	if d, _ := parseDuration(em.Timeout, "embedding", "timeout"); d > 0 {
		opts = append(opts, embedding.WithTimeout(d))
	}
	if em.CacheSize != nil {
		opts = append(opts, embedding.WithCacheSize(*em.CacheSize))
	}
	if em.Lowercase {
		opts = append(opts, embedding.WithLowercase(true))
	}
	return opts
}

// BatchSize returns the number of badges embedded per call during ingestion, 0 when unset
func (e *EngineConfig) BatchSize() int {
	if e.Embedding == nil {
		return 0
	}
	return e.Embedding.BatchSize
}
