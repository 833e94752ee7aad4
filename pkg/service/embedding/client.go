package embedding

import (
	"context"
	"slices"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/secmon-lab/badgewise/pkg/domain/interfaces"
	"github.com/secmon-lab/badgewise/pkg/domain/model"
	"github.com/secmon-lab/badgewise/pkg/utils/logging"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultCacheSize = 4096
)

// Client generates embeddings through a gollem LLM client
type Client struct {
	llmClient gollem.LLMClient
	dimension int
	timeout   time.Duration
	cacheSize int
	lowercase bool
	cache     *lru.Cache[string, []float32]
}

var _ interfaces.Embedder = &Client{}

// Option is a functional option for Client configuration
type Option func(*Client)

// WithTimeout sets the timeout of a single embedding model call
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithCacheSize sets the number of texts whose embedding is memoized. 0 disables the cache.
func WithCacheSize(n int) Option {
	return func(c *Client) {
		c.cacheSize = n
	}
}

// WithLowercase lower-cases text before embedding
func WithLowercase(enabled bool) Option {
	return func(c *Client) {
		c.lowercase = enabled
	}
}

// New creates a new embedding client producing vectors of the given dimension
func New(llmClient gollem.LLMClient, dimension int, opts ...Option) (*Client, error) {
	if llmClient == nil {
		return nil, goerr.New("LLM client is required")
	}
	if dimension <= 0 {
		return nil, goerr.New("embedding dimension must be positive", goerr.V("dimension", dimension))
	}

	c := &Client{
		llmClient: llmClient,
		dimension: dimension,
		timeout:   defaultTimeout,
		cacheSize: defaultCacheSize,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.cacheSize > 0 {
		cache, err := lru.New[string, []float32](c.cacheSize)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create embedding cache", goerr.V("size", c.cacheSize))
		}
		c.cache = cache
	}

	return c, nil
}

// Dimension returns the length of produced vectors
func (c *Client) Dimension() int {
	return c.dimension
}

func (c *Client) normalize(text string) string {
	text = strings.TrimSpace(text)
	if c.lowercase {
		text = strings.ToLower(text)
	}
	return text
}

// Embed returns the embedding of a single text
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns embeddings in input order. Cached texts are not sent to the model,
// and duplicate texts are embedded once.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	normalized := make([]string, len(texts))
	for i, text := range texts {
		normalized[i] = c.normalize(text)
		if normalized[i] == "" {
			return nil, goerr.Wrap(model.ErrEmbedding, "text is empty after normalization", goerr.V("index", i))
		}
	}

	results := make(map[string][]float32, len(normalized))
	var misses []string
	for _, text := range normalized {
		if _, seen := results[text]; seen {
			continue
		}
		if c.cache != nil {
			if v, ok := c.cache.Get(text); ok {
				results[text] = v
				continue
			}
		}
		results[text] = nil
		misses = append(misses, text)
	}

	if len(misses) > 0 {
		vectors, err := c.generate(ctx, misses)
		if err != nil {
			return nil, err
		}
		for i, text := range misses {
			results[text] = vectors[i]
			if c.cache != nil {
				c.cache.Add(text, vectors[i])
			}
		}
	}

	out := make([][]float32, len(normalized))
	for i, text := range normalized {
		// callers own their vectors; the cached copy stays untouched
		out[i] = slices.Clone(results[text])
	}
	return out, nil
}

func (c *Client) generate(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	embeddings, err := c.llmClient.GenerateEmbedding(ctx, c.dimension, texts)
	if err != nil {
		logging.From(ctx).Warn("embedding call failed",
			"count", len(texts),
			"duration", time.Since(start),
			"error", err,
		)
		return nil, goerr.Wrap(model.WithKind(err, model.ErrEmbedding), "failed to generate embedding",
			goerr.V("count", len(texts)))
	}

	if len(embeddings) != len(texts) {
		return nil, goerr.Wrap(model.ErrEmbedding, "embedding count differs from input count",
			goerr.V("expected", len(texts)), goerr.V("actual", len(embeddings)))
	}

	// Convert float64 to float32
	vectors := make([][]float32, len(embeddings))
	for i, embedding := range embeddings {
		if len(embedding) != c.dimension {
			return nil, goerr.Wrap(model.ErrEmbedding, "embedding dimension mismatch",
				goerr.V("expected", c.dimension), goerr.V("actual", len(embedding)), goerr.V("index", i))
		}
		v := make([]float32, len(embedding))
		for j, x := range embedding {
			v[j] = float32(x)
		}
		vectors[i] = v
	}
	return vectors, nil
}
