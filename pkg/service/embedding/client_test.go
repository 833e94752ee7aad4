package embedding_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gollem"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/badgewise/pkg/domain/model"
	"github.com/secmon-lab/badgewise/pkg/service/embedding"
)

// mockLLMClient returns deterministic embeddings derived from the input text
type mockLLMClient struct {
	mu      sync.Mutex
	calls   [][]string
	embedFn func(ctx context.Context, dimension int, input []string) ([][]float64, error)
}

func (c *mockLLMClient) NewSession(ctx context.Context, options ...gollem.SessionOption) (gollem.Session, error) {
	return nil, errors.New("not implemented")
}

func (c *mockLLMClient) GenerateEmbedding(ctx context.Context, dimension int, input []string) ([][]float64, error) {
	c.mu.Lock()
	c.calls = append(c.calls, append([]string(nil), input...))
	c.mu.Unlock()

	if c.embedFn != nil {
		return c.embedFn(ctx, dimension, input)
	}

	out := make([][]float64, len(input))
	for i, text := range input {
		v := make([]float64, dimension)
		for j, r := range text {
			v[j%dimension] += float64(r%7) + 1
		}
		out[i] = v
	}
	return out, nil
}

func (c *mockLLMClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func TestClient_EmbedBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("batch equals sequential single calls", func(t *testing.T) {
		texts := []string{"python web development", "cloud security basics", "graphic design"}

		batchClient, err := embedding.New(&mockLLMClient{}, 4, embedding.WithCacheSize(0))
		gt.NoError(t, err).Required()
		batch, err := batchClient.EmbedBatch(ctx, texts)
		gt.NoError(t, err).Required()
		gt.Array(t, batch).Length(3)

		singleClient, err := embedding.New(&mockLLMClient{}, 4, embedding.WithCacheSize(0))
		gt.NoError(t, err).Required()
		for i, text := range texts {
			v, err := singleClient.Embed(ctx, text)
			gt.NoError(t, err).Required()
			gt.Array(t, v).Equal(batch[i])
		}
	})

	t.Run("cached and duplicate texts are not sent to the model", func(t *testing.T) {
		llm := &mockLLMClient{}
		client, err := embedding.New(llm, 4)
		gt.NoError(t, err).Required()

		_, err = client.Embed(ctx, "graphic design")
		gt.NoError(t, err).Required()

		vectors, err := client.EmbedBatch(ctx, []string{"graphic design", "cloud", "cloud", "  graphic design  "})
		gt.NoError(t, err).Required()
		gt.Array(t, vectors).Length(4)
		gt.Array(t, vectors[0]).Equal(vectors[3])
		gt.Array(t, vectors[1]).Equal(vectors[2])

		gt.Value(t, llm.callCount()).Equal(2)
		gt.Array(t, llm.calls[1]).Equal([]string{"cloud"})
	})

	t.Run("mutating a returned vector does not change the cache", func(t *testing.T) {
		llm := &mockLLMClient{}
		client, err := embedding.New(llm, 4)
		gt.NoError(t, err).Required()

		first, err := client.Embed(ctx, "data engineering")
		gt.NoError(t, err).Required()
		want := slices.Clone(first)
		for i := range first {
			first[i] = 42
		}

		second, err := client.Embed(ctx, "data engineering")
		gt.NoError(t, err).Required()
		gt.Array(t, second).Equal(want)
		gt.Value(t, llm.callCount()).Equal(1)
	})

	t.Run("lowercase option makes case-insensitive keys", func(t *testing.T) {
		llm := &mockLLMClient{}
		client, err := embedding.New(llm, 4, embedding.WithLowercase(true))
		gt.NoError(t, err).Required()

		a, err := client.Embed(ctx, "Python")
		gt.NoError(t, err).Required()
		b, err := client.Embed(ctx, "python")
		gt.NoError(t, err).Required()
		gt.Array(t, a).Equal(b)
		gt.Value(t, llm.callCount()).Equal(1)
	})

	t.Run("empty text is rejected", func(t *testing.T) {
		client, err := embedding.New(&mockLLMClient{}, 4)
		gt.NoError(t, err).Required()

		_, err = client.EmbedBatch(ctx, []string{"ok", "   "})
		gt.Bool(t, errors.Is(err, model.ErrEmbedding)).True()
	})

	t.Run("unreachable model fails with ErrEmbedding", func(t *testing.T) {
		llm := &mockLLMClient{
			embedFn: func(ctx context.Context, dimension int, input []string) ([][]float64, error) {
				return nil, errors.New("connection refused")
			},
		}
		client, err := embedding.New(llm, 4)
		gt.NoError(t, err).Required()

		_, err = client.Embed(ctx, "python")
		gt.Bool(t, errors.Is(err, model.ErrEmbedding)).True()
	})

	t.Run("dimension mismatch fails with ErrEmbedding", func(t *testing.T) {
		llm := &mockLLMClient{
			embedFn: func(ctx context.Context, dimension int, input []string) ([][]float64, error) {
				return [][]float64{{1, 2}}, nil
			},
		}
		client, err := embedding.New(llm, 4)
		gt.NoError(t, err).Required()

		_, err = client.Embed(ctx, "python")
		gt.Bool(t, errors.Is(err, model.ErrEmbedding)).True()
	})

	t.Run("model call is bounded by timeout", func(t *testing.T) {
		llm := &mockLLMClient{
			embedFn: func(ctx context.Context, dimension int, input []string) ([][]float64, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
		}
		client, err := embedding.New(llm, 4, embedding.WithTimeout(10*time.Millisecond))
		gt.NoError(t, err).Required()

		_, err = client.Embed(ctx, strings.Repeat("a", 3))
		gt.Bool(t, errors.Is(err, model.ErrEmbedding)).True()
		gt.Bool(t, errors.Is(err, context.DeadlineExceeded)).True()
	})
}

func TestNew(t *testing.T) {
	t.Run("requires LLM client", func(t *testing.T) {
		_, err := embedding.New(nil, 4)
		gt.Error(t, err)
	})

	t.Run("requires positive dimension", func(t *testing.T) {
		_, err := embedding.New(&mockLLMClient{}, 0)
		gt.Error(t, err)
	})
}
