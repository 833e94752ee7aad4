package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/secmon-lab/badgewise/pkg/domain/interfaces"
	"github.com/secmon-lab/badgewise/pkg/domain/model"
)

// vocabulary of keywordEmbedder; one dimension per keyword plus a bias dimension
var vocabulary = []string{"python", "data", "analysis", "cloud", "network", "security", "design", "leadership"}

// keywordEmbedder embeds text as keyword occurrence counts so that similarity is predictable
type keywordEmbedder struct {
	calls atomic.Int64
	err   error
}

var _ interfaces.Embedder = &keywordEmbedder{}

func (e *keywordEmbedder) Dimension() int {
	return len(vocabulary) + 1
}

func (e *keywordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *keywordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		lower := strings.ToLower(text)
		v := make([]float32, e.Dimension())
		for j, word := range vocabulary {
			v[j] = float32(strings.Count(lower, word))
		}
		v[len(vocabulary)] = 0.1
		vectors[i] = v
	}
	return vectors, nil
}

// switchableIndex wraps a vector index, counts queries and can simulate an outage
type switchableIndex struct {
	interfaces.VectorIndex
	queries atomic.Int64
	down    atomic.Bool
}

func (x *switchableIndex) Query(ctx context.Context, vector []float32, k int, filter model.Filter) ([]*model.Match, error) {
	x.queries.Add(1)
	if x.down.Load() {
		return nil, goerr.Wrap(model.ErrIndexUnavailable, "index is down")
	}
	return x.VectorIndex.Query(ctx, vector, k, filter)
}

// mockLLMSession is a mock gollem Session for testing
type mockLLMSession struct {
	generateContentFn func(ctx context.Context, input ...gollem.Input) (*gollem.Response, error)
}

func (s *mockLLMSession) GenerateContent(ctx context.Context, input ...gollem.Input) (*gollem.Response, error) {
	return s.generateContentFn(ctx, input...)
}

func (s *mockLLMSession) GenerateStream(ctx context.Context, input ...gollem.Input) (<-chan *gollem.Response, error) {
	return nil, nil
}

func (s *mockLLMSession) Generate(ctx context.Context, input []gollem.Input, opts ...gollem.GenerateOption) (*gollem.Response, error) {
	return s.generateContentFn(ctx, input...)
}

func (s *mockLLMSession) Stream(ctx context.Context, input []gollem.Input, opts ...gollem.GenerateOption) (<-chan *gollem.Response, error) {
	return nil, nil
}

func (s *mockLLMSession) History() (*gollem.History, error) {
	return nil, nil
}

func (s *mockLLMSession) AppendHistory(*gollem.History) error {
	return nil
}

func (s *mockLLMSession) CountToken(ctx context.Context, input ...gollem.Input) (int, error) {
	return 0, nil
}

var badgeIDPattern = regexp.MustCompile(`badge_id: (\S+)`)

// mockLLMClient answers generation requests by recommending the candidates in prompt order
type mockLLMClient struct {
	mu      sync.Mutex
	prompts []string
	hang    bool
}

func (c *mockLLMClient) NewSession(ctx context.Context, options ...gollem.SessionOption) (gollem.Session, error) {
	return &mockLLMSession{
		generateContentFn: func(ctx context.Context, input ...gollem.Input) (*gollem.Response, error) {
			var prompt string
			for _, in := range input {
				if text, ok := in.(gollem.Text); ok {
					prompt += string(text)
				}
			}
			c.mu.Lock()
			c.prompts = append(c.prompts, prompt)
			c.mu.Unlock()

			if c.hang {
				<-ctx.Done()
				return nil, ctx.Err()
			}

			var items []string
			for _, m := range badgeIDPattern.FindAllStringSubmatch(prompt, -1) {
				items = append(items, fmt.Sprintf(`{"badge_id":%q,"justification":"matches your goal","preparation_steps":["study"],"expected_benefits":"career growth"}`, m[1]))
			}
			return &gollem.Response{Texts: []string{`{"recommendations":[` + strings.Join(items, ",") + `]}`}}, nil
		},
	}, nil
}

func (c *mockLLMClient) GenerateEmbedding(ctx context.Context, dimension int, input []string) ([][]float64, error) {
	return nil, errors.New("not supported")
}

func (c *mockLLMClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.prompts)
}

// fakeClock is a manually advanced clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// mapSource is an in-memory RecordSource
type mapSource map[string]string

func (s mapSource) List(ctx context.Context) ([]string, error) {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	return names, nil
}

func (s mapSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	data, ok := s[name]
	if !ok {
		return nil, goerr.New("no such object", goerr.V("name", name))
	}
	return io.NopCloser(strings.NewReader(data)), nil
}

func (s mapSource) String() string {
	return "memory"
}

// scenarioBadges returns three badges of decreasing similarity to a Python data analysis learner
func scenarioBadges() []*model.Badge {
	return []*model.Badge{
		{
			ID:          "A",
			Title:       "Python Data Analysis",
			Description: "Analysis of data with python",
			Issuer:      "Open Badge Academy",
			Skills:      []string{"python", "data analysis"},
		},
		{
			ID:          "B",
			Title:       "Python Programming",
			Description: "General python programming",
			Issuer:      "Open Badge Academy",
			Skills:      []string{"python"},
		},
		{
			ID:          "C",
			Title:       "Cloud Network Security",
			Description: "Securing cloud network infrastructure",
			Issuer:      "Open Badge Academy",
			Skills:      []string{"cloud", "network", "security"},
		},
	}
}

func scenarioProfile() *model.UserProfile {
	return &model.UserProfile{
		ID:     "learner-1",
		Name:   "Learner",
		Goal:   "Become a python data analysis specialist",
		Skills: []string{"python", "data"},
	}
}
