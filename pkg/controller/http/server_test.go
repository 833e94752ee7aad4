package http_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	httpctrl "github.com/secmon-lab/badgewise/pkg/controller/http"
	"github.com/secmon-lab/badgewise/pkg/domain/model"
	"github.com/secmon-lab/badgewise/pkg/usecase"
)

type mockRecommend struct {
	mu     sync.Mutex
	opts   []usecase.RecommendOptions
	result *model.RecommendationResult
	err    error
}

func (m *mockRecommend) RecommendByUserID(_ context.Context, userID model.UserID, opts usecase.RecommendOptions) (*model.RecommendationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opts = append(m.opts, opts)
	if m.err != nil {
		return nil, m.err
	}
	result := *m.result
	result.UserID = userID
	return &result, nil
}

func (m *mockRecommend) DefaultK() int { return 3 }

type mockProfile struct {
	mu       sync.Mutex
	profiles map[model.UserID]*model.UserProfile
}

func (m *mockProfile) Get(_ context.Context, id model.UserID) (*model.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, goerr.Wrap(model.ErrNotFound, "profile not found", goerr.V(model.UserIDKey, id))
	}
	return p, nil
}

func (m *mockProfile) Save(_ context.Context, profile *model.UserProfile) (*model.UserProfile, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	profile.UpdatedAt = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	m.profiles[profile.ID] = profile
	return profile, nil
}

func newServer(rec *mockRecommend, prof *mockProfile) *httpctrl.Server {
	return httpctrl.New(httpctrl.WithRecommend(rec), httpctrl.WithProfile(prof))
}

func sampleResult() *model.RecommendationResult {
	return &model.RecommendationResult{
		RequestID: "req-1",
		Outcome:   model.OutcomeGenerated,
		Items: []model.RecommendationItem{
			{BadgeID: "A", Title: "Python Data Analysis", Score: 0.8, Similarity: 0.9, Justification: "fits", PreparationSteps: []string{"study"}},
			{BadgeID: "B", Title: "Intro to Python", Score: 0.6, Similarity: 0.7, Justification: "also fits"},
		},
	}
}

func TestRecommendHandler(t *testing.T) {
	t.Run("returns recommendations as JSON", func(t *testing.T) {
		rec := &mockRecommend{result: sampleResult()}
		srv := newServer(rec, &mockProfile{profiles: map[model.UserID]*model.UserProfile{}})

		req := httptest.NewRequest(http.MethodPost, "/api/recommendations/learner-1?k=2", nil)
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, req)

		gt.Value(t, w.Code).Equal(http.StatusOK)
		var body struct {
			UserID  string `json:"user_id"`
			Outcome string `json:"outcome"`
			Items   []struct {
				BadgeID          string   `json:"badge_id"`
				PreparationSteps []string `json:"preparation_steps"`
			} `json:"items"`
		}
		gt.NoError(t, json.Unmarshal(w.Body.Bytes(), &body)).Required()
		gt.Value(t, body.UserID).Equal("learner-1")
		gt.Value(t, body.Outcome).Equal("generated")
		gt.Array(t, body.Items).Length(2).Required()
		gt.Value(t, body.Items[0].BadgeID).Equal("A")
		gt.Array(t, body.Items[1].PreparationSteps).Length(0)
		gt.Value(t, rec.opts[0].K).Equal(2)
	})

	t.Run("uses the default k and the body filter", func(t *testing.T) {
		rec := &mockRecommend{result: sampleResult()}
		srv := newServer(rec, &mockProfile{profiles: map[model.UserID]*model.UserProfile{}})

		req := httptest.NewRequest(http.MethodPost, "/api/recommendations/learner-1",
			strings.NewReader(`{"filter":{"issuer":"Open Badge Academy"}}`))
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, req)

		gt.Value(t, w.Code).Equal(http.StatusOK)
		gt.Value(t, rec.opts[0].K).Equal(3)
		gt.Value(t, rec.opts[0].Filter["issuer"]).Equal(any("Open Badge Academy"))
	})

	t.Run("rejects a non-numeric k", func(t *testing.T) {
		rec := &mockRecommend{result: sampleResult()}
		srv := newServer(rec, &mockProfile{profiles: map[model.UserID]*model.UserProfile{}})

		w := httptest.NewRecorder()
		srv.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/recommendations/learner-1?k=two", nil))
		gt.Value(t, w.Code).Equal(http.StatusBadRequest)
		gt.Array(t, rec.opts).Length(0)
	})

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "invalid input maps to 400", err: model.ErrInvalidInput, want: http.StatusBadRequest},
		{name: "unknown user maps to 404", err: model.ErrNotFound, want: http.StatusNotFound},
		{name: "budget misconfiguration maps to 500", err: model.ErrBudgetTooSmall, want: http.StatusInternalServerError},
		{name: "embedding failure maps to 503", err: model.ErrEmbedding, want: http.StatusServiceUnavailable},
		{name: "retrieval failure maps to 503", err: model.WithKind(model.ErrIndexUnavailable, model.ErrRetrieval), want: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &mockRecommend{err: goerr.Wrap(tt.err, "recommend failed")}
			srv := newServer(rec, &mockProfile{profiles: map[model.UserID]*model.UserProfile{}})

			w := httptest.NewRecorder()
			srv.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/recommendations/learner-1", nil))
			gt.Value(t, w.Code).Equal(tt.want)
		})
	}
}

func TestUserHandlers(t *testing.T) {
	t.Run("put then get a profile", func(t *testing.T) {
		prof := &mockProfile{profiles: map[model.UserID]*model.UserProfile{}}
		srv := newServer(&mockRecommend{result: sampleResult()}, prof)

		body := `{"name":"Ada","goal":"python data analysis","skills":["python"],"acquired_badges":["A"]}`
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/api/users/learner-1", strings.NewReader(body)))
		gt.Value(t, w.Code).Equal(http.StatusOK)

		w = httptest.NewRecorder()
		srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/users/learner-1", nil))
		gt.Value(t, w.Code).Equal(http.StatusOK)

		var got struct {
			UserID         string   `json:"user_id"`
			Goal           string   `json:"goal"`
			AcquiredBadges []string `json:"acquired_badges"`
		}
		gt.NoError(t, json.Unmarshal(w.Body.Bytes(), &got)).Required()
		gt.Value(t, got.UserID).Equal("learner-1")
		gt.Value(t, got.Goal).Equal("python data analysis")
		gt.Array(t, got.AcquiredBadges).Equal([]string{"A"})
	})

	t.Run("unknown user is 404", func(t *testing.T) {
		srv := newServer(&mockRecommend{result: sampleResult()}, &mockProfile{profiles: map[model.UserID]*model.UserProfile{}})
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/users/nobody", nil))
		gt.Value(t, w.Code).Equal(http.StatusNotFound)
	})

	t.Run("empty profile is rejected", func(t *testing.T) {
		srv := newServer(&mockRecommend{result: sampleResult()}, &mockProfile{profiles: map[model.UserID]*model.UserProfile{}})
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/api/users/learner-1", strings.NewReader(`{"name":"Ada"}`)))
		gt.Value(t, w.Code).Equal(http.StatusBadRequest)
	})

	t.Run("mismatched user id is rejected", func(t *testing.T) {
		srv := newServer(&mockRecommend{result: sampleResult()}, &mockProfile{profiles: map[model.UserID]*model.UserProfile{}})
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/api/users/learner-1",
			strings.NewReader(`{"user_id":"other","goal":"python"}`)))
		gt.Value(t, w.Code).Equal(http.StatusBadRequest)
	})

	t.Run("unknown fields are rejected", func(t *testing.T) {
		srv := newServer(&mockRecommend{result: sampleResult()}, &mockProfile{profiles: map[model.UserID]*model.UserProfile{}})
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/api/users/learner-1",
			strings.NewReader(`{"goal":"python","password":"x"}`)))
		gt.Value(t, w.Code).Equal(http.StatusBadRequest)
	})
}

func TestHealthAndMetrics(t *testing.T) {
	srv := httpctrl.New()

	t.Run("health reports ok", func(t *testing.T) {
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		gt.Value(t, w.Code).Equal(http.StatusOK)
		gt.String(t, w.Body.String()).Contains(`"ok"`)
	})

	t.Run("metrics are exposed", func(t *testing.T) {
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		gt.Value(t, w.Code).Equal(http.StatusOK)
	})

	t.Run("api routes are absent without use cases", func(t *testing.T) {
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/users/learner-1", nil))
		gt.Value(t, w.Code).Equal(http.StatusNotFound)
	})
}
