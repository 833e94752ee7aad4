package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/secmon-lab/badgewise/pkg/utils/logging"
)

type Server struct {
	router    *chi.Mux
	recommend RecommendUseCase
	profile   ProfileUseCase
	metrics   http.Handler
}

type Options func(*Server)

func WithRecommend(uc RecommendUseCase) Options {
	return func(s *Server) {
		s.recommend = uc
	}
}

func WithProfile(uc ProfileUseCase) Options {
	return func(s *Server) {
		s.profile = uc
	}
}

// WithMetricsHandler replaces the default Prometheus handler served on /metrics
func WithMetricsHandler(h http.Handler) Options {
	return func(s *Server) {
		s.metrics = h
	}
}

func New(opts ...Options) *Server {
	r := chi.NewRouter()

	s := &Server{
		router:  r,
		metrics: promhttp.Handler(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r.Use(middleware.RequestID)
	r.Use(accessLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", healthHandler)
	r.Handle("/metrics", s.metrics)

	if s.recommend != nil {
		r.Post("/api/recommendations/{user_id}", recommendHandler(s.recommend))
	}
	if s.profile != nil {
		r.Get("/api/users/{user_id}", getUserHandler(s.profile))
		r.Put("/api/users/{user_id}", putUserHandler(s.profile))
	}

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// accessLogger is a middleware that logs HTTP requests
func accessLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		logger := logging.Default().With("request_id", middleware.GetReqID(r.Context()))
		ctx := logging.With(r.Context(), logger)

		defer func() {
			logger.Info("access",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote", r.RemoteAddr,
				"user_agent", r.UserAgent(),
			)
		}()

		next.ServeHTTP(ww, r.WithContext(ctx))
	})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}
