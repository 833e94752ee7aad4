package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/badgewise/pkg/domain/model"
	"github.com/secmon-lab/badgewise/pkg/usecase"
	"github.com/secmon-lab/badgewise/pkg/utils/errutil"
	"github.com/secmon-lab/badgewise/pkg/utils/safe"
)

// RecommendUseCase is the recommendation surface used by the HTTP API
type RecommendUseCase interface {
	RecommendByUserID(ctx context.Context, userID model.UserID, opts usecase.RecommendOptions) (*model.RecommendationResult, error)
	DefaultK() int
}

// ProfileUseCase is the profile surface used by the HTTP API
type ProfileUseCase interface {
	Get(ctx context.Context, id model.UserID) (*model.UserProfile, error)
	Save(ctx context.Context, profile *model.UserProfile) (*model.UserProfile, error)
}

const maxBodySize = 1 << 20

type recommendRequest struct {
	Filter map[string]any `json:"filter,omitempty"`
}

type recommendationItem struct {
	BadgeID          string   `json:"badge_id"`
	Title            string   `json:"title"`
	Score            float64  `json:"score"`
	Similarity       float64  `json:"similarity"`
	Justification    string   `json:"justification"`
	PreparationSteps []string `json:"preparation_steps"`
	ExpectedBenefits string   `json:"expected_benefits,omitempty"`
}

type recommendationResponse struct {
	RequestID      string               `json:"request_id"`
	UserID         string               `json:"user_id"`
	CreatedAt      time.Time            `json:"created_at"`
	Outcome        string               `json:"outcome"`
	FallbackReason string               `json:"fallback_reason,omitempty"`
	Stale          bool                 `json:"stale"`
	Items          []recommendationItem `json:"items"`
}

type userProfile struct {
	UserID            string    `json:"user_id"`
	Name              string    `json:"name"`
	Goal              string    `json:"goal"`
	Interests         string    `json:"interests,omitempty"`
	Skills            []string  `json:"skills"`
	CompetencyLevel   string    `json:"competency_level,omitempty"`
	LearningHistory   string    `json:"learning_history,omitempty"`
	EmploymentHistory string    `json:"employment_history,omitempty"`
	EducationLevel    string    `json:"education_level,omitempty"`
	AcquiredBadges    []string  `json:"acquired_badges"`
	UpdatedAt         time.Time `json:"updated_at,omitzero"`
}

func toRecommendationResponse(r *model.RecommendationResult) *recommendationResponse {
	resp := &recommendationResponse{
		RequestID:      r.RequestID,
		UserID:         string(r.UserID),
		CreatedAt:      r.CreatedAt,
		Outcome:        string(r.Outcome),
		FallbackReason: r.FallbackReason,
		Stale:          r.Stale,
		Items:          make([]recommendationItem, len(r.Items)),
	}
	for i, item := range r.Items {
		steps := item.PreparationSteps
		if steps == nil {
			steps = []string{}
		}
		resp.Items[i] = recommendationItem{
			BadgeID:          string(item.BadgeID),
			Title:            item.Title,
			Score:            item.Score,
			Similarity:       item.Similarity,
			Justification:    item.Justification,
			PreparationSteps: steps,
			ExpectedBenefits: item.ExpectedBenefits,
		}
	}
	return resp
}

func toUserProfile(p *model.UserProfile) *userProfile {
	resp := &userProfile{
		UserID:            string(p.ID),
		Name:              p.Name,
		Goal:              p.Goal,
		Interests:         p.Interests,
		Skills:            p.Skills,
		CompetencyLevel:   p.CompetencyLevel,
		LearningHistory:   p.LearningHistory,
		EmploymentHistory: p.EmploymentHistory,
		EducationLevel:    p.EducationLevel,
		AcquiredBadges:    make([]string, len(p.BadgeHistory)),
		UpdatedAt:         p.UpdatedAt,
	}
	if resp.Skills == nil {
		resp.Skills = []string{}
	}
	for i, id := range p.BadgeHistory {
		resp.AcquiredBadges[i] = string(id)
	}
	return resp
}

func (u *userProfile) toModel(id model.UserID) *model.UserProfile {
	p := &model.UserProfile{
		ID:                id,
		Name:              u.Name,
		Goal:              u.Goal,
		Interests:         u.Interests,
		Skills:            u.Skills,
		CompetencyLevel:   u.CompetencyLevel,
		LearningHistory:   u.LearningHistory,
		EmploymentHistory: u.EmploymentHistory,
		EducationLevel:    u.EducationLevel,
	}
	for _, b := range u.AcquiredBadges {
		p.BadgeHistory = append(p.BadgeHistory, model.BadgeID(b))
	}
	return p
}

// statusCode maps domain errors to HTTP status codes
func statusCode(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrBudgetTooSmall):
		return http.StatusInternalServerError
	case errors.Is(err, model.ErrEmbedding),
		errors.Is(err, model.ErrRetrieval),
		errors.Is(err, model.ErrIndexUnavailable),
		errors.Is(err, model.ErrDimensionMismatch):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func recommendHandler(uc RecommendUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := model.UserID(chi.URLParam(r, "user_id"))

		opts := usecase.RecommendOptions{K: uc.DefaultK()}
		if v := r.URL.Query().Get("k"); v != "" {
			k, err := strconv.Atoi(v)
			if err != nil {
				errutil.HandleHTTP(ctx, w, goerr.Wrap(model.ErrInvalidInput, "k must be an integer", goerr.V("k", v)), http.StatusBadRequest)
				return
			}
			opts.K = k
		}

		var req recommendRequest
		if err := decodeBody(r, &req, true); err != nil {
			errutil.HandleHTTP(ctx, w, err, http.StatusBadRequest)
			return
		}
		opts.Filter = req.Filter

		result, err := uc.RecommendByUserID(ctx, userID, opts)
		if err != nil {
			errutil.HandleHTTP(ctx, w, err, statusCode(err))
			return
		}

		writeJSON(ctx, w, http.StatusOK, toRecommendationResponse(result))
	}
}

func getUserHandler(uc ProfileUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		profile, err := uc.Get(ctx, model.UserID(chi.URLParam(r, "user_id")))
		if err != nil {
			errutil.HandleHTTP(ctx, w, err, statusCode(err))
			return
		}
		writeJSON(ctx, w, http.StatusOK, toUserProfile(profile))
	}
}

func putUserHandler(uc ProfileUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := model.UserID(chi.URLParam(r, "user_id"))

		var req userProfile
		if err := decodeBody(r, &req, false); err != nil {
			errutil.HandleHTTP(ctx, w, err, http.StatusBadRequest)
			return
		}
		if req.UserID != "" && model.UserID(req.UserID) != userID {
			errutil.HandleHTTP(ctx, w, goerr.Wrap(model.ErrInvalidInput, "user_id in body does not match the path",
				goerr.V(model.UserIDKey, userID), goerr.V("body_user_id", req.UserID)), http.StatusBadRequest)
			return
		}

		saved, err := uc.Save(ctx, req.toModel(userID))
		if err != nil {
			errutil.HandleHTTP(ctx, w, err, statusCode(err))
			return
		}
		writeJSON(ctx, w, http.StatusOK, toUserProfile(saved))
	}
}

// decodeBody decodes a JSON request body. An empty body is accepted when optional is set.
func decodeBody(r *http.Request, v any, optional bool) error {
	defer safe.Close(r.Context(), r.Body)

	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && optional {
			return nil
		}
		return goerr.Wrap(model.ErrInvalidInput, "invalid request body", goerr.V("cause", err.Error()))
	}
	return nil
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		errutil.HandleHTTP(ctx, w, goerr.Wrap(err, "failed to marshal response"), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	safe.Write(ctx, w, data)
}
