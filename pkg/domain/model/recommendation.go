package model

import (
	"time"

	"github.com/google/uuid"
)

// Candidate is a badge retrieved for a request with its raw cosine similarity in [-1, 1]
type Candidate struct {
	Badge      *Badge
	Similarity float64
}

// RankedCandidate is a candidate with its composite score and 1-based rank position
type RankedCandidate struct {
	Candidate

	Score float64
	Rank  int

	// Normalized terms the score was computed from, each in [0, 1]
	SimilarityTerm  float64
	RecencyTerm     float64
	PopularityTerm  float64
	IssuerTrustTerm float64
}

// GenerationRequest is a bounded request to the generation model
type GenerationRequest struct {
	SystemPrompt string
	UserPrompt   string

	// Candidates are the ranked candidates included in UserPrompt, in rank order
	Candidates []*RankedCandidate

	// MaxItems is the number of recommendations requested
	MaxItems int

	UserID UserID

	// Fingerprint identifies the request in logs
	Fingerprint string
}

// Outcome tells how a recommendation result was produced
type Outcome string

const (
	OutcomeGenerated Outcome = "generated"
	OutcomeFallback  Outcome = "fallback"
)

// RecommendationItem is one recommended badge with its justification
type RecommendationItem struct {
	BadgeID          BadgeID
	Title            string
	Score            float64
	Similarity       float64
	Justification    string
	PreparationSteps []string
	ExpectedBenefits string
}

// RecommendationResult is the final answer of a recommendation request
type RecommendationResult struct {
	RequestID      string
	UserID         UserID
	CreatedAt      time.Time
	Items          []RecommendationItem
	Outcome        Outcome
	FallbackReason string

	// Stale is set when candidates were served from an expired cache entry because the index was unavailable
	Stale bool
}

// NewRecommendationResult creates an empty result with a fresh request ID
func NewRecommendationResult(userID UserID, now time.Time) *RecommendationResult {
	return &RecommendationResult{
		RequestID: uuid.New().String(),
		UserID:    userID,
		CreatedAt: now.UTC(),
		Items:     []RecommendationItem{},
	}
}

// BadgeIDs returns the recommended badge IDs in order
func (r *RecommendationResult) BadgeIDs() []BadgeID {
	ids := make([]BadgeID, len(r.Items))
	for i, item := range r.Items {
		ids[i] = item.BadgeID
	}
	return ids
}
