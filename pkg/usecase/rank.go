package usecase

import (
	"math"
	"slices"
	"strings"
	"time"

	"github.com/secmon-lab/badgewise/pkg/domain/model"
	"github.com/secmon-lab/badgewise/pkg/domain/model/config"
)

// Signals are the inputs of re-ranking besides the candidates themselves.
// Now is passed in so that ranking never reads the clock.
type Signals struct {
	Now  time.Time
	Rank config.Rank
}

// Rank orders candidates by the weighted composite of similarity, recency,
// popularity and issuer trust. Every term is normalized to [0, 1]. The order is
// strictly descending by score with ties broken by ascending badge id, so the
// same input always yields the same output.
func Rank(candidates []*model.Candidate, signals Signals) []*model.RankedCandidate {
	weights := signals.Rank.Weights.Normalized()

	var maxPopularity int64
	for _, c := range candidates {
		maxPopularity = max(maxPopularity, c.Badge.Popularity)
	}

	ranked := make([]*model.RankedCandidate, len(candidates))
	for i, c := range candidates {
		r := &model.RankedCandidate{
			Candidate:       *c,
			SimilarityTerm:  similarityTerm(c.Similarity),
			RecencyTerm:     recencyTerm(c.Badge.IssuedAt, signals.Now, signals.Rank.RecencyHalfLife),
			PopularityTerm:  popularityTerm(c.Badge.Popularity, maxPopularity),
			IssuerTrustTerm: issuerTrustTerm(c.Badge.Issuer, signals.Rank),
		}
		r.Score = weights.Similarity*r.SimilarityTerm +
			weights.Recency*r.RecencyTerm +
			weights.Popularity*r.PopularityTerm +
			weights.IssuerTrust*r.IssuerTrustTerm
		ranked[i] = r
	}

	slices.SortFunc(ranked, func(a, b *model.RankedCandidate) int {
		if a.Score != b.Score {
			if a.Score > b.Score {
				return -1
			}
			return 1
		}
		return strings.Compare(string(a.Badge.ID), string(b.Badge.ID))
	})
	for i, r := range ranked {
		r.Rank = i + 1
	}
	return ranked
}

func similarityTerm(similarity float64) float64 {
	return clamp01((similarity + 1) / 2)
}

func recencyTerm(issuedAt, now time.Time, halfLife time.Duration) float64 {
	if issuedAt.IsZero() || halfLife <= 0 {
		return 0
	}
	age := now.Sub(issuedAt)
	if age <= 0 {
		return 1
	}
	return clamp01(math.Pow(0.5, float64(age)/float64(halfLife)))
}

func popularityTerm(popularity, maxPopularity int64) float64 {
	if popularity <= 0 || maxPopularity <= 0 {
		return 0
	}
	return clamp01(math.Log1p(float64(popularity)) / math.Log1p(float64(maxPopularity)))
}

func issuerTrustTerm(issuer string, rank config.Rank) float64 {
	if trust, ok := rank.IssuerTrust[issuer]; ok {
		return clamp01(trust)
	}
	return clamp01(rank.DefaultIssuerTrust)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
