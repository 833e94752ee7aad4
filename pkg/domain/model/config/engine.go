package config

import "time"

// Weights of the composite re-ranking score. They are normalized to sum 1 before use.
type Weights struct {
	Similarity  float64
	Recency     float64
	Popularity  float64
	IssuerTrust float64
}

// Normalized returns the weights scaled to sum 1. All-zero weights fall back to similarity only.
func (w Weights) Normalized() Weights {
	sum := w.Similarity + w.Recency + w.Popularity + w.IssuerTrust
	if sum <= 0 {
		return Weights{Similarity: 1}
	}
	return Weights{
		Similarity:  w.Similarity / sum,
		Recency:     w.Recency / sum,
		Popularity:  w.Popularity / sum,
		IssuerTrust: w.IssuerTrust / sum,
	}
}

// Rank holds the re-ranking configuration
type Rank struct {
	Weights            Weights
	RecencyHalfLife    time.Duration
	IssuerTrust        map[string]float64
	DefaultIssuerTrust float64
}

// Retrieval holds the candidate retrieval configuration
type Retrieval struct {
	// DefaultK is used when a request does not specify k
	DefaultK int
	MaxK     int

	// PoolFactor multiplies k to get the number of candidates handed to the re-ranker
	PoolFactor int

	// Margin is added to the index query size on top of excluded ids
	Margin  int
	Timeout time.Duration
}

// Prompt holds the prompt assembly configuration
type Prompt struct {
	// Budget is the maximum size of the user prompt in characters
	Budget int
}

// Cache holds the recommendation cache configuration
type Cache struct {
	// TTL of 0 disables caching
	TTL time.Duration

	// StaleWindow is how long an expired candidate set may still be served while the index is unavailable
	StaleWindow time.Duration
}

// Engine is the complete tuning of the recommendation pipeline
type Engine struct {
	Rank      Rank
	Retrieval Retrieval
	Prompt    Prompt
	Cache     Cache
}

// DefaultEngine returns the built-in tuning
func DefaultEngine() Engine {
	return Engine{
		Rank: Rank{
			Weights: Weights{
				Similarity:  0.7,
				Recency:     0.1,
				Popularity:  0.1,
				IssuerTrust: 0.1,
			},
			RecencyHalfLife:    365 * 24 * time.Hour,
			DefaultIssuerTrust: 0.5,
		},
		Retrieval: Retrieval{
			DefaultK:   3,
			MaxK:       20,
			PoolFactor: 3,
			Margin:     5,
			Timeout:    10 * time.Second,
		},
		Prompt: Prompt{
			Budget: 12000,
		},
		Cache: Cache{
			TTL:         10 * time.Minute,
			StaleWindow: time.Hour,
		},
	}
}
