package model

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// UserID identifies a learner profile
type UserID string

// UserProfile is a learner's skill and interest profile
type UserProfile struct {
	ID                UserID
	Name              string
	Goal              string
	Interests         string
	Skills            []string
	CompetencyLevel   string
	LearningHistory   string
	EmploymentHistory string
	EducationLevel    string
	BadgeHistory      []BadgeID

	// Embedding is valid only while EmbeddingHash equals TextHash()
	Embedding     []float32
	EmbeddingHash string
	UpdatedAt     time.Time
}

// Validate checks the fields required to recommend badges
func (p *UserProfile) Validate() error {
	if p.ID == "" {
		return goerr.Wrap(ErrInvalidInput, "user ID is required")
	}
	if strings.TrimSpace(p.ProfileText()) == "" {
		return goerr.Wrap(ErrInvalidInput, "user profile has no skill or interest text", goerr.V(UserIDKey, p.ID))
	}
	return nil
}

// ProfileText is the embedding input describing the learner
func (p *UserProfile) ProfileText() string {
	var parts []string
	add := func(label, value string) {
		if value = strings.TrimSpace(value); value != "" {
			parts = append(parts, label+": "+value)
		}
	}
	add("Goal", p.Goal)
	add("Interests", p.Interests)
	add("Skills", strings.Join(p.Skills, ", "))
	add("Competency level", p.CompetencyLevel)
	add("Learning history", p.LearningHistory)
	add("Employment history", p.EmploymentHistory)
	add("Education", p.EducationLevel)
	return strings.Join(parts, "\n")
}

// ContentHash identifies the profile content relevant to recommendation
func (p *UserProfile) ContentHash() string {
	held := make([]string, len(p.BadgeHistory))
	for i, id := range p.BadgeHistory {
		held[i] = string(id)
	}
	slices.Sort(held)

	h := sha256.New()
	h.Write([]byte(p.ProfileText()))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(held, "\x00")))
	return hex.EncodeToString(h.Sum(nil))
}

// TextHash identifies the embedded text of the profile
func (p *UserProfile) TextHash() string {
	sum := sha256.Sum256([]byte(p.ProfileText()))
	return hex.EncodeToString(sum[:])
}

// CurrentEmbedding returns the stored embedding if it was computed from the current content
func (p *UserProfile) CurrentEmbedding() ([]float32, bool) {
	if len(p.Embedding) == 0 || p.EmbeddingHash != p.TextHash() {
		return nil, false
	}
	return p.Embedding, true
}

// HeldBadges returns badge history as a set
func (p *UserProfile) HeldBadges() map[BadgeID]struct{} {
	held := make(map[BadgeID]struct{}, len(p.BadgeHistory))
	for _, id := range p.BadgeHistory {
		held[id] = struct{}{}
	}
	return held
}

// Copy returns a deep copy of the profile
func (p *UserProfile) Copy() *UserProfile {
	copied := *p
	copied.Skills = slices.Clone(p.Skills)
	copied.BadgeHistory = slices.Clone(p.BadgeHistory)
	copied.Embedding = slices.Clone(p.Embedding)
	return &copied
}
