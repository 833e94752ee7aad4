package usecase

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/badgewise/pkg/domain/model"
)

// badgeRecord is the file format of badge_*.json records
type badgeRecord struct {
	BadgeID             string         `json:"badge_id"`
	Name                string         `json:"name"`
	Issuer              string         `json:"issuer"`
	Description         string         `json:"description"`
	Criteria            string         `json:"criteria"`
	Alignment           string         `json:"alignment"`
	EmploymentOutcome   string         `json:"employmentOutcome"`
	SkillsValidated     []string       `json:"skillsValidated"`
	Competency          string         `json:"competency"`
	LearningOpportunity string         `json:"learningOpportunity"`
	RelatedBadges       []string       `json:"related_badges"`
	IssuedAt            string         `json:"issued_at,omitempty"`
	Popularity          int64          `json:"popularity,omitempty"`
	Metadata            map[string]any `json:"metadata,omitempty"`
}

func (r *badgeRecord) toBadge() (*model.Badge, error) {
	badge := &model.Badge{
		ID:                  model.BadgeID(strings.TrimSpace(r.BadgeID)),
		Title:               strings.TrimSpace(r.Name),
		Description:         r.Description,
		Issuer:              strings.TrimSpace(r.Issuer),
		Skills:              r.SkillsValidated,
		Criteria:            r.Criteria,
		Competency:          r.Competency,
		Alignment:           r.Alignment,
		EmploymentOutcome:   r.EmploymentOutcome,
		LearningOpportunity: r.LearningOpportunity,
		Popularity:          r.Popularity,
		Metadata:            r.Metadata,
	}
	for _, id := range r.RelatedBadges {
		badge.Related = append(badge.Related, model.BadgeID(id))
	}
	if r.IssuedAt != "" {
		issuedAt, err := time.Parse(time.RFC3339, r.IssuedAt)
		if err != nil {
			return nil, goerr.Wrap(model.ErrInvalidInput, "invalid issued_at",
				goerr.V(model.BadgeIDKey, r.BadgeID), goerr.V("issued_at", r.IssuedAt))
		}
		badge.IssuedAt = issuedAt
	}
	if err := badge.Validate(); err != nil {
		return nil, err
	}
	return badge, nil
}

// userRecord is the file format of user_*.json records
type userRecord struct {
	UserID            string   `json:"user_id"`
	Name              string   `json:"name"`
	Goal              string   `json:"goal"`
	Interests         string   `json:"interests,omitempty"`
	Skills            []string `json:"skills"`
	CompetencyLevel   string   `json:"competency_level"`
	LearningHistory   string   `json:"learning_history"`
	EmploymentHistory string   `json:"employment_history"`
	EducationLevel    string   `json:"education_level"`
	AcquiredBadges    []string `json:"acquired_badges"`
}

func (r *userRecord) toProfile() (*model.UserProfile, error) {
	profile := &model.UserProfile{
		ID:                model.UserID(strings.TrimSpace(r.UserID)),
		Name:              r.Name,
		Goal:              r.Goal,
		Interests:         r.Interests,
		Skills:            r.Skills,
		CompetencyLevel:   r.CompetencyLevel,
		LearningHistory:   r.LearningHistory,
		EmploymentHistory: r.EmploymentHistory,
		EducationLevel:    r.EducationLevel,
	}
	for _, id := range r.AcquiredBadges {
		profile.BadgeHistory = append(profile.BadgeHistory, model.BadgeID(id))
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return profile, nil
}

// decodeRecords reads either a single JSON object or an array of objects
func decodeRecords[T any](r io.Reader) ([]T, error) {
	br := bufio.NewReader(r)
	head, err := peekNonSpace(br)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read record")
	}

	dec := json.NewDecoder(br)
	if head == '[' {
		var records []T
		if err := dec.Decode(&records); err != nil {
			return nil, goerr.Wrap(err, "failed to decode record array")
		}
		return records, nil
	}

	var record T
	if err := dec.Decode(&record); err != nil {
		return nil, goerr.Wrap(err, "failed to decode record")
	}
	return []T{record}, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.Peek(1)
		if err != nil {
			return 0, err
		}
		if len(bytes.TrimSpace(b)) > 0 {
			return b[0], nil
		}
		if _, err := br.Discard(1); err != nil {
			return 0, err
		}
	}
}

// DecodeProfiles reads learner profiles in the user_*.json record format
func DecodeProfiles(r io.Reader) ([]*model.UserProfile, error) {
	records, err := decodeRecords[userRecord](r)
	if err != nil {
		return nil, goerr.Wrap(model.WithKind(err, model.ErrInvalidInput), "failed to decode user records")
	}
	profiles := make([]*model.UserProfile, 0, len(records))
	for i := range records {
		profile, err := records[i].toProfile()
		if err != nil {
			return nil, goerr.Wrap(err, "invalid user record", goerr.V("index", i))
		}
		profiles = append(profiles, profile)
	}
	return profiles, nil
}
