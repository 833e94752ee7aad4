package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// BadgeID is the globally unique identifier of an open badge
type BadgeID string

// Badge is an open badge record together with its current embedding
type Badge struct {
	ID                  BadgeID
	Title               string
	Description         string
	Issuer              string
	Skills              []string
	Criteria            string
	Competency          string
	Alignment           string
	EmploymentOutcome   string
	LearningOpportunity string
	Related             []BadgeID
	IssuedAt            time.Time
	Popularity          int64
	Embedding           []float32
	Metadata            Metadata
}

// Validate checks the fields required for indexing
func (b *Badge) Validate() error {
	if b.ID == "" {
		return goerr.Wrap(ErrInvalidInput, "badge ID is required")
	}
	if strings.TrimSpace(b.EmbeddingText()) == "" {
		return goerr.Wrap(ErrInvalidInput, "badge has no text to embed", goerr.V(BadgeIDKey, b.ID))
	}
	if b.Popularity < 0 {
		return goerr.Wrap(ErrInvalidInput, "badge popularity must not be negative",
			goerr.V(BadgeIDKey, b.ID), goerr.V("popularity", b.Popularity))
	}
	return nil
}

// EmbeddingText returns the text the badge embedding is computed from.
// Any change of these fields changes ContentHash and requires a new embedding.
func (b *Badge) EmbeddingText() string {
	var sb strings.Builder
	write := func(label, value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(label)
		sb.WriteString(": ")
		sb.WriteString(value)
	}

	write("Title", b.Title)
	write("Issuer", b.Issuer)
	write("Description", b.Description)
	write("Skills", strings.Join(b.Skills, ", "))
	write("Criteria", b.Criteria)
	write("Competency", b.Competency)
	write("Alignment", b.Alignment)
	write("Employment outcome", b.EmploymentOutcome)
	write("Learning opportunity", b.LearningOpportunity)
	return sb.String()
}

// ContentHash identifies the embedded content of the badge
func (b *Badge) ContentHash() string {
	sum := sha256.Sum256([]byte(b.EmbeddingText()))
	return hex.EncodeToString(sum[:])
}

// IndexMetadata flattens the badge into scalar metadata stored next to its vector.
// Extra keys of b.Metadata are kept unless they collide with a badge field.
func (b *Badge) IndexMetadata() Metadata {
	md := b.Metadata.Clone()
	if md == nil {
		md = Metadata{}
	}

	md[MetaTitle] = b.Title
	md[MetaDescription] = b.Description
	md[MetaIssuer] = b.Issuer
	md[MetaSkills] = strings.Join(b.Skills, ",")
	md[MetaPopularity] = b.Popularity
	md[MetaContentHash] = b.ContentHash()

	optional := map[string]string{
		MetaCriteria:            b.Criteria,
		MetaCompetency:          b.Competency,
		MetaAlignment:           b.Alignment,
		MetaEmploymentOutcome:   b.EmploymentOutcome,
		MetaLearningOpportunity: b.LearningOpportunity,
	}
	for k, v := range optional {
		if v != "" {
			md[k] = v
		}
	}
	if len(b.Related) > 0 {
		related := make([]string, len(b.Related))
		for i, id := range b.Related {
			related[i] = string(id)
		}
		md[MetaRelated] = strings.Join(related, ",")
	}
	if !b.IssuedAt.IsZero() {
		md[MetaIssuedAt] = b.IssuedAt.UTC().Format(time.RFC3339)
	}
	return md
}

var badgeFieldKeys = []string{
	MetaTitle, MetaDescription, MetaIssuer, MetaSkills, MetaCriteria, MetaCompetency,
	MetaAlignment, MetaEmploymentOutcome, MetaLearningOpportunity, MetaRelated,
	MetaIssuedAt, MetaPopularity, MetaContentHash,
}

// BadgeFromMatch rebuilds a badge from a vector index hit. The embedding is not restored.
func BadgeFromMatch(m *Match) *Badge {
	md := m.Metadata
	b := &Badge{
		ID:                  BadgeID(m.ID),
		Title:               md.String(MetaTitle),
		Description:         md.String(MetaDescription),
		Issuer:              md.String(MetaIssuer),
		Skills:              splitList(md.String(MetaSkills)),
		Criteria:            md.String(MetaCriteria),
		Competency:          md.String(MetaCompetency),
		Alignment:           md.String(MetaAlignment),
		EmploymentOutcome:   md.String(MetaEmploymentOutcome),
		LearningOpportunity: md.String(MetaLearningOpportunity),
	}
	for _, id := range splitList(md.String(MetaRelated)) {
		b.Related = append(b.Related, BadgeID(id))
	}
	if t, ok := md.Time(MetaIssuedAt); ok {
		b.IssuedAt = t
	}
	if p, ok := md.Float(MetaPopularity); ok {
		b.Popularity = int64(p)
	}

	extra := Metadata{}
	for k, v := range md {
		extra[k] = v
	}
	for _, k := range badgeFieldKeys {
		delete(extra, k)
	}
	if len(extra) > 0 {
		b.Metadata = extra
	}
	return b
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
