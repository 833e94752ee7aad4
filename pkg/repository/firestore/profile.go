package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/badgewise/pkg/domain/model"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type profileDoc struct {
	ID                string             `firestore:"ID"`
	Name              string             `firestore:"Name"`
	Goal              string             `firestore:"Goal"`
	Interests         string             `firestore:"Interests"`
	Skills            []string           `firestore:"Skills"`
	CompetencyLevel   string             `firestore:"CompetencyLevel"`
	LearningHistory   string             `firestore:"LearningHistory"`
	EmploymentHistory string             `firestore:"EmploymentHistory"`
	EducationLevel    string             `firestore:"EducationLevel"`
	BadgeHistory      []string           `firestore:"BadgeHistory"`
	Embedding         firestore.Vector32 `firestore:"Embedding,omitempty"`
	EmbeddingHash     string             `firestore:"EmbeddingHash"`
	UpdatedAt         time.Time          `firestore:"UpdatedAt"`
}

func toProfileDoc(p *model.UserProfile) *profileDoc {
	doc := &profileDoc{
		ID:                string(p.ID),
		Name:              p.Name,
		Goal:              p.Goal,
		Interests:         p.Interests,
		Skills:            p.Skills,
		CompetencyLevel:   p.CompetencyLevel,
		LearningHistory:   p.LearningHistory,
		EmploymentHistory: p.EmploymentHistory,
		EducationLevel:    p.EducationLevel,
		EmbeddingHash:     p.EmbeddingHash,
		UpdatedAt:         p.UpdatedAt,
	}
	for _, id := range p.BadgeHistory {
		doc.BadgeHistory = append(doc.BadgeHistory, string(id))
	}
	if len(p.Embedding) > 0 {
		doc.Embedding = firestore.Vector32(p.Embedding)
	}
	return doc
}

func fromProfileDoc(d *profileDoc) *model.UserProfile {
	p := &model.UserProfile{
		ID:                model.UserID(d.ID),
		Name:              d.Name,
		Goal:              d.Goal,
		Interests:         d.Interests,
		Skills:            d.Skills,
		CompetencyLevel:   d.CompetencyLevel,
		LearningHistory:   d.LearningHistory,
		EmploymentHistory: d.EmploymentHistory,
		EducationLevel:    d.EducationLevel,
		EmbeddingHash:     d.EmbeddingHash,
		UpdatedAt:         d.UpdatedAt,
	}
	for _, id := range d.BadgeHistory {
		p.BadgeHistory = append(p.BadgeHistory, model.BadgeID(id))
	}
	if len(d.Embedding) > 0 {
		p.Embedding = []float32(d.Embedding)
	}
	return p
}

type profileRepository struct {
	client     *firestore.Client
	collection string
}

func newProfileRepository(client *firestore.Client, collection string) *profileRepository {
	return &profileRepository{
		client:     client,
		collection: collection,
	}
}

func (r *profileRepository) Get(ctx context.Context, id model.UserID) (*model.UserProfile, error) {
	doc, err := r.client.Collection(r.collection).Doc(string(id)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(model.ErrNotFound, "profile not found", goerr.V(model.UserIDKey, id))
		}
		return nil, goerr.Wrap(err, "failed to get profile", goerr.V(model.UserIDKey, id))
	}

	var d profileDoc
	if err := doc.DataTo(&d); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal profile", goerr.V(model.UserIDKey, id))
	}
	return fromProfileDoc(&d), nil
}

func (r *profileRepository) Put(ctx context.Context, profile *model.UserProfile) error {
	if profile.ID == "" {
		return goerr.Wrap(model.ErrInvalidInput, "user ID is required")
	}

	doc := toProfileDoc(profile)
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now().UTC()
	}

	if _, err := r.client.Collection(r.collection).Doc(doc.ID).Set(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to put profile", goerr.V(model.UserIDKey, profile.ID))
	}
	return nil
}

func (r *profileRepository) Delete(ctx context.Context, id model.UserID) error {
	if _, err := r.client.Collection(r.collection).Doc(string(id)).Delete(ctx); err != nil {
		return goerr.Wrap(err, "failed to delete profile", goerr.V(model.UserIDKey, id))
	}
	return nil
}
