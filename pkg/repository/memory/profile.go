package memory

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/badgewise/pkg/domain/model"
)

type profileRepository struct {
	mu       sync.RWMutex
	profiles map[model.UserID]*model.UserProfile
}

func newProfileRepository() *profileRepository {
	return &profileRepository{
		profiles: make(map[model.UserID]*model.UserProfile),
	}
}

func (r *profileRepository) Get(ctx context.Context, id model.UserID) (*model.UserProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profile, exists := r.profiles[id]
	if !exists {
		return nil, goerr.Wrap(model.ErrNotFound, "profile not found", goerr.V(model.UserIDKey, id))
	}

	return profile.Copy(), nil
}

func (r *profileRepository) Put(ctx context.Context, profile *model.UserProfile) error {
	if profile.ID == "" {
		return goerr.Wrap(model.ErrInvalidInput, "user ID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored := profile.Copy()
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = time.Now().UTC()
	}
	r.profiles[stored.ID] = stored
	return nil
}

func (r *profileRepository) Delete(ctx context.Context, id model.UserID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.profiles, id)
	return nil
}
