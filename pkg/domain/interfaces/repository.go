package interfaces

import (
	"context"

	"github.com/secmon-lab/badgewise/pkg/domain/model"
)

// ProfileRepository stores learner profiles
type ProfileRepository interface {
	// Get retrieves a profile by ID. Returns model.ErrNotFound when absent.
	Get(ctx context.Context, id model.UserID) (*model.UserProfile, error)

	// Put creates or replaces a profile
	Put(ctx context.Context, profile *model.UserProfile) error

	// Delete removes a profile. No-op if absent.
	Delete(ctx context.Context, id model.UserID) error
}

// Repository defines the persistence backends of the service
type Repository interface {
	Profile() ProfileRepository
	Close() error
}
