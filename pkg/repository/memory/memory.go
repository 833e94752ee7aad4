package memory

import (
	"github.com/secmon-lab/badgewise/pkg/domain/interfaces"
)

// Repository is an alias for Memory to match the pattern
type Repository = Memory

// Memory is an in-process repository for development and tests
type Memory struct {
	profile *profileRepository
}

var _ interfaces.Repository = &Memory{}

func New() *Memory {
	return &Memory{
		profile: newProfileRepository(),
	}
}

func (m *Memory) Profile() interfaces.ProfileRepository {
	return m.profile
}

// Close is a no-op for the in-memory repository
func (m *Memory) Close() error {
	return nil
}
