package firestore

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/badgewise/pkg/domain/interfaces"
)

// Default collection names
const (
	BadgeCollection   = "badges"
	ProfileCollection = "profiles"
)

type Firestore struct {
	client           *firestore.Client
	collectionPrefix string
	profile          *profileRepository
}

var _ interfaces.Repository = &Firestore{}

type Option func(*Firestore)

// WithCollectionPrefix prefixes every collection name, e.g. for isolated test runs
func WithCollectionPrefix(prefix string) Option {
	return func(f *Firestore) {
		f.collectionPrefix = prefix
	}
}

// New connects to Firestore. An empty databaseID selects the default database.
func New(ctx context.Context, projectID, databaseID string, opts ...Option) (*Firestore, error) {
	if databaseID == "" {
		databaseID = firestore.DefaultDatabaseID
	}

	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("projectID", projectID),
			goerr.V("databaseID", databaseID))
	}

	f := &Firestore{
		client: client,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.profile = newProfileRepository(client, f.collectionName(ProfileCollection))

	return f, nil
}

func (f *Firestore) collectionName(name string) string {
	return CollectionName(f.collectionPrefix, name)
}

// CollectionName returns the collection name used for name under prefix
func CollectionName(prefix, name string) string {
	if prefix != "" {
		return prefix + "_" + name
	}
	return name
}

func (f *Firestore) Profile() interfaces.ProfileRepository {
	return f.profile
}

// BadgeIndex returns the badge vector index sharing this client
func (f *Firestore) BadgeIndex(dimension int, opts ...IndexOption) *Index {
	return NewIndex(f.client, f.collectionName(BadgeCollection), dimension, opts...)
}

func (f *Firestore) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}
