package source

import (
	"context"
	"errors"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/badgewise/pkg/domain/interfaces"
	"google.golang.org/api/iterator"
)

// GCS reads records from the objects under a Cloud Storage prefix
type GCS struct {
	client *storage.Client
	bucket string
	prefix string
}

var _ interfaces.RecordSource = &GCS{}

// NewGCS creates a source using Application Default Credentials
func NewGCS(ctx context.Context, bucket, prefix string) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client")
	}
	return &GCS{client: client, bucket: bucket, prefix: prefix}, nil
}

func (g *GCS) List(ctx context.Context) ([]string, error) {
	var names []string
	it := g.client.Bucket(g.bucket).Objects(ctx, &storage.Query{Prefix: g.prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list objects",
				goerr.V("bucket", g.bucket), goerr.V("prefix", g.prefix))
		}
		if strings.HasSuffix(attrs.Name, "/") {
			continue
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

func (g *GCS) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	r, err := g.client.Bucket(g.bucket).Object(name).NewReader(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open object",
			goerr.V("bucket", g.bucket), goerr.V("name", name))
	}
	return r, nil
}

// Close releases the storage client
func (g *GCS) Close() error {
	return g.client.Close()
}

func (g *GCS) String() string {
	return "gs://" + g.bucket + "/" + g.prefix
}
