package source

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/badgewise/pkg/domain/interfaces"
)

// Open returns the record source for uri. gs://bucket/prefix selects Cloud Storage,
// anything else is a local directory.
func Open(ctx context.Context, uri string) (interfaces.RecordSource, error) {
	if uri == "" {
		return nil, goerr.New("record source is required")
	}
	if rest, ok := strings.CutPrefix(uri, "gs://"); ok {
		bucket, prefix, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return nil, goerr.New("bucket name is required", goerr.V("uri", uri))
		}
		return NewGCS(ctx, bucket, prefix)
	}
	return NewDir(uri)
}
