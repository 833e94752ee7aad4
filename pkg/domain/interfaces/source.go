package interfaces

import (
	"context"
	"io"
)

// RecordSource is a location holding badge and user record files
type RecordSource interface {
	// List returns the names of all objects under the source
	List(ctx context.Context) ([]string, error)

	// Open opens the named object for reading
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// String describes the source for logs
	String() string
}
