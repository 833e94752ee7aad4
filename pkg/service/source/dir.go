package source

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/badgewise/pkg/domain/interfaces"
)

// Dir reads records from the regular files of a local directory
type Dir struct {
	root string
}

var _ interfaces.RecordSource = &Dir{}

func NewDir(root string) (*Dir, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to stat record directory", goerr.V("path", root))
	}
	if !info.IsDir() {
		return nil, goerr.New("record source is not a directory", goerr.V("path", root))
	}
	return &Dir{root: root}, nil
}

func (d *Dir) List(ctx context.Context) ([]string, error) {
	var names []string
	err := filepath.WalkDir(d.root, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.Type().IsRegular() {
			rel, err := filepath.Rel(d.root, path)
			if err != nil {
				return err
			}
			names = append(names, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list record directory", goerr.V("path", d.root))
	}
	return names, nil
}

func (d *Dir) Open(_ context.Context, name string) (io.ReadCloser, error) {
	// #nosec G304 - name comes from List
	f, err := os.Open(filepath.Join(d.root, filepath.FromSlash(name)))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open record file", goerr.V("name", name))
	}
	return f, nil
}

func (d *Dir) String() string {
	return d.root
}
