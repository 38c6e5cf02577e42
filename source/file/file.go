// Package file fetches frames from a local directory, one file per frame.
package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/IvanBrykalov/volcache/source"
	"github.com/IvanBrykalov/volcache/volume"
)

// Options configures a Fetcher.
type Options struct {
	// Dir is the root directory; frame ids are paths relative to it.
	Dir string
	// Ext is appended to every frame id, e.g. ".raw".
	Ext    string
	Logger logrus.FieldLogger
}

// Fetcher reads <Dir>/<frameID><Ext>.
type Fetcher struct {
	dir string
	ext string
	log logrus.FieldLogger
}

// New returns a Fetcher rooted at opt.Dir, which must exist.
func New(opt Options) (*Fetcher, error) {
	st, err := os.Stat(opt.Dir)
	if err != nil {
		return nil, fmt.Errorf("file source: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("file source: %s is not a directory", opt.Dir)
	}
	if opt.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		opt.Logger = l
	}
	return &Fetcher{
		dir: opt.Dir,
		ext: opt.Ext,
		log: opt.Logger.WithField("component", "file_source"),
	}, nil
}

// Fetch reads the frame file. Ids escaping Dir are rejected.
func (f *Fetcher) Fetch(ctx context.Context, frameID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := f.path(frameID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", source.ErrNotFound, frameID)
	}
	if err != nil {
		return nil, err
	}
	f.log.WithField("frame_id", frameID).WithField("bytes", len(data)).Debug("read frame")
	return data, nil
}

func (f *Fetcher) path(frameID string) (string, error) {
	if frameID == "" || filepath.IsAbs(frameID) {
		return "", fmt.Errorf("%w: %q", source.ErrInvalidID, frameID)
	}
	rel := filepath.Clean(filepath.FromSlash(frameID + f.ext))
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", source.ErrInvalidID, frameID)
	}
	return filepath.Join(f.dir, rel), nil
}

var _ volume.Fetcher = (*Fetcher)(nil)
