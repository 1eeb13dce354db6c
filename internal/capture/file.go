package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
)

// FileSource re-reads an image file on every call. A camera daemon is
// expected to replace the file atomically.
type FileSource struct {
	path string
	dims
}

// NewFileSource returns a source reading path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Path returns the watched file.
func (s *FileSource) Path() string { return s.path }

func (s *FileSource) Frame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s missing", ErrNotReady, s.path)
	}
	if err != nil {
		return nil, err
	}
	img, err := decode(data)
	if err != nil {
		return nil, err
	}
	if err := s.remember(img); err != nil {
		return nil, err
	}
	return img, nil
}
