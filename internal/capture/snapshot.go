package capture

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dj-oyu/live-detect-client/internal/logger"
)

// SnapshotSource polls an IP camera's still image endpoint.
type SnapshotSource struct {
	http *resty.Client
	url  string
	dims
}

// NewSnapshotSource returns a source fetching url with the given timeout.
func NewSnapshotSource(url string, timeout time.Duration) *SnapshotSource {
	r := resty.New().
		SetLogger(logger.For("Snapshot")).
		SetTimeout(timeout).
		SetHeader("Accept", "image/jpeg, image/png, image/*")
	return &SnapshotSource{http: r, url: url}
}

func (s *SnapshotSource) Frame(ctx context.Context) (image.Image, error) {
	resp, err := s.http.R().SetContext(ctx).Get(s.url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: snapshot %s", ErrNotReady, resp.Status())
	}
	img, err := decode(resp.Body())
	if err != nil {
		return nil, err
	}
	if err := s.remember(img); err != nil {
		return nil, err
	}
	return img, nil
}
