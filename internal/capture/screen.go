package capture

import (
	"context"
	"fmt"
	"image"

	"github.com/vova616/screenshot"
)

// ScreenSource grabs the screen, or a region of it, on every call.
type ScreenSource struct {
	region image.Rectangle
	dims
}

// NewScreenSource captures region, or the whole screen when region is empty.
func NewScreenSource(region image.Rectangle) *ScreenSource {
	return &ScreenSource{region: region}
}

func (s *ScreenSource) Frame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		img *image.RGBA
		err error
	)
	if s.region.Empty() {
		img, err = screenshot.CaptureScreen()
	} else {
		img, err = screenshot.CaptureRect(s.region)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	if err := s.remember(img); err != nil {
		return nil, err
	}
	return img, nil
}
