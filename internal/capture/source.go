// Package capture provides the frames the scheduler samples: a file written
// by a camera daemon, an IP camera snapshot URL or a screen region.
package capture

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"sync"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// DefaultJPEGQuality is used when encoding frames for the detection service.
const DefaultJPEGQuality = 85

// ErrNotReady means the source has no frame yet (camera not started,
// file not written, zero-sized image).
var ErrNotReady = errors.New("capture source not ready")

// Source yields the current camera frame.
type Source interface {
	// Frame returns the latest frame or an error wrapping ErrNotReady.
	Frame(ctx context.Context) (image.Image, error)
	// Dimensions returns the native resolution of the last frame, or
	// (0, 0) before the first one.
	Dimensions() (int, int)
}

// dims caches the native resolution of the last decoded frame.
type dims struct {
	mu            sync.RWMutex
	width, height int
}

func (d *dims) Dimensions() (int, int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.width, d.height
}

func (d *dims) remember(img image.Image) error {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return fmt.Errorf("%w: empty frame", ErrNotReady)
	}
	d.mu.Lock()
	d.width, d.height = b.Dx(), b.Dy()
	d.mu.Unlock()
	return nil
}

func decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: no data", ErrNotReady)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return img, nil
}

// EncodeJPEG encodes img at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeDataURL returns img as a data:image/jpeg;base64 URL.
func EncodeDataURL(img image.Image) (string, error) {
	data, err := EncodeJPEG(img, DefaultJPEGQuality)
	if err != nil {
		return "", err
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data), nil
}
