package overlay

import (
	"image"
	"image/color"
	"sync"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/dj-oyu/live-detect-client/internal/detection"
)

const (
	strokeWidth  = 4
	labelPadX    = 5
	labelPadY    = 4
	labelPadding = 2 * labelPadX
)

var (
	boxColor   = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	labelColor = color.RGBA{R: 0, G: 0, B: 0, A: 255}
)

// Renderer paints the latest accepted detections onto a transparent
// surface sized to the source's native resolution. It keeps no state
// besides the surface.
type Renderer struct {
	mu      sync.Mutex
	surface *image.RGBA
	face    font.Face
}

// NewRenderer returns a renderer with no surface yet.
func NewRenderer() *Renderer {
	return &Renderer{face: basicfont.Face7x13}
}

// Render clears the surface and draws dets. A zero width or height means
// the source is not ready and nothing is touched. It reports whether a
// draw happened.
func (r *Renderer) Render(width, height int, dets []detection.Detection) bool {
	if width <= 0 || height <= 0 {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	bounds := image.Rect(0, 0, width, height)
	if r.surface == nil || r.surface.Bounds() != bounds {
		r.surface = image.NewRGBA(bounds)
	} else {
		clearRGBA(r.surface)
	}

	for _, d := range dets {
		r.drawBox(d.Box)
		r.drawLabel(d.Box, d.Caption())
	}
	return true
}

// Clear wipes the surface, keeping its size.
func (r *Renderer) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.surface != nil {
		clearRGBA(r.surface)
	}
}

// Size returns the current surface dimensions (0,0 before the first draw).
func (r *Renderer) Size() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.surface == nil {
		return 0, 0
	}
	b := r.surface.Bounds()
	return b.Dx(), b.Dy()
}

// Snapshot returns a copy of the surface, or nil before the first draw.
func (r *Renderer) Snapshot() *image.RGBA {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.surface == nil {
		return nil
	}
	out := image.NewRGBA(r.surface.Bounds())
	copy(out.Pix, r.surface.Pix)
	return out
}

// Composite draws the overlay over frame. When the frame is display-scaled
// relative to the surface the overlay is scaled to match.
func (r *Renderer) Composite(frame image.Image) *image.RGBA {
	fb := frame.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, fb.Dx(), fb.Dy()))
	xdraw.Draw(out, out.Bounds(), frame, fb.Min, xdraw.Src)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.surface == nil {
		return out
	}
	if r.surface.Bounds() == out.Bounds() {
		xdraw.Draw(out, out.Bounds(), r.surface, image.Point{}, xdraw.Over)
	} else {
		xdraw.BiLinear.Scale(out, out.Bounds(), r.surface, r.surface.Bounds(), xdraw.Over, nil)
	}
	return out
}

func (r *Renderer) drawBox(b detection.Box) {
	half := strokeWidth / 2
	src := image.NewUniform(boxColor)
	edges := []image.Rectangle{
		image.Rect(b.X1-half, b.Y1-half, b.X2+half, b.Y1+half), // top
		image.Rect(b.X1-half, b.Y2-half, b.X2+half, b.Y2+half), // bottom
		image.Rect(b.X1-half, b.Y1-half, b.X1+half, b.Y2+half), // left
		image.Rect(b.X2-half, b.Y1-half, b.X2+half, b.Y2+half), // right
	}
	for _, e := range edges {
		xdraw.Draw(r.surface, e, src, image.Point{}, xdraw.Src)
	}
}

// drawLabel places the caption on a filled background that ends at the
// box's top edge and is as wide as the measured text plus padding.
func (r *Renderer) drawLabel(b detection.Box, text string) {
	d := &font.Drawer{
		Dst:  r.surface,
		Src:  image.NewUniform(labelColor),
		Face: r.face,
	}
	bg := r.labelRect(b, text)
	xdraw.Draw(r.surface, bg, image.NewUniform(boxColor), image.Point{}, xdraw.Src)

	baseline := b.Y1 - labelPadY - r.face.Metrics().Descent.Ceil()
	d.Dot = fixed.P(b.X1+labelPadX, baseline)
	d.DrawString(text)
}

// LabelRect returns where the label background for det is drawn.
func (r *Renderer) LabelRect(det detection.Detection) image.Rectangle {
	return r.labelRect(det.Box, det.Caption())
}

func (r *Renderer) labelRect(b detection.Box, text string) image.Rectangle {
	textWidth := font.MeasureString(r.face, text).Ceil()
	height := r.face.Metrics().Height.Ceil() + 2*labelPadY
	return image.Rect(b.X1, b.Y1-height, b.X1+textWidth+labelPadding, b.Y1)
}

func clearRGBA(img *image.RGBA) {
	clear(img.Pix)
}
