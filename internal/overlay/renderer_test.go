package overlay

import (
	"image"
	"image/color"
	"testing"

	"github.com/dj-oyu/live-detect-client/internal/detection"
)

func isTransparent(img *image.RGBA) bool {
	for _, p := range img.Pix {
		if p != 0 {
			return false
		}
	}
	return true
}

func car() detection.Detection {
	return detection.Detection{
		Label:      "car",
		Confidence: 0.875,
		Box:        detection.Box{X1: 40, Y1: 60, X2: 140, Y2: 160},
	}
}

func TestRenderZeroDetectionsClears(t *testing.T) {
	r := NewRenderer()
	r.Render(320, 240, []detection.Detection{car()})
	if isTransparent(r.Snapshot()) {
		t.Fatal("expected something drawn")
	}

	if !r.Render(320, 240, nil) {
		t.Fatal("Render should draw on a ready source")
	}
	if !isTransparent(r.Snapshot()) {
		t.Fatal("zero detections must leave an empty surface")
	}
}

func TestRenderSkipsWhenSourceNotReady(t *testing.T) {
	r := NewRenderer()
	r.Render(320, 240, []detection.Detection{car()})
	before := r.Snapshot()

	if r.Render(0, 240, nil) || r.Render(320, 0, nil) {
		t.Fatal("Render must skip zero dimensions")
	}
	after := r.Snapshot()
	if w, h := r.Size(); w != 320 || h != 240 {
		t.Fatalf("size changed to %dx%d", w, h)
	}
	for i := range before.Pix {
		if before.Pix[i] != after.Pix[i] {
			t.Fatal("surface changed on a skipped draw")
		}
	}
}

func TestRenderTracksSourceResolution(t *testing.T) {
	r := NewRenderer()
	r.Render(640, 480, nil)
	if w, h := r.Size(); w != 640 || h != 480 {
		t.Fatalf("size = %dx%d", w, h)
	}
	// rotated device
	r.Render(480, 640, nil)
	if w, h := r.Size(); w != 480 || h != 640 {
		t.Fatalf("size after rotation = %dx%d", w, h)
	}
}

func TestRenderDrawsBoxAndLabel(t *testing.T) {
	r := NewRenderer()
	det := car()
	r.Render(320, 240, []detection.Detection{det})
	img := r.Snapshot()

	green := color.RGBA{G: 255, A: 255}
	if got := img.RGBAAt(det.Box.X1, det.Box.Y1+30); got != green {
		t.Fatalf("left edge pixel = %v", got)
	}
	if got := img.RGBAAt(det.Box.X2, det.Box.Y2-30); got != green {
		t.Fatalf("right edge pixel = %v", got)
	}
	if got := img.RGBAAt(90, 110); got.A != 0 {
		t.Fatalf("box interior should stay transparent, got %v", got)
	}

	label := r.LabelRect(det)
	if label.Max.Y != det.Box.Y1 || label.Min.X != det.Box.X1 {
		t.Fatalf("label rect = %v, want anchored above box top edge", label)
	}
	if label.Dx() <= 10 {
		t.Fatalf("label width %d ignores the measured text", label.Dx())
	}
	if got := img.RGBAAt(label.Min.X+1, label.Min.Y+1); got != green {
		t.Fatalf("label background pixel = %v", got)
	}

	var sawText bool
	for y := label.Min.Y; y < label.Max.Y; y++ {
		for x := label.Min.X; x < label.Max.X; x++ {
			if c := img.RGBAAt(x, y); c.G < 128 && c.A > 0 {
				sawText = true
			}
		}
	}
	if !sawText {
		t.Fatal("label text not drawn")
	}
}

func TestLabelWidthGrowsWithText(t *testing.T) {
	r := NewRenderer()
	short := detection.Detection{Label: "bus", Confidence: 0.5, Box: detection.Box{X1: 0, Y1: 50, X2: 10, Y2: 60}}
	long := short
	long.Label = "motorbike"
	if r.LabelRect(long).Dx() <= r.LabelRect(short).Dx() {
		t.Fatal("label background should follow measured text width")
	}
}

func TestClear(t *testing.T) {
	r := NewRenderer()
	r.Clear()
	if r.Snapshot() != nil {
		t.Fatal("no surface expected before first draw")
	}
	r.Render(100, 100, []detection.Detection{{Label: "dog", Confidence: 1, Box: detection.Box{X1: 10, Y1: 30, X2: 50, Y2: 80}}})
	r.Clear()
	if !isTransparent(r.Snapshot()) {
		t.Fatal("Clear left pixels behind")
	}
}

func TestComposite(t *testing.T) {
	red := color.RGBA{R: 255, A: 255}
	frame := image.NewRGBA(image.Rect(0, 0, 320, 240))
	for i := 0; i < len(frame.Pix); i += 4 {
		frame.Pix[i], frame.Pix[i+3] = 255, 255
	}

	r := NewRenderer()
	out := r.Composite(frame)
	if got := out.RGBAAt(5, 5); got != red {
		t.Fatalf("composite without overlay = %v", got)
	}

	det := car()
	r.Render(320, 240, []detection.Detection{det})
	out = r.Composite(frame)
	if got := out.RGBAAt(det.Box.X1, det.Box.Y1+30); got != (color.RGBA{G: 255, A: 255}) {
		t.Fatalf("box pixel = %v", got)
	}
	if got := out.RGBAAt(300, 220); got != red {
		t.Fatalf("background pixel = %v", got)
	}

	scaled := r.Composite(image.NewRGBA(image.Rect(0, 0, 640, 480)))
	if b := scaled.Bounds(); b.Dx() != 640 || b.Dy() != 480 {
		t.Fatalf("scaled composite bounds = %v", b)
	}
}
