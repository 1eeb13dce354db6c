package detection

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"os"
	"testing"
	"time"
)

// These run against a real detection service. Set DETECT_LIVE_URL to enable.

func liveBaseURL(t *testing.T) string {
	t.Helper()
	baseURL := os.Getenv("DETECT_LIVE_URL")
	if baseURL == "" {
		t.Skip("set DETECT_LIVE_URL to run against a live detection service")
	}
	client := &http.Client{Timeout: DefaultTimeout}
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		t.Skipf("detection service not reachable at %s: %v", baseURL, err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		t.Skipf("detection service unhealthy at %s: %d", baseURL, resp.StatusCode)
	}
	return baseURL
}

func grayFrameDataURL(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 320, 240))
	for y := 0; y < 240; y++ {
		for x := 0; x < 320; x++ {
			img.Set(x, y, color.RGBA{R: 128, G: 128, B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestLiveDetectExchange(t *testing.T) {
	baseURL := liveBaseURL(t)
	c := NewClient(staticAddr(baseURL), DefaultTimeout)

	res := c.Detect(context.Background(), Request{Image: grayFrameDataURL(t)})
	if !res.OK() {
		t.Fatalf("live exchange failed: %v", res.Err)
	}
	for i, d := range res.Detections {
		if d.Label == "" || d.Confidence < 0 || d.Confidence > 1 {
			t.Fatalf("detections[%d] invalid: %+v", i, d)
		}
	}
	if res.Latency > 2*time.Second {
		t.Fatalf("latency %v exceeds deadline", res.Latency)
	}
}

func TestLiveDetectRejectsMissingImage(t *testing.T) {
	baseURL := liveBaseURL(t)
	c := NewClient(staticAddr(baseURL), DefaultTimeout)

	res := c.Detect(context.Background(), Request{Image: "not-a-data-url"})
	if res.OK() {
		t.Fatalf("expected failure for invalid image, got %d detections", len(res.Detections))
	}
}
