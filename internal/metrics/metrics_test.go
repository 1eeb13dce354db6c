package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerExposesGauges(t *testing.T) {
	m := New()
	m.TicksFired.Add(3)
	m.TicksSkipped.Add(1)
	m.UpdateExchangeLatency(1500 * time.Millisecond)
	m.UpdateLogSizes(50, 120)
	m.SetCaptureActive(true)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	text := string(body)

	for _, want := range []string{
		"detect_ticks_total 3",
		"detect_ticks_skipped_total 1",
		"detect_exchange_latency_ms 1500",
		"detect_ui_log_size 50",
		"detect_session_log_size 120",
		"detect_capture_active 1",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestLabelCollector(t *testing.T) {
	m := New()
	counts := map[string]int{"car": 4, "person": 2}
	if err := m.Register(&LabelCollector{Counts: func() map[string]int { return counts }}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	text := rec.Body.String()

	for _, want := range []string{
		`detect_session_detections{label="car"} 4`,
		`detect_session_detections{label="person"} 2`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
