package server

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/live-detect-client/internal/capture"
	"github.com/dj-oyu/live-detect-client/internal/config"
	"github.com/dj-oyu/live-detect-client/internal/detection"
	"github.com/dj-oyu/live-detect-client/internal/health"
	"github.com/dj-oyu/live-detect-client/internal/history"
	"github.com/dj-oyu/live-detect-client/internal/metrics"
	"github.com/dj-oyu/live-detect-client/internal/overlay"
	"github.com/dj-oyu/live-detect-client/internal/scheduler"
)

const detectBody = `{"detections":[{"label":"car","confidence":0.9,"box":[4,20,60,50],"plate":"N/A"}],"salesforce_status":null}`

type testEnv struct {
	t        *testing.T
	service  *httptest.Server
	detects  atomic.Int32
	store    *config.Store
	history  *history.Store
	health   *health.Monitor
	renderer *overlay.Renderer
	sched    *scheduler.Scheduler
	events   *DetectionBroadcaster
	server   *Server
	ts       *httptest.Server
	client   *http.Client
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{t: t}

	env.service = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/detect":
			env.detects.Add(1)
			_, _ = io.WriteString(w, detectBody)
		case "/health":
			_, _ = io.WriteString(w, `{"status":"ok","model_loaded":true}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(env.service.Close)

	framePath := filepath.Join(t.TempDir(), "frame.png")
	writeFrame(t, framePath, 80, 60)

	env.store = config.NewStore(env.service.URL)
	env.history = history.NewStore(history.DefaultUICapacity)
	env.health = health.NewMonitor(env.store, time.Second)
	env.renderer = overlay.NewRenderer()
	env.events = NewDetectionBroadcaster()
	m := metrics.New()
	source := capture.NewFileSource(framePath)

	env.sched = scheduler.New(scheduler.Options{
		Interval:   20 * time.Millisecond,
		Source:     source,
		Detector:   detection.NewClient(env.store, time.Second),
		Renderer:   env.renderer,
		History:    env.history,
		Health:     env.health,
		Metrics:    m,
		OnAccepted: env.events.Publish,
	})

	env.server = NewServer(Options{
		Scheduler:         env.sched,
		History:           env.history,
		Health:            env.health,
		Config:            env.store,
		Renderer:          env.renderer,
		Source:            source,
		Events:            env.events,
		Metrics:           m,
		FrameInterval:     20 * time.Millisecond,
		AnalyticsInterval: 20 * time.Millisecond,
	})
	env.ts = httptest.NewServer(env.server.Handler())
	t.Cleanup(env.ts.Close)
	t.Cleanup(func() {
		env.sched.Stop()
		env.sched.Wait()
		env.server.Close()
	})

	env.client = &http.Client{Timeout: 5 * time.Second}
	return env
}

func writeFrame(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+3] = 200, 255
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func (env *testEnv) do(method, path, body string, header http.Header) *http.Response {
	env.t.Helper()
	req, err := http.NewRequest(method, env.ts.URL+path, strings.NewReader(body))
	if err != nil {
		env.t.Fatalf("new request: %v", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := env.client.Do(req)
	if err != nil {
		env.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func (env *testEnv) doJSON(method, path, body string, wantStatus int) map[string]any {
	env.t.Helper()
	resp := env.do(method, path, body, nil)
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		data, _ := io.ReadAll(resp.Body)
		env.t.Fatalf("%s %s status = %d, want %d (%s)", method, path, resp.StatusCode, wantStatus, data)
	}
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		env.t.Fatalf("decode %s %s: %v", method, path, err)
	}
	return payload
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func readSSEData(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read SSE: %v", err)
		}
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			return strings.TrimSpace(data)
		}
	}
}

func sampleAccepted() scheduler.Accepted {
	return scheduler.Accepted{
		Token:      scheduler.Token{Session: uuid.New(), Seq: 7},
		CapturedAt: time.Now(),
		Latency:    42 * time.Millisecond,
		Width:      80,
		Height:     60,
		Detections: []detection.Detection{
			{Label: "person", Confidence: 0.75, Box: detection.Box{X1: 1, Y1: 2, X2: 3, Y2: 4}},
		},
	}
}

func TestCaptureLifecycle(t *testing.T) {
	env := newTestEnv(t)

	status := env.doJSON(http.MethodPost, "/api/capture/start", `{"persist":true}`, http.StatusOK)
	if status["active"] != true || status["persist"] != true {
		t.Fatalf("start status = %v", status)
	}

	eventually(t, "detections", func() bool {
		payload := env.doJSON(http.MethodGet, "/api/detections", "", http.StatusOK)
		list, _ := payload["detections"].([]any)
		return len(list) > 0
	})

	payload := env.doJSON(http.MethodGet, "/api/detections", "", http.StatusOK)
	first := payload["detections"].([]any)[0].(map[string]any)
	if first["label"] != "car" || first["plate"] != nil {
		t.Fatalf("entry = %v", first)
	}
	box := first["box"].([]any)
	if len(box) != 4 || box[2] != float64(60) {
		t.Fatalf("box = %v", box)
	}

	status = env.doJSON(http.MethodGet, "/api/status", "", http.StatusOK)
	if h := status["health"].(map[string]any); h["status"] != "online" {
		t.Fatalf("health = %v", h)
	}

	status = env.doJSON(http.MethodPost, "/api/capture/stop", "", http.StatusOK)
	if status["active"] != false {
		t.Fatalf("stop status = %v", status)
	}
	env.sched.Wait()
	for _, p := range env.renderer.Snapshot().Pix {
		if p != 0 {
			t.Fatal("overlay not cleared after stop")
		}
	}

	ui, _ := env.history.Sizes()
	time.Sleep(60 * time.Millisecond)
	if after, _ := env.history.Sizes(); after != ui {
		t.Fatalf("log grew after stop: %d -> %d", ui, after)
	}
}

func TestCaptureStartRejectsBadBody(t *testing.T) {
	env := newTestEnv(t)
	env.doJSON(http.MethodPost, "/api/capture/start", `{"persist":`, http.StatusBadRequest)
	if env.sched.Active() {
		t.Fatal("scheduler started on a bad request")
	}
}

func TestConfigPutNormalizesAndProbes(t *testing.T) {
	env := newTestEnv(t)

	host := strings.TrimPrefix(env.service.URL, "http://")
	payload := env.doJSON(http.MethodPut, "/api/config", `{"base_url":"`+host+`/"}`, http.StatusOK)
	if payload["base_url"] != env.service.URL {
		t.Fatalf("base_url = %v, want %s", payload["base_url"], env.service.URL)
	}
	h := payload["health"].(map[string]any)
	if h["status"] != "online" || h["model_loaded"] != true {
		t.Fatalf("health = %v", h)
	}

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	payload = env.doJSON(http.MethodPut, "/api/config", `{"base_url":"`+deadURL+`"}`, http.StatusOK)
	if h := payload["health"].(map[string]any); h["status"] != "offline" {
		t.Fatalf("health after unreachable address = %v", h)
	}

	env.doJSON(http.MethodPut, "/api/config", `not json`, http.StatusBadRequest)

	got := env.doJSON(http.MethodGet, "/api/config", "", http.StatusOK)
	if got["base_url"] != deadURL {
		t.Fatalf("config = %v", got)
	}
}

func TestHealthProbe(t *testing.T) {
	env := newTestEnv(t)
	snap := env.doJSON(http.MethodPost, "/api/health/probe", "", http.StatusOK)
	if snap["status"] != "online" {
		t.Fatalf("probe = %v", snap)
	}
}

func TestAnalyticsAndDismiss(t *testing.T) {
	env := newTestEnv(t)

	payload := env.doJSON(http.MethodGet, "/api/analytics", "", http.StatusOK)
	if v, ok := payload["summary"]; !ok || v != nil {
		t.Fatalf("empty analytics = %v", payload)
	}

	env.history.Record(uuid.New(), []detection.Detection{
		{Label: "car", Confidence: 0.9, Box: detection.Box{X2: 1, Y2: 1}},
		{Label: "bus", Confidence: 0.5, Box: detection.Box{X2: 1, Y2: 1}},
	}, time.Now())

	payload = env.doJSON(http.MethodGet, "/api/analytics", "", http.StatusOK)
	summary := payload["summary"].(map[string]any)
	if summary["total"] != float64(2) {
		t.Fatalf("summary = %v", summary)
	}
	if avg, _ := summary["avg_confidence"].(float64); math.Abs(avg-70) > 1e-6 {
		t.Fatalf("avg_confidence = %v, want 70", summary["avg_confidence"])
	}

	env.doJSON(http.MethodDelete, "/api/analytics", "", http.StatusOK)
	payload = env.doJSON(http.MethodGet, "/api/analytics", "", http.StatusOK)
	if payload["summary"] != nil {
		t.Fatalf("summary after dismiss = %v", payload["summary"])
	}
	if ui, _ := env.history.Sizes(); ui != 2 {
		t.Fatalf("dismiss touched the UI log: %d", ui)
	}
}

func TestDetectionsMessagePack(t *testing.T) {
	env := newTestEnv(t)
	env.history.Record(uuid.New(), []detection.Detection{
		{Label: "dog", Confidence: 0.6, Box: detection.Box{X2: 5, Y2: 5}},
	}, time.Now())

	resp := env.do(http.MethodGet, "/api/detections", "", http.Header{"Accept": {"application/msgpack"}})
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/msgpack" {
		t.Fatalf("Content-Type = %q", ct)
	}
	data, _ := io.ReadAll(resp.Body)

	var payload map[string]any
	if err := msgpack.Unmarshal(data, &payload); err != nil {
		t.Fatalf("decode msgpack: %v", err)
	}
	list, ok := payload["detections"].([]any)
	if !ok || len(list) != 1 {
		t.Fatalf("detections = %v", payload["detections"])
	}
	if entry := list[0].(map[string]any); entry["label"] != "dog" {
		t.Fatalf("entry = %v", entry)
	}
}

func TestDetectionsStreamJSON(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodGet, "/api/detections/stream", "", nil)
	defer resp.Body.Close()
	if resp.Header.Get("X-Content-Format") != "application/json" {
		t.Fatalf("format = %q", resp.Header.Get("X-Content-Format"))
	}
	eventually(t, "subscription", func() bool { return env.events.ClientCount() == 1 })

	env.events.Publish(sampleAccepted())

	var event map[string]any
	if err := json.Unmarshal([]byte(readSSEData(t, bufio.NewReader(resp.Body))), &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event["seq"] != float64(7) || event["latency_ms"] != float64(42) {
		t.Fatalf("event = %v", event)
	}
	dets := event["detections"].([]any)
	if dets[0].(map[string]any)["label"] != "person" {
		t.Fatalf("detections = %v", dets)
	}
}

func TestDetectionsStreamProtobuf(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodGet, "/api/detections/stream", "", http.Header{"Accept": {"application/x-protobuf"}})
	defer resp.Body.Close()
	if resp.Header.Get("X-Content-Format") != "application/protobuf" {
		t.Fatalf("format = %q", resp.Header.Get("X-Content-Format"))
	}
	eventually(t, "subscription", func() bool { return env.events.ClientCount() == 1 })

	env.events.Publish(sampleAccepted())

	raw, err := base64.StdEncoding.DecodeString(readSSEData(t, bufio.NewReader(resp.Body)))
	if err != nil {
		t.Fatalf("base64: %v", err)
	}
	var event structpb.Struct
	if err := proto.Unmarshal(raw, &event); err != nil {
		t.Fatalf("protobuf: %v", err)
	}
	fields := event.AsMap()
	if fields["width"] != float64(80) || fields["height"] != float64(60) {
		t.Fatalf("event = %v", fields)
	}
}

func TestDetectionsWebSocket(t *testing.T) {
	env := newTestEnv(t)

	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/api/detections/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	eventually(t, "subscription", func() bool { return env.events.ClientCount() == 1 })

	env.events.Publish(sampleAccepted())

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if kind != websocket.TextMessage {
		t.Fatalf("message type = %d", kind)
	}
	var event map[string]any
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event["seq"] != float64(7) {
		t.Fatalf("event = %v", event)
	}
}

func TestAnalyticsStream(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodGet, "/api/analytics/stream", "", nil)
	defer resp.Body.Close()
	reader := bufio.NewReader(resp.Body)

	if data := readSSEData(t, reader); data != `{"summary":null}` {
		t.Fatalf("first event = %s", data)
	}

	env.history.Record(uuid.New(), []detection.Detection{
		{Label: "car", Confidence: 0.8, Box: detection.Box{X2: 1, Y2: 1}},
	}, time.Now())

	var payload struct {
		Summary *struct {
			Total int `json:"total"`
		} `json:"summary"`
	}
	if err := json.Unmarshal([]byte(readSSEData(t, reader)), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Summary == nil || payload.Summary.Total != 1 {
		t.Fatalf("summary after record = %+v", payload.Summary)
	}
}

func TestMJPEGStream(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodGet, "/stream", "", nil)
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Fatalf("Content-Type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.TrimSpace(line) != "--frame" {
		t.Fatalf("first line = %q", line)
	}
}

func TestCloseEndsOpenStreams(t *testing.T) {
	env := newTestEnv(t)

	analyticsResp := env.do(http.MethodGet, "/api/analytics/stream", "", nil)
	defer analyticsResp.Body.Close()
	analyticsReader := bufio.NewReader(analyticsResp.Body)
	readSSEData(t, analyticsReader)

	mjpegResp := env.do(http.MethodGet, "/stream", "", nil)
	defer mjpegResp.Body.Close()
	mjpegReader := bufio.NewReader(mjpegResp.Body)
	if _, err := mjpegReader.ReadString('\n'); err != nil {
		t.Fatalf("read mjpeg: %v", err)
	}

	env.server.Close()

	ended := make(chan string, 2)
	for name, r := range map[string]io.Reader{"analytics": analyticsReader, "mjpeg": mjpegReader} {
		go func() {
			_, _ = io.Copy(io.Discard, r)
			ended <- name
		}()
	}
	for i := 0; i < 2; i++ {
		select {
		case <-ended:
		case <-time.After(2 * time.Second):
			t.Fatal("stream still open after Close")
		}
	}
	if n := env.server.frames.ClientCount(); n != 0 {
		t.Fatalf("frame clients after Close = %d", n)
	}
}

func TestFrameBroadcasterStopClosesClients(t *testing.T) {
	m := metrics.New()
	fb := NewFrameBroadcaster(nil, nil, m, time.Hour)
	_, ch := fb.Subscribe()
	if got := m.ActiveClients.Load(); got != 1 {
		t.Fatalf("active clients = %d", got)
	}

	fb.Stop()
	if _, ok := <-ch; ok {
		t.Fatal("client channel still open after Stop")
	}
	if got := m.ActiveClients.Load(); got != 0 {
		t.Fatalf("active clients after Stop = %d", got)
	}

	// Unsubscribe after Stop must not close the channel twice.
	fb.Unsubscribe(0)
	fb.Stop()

	_, late := fb.Subscribe()
	if _, ok := <-late; ok {
		t.Fatal("subscribe after Stop should return a closed channel")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.history.Record(uuid.New(), []detection.Detection{
		{Label: "car", Confidence: 0.8, Box: detection.Box{X2: 1, Y2: 1}},
	}, time.Now())

	resp := env.do(http.MethodGet, "/metrics", "", nil)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{"detect_ticks_total", `detect_session_detections{label="car"} 1`} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics missing %q", want)
		}
	}
}

func TestDetectionBroadcasterDropsForSlowClients(t *testing.T) {
	db := NewDetectionBroadcaster()
	_, ch := db.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			db.Publish(sampleAccepted())
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow client")
	}
	if n := len(ch); n != cap(ch) {
		t.Fatalf("buffered events = %d, want %d", n, cap(ch))
	}

	db.Stop()
	_, late := db.Subscribe()
	if _, ok := <-late; ok {
		t.Fatal("subscribe after Stop should return a closed channel")
	}
}

func TestBlankJPEG(t *testing.T) {
	data, err := blankJPEG()
	if err != nil {
		t.Fatalf("blankJPEG: %v", err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 640 || b.Dy() != 480 {
		t.Fatalf("bounds = %v", b)
	}
	r, g, b, _ := img.At(10, 10).RGBA()
	if c := (color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8)}); c.R < 200 || c.G < 200 || c.B < 200 {
		t.Fatalf("first bar should be white, got %v", c)
	}
}

func TestIndexPage(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodGet, "/", "", nil)
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("Content-Type = %q", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{`src="/stream"`, "/api/capture/start", "/api/analytics/stream"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("index missing %q", want)
		}
	}
}
