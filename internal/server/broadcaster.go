package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/live-detect-client/internal/capture"
	"github.com/dj-oyu/live-detect-client/internal/detection"
	"github.com/dj-oyu/live-detect-client/internal/logger"
	"github.com/dj-oyu/live-detect-client/internal/metrics"
	"github.com/dj-oyu/live-detect-client/internal/overlay"
	"github.com/dj-oyu/live-detect-client/internal/scheduler"
)

const mjpegQuality = 75

// FrameBroadcaster composites the overlay onto source frames and fans the
// JPEGs out to MJPEG clients.
type FrameBroadcaster struct {
	mu       sync.Mutex
	clients  map[int]chan []byte
	nextID   int
	source   capture.Source
	renderer *overlay.Renderer
	metrics  *metrics.Metrics
	interval time.Duration
	stop     chan struct{}
	stopped  bool
}

// NewFrameBroadcaster creates a broadcaster producing one frame per interval
// while clients are connected.
func NewFrameBroadcaster(source capture.Source, renderer *overlay.Renderer, m *metrics.Metrics, interval time.Duration) *FrameBroadcaster {
	return &FrameBroadcaster{
		clients:  make(map[int]chan []byte),
		source:   source,
		renderer: renderer,
		metrics:  m,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Subscribe adds a new client and returns a channel for receiving frames.
// After Stop the channel is returned closed.
func (fb *FrameBroadcaster) Subscribe() (int, <-chan []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	id := fb.nextID
	fb.nextID++
	ch := make(chan []byte, 2) // Buffer 2 frames to avoid blocking
	if fb.stopped {
		close(ch)
		return id, ch
	}
	fb.clients[id] = ch
	if fb.metrics != nil {
		fb.metrics.ActiveClients.Add(1)
		fb.metrics.TotalClients.Add(1)
	}

	logger.Debug("FrameBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(fb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (fb *FrameBroadcaster) Unsubscribe(id int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if ch, ok := fb.clients[id]; ok {
		close(ch)
		delete(fb.clients, id)
		if fb.metrics != nil {
			fb.metrics.ActiveClients.Add(^uint64(0))
		}
		logger.Debug("FrameBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(fb.clients))
	}
}

// Start begins the frame generation and broadcast loop.
func (fb *FrameBroadcaster) Start() {
	go fb.run()
}

// Stop halts the broadcaster and closes every client channel so MJPEG
// handlers return.
func (fb *FrameBroadcaster) Stop() {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if fb.stopped {
		return
	}
	fb.stopped = true
	close(fb.stop)
	for id, ch := range fb.clients {
		close(ch)
		delete(fb.clients, id)
		if fb.metrics != nil {
			fb.metrics.ActiveClients.Add(^uint64(0))
		}
	}
}

// ClientCount returns the number of subscribed MJPEG clients.
func (fb *FrameBroadcaster) ClientCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.clients)
}

func (fb *FrameBroadcaster) run() {
	ticker := time.NewTicker(fb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-fb.stop:
			return
		case <-ticker.C:
		}

		fb.mu.Lock()
		clientCount := len(fb.clients)
		fb.mu.Unlock()
		if clientCount == 0 {
			continue
		}

		jpegData := fb.generateOverlay()
		if jpegData == nil {
			continue
		}
		fb.broadcast(jpegData)
	}
}

func (fb *FrameBroadcaster) generateOverlay() []byte {
	ctx, cancel := context.WithTimeout(context.Background(), fb.interval*4)
	defer cancel()

	frame, err := fb.source.Frame(ctx)
	if err != nil {
		return nil
	}
	jpegData, err := capture.EncodeJPEG(fb.renderer.Composite(frame), mjpegQuality)
	if err != nil {
		logger.Error("FrameBroadcaster", "JPEG encode error: %v", err)
		return nil
	}
	return jpegData
}

func (fb *FrameBroadcaster) broadcast(data []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	for _, ch := range fb.clients {
		select {
		case ch <- data:
		default:
			// Client too slow, skip this frame for this client
		}
	}
}

// SerializedEvent holds pre-serialized data in both formats.
type SerializedEvent struct {
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // Pre-serialized google.protobuf.Struct, base64 encoded for SSE
}

// DetectionBroadcaster fans accepted results out to SSE and WebSocket
// clients. Each event is serialized once, in both formats.
type DetectionBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan *SerializedEvent
	nextID  int
	stopped bool
}

// NewDetectionBroadcaster creates a broadcaster for detection events.
func NewDetectionBroadcaster() *DetectionBroadcaster {
	return &DetectionBroadcaster{
		clients: make(map[int]chan *SerializedEvent),
	}
}

// Subscribe adds a new client and returns a channel for receiving detection
// events. After Stop the channel is returned closed.
func (db *DetectionBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	db.mu.Lock()
	defer db.mu.Unlock()

	id := db.nextID
	db.nextID++
	ch := make(chan *SerializedEvent, 8)
	if db.stopped {
		close(ch)
		return id, ch
	}
	db.clients[id] = ch

	logger.Debug("DetectionBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(db.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (db *DetectionBroadcaster) Unsubscribe(id int) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if ch, ok := db.clients[id]; ok {
		close(ch)
		delete(db.clients, id)
		logger.Debug("DetectionBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(db.clients))
	}
}

// ClientCount returns the number of subscribed clients.
func (db *DetectionBroadcaster) ClientCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.clients)
}

// Stop closes every client channel so streaming handlers return.
func (db *DetectionBroadcaster) Stop() {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.stopped {
		return
	}
	db.stopped = true
	for id, ch := range db.clients {
		close(ch)
		delete(db.clients, id)
	}
}

// Publish serializes an accepted result and broadcasts it. It never blocks
// on slow clients.
func (db *DetectionBroadcaster) Publish(a scheduler.Accepted) {
	event, err := serializeEvent(eventFields(a))
	if err != nil {
		logger.Error("DetectionBroadcaster", "Serialize error: %v", err)
		return
	}
	db.broadcast(event)
}

func (db *DetectionBroadcaster) broadcast(event *SerializedEvent) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for id, ch := range db.clients {
		select {
		case ch <- event:
		default:
			logger.Debug("DetectionBroadcaster", "Client #%d too slow, event dropped", id)
		}
	}
}

// eventFields converts an accepted result into structpb-compatible values.
func eventFields(a scheduler.Accepted) map[string]any {
	return map[string]any{
		"session":     a.Token.Session.String(),
		"seq":         a.Token.Seq,
		"captured_at": float64(a.CapturedAt.UnixMilli()) / 1000,
		"latency_ms":  a.Latency.Milliseconds(),
		"width":       a.Width,
		"height":      a.Height,
		"detections":  convertDetections(a.Detections),
	}
}

func convertDetections(dets []detection.Detection) []any {
	result := make([]any, len(dets))
	for i, d := range dets {
		item := map[string]any{
			"label":      d.Label,
			"confidence": d.Confidence,
			"box":        []any{d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2},
		}
		if d.Plate != "" {
			item["plate"] = d.Plate
		}
		result[i] = item
	}
	return result
}

// serializeEvent encodes fields as JSON and as a base64 protobuf Struct.
func serializeEvent(fields map[string]any) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}

	pbEvent, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	pbData, err := proto.Marshal(pbEvent)
	if err != nil {
		return nil, err
	}

	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}
