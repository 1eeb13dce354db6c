package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dj-oyu/live-detect-client/internal/analytics"
	"github.com/dj-oyu/live-detect-client/internal/capture"
	"github.com/dj-oyu/live-detect-client/internal/config"
	"github.com/dj-oyu/live-detect-client/internal/health"
	"github.com/dj-oyu/live-detect-client/internal/history"
	"github.com/dj-oyu/live-detect-client/internal/logger"
	"github.com/dj-oyu/live-detect-client/internal/metrics"
	"github.com/dj-oyu/live-detect-client/internal/overlay"
	"github.com/dj-oyu/live-detect-client/internal/scheduler"
)

const (
	defaultFrameInterval     = 200 * time.Millisecond
	defaultAnalyticsInterval = time.Second
)

// Options wires the operator API to the pipeline.
type Options struct {
	Scheduler *scheduler.Scheduler
	History   *history.Store
	Health    *health.Monitor
	Config    *config.Store
	Renderer  *overlay.Renderer
	Source    capture.Source
	Events    *DetectionBroadcaster
	Metrics   *metrics.Metrics

	FrameInterval     time.Duration
	AnalyticsInterval time.Duration
}

// Server serves the operator control API and the live streams.
type Server struct {
	sched     *scheduler.Scheduler
	history   *history.Store
	health    *health.Monitor
	config    *config.Store
	metrics   *metrics.Metrics
	frames    *FrameBroadcaster
	events    *DetectionBroadcaster
	analytics time.Duration

	// done is closed by Close; long-lived handlers not fed by a
	// broadcaster select on it.
	done      chan struct{}
	closeOnce sync.Once
}

// NewServer returns a server with its frame broadcaster running.
func NewServer(opts Options) *Server {
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = defaultFrameInterval
	}
	if opts.AnalyticsInterval <= 0 {
		opts.AnalyticsInterval = defaultAnalyticsInterval
	}
	if opts.Events == nil {
		opts.Events = NewDetectionBroadcaster()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}

	frames := NewFrameBroadcaster(opts.Source, opts.Renderer, opts.Metrics, opts.FrameInterval)
	frames.Start()

	hist := opts.History
	if err := opts.Metrics.Register(&metrics.LabelCollector{Counts: func() map[string]int {
		if s := analytics.Summarize(hist.SessionLog()); s != nil {
			return s.PerLabel
		}
		return nil
	}}); err != nil {
		logger.Warn("Server", "Label collector not registered: %v", err)
	}

	return &Server{
		sched:     opts.Scheduler,
		history:   opts.History,
		health:    opts.Health,
		config:    opts.Config,
		metrics:   opts.Metrics,
		frames:    frames,
		events:    opts.Events,
		analytics: opts.AnalyticsInterval,
		done:      make(chan struct{}),
	}
}

// Close stops the broadcasters and ends every streaming handler, so an
// http.Server shutdown does not wait on open operator pages.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.frames.Stop()
		s.events.Stop()
	})
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/stream", s.handleStream)
	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)

		r.Post("/capture/start", s.handleCaptureStart)
		r.Post("/capture/stop", s.handleCaptureStop)

		r.Get("/detections", s.handleDetections)
		r.Get("/detections/stream", s.handleDetectionsStream)
		r.Get("/detections/ws", s.handleDetectionsWS)

		r.Get("/analytics", s.handleAnalytics)
		r.Get("/analytics/stream", s.handleAnalyticsStream)
		r.Delete("/analytics", s.handleAnalyticsDismiss)

		r.Get("/config", s.handleConfigGet)
		r.Put("/config", s.handleConfigPut)

		r.Post("/health/probe", s.handleHealthProbe)
	})

	return r
}

func (s *Server) statusPayload() map[string]any {
	ui, session := s.history.Sizes()
	return map[string]any{
		"active":           s.sched.Active(),
		"persist":          s.sched.Persist(),
		"session":          s.sched.Session().String(),
		"in_flight":        s.sched.InFlight(),
		"advisory":         s.sched.Advisory(),
		"health":           s.health.Snapshot(),
		"base_url":         s.config.BaseURL(),
		"ui_log_size":      ui,
		"session_log_size": session,
		"timestamp":        float64(time.Now().Unix()),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.statusPayload())
}

type startRequest struct {
	Persist bool `json:"persist"`
}

func (s *Server) handleCaptureStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid start request")
		return
	}

	if err := s.sched.Start(req.Persist); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, s.statusPayload())
}

func (s *Server) handleCaptureStop(w http.ResponseWriter, r *http.Request) {
	s.sched.Stop()
	writeJSON(w, s.statusPayload())
}

func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	writeNegotiated(w, r, map[string]any{
		"detections": s.history.UILog(),
	})
}

func (s *Server) handleDetectionsStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.events.Subscribe()
	defer s.events.Unsubscribe(id)

	streamEventsFromChannel(r.Context(), w, eventCh, wantsProtobuf(r))
}

func (s *Server) analyticsPayload() map[string]any {
	return map[string]any{
		"summary": analytics.Summarize(s.history.SessionLog()),
	}
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	writeNegotiated(w, r, s.analyticsPayload())
}

// handleAnalyticsStream re-sends the summary whenever the session log
// changes. The first event is sent immediately.
func (s *Server) handleAnalyticsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := startEventStream(w)
	if !ok {
		return
	}
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(s.analytics)
	defer ticker.Stop()
	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()

	sent := false
	var last uint64
	for {
		if v := s.history.Version(); !sent || v != last {
			if err := writeSSE(w, s.analyticsPayload()); err != nil {
				return
			}
			flusher.Flush()
			sent, last = true, v
		}

		select {
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
		case <-keepalive.C:
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleAnalyticsDismiss(w http.ResponseWriter, r *http.Request) {
	s.history.ClearSession()
	s.metrics.UpdateLogSizes(s.history.Sizes())
	logger.Info("Server", "Session log cleared")
	writeJSON(w, map[string]any{"status": "cleared"})
}

func (s *Server) configPayload() map[string]any {
	return map[string]any{
		"base_url": s.config.BaseURL(),
		"health":   s.health.Snapshot(),
	}
}

func (s *Server) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.configPayload())
}

type configRequest struct {
	BaseURL string `json:"base_url"`
}

// handleConfigPut stores the new address and probes it before answering.
func (s *Server) handleConfigPut(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid config data")
		return
	}

	cfg := s.config.Set(req.BaseURL)
	logger.Info("Server", "Detection service address set to %s", cfg.BaseURL)
	s.probe(r)
	writeJSON(w, s.configPayload())
}

func (s *Server) handleHealthProbe(w http.ResponseWriter, r *http.Request) {
	s.probe(r)
	writeJSON(w, s.health.Snapshot())
}

func (s *Server) probe(r *http.Request) {
	s.metrics.Probes.Add(1)
	s.health.ProbeNow(r.Context())
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.frames.Subscribe()
	defer s.frames.Unsubscribe(id)
	streamMJPEGFromChannel(r.Context(), w, frameCh)
}
