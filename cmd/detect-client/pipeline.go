package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/dj-oyu/live-detect-client/internal/capture"
	"github.com/dj-oyu/live-detect-client/internal/config"
	"github.com/dj-oyu/live-detect-client/internal/detection"
	"github.com/dj-oyu/live-detect-client/internal/health"
	"github.com/dj-oyu/live-detect-client/internal/history"
	"github.com/dj-oyu/live-detect-client/internal/logger"
	"github.com/dj-oyu/live-detect-client/internal/metrics"
	"github.com/dj-oyu/live-detect-client/internal/overlay"
	"github.com/dj-oyu/live-detect-client/internal/scheduler"
	"github.com/dj-oyu/live-detect-client/internal/server"
)

// pipeline is the assembled client: capture source, scheduler, detection
// client, health monitor and the operator HTTP server.
type pipeline struct {
	cfg        config.Config
	store      *config.Store
	health     *health.Monitor
	metrics    *metrics.Metrics
	sched      *scheduler.Scheduler
	server     *server.Server
	httpServer *http.Server
}

func newPipeline(cfg config.Config) (*pipeline, error) {
	m := metrics.New()

	store := config.NewStore(cfg.BaseURL)
	mon := health.NewMonitor(store, cfg.Timeout)
	mon.OnChange(func(s health.Status) {
		m.HealthStatus.Store(uint64(s))
	})

	source, err := capture.Open(cfg.Source, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture source: %w", err)
	}

	renderer := overlay.NewRenderer()
	hist := history.NewStore(cfg.UILogCapacity)
	events := server.NewDetectionBroadcaster()

	sched := scheduler.New(scheduler.Options{
		Interval:   cfg.Interval,
		Source:     source,
		Detector:   detection.NewClient(store, cfg.Timeout),
		Renderer:   renderer,
		History:    hist,
		Health:     mon,
		Metrics:    m,
		OnAccepted: events.Publish,
	})

	srv := server.NewServer(server.Options{
		Scheduler: sched,
		History:   hist,
		Health:    mon,
		Config:    store,
		Renderer:  renderer,
		Source:    source,
		Events:    events,
		Metrics:   m,
	})

	return &pipeline{
		cfg:     cfg,
		store:   store,
		health:  mon,
		metrics: m,
		sched:   sched,
		server:  srv,
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Run serves HTTP on the configured address until Shutdown.
func (p *pipeline) Run() error {
	ln, err := net.Listen("tcp", p.cfg.Addr)
	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return p.Serve(ln)
}

// Serve serves HTTP on ln until Shutdown.
func (p *pipeline) Serve(ln net.Listener) error {
	logger.Info("Main", "Operator UI listening on %s", ln.Addr())
	if err := p.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Start probes the service once and starts capture when configured to.
func (p *pipeline) Start(ctx context.Context) {
	logger.Info("Main", "Detection service: %s", p.store.BaseURL())
	p.metrics.Probes.Add(1)
	p.health.ProbeNow(ctx)

	if !p.cfg.AutoStart {
		return
	}
	if err := p.sched.Start(p.cfg.Persist); err != nil {
		logger.Error("Main", "Auto-start failed: %v", err)
	}
}

// Shutdown stops capture, lets the in-flight exchange settle and closes the
// HTTP server. Open MJPEG and SSE streams are ended first so the HTTP
// shutdown is not held by them.
func (p *pipeline) Shutdown(ctx context.Context) error {
	p.sched.Stop()

	settled := make(chan struct{})
	go func() {
		p.sched.Wait()
		close(settled)
	}()
	select {
	case <-settled:
	case <-ctx.Done():
		logger.Warn("Main", "In-flight exchange did not settle before shutdown")
	}

	p.server.Close()
	return p.httpServer.Shutdown(ctx)
}
