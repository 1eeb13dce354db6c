// Package scheduler drives the capture-dispatch-render loop: it samples the
// capture source at a fixed cadence, keeps at most one detection exchange
// outstanding and applies results only while their capture session is
// still current.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dj-oyu/live-detect-client/internal/capture"
	"github.com/dj-oyu/live-detect-client/internal/detection"
	"github.com/dj-oyu/live-detect-client/internal/logger"
	"github.com/dj-oyu/live-detect-client/internal/metrics"
)

// DefaultInterval is the sampling period (2 frames per second).
const DefaultInterval = 500 * time.Millisecond

// Token identifies one dispatched exchange. Seq increases across the whole
// process; Session changes on every Start.
type Token struct {
	Session uuid.UUID
	Seq     uint64
}

func (t Token) String() string {
	return fmt.Sprintf("%s-%d", t.Session, t.Seq)
}

// Renderer is the overlay the scheduler paints accepted results on.
type Renderer interface {
	Render(width, height int, dets []detection.Detection) bool
	Clear()
}

// Recorder receives accepted detections.
type Recorder interface {
	Record(session uuid.UUID, dets []detection.Detection, now time.Time) int
	Sizes() (ui, session int)
}

// HealthReporter receives passive health updates from exchanges.
type HealthReporter interface {
	MarkOnline()
	MarkOffline(reason error)
}

// Accepted is a result that passed the session check and was applied.
type Accepted struct {
	Token       Token
	CapturedAt  time.Time
	Latency     time.Duration
	Width       int
	Height      int
	Detections  []detection.Detection
	Persistence string
}

// Options wires the scheduler to its collaborators. Source, Detector,
// Renderer, History and Health are required. Renderer, History and Health
// are called with the scheduler lock held and must not call back into it.
type Options struct {
	Interval   time.Duration
	Source     capture.Source
	Detector   detection.Detector
	Renderer   Renderer
	History    Recorder
	Health     HealthReporter
	Metrics    *metrics.Metrics
	OnAccepted func(Accepted)
	Now        func() time.Time
}

// Scheduler is the FrameCaptureScheduler.
type Scheduler struct {
	opts Options

	mu       sync.Mutex
	idle     *sync.Cond
	active   bool
	persist  bool
	session  uuid.UUID
	stop     chan struct{}
	inFlight bool
	advisory string

	seq atomic.Uint64
}

// New returns an inactive scheduler.
func New(opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Scheduler{opts: opts}
	s.idle = sync.NewCond(&s.mu)
	return s
}

// Start begins sampling under a fresh session. It is a no-op when already
// active.
func (s *Scheduler) Start(persist bool) error {
	if s.opts.Source == nil || s.opts.Detector == nil || s.opts.Renderer == nil ||
		s.opts.History == nil || s.opts.Health == nil {
		return errors.New("scheduler: missing collaborator")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return nil
	}
	s.active = true
	s.persist = persist
	s.session = uuid.New()
	s.stop = make(chan struct{})
	go s.run(s.stop)

	if m := s.opts.Metrics; m != nil {
		m.SetCaptureActive(true)
	}
	logger.Info("Scheduler", "Capture started (session=%s interval=%v persist=%v)", s.session, s.opts.Interval, persist)
	return nil
}

// Stop cancels the sampling loop and clears the overlay. An exchange
// already in flight is left to finish; its result is discarded.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return
	}
	s.active = false
	close(s.stop)
	s.stop = nil
	s.opts.Renderer.Clear()

	if m := s.opts.Metrics; m != nil {
		m.SetCaptureActive(false)
	}
	logger.Info("Scheduler", "Capture stopped (session=%s)", s.session)
}

// Wait blocks until no exchange is outstanding.
func (s *Scheduler) Wait() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.inFlight {
		s.idle.Wait()
	}
}

// Active reports whether sampling is running.
func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Persist reports the persistence flag of the current session.
func (s *Scheduler) Persist() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persist
}

// Advisory returns the message of the last failed exchange, or "" once an
// exchange succeeds.
func (s *Scheduler) Advisory() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advisory
}

// Session returns the id of the current (or last) capture session.
func (s *Scheduler) Session() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// InFlight reports whether an exchange is outstanding.
func (s *Scheduler) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

func (s *Scheduler) run(stop <-chan struct{}) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick dispatches one exchange unless one is already outstanding. It never
// blocks: frame acquisition and the exchange run on their own goroutine.
func (s *Scheduler) tick() bool {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return false
	}
	if m := s.opts.Metrics; m != nil {
		m.TicksFired.Add(1)
	}
	if s.inFlight {
		s.mu.Unlock()
		if m := s.opts.Metrics; m != nil {
			m.TicksSkipped.Add(1)
		}
		logger.Debug("Scheduler", "Tick skipped, exchange in flight")
		return false
	}
	token := Token{Session: s.session, Seq: s.seq.Add(1)}
	persist := s.persist
	s.inFlight = true
	s.mu.Unlock()

	go s.dispatch(token, persist)
	return true
}

func (s *Scheduler) dispatch(token Token, persist bool) {
	ctx, cancel := context.WithTimeout(context.Background(), detection.DefaultTimeout)
	frame, err := s.opts.Source.Frame(ctx)
	cancel()
	if err != nil {
		s.drop(token, err)
		return
	}
	b := frame.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		s.drop(token, capture.ErrNotReady)
		return
	}
	dataURL, err := capture.EncodeDataURL(frame)
	if err != nil {
		s.drop(token, err)
		return
	}

	if m := s.opts.Metrics; m != nil {
		m.ExchangesStarted.Add(1)
	}
	res := s.opts.Detector.Detect(context.Background(), detection.Request{
		Image:   dataURL,
		Persist: persist,
		Token:   token.String(),
	})
	s.apply(token, b.Size(), res)
}

// drop ends a tick whose frame could not be obtained. Nothing else changes.
func (s *Scheduler) drop(token Token, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inFlight = false
	s.idle.Broadcast()
	if m := s.opts.Metrics; m != nil {
		m.TicksDropped.Add(1)
	}
	logger.Debug("Scheduler", "Tick %d dropped: %v", token.Seq, err)
}

func (s *Scheduler) apply(token Token, size image.Point, res detection.Result) {
	accepted, ok := s.settle(token, size, res)
	if ok && s.opts.OnAccepted != nil {
		s.opts.OnAccepted(accepted)
	}
}

// settle ends the exchange and applies its result if the session is still
// current. The overlay is sized to the frame that was sent, not to whatever
// the source read last. It reports whether the result was accepted.
func (s *Scheduler) settle(token Token, size image.Point, res detection.Result) (Accepted, bool) {
	m := s.opts.Metrics

	s.mu.Lock()
	defer s.mu.Unlock()

	s.inFlight = false
	s.idle.Broadcast()
	if m != nil {
		m.UpdateExchangeLatency(res.Latency)
	}

	if !s.active || token.Session != s.session {
		if m != nil {
			m.ExchangesStale.Add(1)
		}
		logger.Debug("Scheduler", "Discarding stale result %s", token)
		return Accepted{}, false
	}

	if !res.OK() {
		s.opts.Health.MarkOffline(res.Err)
		s.advisory = advisoryFor(res.Err)
		if m != nil {
			m.ExchangesFailed.Add(1)
			if errors.Is(res.Err, detection.ErrTimeout) {
				m.Timeouts.Add(1)
			}
		}
		logger.Warn("Scheduler", "Exchange %d failed after %v: %v", token.Seq, res.Latency, res.Err)
		return Accepted{}, false
	}

	now := s.opts.Now()
	width, height := size.X, size.Y
	s.opts.Renderer.Render(width, height, res.Detections)
	n := s.opts.History.Record(token.Session, res.Detections, now)
	s.opts.Health.MarkOnline()
	s.advisory = ""

	if m != nil {
		m.ExchangesOK.Add(1)
		m.DetectionsAccepted.Add(uint64(n))
		m.DetectionsDiscarded.Add(uint64(res.Discarded))
		m.UpdateLogSizes(s.opts.History.Sizes())
	}
	if res.Persistence != "" {
		logger.Debug("Scheduler", "Persistence status: %s", res.Persistence)
	}
	logger.Debug("Scheduler", "Exchange %d applied: %d detections in %v", token.Seq, len(res.Detections), res.Latency)

	return Accepted{
		Token:       token,
		CapturedAt:  now,
		Latency:     res.Latency,
		Width:       width,
		Height:      height,
		Detections:  res.Detections,
		Persistence: res.Persistence,
	}, true
}

func advisoryFor(err error) string {
	switch {
	case errors.Is(err, detection.ErrTimeout):
		return "Detection service did not answer within the deadline."
	case errors.Is(err, detection.ErrStatus):
		return fmt.Sprintf("Detection service returned an error: %v", err)
	case errors.Is(err, detection.ErrMalformed):
		return "Detection service sent a response without detections."
	default:
		return "Detection service not connected. Make sure it is running and the address is correct."
	}
}
