package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dj-oyu/live-detect-client/internal/logger"
)

// ProbeTimeout is the deadline of one reachability probe.
const ProbeTimeout = 2 * time.Second

// Status is the tri-state availability of the detection service.
type Status int

const (
	Checking Status = iota
	Online
	Offline
)

var statusNames = map[Status]string{
	Checking: "checking",
	Online:   "online",
	Offline:  "offline",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText renders the status by name in JSON payloads.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// AddressSource yields the current service base URL.
type AddressSource interface {
	BaseURL() string
}

// Snapshot is a point-in-time copy of the monitor state.
type Snapshot struct {
	Status      Status    `json:"status"`
	ChangedAt   time.Time `json:"changed_at"`
	LastError   string    `json:"last_error,omitempty"`
	ModelLoaded *bool     `json:"model_loaded,omitempty"`
}

type healthBody struct {
	Status      string `json:"status"`
	ModelLoaded *bool  `json:"model_loaded"`
}

// Monitor tracks service availability. Probes set it directly; detection
// exchanges update it passively through MarkOnline and MarkOffline.
type Monitor struct {
	http    *resty.Client
	addr    AddressSource
	timeout time.Duration

	mu       sync.Mutex
	snapshot Snapshot
	probeSeq uint64
	onChange func(Status)
}

// NewMonitor starts in Checking until the first probe or exchange settles.
func NewMonitor(addr AddressSource, timeout time.Duration) *Monitor {
	if timeout <= 0 {
		timeout = ProbeTimeout
	}
	return &Monitor{
		http:     resty.New().SetLogger(logger.For("Health")),
		addr:     addr,
		timeout:  timeout,
		snapshot: Snapshot{Status: Checking, ChangedAt: time.Now()},
	}
}

// OnChange registers fn to run after every transition. Set it before use.
func (m *Monitor) OnChange(fn func(Status)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// Status returns the current status.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot.Status
}

// Snapshot returns a copy of the full state.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}

// ProbeNow sets Checking and requests GET {baseUrl}/health. Any 2xx means
// Online, anything else (including the deadline) means Offline.
func (m *Monitor) ProbeNow(ctx context.Context) Status {
	m.mu.Lock()
	m.probeSeq++
	seq := m.probeSeq
	m.mu.Unlock()
	m.set(Checking, "", nil)

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	url := m.addr.BaseURL() + "/health"
	resp, err := m.http.R().SetContext(ctx).Get(url)

	status, reason, modelLoaded := Online, "", (*bool)(nil)
	switch {
	case err != nil:
		status, reason = Offline, probeError(err).Error()
	case !resp.IsSuccess():
		status, reason = Offline, fmt.Sprintf("health probe returned %s", resp.Status())
	default:
		var body healthBody
		if json.Unmarshal(resp.Body(), &body) == nil {
			modelLoaded = body.ModelLoaded
		}
	}

	m.mu.Lock()
	superseded := seq != m.probeSeq
	m.mu.Unlock()
	if superseded {
		// a newer probe owns the Checking state
		return m.Status()
	}

	m.set(status, reason, modelLoaded)
	if modelLoaded != nil && !*modelLoaded {
		logger.Warn("Health", "Service at %s is reachable but reports no model loaded", m.addr.BaseURL())
	}
	return status
}

// MarkOnline records a successful detection exchange.
func (m *Monitor) MarkOnline() {
	m.set(Online, "", nil)
}

// MarkOffline records a failed detection exchange.
func (m *Monitor) MarkOffline(reason error) {
	msg := ""
	if reason != nil {
		msg = reason.Error()
	}
	m.set(Offline, msg, nil)
}

func (m *Monitor) set(status Status, reason string, modelLoaded *bool) {
	m.mu.Lock()
	prev := m.snapshot.Status
	if prev != status {
		m.snapshot.ChangedAt = time.Now()
	}
	m.snapshot.Status = status
	m.snapshot.LastError = reason
	if modelLoaded != nil {
		m.snapshot.ModelLoaded = modelLoaded
	}
	onChange := m.onChange
	m.mu.Unlock()

	if prev == status {
		return
	}
	if status == Offline {
		logger.Warn("Health", "Detection service %s -> %s: %s", prev, status, reason)
	} else {
		logger.Info("Health", "Detection service %s -> %s", prev, status)
	}
	if onChange != nil {
		onChange(status)
	}
}

func probeError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("health probe timed out: %w", err)
	}
	return fmt.Errorf("health probe failed: %w", err)
}
