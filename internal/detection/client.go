package detection

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dj-oyu/live-detect-client/internal/logger"
)

// DefaultTimeout is the deadline of one exchange.
const DefaultTimeout = 2 * time.Second

// Failure classes. Every Result.Err wraps exactly one of them.
var (
	ErrTimeout   = errors.New("detect timeout")
	ErrTransport = errors.New("detect transport error")
	ErrStatus    = errors.New("detect non-success status")
	ErrMalformed = errors.New("detect malformed response")
)

// AddressSource yields the current service base URL.
type AddressSource interface {
	BaseURL() string
}

// Request is one frame submitted for analysis.
type Request struct {
	Image   string // data:image/jpeg;base64,...
	Persist bool
	Token   string // sent as X-Request-Id
}

// Result is the normalized outcome of one exchange. Err is nil on success.
// Discarded counts entries the service sent that failed validation.
type Result struct {
	Detections  []Detection
	Discarded   int
	Persistence string
	Latency     time.Duration
	Err         error
}

// OK reports whether the exchange succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Detector performs detection exchanges.
type Detector interface {
	Detect(ctx context.Context, req Request) Result
}

type detectRequest struct {
	Image            string `json:"image"`
	SaveToSalesforce bool   `json:"save_to_salesforce"`
}

// Client talks to POST {baseUrl}/detect.
type Client struct {
	http    *resty.Client
	addr    AddressSource
	timeout time.Duration
}

// NewClient returns a Client reading its base URL from addr on every call.
func NewClient(addr AddressSource, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	r := resty.New().
		SetLogger(logger.For("Detect")).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{http: r, addr: addr, timeout: timeout}
}

// Detect sends one frame and parses the reply. It always returns; failures
// are reported through Result.Err.
func (c *Client) Detect(ctx context.Context, req Request) Result {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	res := c.exchange(ctx, req)
	res.Latency = time.Since(start)
	return res
}

func (c *Client) exchange(ctx context.Context, req Request) Result {
	r := c.http.R().
		SetContext(ctx).
		SetBody(detectRequest{Image: req.Image, SaveToSalesforce: req.Persist})
	if req.Token != "" {
		r.SetHeader("X-Request-Id", req.Token)
	}

	resp, err := r.Post(c.addr.BaseURL() + "/detect")
	if err != nil {
		return Result{Err: classifyTransport(ctx, err)}
	}
	if !resp.IsSuccess() {
		return Result{Err: fmt.Errorf("%w: %s", ErrStatus, resp.Status())}
	}

	dets, discarded, persistence, err := parseResponse(resp.Body())
	if err != nil {
		return Result{Err: err}
	}
	return Result{Detections: dets, Discarded: discarded, Persistence: persistence}
}

func classifyTransport(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}
