package detection

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/dj-oyu/live-detect-client/internal/logger"
)

// Box is an axis-aligned rectangle in the source frame's pixel space.
type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Width returns X2-X1.
func (b Box) Width() int { return b.X2 - b.X1 }

// Height returns Y2-Y1.
func (b Box) Height() int { return b.Y2 - b.Y1 }

// MarshalJSON keeps the service's [x1,y1,x2,y2] array shape.
func (b Box) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]int{b.X1, b.Y1, b.X2, b.Y2})
}

// Detection is one object reported by the service for one frame.
type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
	Plate      string  `json:"plate,omitempty"`
}

// Percent returns the confidence as a percentage.
func (d Detection) Percent() float64 { return d.Confidence * 100 }

// Caption is the overlay readout, e.g. "car 87.5%".
func (d Detection) Caption() string {
	return fmt.Sprintf("%s %.1f%%", d.Label, d.Percent())
}

// rawDetection is the wire shape. Pointers distinguish absent fields from
// zero values.
type rawDetection struct {
	Label      *string   `json:"label"`
	Confidence *float64  `json:"confidence"`
	Box        []float64 `json:"box"`
	Plate      string    `json:"plate"`
}

// detectResponse is the /detect body. A nil Detections means the field was
// missing (or null), which is a failure rather than an empty result.
// Entries are decoded one by one so a single bad entry cannot sink the rest.
type detectResponse struct {
	Detections  *[]json.RawMessage `json:"detections"`
	Persistence json.RawMessage    `json:"salesforce_status"`
	Error       string             `json:"error"`
}

// plateNotAvailable is what the service reports for non-vehicle classes.
const plateNotAvailable = "N/A"

var (
	errMissingLabel = errors.New("missing label")
	errConfidence   = errors.New("confidence outside [0,1]")
	errBoxShape     = errors.New("box must have 4 coordinates")
	errBoxOrder     = errors.New("box requires x1<x2 and y1<y2")
	errBoxRange     = errors.New("box coordinate not finite or out of range")
)

// maxCoordinate bounds box coordinates well inside the int range.
const maxCoordinate = 1 << 20

func (r rawDetection) validate() (Detection, error) {
	if r.Label == nil || strings.TrimSpace(*r.Label) == "" {
		return Detection{}, errMissingLabel
	}
	if r.Confidence == nil || math.IsNaN(*r.Confidence) || *r.Confidence < 0 || *r.Confidence > 1 {
		return Detection{}, errConfidence
	}
	if len(r.Box) != 4 {
		return Detection{}, errBoxShape
	}
	for _, v := range r.Box {
		if math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > maxCoordinate {
			return Detection{}, errBoxRange
		}
	}

	box := Box{
		X1: int(math.Round(r.Box[0])),
		Y1: int(math.Round(r.Box[1])),
		X2: int(math.Round(r.Box[2])),
		Y2: int(math.Round(r.Box[3])),
	}
	if box.X1 >= box.X2 || box.Y1 >= box.Y2 {
		return Detection{}, errBoxOrder
	}

	plate := strings.TrimSpace(r.Plate)
	if plate == plateNotAvailable {
		plate = ""
	}

	return Detection{
		Label:      *r.Label,
		Confidence: *r.Confidence,
		Box:        box,
		Plate:      plate,
	}, nil
}

// parseResponse decodes a /detect body. A missing or non-array detections
// field fails the whole exchange; individual invalid entries are skipped
// and counted.
func parseResponse(body []byte) ([]Detection, int, string, error) {
	var resp detectResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, 0, "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if resp.Detections == nil {
		if resp.Error != "" {
			return nil, 0, "", fmt.Errorf("%w: missing detections (service error: %s)", ErrMalformed, resp.Error)
		}
		return nil, 0, "", fmt.Errorf("%w: missing detections", ErrMalformed)
	}

	raw := *resp.Detections
	dets := make([]Detection, 0, len(raw))
	discarded := 0
	for i, entry := range raw {
		var r rawDetection
		if err := json.Unmarshal(entry, &r); err != nil {
			logger.Debug("Detect", "Skipping detections[%d]: %v", i, err)
			discarded++
			continue
		}
		det, err := r.validate()
		if err != nil {
			logger.Debug("Detect", "Skipping detections[%d]: %v", i, err)
			discarded++
			continue
		}
		dets = append(dets, det)
	}

	return dets, discarded, persistenceString(resp.Persistence), nil
}

func persistenceString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
