// Package calibration learns per-finger calibration curves from collected
// samples and keeps them in a table consumed by the grasp predictor.
//
// Each channel holds two modes (Power, the fully closed grasp, and Plate,
// the fully open grasp), each split into two label segments.
package calibration

import (
	"errors"
	"fmt"
	"strings"

	"github.com/banshee-data/grasp/internal/tof"
)

// ErrIncompleteCalibration is returned when a channel is missing one or
// more of its four coefficient entries.
var ErrIncompleteCalibration = errors.New("incomplete calibration")

// Mode selects the grasp posture a curve describes.
type Mode int

const (
	Power Mode = iota
	Plate
)

// NumModes is the number of grasp modes per channel.
const NumModes = 2

// NumSegments is the number of label segments per mode.
const NumSegments = 2

func (m Mode) String() string {
	switch m {
	case Power:
		return "Power"
	case Plate:
		return "Plate"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode maps "power"/"plate" (case-insensitive) to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "power", "max":
		return Power, nil
	case "plate", "min":
		return Plate, nil
	}
	return 0, fmt.Errorf("unknown grasp mode %q", s)
}

// Params holds the fixed domain constants of the calibration.
type Params struct {
	// PowerSegmentPoint and PlateSegmentPoint split the label axis of each
	// mode into segment 0 (below) and segment 1 (at or above).
	PowerSegmentPoint float64
	PlateSegmentPoint float64
	// IntersectionLeft and IntersectionRight bound the label domain inside
	// which Power and Plate curves must not cross.
	IntersectionLeft  float64
	IntersectionRight float64
	// SimplifiedChannel is fitted with a single quadratic and never
	// adjusted.
	SimplifiedChannel tof.Channel
}

// DefaultParams returns the constants used by the hand replica.
func DefaultParams() Params {
	return Params{
		PowerSegmentPoint: 40,
		PlateSegmentPoint: 40,
		IntersectionLeft:  -2,
		IntersectionRight: 102,
		SimplifiedChannel: tof.Thumb,
	}
}

// SegmentPoint returns the segment threshold of a mode.
func (p Params) SegmentPoint(m Mode) float64 {
	if m == Plate {
		return p.PlateSegmentPoint
	}
	return p.PowerSegmentPoint
}

// SegmentFor returns the segment index whose coefficients apply at label.
func (p Params) SegmentFor(m Mode, label float64) int {
	if label < p.SegmentPoint(m) {
		return 0
	}
	return 1
}
