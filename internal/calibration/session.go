package calibration

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/grasp/internal/collector"
	"github.com/banshee-data/grasp/internal/monitoring"
	"github.com/banshee-data/grasp/internal/regression"
	"github.com/banshee-data/grasp/internal/tof"
)

// DefaultCapacity is the number of samples collected per session.
const DefaultCapacity = 200

// ErrSessionClosed is returned when adding to or fitting a session that is
// no longer collecting.
var ErrSessionClosed = errors.New("calibration session closed")

// State of a calibration session.
type State int

const (
	Collecting State = iota
	Fitting
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Collecting:
		return "collecting"
	case Fitting:
		return "fitting"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Result is the outcome of fitting one session.
type Result struct {
	Channel  tof.Channel
	Mode     Mode
	Segments [NumSegments]regression.Coefficients
	// Segmented is false when the data could not be split and both
	// segments share the same coefficients.
	Segmented bool
	// Kept is the number of samples that survived outlier rejection.
	Kept int
	// RSquared of the refined quadratic over the kept samples.
	RSquared float64
}

// Session collects samples for one (channel, mode) pair and fits them once
// the buffer is full.
type Session struct {
	ID        string
	Channel   tof.Channel
	Mode      Mode
	StartedAt time.Time

	samples *collector.SampleSet
	state   State
	err     error
}

// NewSession starts collecting for a channel and mode.
func NewSession(ch tof.Channel, mode Mode, capacity int) *Session {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	monitoring.Logf("%s %s learning started...", ch, mode)
	return &Session{
		ID:        uuid.New().String(),
		Channel:   ch,
		Mode:      mode,
		StartedAt: time.Now(),
		samples:   collector.New(capacity),
		state:     Collecting,
	}
}

// State returns the current session state.
func (s *Session) State() State { return s.state }

// Err returns the fit error of a failed session.
func (s *Session) Err() error { return s.err }

// Samples returns the collected samples.
func (s *Session) Samples() *collector.SampleSet { return s.samples }

// Add appends one (label, reading) sample and reports whether the buffer
// is now full.
func (s *Session) Add(label, reading float64) (bool, error) {
	if s.state != Collecting {
		return false, ErrSessionClosed
	}
	if err := s.samples.Append(label, reading); err != nil {
		return true, err
	}
	return s.samples.IsFull(), nil
}

// Fit runs the calibration pipeline over the full buffer. A failed fit
// leaves the session in the Failed state and returns the error.
func (s *Session) Fit(p Params) (Result, error) {
	if s.state != Collecting {
		return Result{}, ErrSessionClosed
	}
	if !s.samples.IsFull() {
		return Result{}, fmt.Errorf("session %s holds %d of %d samples", s.ID, s.samples.Len(), s.samples.Cap())
	}
	s.state = Fitting

	var (
		res Result
		err error
	)
	if s.Channel == p.SimplifiedChannel {
		res, err = FitSimplified(s.samples)
	} else {
		res, err = FitSegmented(s.samples, p.SegmentPoint(s.Mode))
	}
	if err != nil {
		s.state = Failed
		s.err = fmt.Errorf("%s %s calibration: %w", s.Channel, s.Mode, err)
		return Result{}, s.err
	}
	res.Channel = s.Channel
	res.Mode = s.Mode
	s.state = Done
	return res, nil
}

// FitSegmented removes outliers in two passes around a quadratic trend,
// then fits one line per label segment.
func FitSegmented(samples *collector.SampleSet, segmentPoint float64) (Result, error) {
	xs, ys := samples.Columns()

	// pass 1: drop rows further than 2 SD from a preliminary fit
	prelim, err := regression.QuadraticFit(xs, ys)
	if err != nil {
		return Result{}, fmt.Errorf("preliminary fit: %w", err)
	}
	prelimDevs := regression.AbsDeviations(xs, ys, prelim)
	sd, err := regression.SampleStdDev(prelimDevs, true)
	if err != nil {
		return Result{}, err
	}
	reduced, err := samples.RemoveAboveThreshold(2*sd, prelimDevs)
	if err != nil {
		return Result{}, err
	}

	// pass 2: refit without them and trim the original set at 1.5 SD
	rx, ry := reduced.Columns()
	refined, err := regression.QuadraticFit(rx, ry)
	if err != nil {
		return Result{}, fmt.Errorf("refined fit: %w", err)
	}
	devs := regression.AbsDeviations(xs, ys, refined)
	sd, err = regression.SampleStdDev(devs, false)
	if err != nil {
		return Result{}, err
	}
	final, err := samples.RemoveAboveThreshold(1.5*sd, devs)
	if err != nil {
		return Result{}, err
	}

	below, above, ok, err := final.Segment(segmentPoint)
	if err != nil {
		return Result{}, err
	}

	var res Result
	bx, by := below.Columns()
	if res.Segments[0], err = regression.LinearFit(bx, by); err != nil {
		return Result{}, fmt.Errorf("segment 0 fit: %w", err)
	}
	if ok {
		ax, ay := above.Columns()
		if res.Segments[1], err = regression.LinearFit(ax, ay); err != nil {
			return Result{}, fmt.Errorf("segment 1 fit: %w", err)
		}
	} else {
		res.Segments[1] = res.Segments[0].Clone()
	}

	fx, fy := final.Columns()
	res.Segmented = ok
	res.Kept = final.Len()
	res.RSquared = regression.RSquared(fx, fy, refined)
	return res, nil
}

// FitSimplified fits a single quadratic over the raw samples and uses it
// for both segments.
func FitSimplified(samples *collector.SampleSet) (Result, error) {
	xs, ys := samples.Columns()
	coeffs, err := regression.QuadraticFit(xs, ys)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Segments: [NumSegments]regression.Coefficients{coeffs, coeffs.Clone()},
		Kept:     samples.Len(),
		RSquared: regression.RSquared(xs, ys, coeffs),
	}, nil
}
