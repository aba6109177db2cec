package calibration

import (
	"fmt"
	"math"
	"sync"

	"github.com/banshee-data/grasp/internal/monitoring"
	"github.com/banshee-data/grasp/internal/regression"
	"github.com/banshee-data/grasp/internal/tof"
)

// float32Epsilon is the single-precision machine epsilon used as the
// zero tolerance of the completeness check.
const float32Epsilon = 1.1920929e-07

// Entry holds the curves of one channel indexed by [mode][segment]. A nil
// slot has not been learned yet.
type Entry [NumModes][NumSegments]regression.Coefficients

// Curve returns the coefficients of a mode and segment.
func (e Entry) Curve(m Mode, seg int) regression.Coefficients {
	return e[m][seg]
}

// Clone returns a deep copy of e.
func (e Entry) Clone() Entry {
	var out Entry
	for m := range e {
		for s := range e[m] {
			out[m][s] = e[m][s].Clone()
		}
	}
	return out
}

// Present reports whether all four slots hold coefficients.
func (e Entry) Present() bool {
	for m := range e {
		for s := range e[m] {
			if len(e[m][s]) == 0 {
				return false
			}
		}
	}
	return true
}

// Complete reports whether all four slots hold coefficients that are not
// all zero: per segment, the Power and Plate coefficient sums are
// multiplied together and the product over both segments must be nonzero.
func (e Entry) Complete() bool {
	if !e.Present() {
		return false
	}
	product := 1.0
	for s := 0; s < NumSegments; s++ {
		product *= e[Power][s].Sum() * e[Plate][s].Sum()
	}
	return math.Abs(float64(float32(product))) > float32Epsilon
}

// Table is a snapshot of every channel's entry, indexed by channel id.
type Table [tof.NumChannels]Entry

// Adjustment reports what AdjustIntersections did for a channel.
type Adjustment struct {
	Skipped     bool
	LeftRoot    float64
	RightRoot   float64
	LeftScaled  bool
	RightScaled bool
}

// Store keeps the calibration table. Reads and writes are serialized so a
// predictor never observes a half-updated channel.
type Store struct {
	mu     sync.RWMutex
	params Params
	table  Table
}

// NewStore creates an empty store.
func NewStore(p Params) *Store {
	return &Store{params: p}
}

// Params returns the calibration constants of the store.
func (s *Store) Params() Params {
	return s.params
}

// Set overwrites both segments of a channel's mode.
func (s *Store) Set(ch tof.Channel, m Mode, segs [NumSegments]regression.Coefficients) error {
	if !ch.Valid() || m < 0 || m >= NumModes {
		return fmt.Errorf("set coefficients: invalid slot %d/%d", ch, m)
	}
	for i, c := range segs {
		if len(c) == 0 {
			return fmt.Errorf("set %s %s: segment %d is empty", ch, m, i)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(ch, m, segs)
	return nil
}

func (s *Store) set(ch tof.Channel, m Mode, segs [NumSegments]regression.Coefficients) {
	for i, c := range segs {
		s.table[ch][m][i] = c.Clone()
	}
}

// Get returns one slot.
func (s *Store) Get(ch tof.Channel, m Mode, seg int) (regression.Coefficients, error) {
	if !ch.Valid() || m < 0 || m >= NumModes || seg < 0 || seg >= NumSegments {
		return nil, fmt.Errorf("get coefficients: invalid slot %d/%d/%d", ch, m, seg)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.table[ch][m][seg]
	if len(c) == 0 {
		return nil, fmt.Errorf("%s %s segment %d: %w", ch, m, seg, ErrIncompleteCalibration)
	}
	return c.Clone(), nil
}

// Entry returns a copy of a channel's four slots, or
// ErrIncompleteCalibration if any of them is missing.
func (s *Store) Entry(ch tof.Channel) (Entry, error) {
	if !ch.Valid() {
		return Entry{}, fmt.Errorf("entry: invalid channel %d", ch)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e := s.table[ch]
	if !e.Present() {
		return Entry{}, fmt.Errorf("%s: %w", ch, ErrIncompleteCalibration)
	}
	return e.Clone(), nil
}

// Complete reports whether the channel holds four usable curves.
func (s *Store) Complete(ch tof.Channel) bool {
	if !ch.Valid() {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table[ch].Complete()
}

// Clear forgets every coefficient.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table = Table{}
}

// Snapshot returns a deep copy of the table.
func (s *Store) Snapshot() Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out Table
	for i := range s.table {
		out[i] = s.table[i].Clone()
	}
	return out
}

// Load replaces the table, e.g. with coefficients read from storage.
func (s *Store) Load(t Table) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range t {
		s.table[i] = t[i].Clone()
	}
}

// Commit writes a fitted result and then adjusts the channel's curves so
// Power and Plate do not cross inside the operating domain.
func (s *Store) Commit(r Result) (Adjustment, error) {
	if !r.Channel.Valid() || r.Mode < 0 || r.Mode >= NumModes {
		return Adjustment{}, fmt.Errorf("commit: invalid slot %d/%d", r.Channel, r.Mode)
	}
	for i, c := range r.Segments {
		if len(c) == 0 {
			return Adjustment{}, fmt.Errorf("commit %s %s: segment %d is empty", r.Channel, r.Mode, i)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(r.Channel, r.Mode, r.Segments)
	return s.adjust(r.Channel), nil
}

// AdjustIntersections rescales a channel's curves when Power and Plate
// intersect strictly inside [IntersectionLeft, IntersectionRight]. It is
// skipped for incomplete channels and the simplified channel.
func (s *Store) AdjustIntersections(ch tof.Channel) Adjustment {
	if !ch.Valid() {
		return Adjustment{Skipped: true}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adjust(ch)
}

func (s *Store) adjust(ch tof.Channel) Adjustment {
	e := &s.table[ch]
	if ch == s.params.SimplifiedChannel || !e.Complete() {
		return Adjustment{Skipped: true}
	}

	left, right := s.params.IntersectionLeft, s.params.IntersectionRight
	adj := Adjustment{
		LeftRoot:  intersection(e[Power][0], e[Plate][0], left),
		RightRoot: intersection(e[Power][1], e[Plate][1], right),
	}

	// parallel or non-crossing curves have no finite root
	if finite(adj.LeftRoot) && adj.LeftRoot > left {
		s.intersectAt(e[Power][0], e[Plate][0], left)
		adj.LeftScaled = true
	}
	if finite(adj.RightRoot) && adj.RightRoot < right {
		s.intersectAt(e[Power][1], e[Plate][1], right)
		adj.RightScaled = true
	}
	monitoring.Logf("%s coeffs adjusted: left root %.3f scaled=%t, right root %.3f scaled=%t",
		ch, adj.LeftRoot, adj.LeftScaled, adj.RightRoot, adj.RightScaled)
	return adj
}

// intersection returns the label where two curves meet, picking the root
// nearest to the boundary for quadratics.
func intersection(power, plate regression.Coefficients, boundary float64) float64 {
	diff := regression.Subtract(pad(power, len(plate)), pad(plate, len(power)))
	if len(diff) == 2 {
		return regression.LinearRoot(diff)
	}
	return regression.ClosestQuadraticRoot(diff, boundary)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func pad(c regression.Coefficients, n int) regression.Coefficients {
	if len(c) >= n {
		return c
	}
	out := make(regression.Coefficients, n)
	copy(out, c)
	return out
}

// intersectAt scales both curves about their own segment-point value so
// that they meet at label t, halfway between their current values there.
func (s *Store) intersectAt(power, plate regression.Coefficients, t float64) {
	powerPivot := regression.Evaluate(power, s.params.PowerSegmentPoint)
	platePivot := regression.Evaluate(plate, s.params.PlateSegmentPoint)

	powerAtT := regression.Evaluate(power, t)
	plateAtT := regression.Evaluate(plate, t)
	avg := 0.5 * (powerAtT + plateAtT)

	rescale(power, powerPivot, powerAtT, avg)
	rescale(plate, platePivot, plateAtT, avg)
}

// rescale maps c to k·c + pivot·(1−k) so that its value at the segment
// point is kept and its value at the boundary becomes target.
func rescale(c regression.Coefficients, pivot, atT, target float64) {
	k := (target - pivot) / (atT - pivot)
	if math.IsNaN(k) || math.IsInf(k, 0) {
		return
	}
	regression.Scale(c, k)
	c[0] += pivot * (1 - k)
}
