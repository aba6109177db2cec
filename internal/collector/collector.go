// Package collector buffers (label, reading) samples for one calibration
// session and prepares them for fitting: outlier trimming and splitting
// into two label segments.
package collector

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrFull is returned by Append once the set reached its capacity.
	ErrFull = errors.New("sample set full")
	// ErrInvalidSegment is returned when segmenting an empty set.
	ErrInvalidSegment = errors.New("cannot segment empty sample set")
)

// SampleSet holds two parallel columns: X is the training label
// (graspness) and Y the smoothed sensor reading.
type SampleSet struct {
	capacity int
	x        []float64
	y        []float64
}

// New creates an empty set that is full after capacity samples.
func New(capacity int) *SampleSet {
	return &SampleSet{
		capacity: capacity,
		x:        make([]float64, 0, capacity),
		y:        make([]float64, 0, capacity),
	}
}

// FromColumns builds a set from existing columns. The capacity equals the
// number of rows, so the result is full.
func FromColumns(x, y []float64) (*SampleSet, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("mismatched columns: %d labels, %d readings", len(x), len(y))
	}
	s := &SampleSet{capacity: len(x)}
	s.x = append(make([]float64, 0, len(x)), x...)
	s.y = append(make([]float64, 0, len(y)), y...)
	return s, nil
}

// Append adds one sample.
func (s *SampleSet) Append(x, y float64) error {
	if s.IsFull() {
		return ErrFull
	}
	s.x = append(s.x, x)
	s.y = append(s.y, y)
	return nil
}

// IsFull reports whether the set reached its capacity.
func (s *SampleSet) IsFull() bool {
	return len(s.x) == s.capacity
}

// Len returns the number of samples.
func (s *SampleSet) Len() int { return len(s.x) }

// Cap returns the capacity.
func (s *SampleSet) Cap() int { return s.capacity }

// X returns a copy of the label column.
func (s *SampleSet) X() []float64 { return append([]float64(nil), s.x...) }

// Y returns a copy of the reading column.
func (s *SampleSet) Y() []float64 { return append([]float64(nil), s.y...) }

// Columns exposes both columns without copying. Callers must not modify
// them.
func (s *SampleSet) Columns() (x, y []float64) { return s.x, s.y }

// RemoveAboveThreshold returns a new set without every row i where
// ref[i] > threshold. The receiver is not modified.
func (s *SampleSet) RemoveAboveThreshold(threshold float64, ref []float64) (*SampleSet, error) {
	if len(ref) != len(s.x) {
		return nil, fmt.Errorf("reference values: got %d, want %d", len(ref), len(s.x))
	}
	out := &SampleSet{}
	for i := range s.x {
		if ref[i] > threshold {
			continue
		}
		out.x = append(out.x, s.x[i])
		out.y = append(out.y, s.y[i])
	}
	out.capacity = out.Len()
	return out, nil
}

// Segment splits rows into below (label < threshold) and above
// (label >= threshold). The split is accepted only when the threshold sits
// at least a quarter of the label range away from both ends and each half
// holds at least a quarter of the rows; otherwise below is a copy of the
// whole set, above is empty and ok is false.
func (s *SampleSet) Segment(threshold float64) (below, above *SampleSet, ok bool, err error) {
	n := len(s.x)
	if n == 0 {
		return nil, nil, false, ErrInvalidSegment
	}

	// the range is measured on whole units of single-precision labels
	xMax := int(float32(floats.Max(s.x)))
	xMin := int(float32(floats.Min(s.x)))
	quarterRange := int(float32(xMax-xMin) / 4)
	quarterRows := int(float32(n) / 4)

	below = &SampleSet{}
	above = &SampleSet{}
	for i := range s.x {
		dst := above
		if s.x[i] < threshold {
			dst = below
		}
		dst.x = append(dst.x, s.x[i])
		dst.y = append(dst.y, s.y[i])
	}

	ok = float64(xMax)-threshold >= float64(quarterRange) &&
		threshold-float64(xMin) >= float64(quarterRange) &&
		below.Len() >= quarterRows &&
		above.Len() >= quarterRows

	if !ok {
		below = &SampleSet{x: s.X(), y: s.Y()}
		above = &SampleSet{}
	}
	below.capacity = below.Len()
	above.capacity = above.Len()
	return below, above, ok, nil
}

// WriteCSV dumps the set as "label,reading" rows after a header line.
func (s *SampleSet) WriteCSV(w io.Writer, header string) error {
	cw := csv.NewWriter(w)
	if header != "" {
		if err := cw.Write([]string{header}); err != nil {
			return err
		}
	}
	for i := range s.x {
		row := []string{
			strconv.FormatFloat(s.x[i], 'g', -1, 64),
			strconv.FormatFloat(s.y[i], 'g', -1, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
