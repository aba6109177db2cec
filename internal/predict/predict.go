// Package predict turns a smoothed sensor reading into a grasp value
// between the Plate (0) and Power (1) calibration curves of its channel.
package predict

import (
	"fmt"
	"math"

	"github.com/banshee-data/grasp/internal/calibration"
	"github.com/banshee-data/grasp/internal/regression"
	"github.com/banshee-data/grasp/internal/tof"
)

// Output bounds of every prediction.
const (
	MinGrasp = -0.2
	MaxGrasp = 1.0
)

// Remap linearly maps [InFrom, InTo] onto [OutFrom, OutTo].
type Remap struct {
	InFrom, InTo   float64
	OutFrom, OutTo float64
}

// Apply remaps v. The result is not clamped.
func (r Remap) Apply(v float64) float64 {
	return (v-r.InFrom)/(r.InTo-r.InFrom)*(r.OutTo-r.OutFrom) + r.OutFrom
}

// RemapFromSlice builds a Remap from {inFrom, inTo, outFrom, outTo}.
func RemapFromSlice(v []float64) (Remap, error) {
	if len(v) != 4 {
		return Remap{}, fmt.Errorf("remap needs 4 values, got %d", len(v))
	}
	if v[0] == v[1] {
		return Remap{}, fmt.Errorf("remap input range is empty: [%g, %g]", v[0], v[1])
	}
	return Remap{InFrom: v[0], InTo: v[1], OutFrom: v[2], OutTo: v[3]}, nil
}

// DefaultRemap returns the remap constants of a channel: identity for the
// thumb, a widened band for the fingers.
func DefaultRemap(ch tof.Channel) Remap {
	if ch == tof.Thumb {
		return Remap{InFrom: 0, InTo: 1, OutFrom: 0, OutTo: 1}
	}
	return Remap{InFrom: -0.2, InTo: 1.5, OutFrom: -0.2, OutTo: 1}
}

// Predictor evaluates calibration curves held in a store.
type Predictor struct {
	store *calibration.Store
	remap [tof.NumChannels]Remap
}

// New returns a predictor over store using the default remap constants.
func New(store *calibration.Store) *Predictor {
	p := &Predictor{store: store}
	for _, ch := range tof.Channels() {
		p.remap[ch] = DefaultRemap(ch)
	}
	return p
}

// SetRemap overrides the remap constants of a channel.
func (p *Predictor) SetRemap(ch tof.Channel, r Remap) error {
	if !ch.Valid() {
		return fmt.Errorf("set remap: invalid channel %d", ch)
	}
	p.remap[ch] = r
	return nil
}

// Remap returns the remap constants of a channel, or the zero Remap for an
// unknown channel.
func (p *Predictor) Remap(ch tof.Channel) Remap {
	if !ch.Valid() {
		return Remap{}
	}
	return p.remap[ch]
}

// Predict returns the grasp value of reading at the current label. A channel
// without all four curves yields calibration.ErrIncompleteCalibration.
func (p *Predictor) Predict(ch tof.Channel, label, reading float64) (float64, error) {
	entry, err := p.store.Entry(ch)
	if err != nil {
		return 0, err
	}
	params := p.store.Params()

	power := regression.Evaluate(
		entry.Curve(calibration.Power, params.SegmentFor(calibration.Power, label)), label)
	plate := regression.Evaluate(
		entry.Curve(calibration.Plate, params.SegmentFor(calibration.Plate, label)), label)

	return Between(math.Max(power, 0), math.Max(plate, 0), reading, p.remap[ch]), nil
}

// Between places reading on the line from plate (0) to power (1), remaps
// it and clamps the result to [MinGrasp, MaxGrasp]. Undefined ratios such
// as coinciding curves give 0.
func Between(power, plate, reading float64, r Remap) float64 {
	percent := r.Apply((reading - plate) / (power - plate))
	if math.IsNaN(percent) || math.IsInf(percent, 0) {
		return 0
	}
	return math.Min(math.Max(percent, MinGrasp), MaxGrasp)
}
