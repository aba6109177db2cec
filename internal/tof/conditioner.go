package tof

import (
	"math"
	"sync"
)

// FilterParams tunes the smoothing filter and glitch rejection.
type FilterParams struct {
	// SmoothingFactor is the weight of the previous output in the
	// exponential filter.
	SmoothingFactor float64
	// NoiseFloor is the largest per-tick fluctuation still considered
	// resting noise.
	NoiseFloor float64
	// StepSize is the fluctuation above which a small step counts towards
	// sustained movement.
	StepSize float64
	// MaxGlitchSteps is the number of consecutive same-direction steps
	// after which the output is released from its anchor.
	MaxGlitchSteps float64
}

// DefaultFilterParams returns the filter tuning used by the sensor board.
func DefaultFilterParams() FilterParams {
	return FilterParams{
		SmoothingFactor: 0.56,
		NoiseFloor:      2,
		StepSize:        1,
		MaxGlitchSteps:  3,
	}
}

// FilterState is the per-channel memory of the conditioner.
type FilterState struct {
	// Cache is the last smoothed output.
	Cache float64
	// Movement counts consecutive small steps, signed by direction.
	Movement float64
}

// Conditioner smooths raw readings per channel and rejects single-tick
// glitches while letting sustained drift through. A channel outside
// Thumb..Pinky carries no state: writes to it are ignored and reads yield
// zero values.
type Conditioner struct {
	mu      sync.Mutex
	params  FilterParams
	state   [NumChannels]FilterState
	raw     [NumChannels]float64
	changed [NumChannels]bool
}

// NewConditioner creates a conditioner with all channels at zero.
func NewConditioner(params FilterParams) *Conditioner {
	return &Conditioner{params: params}
}

// Prime sets the cached output of a channel, e.g. to resume from a known
// resting reading.
func (c *Conditioner) Prime(ch Channel, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !ch.Valid() {
		return
	}
	c.state[ch] = FilterState{Cache: value}
}

// State returns a copy of the filter state of a channel.
func (c *Conditioner) State(ch Channel) FilterState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !ch.Valid() {
		return FilterState{}
	}
	return c.state[ch]
}

// Raw returns the last unfiltered reading of a channel.
func (c *Conditioner) Raw(ch Channel) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !ch.Valid() {
		return 0
	}
	return c.raw[ch]
}

// Changed reports whether the last raw reading of a channel differed from
// the output cached before it arrived.
func (c *Conditioner) Changed(ch Channel) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !ch.Valid() {
		return false
	}
	return c.changed[ch]
}

// Condition feeds one new raw reading for a channel and returns the
// smoothed output.
func (c *Conditioner) Condition(ch Channel, raw float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !ch.Valid() {
		return 0
	}
	return c.condition(ch, raw)
}

// Hold handles a tick without new data: the cached output is returned and
// no state changes.
func (c *Conditioner) Hold(ch Channel) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !ch.Valid() {
		return 0
	}
	c.changed[ch] = false
	return c.state[ch].Cache
}

// Tick conditions one reading per channel. When ok is false the tick
// carried no new data and every channel holds its cached value. Channels
// missing from a short readings slice are fed 0.
func (c *Conditioner) Tick(readings []float64, ok bool) []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]float64, NumChannels)
	for i := range out {
		if !ok {
			c.changed[i] = false
			out[i] = c.state[i].Cache
			continue
		}
		var raw float64
		if i < len(readings) {
			raw = readings[i]
		}
		out[i] = c.condition(Channel(i), raw)
	}
	return out
}

func (c *Conditioner) condition(ch Channel, raw float64) float64 {
	st := &c.state[ch]
	c.raw[ch] = raw
	c.changed[ch] = !approximately(raw, st.Cache)

	k := c.params.SmoothingFactor
	filtered := k*st.Cache + (1-k)*raw
	out := c.removeGlitch(st, filtered)
	st.Cache = out
	return out
}

// removeGlitch anchors small fluctuations to the previous output until
// they have stepped in the same direction MaxGlitchSteps times.
func (c *Conditioner) removeGlitch(st *FilterState, filtered float64) float64 {
	fluc := filtered - st.Cache
	absFluc := math.Abs(fluc)
	negative := fluc < 0
	mvmt := st.Movement

	if absFluc < c.params.NoiseFloor {
		if math.Abs(mvmt) < c.params.MaxGlitchSteps {
			filtered = st.Cache
			if absFluc > c.params.StepSize {
				if negative {
					mvmt--
				} else {
					mvmt++
				}
			}
		} else {
			// released: hold the count until the direction flips
			switch {
			case mvmt < 0 && !negative:
				mvmt = 0
			case mvmt > 0 && negative:
				mvmt = 0
			}
		}
	}
	st.Movement = mvmt
	return filtered
}

// approximately compares two readings with single-precision tolerance.
func approximately(a, b float64) bool {
	const eps = 1.1920929e-07
	tol := math.Max(1e-6*math.Max(math.Abs(a), math.Abs(b)), eps*8)
	return math.Abs(b-a) < tol
}
