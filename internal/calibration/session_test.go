package calibration

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/grasp/internal/monitoring"
	"github.com/banshee-data/grasp/internal/regression"
	"github.com/banshee-data/grasp/internal/tof"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

// fillLinear feeds a session with reading = 50 + 0.5·label + noise.
func fillLinear(t *testing.T, s *Session, seed int64, outliers map[int]float64) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	n := s.Samples().Cap()
	for i := 0; i < n; i++ {
		label := 100 * float64(i) / float64(n-1)
		reading := 50 + 0.5*label + rng.NormFloat64()
		reading += outliers[i]
		full, err := s.Add(label, reading)
		require.NoError(t, err)
		assert.Equal(t, i == n-1, full)
	}
}

func TestSession_EndToEnd(t *testing.T) {
	t.Parallel()
	s := NewSession(tof.Index, Power, DefaultCapacity)
	require.NotEmpty(t, s.ID)
	assert.Equal(t, Collecting, s.State())

	fillLinear(t, s, 42, map[int]float64{10: 40, 75: -35, 150: 60})

	res, err := s.Fit(DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, Done, s.State())
	assert.Equal(t, tof.Index, res.Channel)
	assert.Equal(t, Power, res.Mode)
	assert.True(t, res.Segmented)
	assert.LessOrEqual(t, res.Kept, DefaultCapacity-3, "gross outliers must be dropped")
	assert.Greater(t, res.RSquared, 0.9)

	for seg, c := range res.Segments {
		require.Len(t, c, 2, "segment %d", seg)
		assert.InEpsilon(t, 0.5, c[1], 0.1, "segment %d slope", seg)
		assert.InDelta(t, 50, c[0], 5, "segment %d intercept", seg)
	}

	_, err = s.Add(1, 1)
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = s.Fit(DefaultParams())
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSession_FitBeforeFull(t *testing.T) {
	t.Parallel()
	s := NewSession(tof.Middle, Plate, 10)
	_, err := s.Add(1, 2)
	require.NoError(t, err)

	_, err = s.Fit(DefaultParams())
	assert.Error(t, err)
	assert.Equal(t, Collecting, s.State())
}

func TestSession_DegenerateFails(t *testing.T) {
	t.Parallel()
	s := NewSession(tof.Ring, Plate, 20)
	for i := 0; i < 20; i++ {
		_, err := s.Add(30, float64(i))
		require.NoError(t, err)
	}

	_, err := s.Fit(DefaultParams())
	assert.ErrorIs(t, err, regression.ErrDegenerateFit)
	assert.Equal(t, Failed, s.State())
	assert.ErrorIs(t, s.Err(), regression.ErrDegenerateFit)
}

func TestSession_UnsegmentedSharesCoefficients(t *testing.T) {
	t.Parallel()
	// labels never reach the segment point, so the split is rejected
	s := NewSession(tof.Pinky, Power, 60)
	for i := 0; i < 60; i++ {
		label := float64(i) / 2
		_, err := s.Add(label, 10+2*label)
		require.NoError(t, err)
	}

	res, err := s.Fit(DefaultParams())
	require.NoError(t, err)
	assert.False(t, res.Segmented)
	assert.Equal(t, res.Segments[0], res.Segments[1])
	assert.InDelta(t, 2, res.Segments[0][1], 1e-6)
}

func TestSession_SimplifiedChannel(t *testing.T) {
	t.Parallel()
	s := NewSession(tof.Thumb, Power, 50)
	for i := 0; i < 50; i++ {
		x := 2 * float64(i)
		_, err := s.Add(x, 120-0.8*x+0.003*x*x)
		require.NoError(t, err)
	}

	res, err := s.Fit(DefaultParams())
	require.NoError(t, err)
	require.Len(t, res.Segments[0], 3)
	assert.Equal(t, res.Segments[0], res.Segments[1])
	assert.InDelta(t, 120, res.Segments[0][0], 1e-6)
	assert.InDelta(t, -0.8, res.Segments[0][1], 1e-6)
	assert.InDelta(t, 0.003, res.Segments[0][2], 1e-6)
	assert.Equal(t, 50, res.Kept)

	// segments must not alias each other
	res.Segments[1][0] = 0
	assert.NotEqual(t, res.Segments[0][0], res.Segments[1][0])
}

func TestParseMode(t *testing.T) {
	t.Parallel()
	m, err := ParseMode("POWER")
	require.NoError(t, err)
	assert.Equal(t, Power, m)
	m, err = ParseMode("plate")
	require.NoError(t, err)
	assert.Equal(t, Plate, m)
	_, err = ParseMode("pinch")
	assert.Error(t, err)

	p := DefaultParams()
	assert.Equal(t, 0, p.SegmentFor(Power, 39.9))
	assert.Equal(t, 1, p.SegmentFor(Power, 40))
	assert.Equal(t, "failed", Failed.String())
}
