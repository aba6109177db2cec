package collector

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// linearSet returns n rows with labels spread evenly over [0, 100].
func linearSet(t *testing.T, n int) *SampleSet {
	t.Helper()
	s := New(n)
	for i := 0; i < n; i++ {
		x := 100 * float64(i) / float64(n-1)
		require.NoError(t, s.Append(x, 2*x+1))
	}
	return s
}

func TestSampleSet_AppendUntilFull(t *testing.T) {
	t.Parallel()
	s := New(3)
	assert.False(t, s.IsFull())
	require.NoError(t, s.Append(1, 10))
	require.NoError(t, s.Append(2, 20))
	require.NoError(t, s.Append(3, 30))
	assert.True(t, s.IsFull())
	assert.ErrorIs(t, s.Append(4, 40), ErrFull)

	assert.Equal(t, 3, s.Len())
	assert.Equal(t, 3, s.Cap())
	assert.Equal(t, []float64{1, 2, 3}, s.X())
	assert.Equal(t, []float64{10, 20, 30}, s.Y())

	// copies do not alias the columns
	x := s.X()
	x[0] = 99
	assert.Equal(t, 1.0, s.X()[0])
}

func TestFromColumns(t *testing.T) {
	t.Parallel()
	s, err := FromColumns([]float64{1, 2}, []float64{3, 4})
	require.NoError(t, err)
	assert.True(t, s.IsFull())

	_, err = FromColumns([]float64{1}, nil)
	assert.Error(t, err)
}

func TestRemoveAboveThreshold(t *testing.T) {
	t.Parallel()
	s, err := FromColumns([]float64{0, 1, 2, 3, 4}, []float64{10, 11, 12, 13, 14})
	require.NoError(t, err)
	ref := []float64{0.1, 5, 0.2, 3, 0.3}

	once, err := s.RemoveAboveThreshold(2, ref)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 2, 4}, once.X())
	assert.Equal(t, []float64{10, 12, 14}, once.Y())

	again, err := s.RemoveAboveThreshold(2, ref)
	require.NoError(t, err)
	if diff := cmp.Diff(once.X(), again.X()); diff != "" {
		t.Errorf("labels differ on repeat (-once +again):\n%s", diff)
	}
	if diff := cmp.Diff(once.Y(), again.Y()); diff != "" {
		t.Errorf("readings differ on repeat (-once +again):\n%s", diff)
	}

	// the kept rows pass the same threshold again unchanged
	twice, err := once.RemoveAboveThreshold(2, []float64{0.1, 0.2, 0.3})
	require.NoError(t, err)
	assert.Equal(t, once.X(), twice.X())

	assert.Equal(t, 5, s.Len(), "original must be untouched")

	_, err = s.RemoveAboveThreshold(2, ref[:2])
	assert.Error(t, err)
}

func TestSegment_Balanced(t *testing.T) {
	t.Parallel()
	s := linearSet(t, 100)

	below, above, ok, err := s.Segment(50)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 100, below.Len()+above.Len())
	assert.GreaterOrEqual(t, below.Len(), 25)
	assert.GreaterOrEqual(t, above.Len(), 25)
	for _, x := range below.X() {
		assert.Less(t, x, 50.0)
	}
	for _, x := range above.X() {
		assert.GreaterOrEqual(t, x, 50.0)
	}
	// row order is preserved within each half
	bx := below.X()
	for i := 1; i < len(bx); i++ {
		assert.Less(t, bx[i-1], bx[i])
	}
}

func TestSegment_TooCloseToEdge(t *testing.T) {
	t.Parallel()
	s := linearSet(t, 100)

	below, above, ok, err := s.Segment(5)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, s.X(), below.X())
	assert.Equal(t, s.Y(), below.Y())
	assert.Equal(t, 0, above.Len())
}

func TestSegment_Unbalanced(t *testing.T) {
	t.Parallel()
	// labels span [0, 100] but almost every row sits above 40
	s := New(20)
	require.NoError(t, s.Append(0, 1))
	require.NoError(t, s.Append(10, 1))
	for i := 0; i < 17; i++ {
		require.NoError(t, s.Append(60+float64(i)*2, 1))
	}
	require.NoError(t, s.Append(100, 1))

	_, above, ok, err := s.Segment(40)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, above.Len())
}

func TestSegment_Empty(t *testing.T) {
	t.Parallel()
	_, _, _, err := New(10).Segment(40)
	assert.ErrorIs(t, err, ErrInvalidSegment)
}

func TestWriteCSV(t *testing.T) {
	t.Parallel()
	s, err := FromColumns([]float64{0, 12.5}, []float64{100, 98.25})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, s.WriteCSV(&buf, "INDEX Power"))
	assert.Equal(t, "INDEX Power\n0,100\n12.5,98.25\n", buf.String())
}
