package hand

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/grasp/internal/calibration"
	"github.com/banshee-data/grasp/internal/db"
	"github.com/banshee-data/grasp/internal/monitoring"
	"github.com/banshee-data/grasp/internal/predict"
	"github.com/banshee-data/grasp/internal/regression"
	"github.com/banshee-data/grasp/internal/timeutil"
	"github.com/banshee-data/grasp/internal/tof"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

type fakePersister struct {
	mu       sync.Mutex
	saved    []calibration.Table
	table    calibration.Table
	sessions []db.SessionRecord
	samples  map[string]int
	err      error
}

func (p *fakePersister) SaveCoefficients(_ context.Context, t calibration.Table, _ time.Time) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return 0, p.err
	}
	p.saved = append(p.saved, t)
	return len(p.saved), nil
}

func (p *fakePersister) LoadCoefficients(context.Context) (calibration.Table, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.table, p.err
}

func (p *fakePersister) RecordSession(_ context.Context, rec db.SessionRecord, labels, _ []float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.samples == nil {
		p.samples = make(map[string]int)
	}
	p.sessions = append(p.sessions, rec)
	p.samples[rec.ID] = len(labels)
	return nil
}

type fakeSink struct {
	mu     sync.Mutex
	frames []Frame
}

func (s *fakeSink) Publish(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return nil
}

type fakeRecorder struct {
	fits []string
}

func (r *fakeRecorder) RecordFit(s *calibration.Session, _ calibration.Result, _ error) error {
	r.fits = append(r.fits, s.ID)
	return nil
}

func flat(v float64) [calibration.NumSegments]regression.Coefficients {
	return [calibration.NumSegments]regression.Coefficients{{v, 0}, {v, 0}}
}

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestHand(t *testing.T, opts Options) *Hand {
	t.Helper()
	if opts.Clock == nil {
		opts.Clock = timeutil.NewMockClock(epoch)
	}
	h, err := New(opts)
	require.NoError(t, err)
	return h
}

func TestTick_Uncalibrated(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	h := newTestHand(t, Options{Sink: sink})

	f := h.Tick(context.Background(), []float64{10, 20, 30, 40, 50}, true)
	assert.True(t, f.Fresh)
	assert.True(t, f.Time.Equal(epoch))
	for _, ch := range tof.Channels() {
		st := f.Channels[ch]
		assert.Equal(t, ch.String(), st.Name)
		assert.False(t, st.Calibrated)
		assert.True(t, st.Changed)
		assert.Greater(t, st.Smoothed, 0.0)
	}
	assert.Equal(t, 30.0, f.Channels[tof.Middle].Raw)

	held := h.Tick(context.Background(), nil, false)
	assert.False(t, held.Fresh)
	assert.Equal(t, f.Channels[tof.Ring].Smoothed, held.Channels[tof.Ring].Smoothed)
	assert.False(t, held.Channels[tof.Ring].Changed)

	require.Len(t, sink.frames, 2)
	assert.Equal(t, held, h.Last())
}

func TestTick_Predicts(t *testing.T) {
	t.Parallel()
	h := newTestHand(t, Options{})
	require.NoError(t, h.Store().Set(tof.Thumb, calibration.Power, flat(100)))
	require.NoError(t, h.Store().Set(tof.Thumb, calibration.Plate, flat(20)))
	h.cond.Prime(tof.Thumb, 60)
	require.NoError(t, h.SetLabel(tof.Thumb, 30))

	f := h.Tick(context.Background(), []float64{60, 0, 0, 0, 0}, true)
	thumb := f.Channels[tof.Thumb]
	assert.True(t, thumb.Calibrated)
	assert.Equal(t, 30.0, thumb.Label)
	assert.InDelta(t, 0.5, thumb.Grasp, 1e-9)
	assert.False(t, f.Channels[tof.Index].Calibrated)
}

func TestTick_SessionLifecycle(t *testing.T) {
	t.Parallel()
	persist := &fakePersister{}
	rec := &fakeRecorder{}
	h := newTestHand(t, Options{Capacity: 20, Persister: persist, Recorder: rec, Autosave: true})
	ctx := context.Background()

	require.NoError(t, h.Command(ctx, "j"))
	active := h.ActiveSessions()
	require.Len(t, active, 2)
	assert.Equal(t, tof.Index, active[0].Channel)
	assert.Equal(t, tof.Middle, active[1].Channel)

	h.cond.Prime(tof.Index, 20)
	h.cond.Prime(tof.Middle, 20)
	var last Frame
	for i := 0; i < 20; i++ {
		label := float64(i * 5)
		require.NoError(t, h.SetLabel(tof.Index, label))
		require.NoError(t, h.SetLabel(tof.Middle, label))
		v := 30 + 5*float64(i)
		last = h.Tick(ctx, []float64{0, v, v, 0, 0}, true)
		if i < 19 {
			assert.Empty(t, last.Events, "tick %d", i)
			assert.Equal(t, "Power", last.Channels[tof.Index].Learning)
			assert.Equal(t, i+1, last.Channels[tof.Index].Collected)
		}
	}

	require.Len(t, last.Events, 2)
	for _, ev := range last.Events {
		require.NoError(t, ev.Err)
		assert.Equal(t, calibration.Done, ev.State)
		assert.Equal(t, calibration.Power, ev.Mode)
		_, err := h.Store().Get(ev.Channel, calibration.Power, 0)
		assert.NoError(t, err)
	}
	assert.Empty(t, h.ActiveSessions())
	assert.Len(t, rec.fits, 2)

	persist.mu.Lock()
	defer persist.mu.Unlock()
	require.Len(t, persist.sessions, 2)
	assert.Equal(t, "INDEX", persist.sessions[0].Channel)
	assert.Equal(t, "done", persist.sessions[0].State)
	assert.Equal(t, 20, persist.samples[persist.sessions[0].ID])
	assert.Len(t, persist.saved, 2, "autosave after each commit")

	// no new samples once the session has finished
	f := h.Tick(ctx, []float64{0, 500, 500, 0, 0}, true)
	assert.Empty(t, f.Events)
	assert.Empty(t, f.Channels[tof.Index].Learning)
}

func TestTick_UnchangedReadingsAreNotCollected(t *testing.T) {
	t.Parallel()
	h := newTestHand(t, Options{Capacity: 5})
	_, err := h.StartSession(calibration.Plate, tof.Thumb)
	require.NoError(t, err)

	h.cond.Prime(tof.Thumb, 42)
	for i := 0; i < 20; i++ {
		h.Tick(context.Background(), []float64{42}, true)
	}
	h.Tick(context.Background(), nil, false)

	active := h.ActiveSessions()
	require.Len(t, active, 1)
	assert.Equal(t, 0, active[0].Samples().Len())
}

func TestTick_FailedFitLeavesStoreEmpty(t *testing.T) {
	t.Parallel()
	persist := &fakePersister{}
	h := newTestHand(t, Options{Capacity: 8, Persister: persist})
	_, err := h.StartSession(calibration.Power, tof.Ring)
	require.NoError(t, err)

	// a constant label cannot be fitted
	require.NoError(t, h.SetLabel(tof.Ring, 50))
	var last Frame
	for i := 0; i < 8; i++ {
		v := 20 + 10*float64(i)
		last = h.Tick(context.Background(), []float64{0, 0, 0, v, 0}, true)
	}

	require.Len(t, last.Events, 1)
	ev := last.Events[0]
	assert.Equal(t, calibration.Failed, ev.State)
	assert.ErrorIs(t, ev.Err, regression.ErrDegenerateFit)
	assert.False(t, h.Store().Complete(tof.Ring))
	_, err = h.Store().Get(tof.Ring, calibration.Power, 0)
	assert.ErrorIs(t, err, calibration.ErrIncompleteCalibration)

	require.Len(t, persist.sessions, 1)
	assert.Equal(t, "failed", persist.sessions[0].State)
	assert.NotEmpty(t, persist.sessions[0].Err)
	assert.Empty(t, persist.saved)
}

func TestStartSession_Validation(t *testing.T) {
	t.Parallel()
	h := newTestHand(t, Options{})
	_, err := h.StartSession(calibration.Mode(3), tof.Index)
	assert.Error(t, err)
	_, err = h.StartSession(calibration.Power, tof.Channel(8))
	assert.Error(t, err)
	assert.Error(t, h.SetLabel(tof.Channel(-1), 1))
	require.NoError(t, h.SetLabel(tof.Index, 12))
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		assert.Error(t, h.SetLabel(tof.Index, v))
	}
	assert.Equal(t, 12.0, h.Label(tof.Index))

	first, err := h.StartSession(calibration.Power, tof.Pinky)
	require.NoError(t, err)
	second, err := h.StartSession(calibration.Plate, tof.Pinky)
	require.NoError(t, err)
	active := h.ActiveSessions()
	require.Len(t, active, 1)
	assert.Equal(t, second[0].ID, active[0].ID)
	assert.NotEqual(t, first[0].ID, active[0].ID)
	assert.True(t, active[0].StartedAt.Equal(epoch))
}

func TestNew_Remap(t *testing.T) {
	t.Parallel()
	r := predict.Remap{InFrom: 0, InTo: 2, OutFrom: 0, OutTo: 1}
	h := newTestHand(t, Options{Remap: map[tof.Channel]predict.Remap{tof.Ring: r}})
	assert.Equal(t, r, h.Predictor().Remap(tof.Ring))

	_, err := New(Options{Remap: map[tof.Channel]predict.Remap{tof.Channel(6): r}})
	assert.Error(t, err)
}

func TestCommands(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	bare := newTestHand(t, Options{})
	assert.ErrorIs(t, bare.Command(ctx, "s"), ErrNoPersister)
	assert.ErrorIs(t, bare.Command(ctx, "a"), ErrNoPersister)
	assert.Error(t, bare.Command(ctx, "z"))

	persist := &fakePersister{}
	persist.table[tof.Middle][calibration.Power] = flat(90)
	persist.table[tof.Middle][calibration.Plate] = flat(10)
	h := newTestHand(t, Options{Persister: persist})

	require.NoError(t, h.Command(ctx, "A"))
	assert.True(t, h.Store().Complete(tof.Middle))

	require.NoError(t, h.Command(ctx, " s "))
	require.Len(t, persist.saved, 1)
	assert.Equal(t, persist.table, persist.saved[0])

	require.NoError(t, h.Command(ctx, "c"))
	assert.False(t, h.Store().Complete(tof.Middle))

	require.NoError(t, h.Command(ctx, "m"))
	active := h.ActiveSessions()
	require.Len(t, active, 1)
	assert.Equal(t, tof.Thumb, active[0].Channel)
	assert.Equal(t, calibration.Plate, active[0].Mode)

	require.NoError(t, h.Command(ctx, "k"))
	assert.Len(t, h.ActiveSessions(), 3)

	persist.err = errors.New("disk full")
	assert.ErrorContains(t, h.Command(ctx, "s"), "disk full")

	help := CommandHelp()
	require.Len(t, help, 7)
	assert.True(t, strings.HasPrefix(help[0], "a "))
}

func TestImportExportText(t *testing.T) {
	t.Parallel()
	src := newTestHand(t, Options{})
	require.NoError(t, src.Store().Set(tof.Ring, calibration.Power, flat(70)))
	require.NoError(t, src.Store().Set(tof.Ring, calibration.Plate, flat(15)))

	var buf strings.Builder
	require.NoError(t, src.ExportText(&buf))

	dst := newTestHand(t, Options{})
	require.NoError(t, dst.Store().Set(tof.Index, calibration.Power, flat(33)))
	n, err := dst.ImportText(strings.NewReader(buf.String()))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, dst.Store().Complete(tof.Ring))

	// slots the file leaves empty are kept
	got, err := dst.Store().Get(tof.Index, calibration.Power, 0)
	require.NoError(t, err)
	assert.Equal(t, regression.Coefficients{33, 0}, got)

	_, err = dst.ImportText(strings.NewReader("RING\n1,2\n"))
	assert.Error(t, err)

	n, err = dst.ImportText(strings.NewReader("INDEX\nNaN,1\n1,1\n2,Inf\n2,1\n"))
	assert.ErrorContains(t, err, "line 2")
	assert.Zero(t, n)
	got, err = dst.Store().Get(tof.Index, calibration.Power, 0)
	require.NoError(t, err)
	assert.Equal(t, regression.Coefficients{33, 0}, got)
}

type countingSource struct {
	mu    sync.Mutex
	takes int
}

func (s *countingSource) Take() ([]float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.takes++
	return []float64{1, 2, 3, 4, 5}, true
}

func (s *countingSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.takes
}

func TestRun(t *testing.T) {
	t.Parallel()
	clock := timeutil.NewMockClock(epoch)
	h := newTestHand(t, Options{Clock: clock})
	src := &countingSource{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx, 20*time.Millisecond, src) }()

	require.Eventually(t, func() bool { return clock.Tickers() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, src.count())

	clock.Advance(20 * time.Millisecond)
	require.Eventually(t, func() bool { return src.count() == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return h.Last().Fresh }, time.Second, time.Millisecond)
	assert.True(t, h.Last().Time.Equal(epoch.Add(20*time.Millisecond)))

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

type failingSink struct{}

func (failingSink) Publish(Frame) error { return errors.New("sink down") }

func TestSinks(t *testing.T) {
	t.Parallel()
	a, b := &fakeSink{}, &fakeSink{}
	h := newTestHand(t, Options{Sink: Sinks{a, failingSink{}, b}})
	h.Tick(context.Background(), []float64{1, 2, 3, 4, 5}, true)
	assert.Len(t, a.frames, 1)
	assert.Len(t, b.frames, 1)

	assert.ErrorContains(t, Sinks{failingSink{}, a}.Publish(Frame{}), "sink down")
	assert.NoError(t, Sinks{}.Publish(Frame{}))
}
