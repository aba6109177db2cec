// Package hand drives the grasp pipeline: it conditions sensor frames,
// feeds active calibration sessions, commits fitted curves and predicts a
// grasp value for every calibrated channel.
package hand

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/grasp/internal/calibration"
	"github.com/banshee-data/grasp/internal/db"
	"github.com/banshee-data/grasp/internal/monitoring"
	"github.com/banshee-data/grasp/internal/predict"
	"github.com/banshee-data/grasp/internal/timeutil"
	"github.com/banshee-data/grasp/internal/tof"
)

var logf = monitoring.Prefixed("hand")

// ErrNoPersister is returned by save and load when no store is attached.
var ErrNoPersister = errors.New("no coefficient persister configured")

// Persister stores coefficients and finished sessions. *db.DB implements it.
type Persister interface {
	SaveCoefficients(ctx context.Context, t calibration.Table, at time.Time) (int, error)
	LoadCoefficients(ctx context.Context) (calibration.Table, error)
	RecordSession(ctx context.Context, rec db.SessionRecord, labels, readings []float64) error
}

// Sink receives every frame, e.g. for telemetry.
type Sink interface {
	Publish(f Frame) error
}

// Sinks fans a frame out to several sinks. Every sink is called; the
// errors are joined.
type Sinks []Sink

// Publish implements Sink.
func (s Sinks) Publish(f Frame) error {
	var errs []error
	for _, sink := range s {
		if err := sink.Publish(f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FitRecorder is told about every fitted session, e.g. to dump plots.
type FitRecorder interface {
	RecordFit(s *calibration.Session, res calibration.Result, err error) error
}

// Options configures a Hand. Zero values fall back to the defaults of the
// tof, calibration and predict packages.
type Options struct {
	Filter      *tof.FilterParams
	Calibration *calibration.Params
	// Capacity is the number of samples per calibration session.
	Capacity int
	Remap    map[tof.Channel]predict.Remap

	Persister Persister
	Sink      Sink
	Recorder  FitRecorder
	Clock     timeutil.Clock
	// Autosave writes the coefficient table after every committed fit.
	Autosave bool
}

// Hand owns the conditioner, the calibration store and the active
// sessions. Its methods are safe for concurrent use.
type Hand struct {
	cond      *tof.Conditioner
	store     *calibration.Store
	predictor *predict.Predictor
	capacity  int

	persist  Persister
	sink     Sink
	recorder FitRecorder
	clock    timeutil.Clock
	autosave bool

	mu       sync.Mutex
	labels   [tof.NumChannels]float64
	sessions [tof.NumChannels]*calibration.Session
	last     Frame
}

// New builds a Hand from opts.
func New(opts Options) (*Hand, error) {
	filter := tof.DefaultFilterParams()
	if opts.Filter != nil {
		filter = *opts.Filter
	}
	params := calibration.DefaultParams()
	if opts.Calibration != nil {
		params = *opts.Calibration
	}
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = calibration.DefaultCapacity
	}
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	store := calibration.NewStore(params)
	predictor := predict.New(store)
	for ch, r := range opts.Remap {
		if err := predictor.SetRemap(ch, r); err != nil {
			return nil, err
		}
	}

	return &Hand{
		cond:      tof.NewConditioner(filter),
		store:     store,
		predictor: predictor,
		capacity:  capacity,
		persist:   opts.Persister,
		sink:      opts.Sink,
		recorder:  opts.Recorder,
		clock:     clock,
		autosave:  opts.Autosave,
	}, nil
}

// Store exposes the calibration table.
func (h *Hand) Store() *calibration.Store { return h.store }

// Predictor exposes the grasp predictor.
func (h *Hand) Predictor() *predict.Predictor { return h.predictor }

// SetLabel sets the training label (graspness, 0..100) of a channel.
func (h *Hand) SetLabel(ch tof.Channel, label float64) error {
	if !ch.Valid() {
		return fmt.Errorf("set label: invalid channel %d", ch)
	}
	if math.IsNaN(label) || math.IsInf(label, 0) {
		return fmt.Errorf("set label: %s label %v is not finite", ch, label)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.labels[ch] = label
	return nil
}

// Label returns the current label of a channel.
func (h *Hand) Label(ch tof.Channel) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.labels[ch]
}

// StartSession starts collecting mode samples on each channel, replacing
// any session already running there.
func (h *Hand) StartSession(mode calibration.Mode, channels ...tof.Channel) ([]*calibration.Session, error) {
	if mode < 0 || mode >= calibration.NumModes {
		return nil, fmt.Errorf("start session: invalid mode %d", mode)
	}
	for _, ch := range channels {
		if !ch.Valid() {
			return nil, fmt.Errorf("start session: invalid channel %d", ch)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	started := make([]*calibration.Session, 0, len(channels))
	for _, ch := range channels {
		if old := h.sessions[ch]; old != nil {
			logf("%s %s session %s abandoned at %d samples", ch, old.Mode, old.ID, old.Samples().Len())
		}
		s := calibration.NewSession(ch, mode, h.capacity)
		s.StartedAt = h.clock.Now()
		h.sessions[ch] = s
		started = append(started, s)
	}
	return started, nil
}

// ActiveSessions returns the sessions still collecting, in channel order.
func (h *Hand) ActiveSessions() []*calibration.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*calibration.Session
	for _, s := range h.sessions {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Clear forgets every learned curve. Running sessions keep collecting.
func (h *Hand) Clear() {
	h.store.Clear()
	logf("coefficients cleared")
}

// SaveCoefficients writes the coefficient table to the persister.
func (h *Hand) SaveCoefficients(ctx context.Context) error {
	if h.persist == nil {
		return ErrNoPersister
	}
	n, err := h.persist.SaveCoefficients(ctx, h.store.Snapshot(), h.clock.Now())
	if err != nil {
		return fmt.Errorf("save coefficients: %w", err)
	}
	logf("coefficients saved (%d curves)", n)
	return nil
}

// LoadCoefficients replaces the coefficient table with the persisted one.
func (h *Hand) LoadCoefficients(ctx context.Context) error {
	if h.persist == nil {
		return ErrNoPersister
	}
	t, err := h.persist.LoadCoefficients(ctx)
	if err != nil {
		return fmt.Errorf("load coefficients: %w", err)
	}
	h.store.Load(t)
	for _, ch := range tof.Channels() {
		if h.store.Complete(ch) {
			logf("%s coefficients read", ch)
		}
	}
	return nil
}

// ExportText writes the coefficient table in the line-oriented text format.
func (h *Hand) ExportText(w io.Writer) error {
	return calibration.WriteText(w, h.store.Snapshot())
}

// ImportText reads a text coefficient file. Only modes with both segments
// present in the file are replaced; everything else is kept.
func (h *Hand) ImportText(r io.Reader) (int, error) {
	t, err := calibration.ReadText(r)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, ch := range tof.Channels() {
		for m := calibration.Mode(0); m < calibration.NumModes; m++ {
			segs := t[ch][m]
			if len(segs[0]) == 0 || len(segs[1]) == 0 {
				continue
			}
			if err := h.store.Set(ch, m, segs); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

// Last returns the most recent frame.
func (h *Hand) Last() Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// Tick processes one sensor frame. ok=false means the tick carried no new
// data: every channel holds its smoothed value and no samples are taken.
func (h *Hand) Tick(ctx context.Context, readings []float64, ok bool) Frame {
	smoothed := h.cond.Tick(readings, ok)
	frame := Frame{Time: h.clock.Now(), Fresh: ok}

	var finished []*calibration.Session
	h.mu.Lock()
	for _, ch := range tof.Channels() {
		st := ChannelState{
			Channel:  ch,
			Name:     ch.String(),
			Raw:      h.cond.Raw(ch),
			Smoothed: smoothed[ch],
			Changed:  h.cond.Changed(ch),
			Label:    h.labels[ch],
		}
		if s := h.sessions[ch]; s != nil {
			if st.Changed {
				full, err := s.Add(st.Label, st.Smoothed)
				if err != nil {
					logf("%s %s session %s: %v", ch, s.Mode, s.ID, err)
				}
				if full {
					finished = append(finished, s)
					h.sessions[ch] = nil
				}
			}
			st.Learning = s.Mode.String()
			st.Collected = s.Samples().Len()
		}
		frame.Channels[ch] = st
	}
	h.mu.Unlock()

	for _, s := range finished {
		frame.Events = append(frame.Events, h.finish(ctx, s))
	}

	for _, ch := range tof.Channels() {
		if !h.store.Complete(ch) {
			continue
		}
		st := &frame.Channels[ch]
		g, err := h.predictor.Predict(ch, st.Label, st.Smoothed)
		if err != nil {
			monitoring.Debugf("[hand] %s predict: %v", ch, err)
			continue
		}
		st.Grasp = g
		st.Calibrated = true
	}

	h.mu.Lock()
	h.last = frame
	h.mu.Unlock()

	if h.sink != nil {
		if err := h.sink.Publish(frame); err != nil {
			monitoring.Debugf("[hand] publish frame: %v", err)
		}
	}
	return frame
}

// finish fits a full session, commits the result and persists it.
func (h *Hand) finish(ctx context.Context, s *calibration.Session) SessionEvent {
	logf("%s %s data collection finished, learning...", s.Channel, s.Mode)
	ev := SessionEvent{SessionID: s.ID, Channel: s.Channel, Mode: s.Mode}

	res, err := s.Fit(h.store.Params())
	if err != nil {
		logf("%v", err)
	} else {
		logf("%s %s grasp learned, coeffs1 %v, coeffs2 %v (kept %d, r2 %.4f)",
			s.Channel, s.Mode, res.Segments[0], res.Segments[1], res.Kept, res.RSquared)
		adj, cerr := h.store.Commit(res)
		if cerr != nil {
			err = cerr
			logf("%s %s commit: %v", s.Channel, s.Mode, cerr)
		} else {
			ev.Adjustment = adj
			if adj.LeftScaled || adj.RightScaled {
				logf("%s coeffs adjusted (left root %.3f, right root %.3f)", s.Channel, adj.LeftRoot, adj.RightRoot)
			}
		}
	}
	ev.State = s.State()
	ev.Result = res
	ev.Err = err

	if h.recorder != nil {
		if rerr := h.recorder.RecordFit(s, res, err); rerr != nil {
			logf("record fit %s: %v", s.ID, rerr)
		}
	}
	if h.persist != nil {
		if perr := h.persist.RecordSession(ctx, sessionRecord(s, res, err, h.clock.Now()), s.Samples().X(), s.Samples().Y()); perr != nil {
			logf("persist session %s: %v", s.ID, perr)
		}
		if err == nil && h.autosave {
			if serr := h.SaveCoefficients(ctx); serr != nil {
				logf("%v", serr)
			}
		}
	}
	return ev
}

func sessionRecord(s *calibration.Session, res calibration.Result, err error, finished time.Time) db.SessionRecord {
	rec := db.SessionRecord{
		ID:         s.ID,
		Channel:    s.Channel.String(),
		Mode:       s.Mode.String(),
		State:      s.State().String(),
		StartedAt:  s.StartedAt,
		FinishedAt: finished,
		Kept:       res.Kept,
		RSquared:   res.RSquared,
	}
	if err != nil {
		rec.Err = err.Error()
	}
	return rec
}
