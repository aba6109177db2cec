package debugplot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/grasp/internal/calibration"
	"github.com/banshee-data/grasp/internal/hand"
	"github.com/banshee-data/grasp/internal/httputil"
	"github.com/banshee-data/grasp/internal/regression"
	"github.com/banshee-data/grasp/internal/tof"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// DefaultHistory is the number of frames kept for the live chart.
const DefaultHistory = 500

// History keeps the most recent frames in a ring buffer. It implements
// hand.Sink.
type History struct {
	mu     sync.Mutex
	frames []hand.Frame
	next   int
	full   bool
}

// NewHistory returns a history holding up to n frames.
func NewHistory(n int) *History {
	if n <= 0 {
		n = DefaultHistory
	}
	return &History{frames: make([]hand.Frame, n)}
}

// Publish records f, overwriting the oldest frame when full.
func (h *History) Publish(f hand.Frame) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames[h.next] = f
	h.next = (h.next + 1) % len(h.frames)
	if h.next == 0 {
		h.full = true
	}
	return nil
}

// Frames returns the recorded frames, oldest first.
func (h *History) Frames() []hand.Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.full {
		return append([]hand.Frame(nil), h.frames[:h.next]...)
	}
	out := make([]hand.Frame, 0, len(h.frames))
	out = append(out, h.frames[h.next:]...)
	return append(out, h.frames[:h.next]...)
}

// SampleSource looks up the stored samples of a calibration session.
// *db.DB implements it.
type SampleSource interface {
	SessionSamples(ctx context.Context, id string) (labels, readings []float64, err error)
}

// CurveSource returns the current calibration curves.
type CurveSource interface {
	Snapshot() calibration.Table
	Params() calibration.Params
}

// GraspChart renders the recorded frames as one line per channel. With
// smoothed set it plots the smoothed readings instead of the grasp values.
func GraspChart(frames []hand.Frame, smoothed bool) *charts.Line {
	x := make([]string, len(frames))
	series := make([][]opts.LineData, tof.NumChannels)
	for i, f := range frames {
		x[i] = f.Time.Format("15:04:05.000")
		for ch, st := range f.Channels {
			v := st.Grasp
			if smoothed {
				v = st.Smoothed
			} else if !st.Calibrated {
				series[ch] = append(series[ch], opts.LineData{Value: "-"})
				continue
			}
			series[ch] = append(series[ch], opts.LineData{Value: v})
		}
	}

	title := "Grasp"
	if smoothed {
		title = "Smoothed readings"
	}
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Grasp", Width: "100%", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("frames=%d", len(frames))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
	)
	line.SetXAxis(x)
	for _, ch := range tof.Channels() {
		line.AddSeries(ch.String(), series[ch], charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	}
	return line
}

// SessionChart renders the samples of one session with the curves of its
// channel and mode, each drawn over its segment of the operating domain.
func SessionChart(title string, labels, readings []float64, curves [calibration.NumSegments]regression.Coefficients, p calibration.Params, mode calibration.Mode) *charts.Scatter {
	samples := make([]opts.ScatterData, len(labels))
	for i := range labels {
		samples[i] = opts.ScatterData{Value: []interface{}{labels[i], readings[i]}}
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "900px", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("samples=%d", len(labels))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "Label", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "Reading", NameLocation: "middle", NameGap: 40}),
	)
	scatter.AddSeries("samples", samples, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))

	for seg, c := range curves {
		if len(c) == 0 {
			continue
		}
		lo, hi := p.IntersectionLeft, p.SegmentPoint(mode)
		if seg == 1 {
			lo, hi = p.SegmentPoint(mode), p.IntersectionRight
		}
		var pts []opts.ScatterData
		for x := lo; x <= hi; x++ {
			pts = append(pts, opts.ScatterData{Value: []interface{}{x, regression.Evaluate(c, x)}})
		}
		scatter.AddSeries(fmt.Sprintf("segment %d", seg), pts, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 2}))
	}
	return scatter
}

// Charts serves the go-echarts debug pages.
type Charts struct {
	History *History
	Samples SampleSource
	Curves  CurveSource
}

// AttachAdminRoutes registers the chart pages on mux.
func (c *Charts) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("grasp-chart", "live grasp chart (?smoothed=1 for readings)", func(w http.ResponseWriter, r *http.Request) {
		smoothed, _ := strconv.ParseBool(r.URL.Query().Get("smoothed"))
		var frames []hand.Frame
		if c.History != nil {
			frames = c.History.Frames()
		}
		httputil.WriteHTML(w, GraspChart(frames, smoothed))
	})

	// ?id=<session>&channel=<name>&mode=<power|plate>
	debug.HandleSilentFunc("session-chart", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		id := q.Get("id")
		if id == "" || c.Samples == nil {
			httputil.BadRequest(w, errors.New("missing session id"))
			return
		}
		labels, readings, err := c.Samples.SessionSamples(r.Context(), id)
		if err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if len(labels) == 0 {
			httputil.WriteError(w, http.StatusNotFound, "no samples for session "+id)
			return
		}

		var (
			curves [calibration.NumSegments]regression.Coefficients
			params = calibration.DefaultParams()
		)
		ch, chErr := tof.ParseChannel(q.Get("channel"))
		mode, modeErr := calibration.ParseMode(q.Get("mode"))
		if chErr == nil && modeErr == nil && c.Curves != nil {
			curves = c.Curves.Snapshot()[ch][mode]
			params = c.Curves.Params()
		}

		httputil.WriteHTML(w, SessionChart("Session "+id, labels, readings, curves, params, mode))
	})
}
