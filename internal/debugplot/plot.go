// Package debugplot renders calibration sessions and live grasp traces for
// debugging: PNG files through gonum/plot and HTML charts through
// go-echarts.
package debugplot

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"path/filepath"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/grasp/internal/calibration"
	"github.com/banshee-data/grasp/internal/fsutil"
	"github.com/banshee-data/grasp/internal/regression"
)

var segmentColors = [calibration.NumSegments]color.Color{
	color.RGBA{R: 31, G: 119, B: 180, A: 255},
	color.RGBA{R: 214, G: 39, B: 40, A: 255},
}

// CalibrationPlot draws the collected samples of a session with the fitted
// curve of each segment over its own label range.
func CalibrationPlot(title string, labels, readings []float64, res calibration.Result, segmentPoint float64) (*plot.Plot, error) {
	if len(labels) != len(readings) {
		return nil, fmt.Errorf("plot %s: %d labels, %d readings", title, len(labels), len(readings))
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Label (graspness)"
	p.Y.Label.Text = "Smoothed reading"

	if len(labels) == 0 {
		return p, nil
	}

	pts := make(plotter.XYs, len(labels))
	for i := range labels {
		pts[i].X = labels[i]
		pts[i].Y = readings[i]
	}
	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return nil, err
	}
	scatter.GlyphStyle.Radius = vg.Points(1.5)
	scatter.GlyphStyle.Color = color.Gray{Y: 96}
	p.Add(scatter)
	p.Legend.Add("samples", scatter)

	xMin, xMax := floats.Min(labels), floats.Max(labels)
	ranges := [calibration.NumSegments][2]float64{{xMin, xMax}, {xMin, xMax}}
	if res.Segmented {
		ranges[0][1] = math.Min(segmentPoint, xMax)
		ranges[1][0] = math.Max(segmentPoint, xMin)
	}
	for seg, coeffs := range res.Segments {
		if len(coeffs) == 0 || (!res.Segmented && seg > 0) {
			continue
		}
		c := coeffs
		fn := plotter.NewFunction(func(x float64) float64 { return regression.Evaluate(c, x) })
		fn.XMin, fn.XMax = ranges[seg][0], ranges[seg][1]
		fn.Color = segmentColors[seg]
		fn.Width = vg.Points(1.5)
		p.Add(fn)
		p.Legend.Add(fmt.Sprintf("segment %d %.4g", seg, []float64(coeffs)), fn)
	}

	p.Legend.Top = true
	p.Legend.Left = true
	return p, nil
}

// WritePNG renders p as a PNG to w.
func WritePNG(w io.Writer, p *plot.Plot) error {
	wt, err := p.WriterTo(8*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// Recorder writes the samples of every fitted session to CSV and, when the
// fit succeeded, a PNG plot next to it.
type Recorder struct {
	mu     sync.Mutex
	fs     fsutil.FileSystem
	dir    string
	params calibration.Params
}

// NewRecorder records into dir on disk, creating it if needed.
func NewRecorder(dir string, params calibration.Params) (*Recorder, error) {
	return NewRecorderFS(fsutil.OSFileSystem{}, dir, params)
}

// NewRecorderFS records into dir on fsys.
func NewRecorderFS(fsys fsutil.FileSystem, dir string, params calibration.Params) (*Recorder, error) {
	if err := fsys.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create plot dir: %w", err)
	}
	return &Recorder{fs: fsys, dir: dir, params: params}, nil
}

// Paths returns the CSV and PNG files written for a session.
func (r *Recorder) Paths(s *calibration.Session) (csvPath, pngPath string) {
	id := s.ID
	if len(id) > 8 {
		id = id[:8]
	}
	base := fmt.Sprintf("%s_%s_%s_%s", s.StartedAt.Format("20060102_150405"), s.Channel, s.Mode, id)
	return filepath.Join(r.dir, base+".csv"), filepath.Join(r.dir, base+".png")
}

func (r *Recorder) create(path string, write func(io.Writer) error) error {
	f, err := r.fs.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// RecordFit implements hand.FitRecorder.
func (r *Recorder) RecordFit(s *calibration.Session, res calibration.Result, fitErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	csvPath, pngPath := r.Paths(s)
	header := fmt.Sprintf("%s %s", s.Channel, s.Mode)
	if err := r.create(csvPath, func(w io.Writer) error {
		return s.Samples().WriteCSV(w, header)
	}); err != nil {
		return err
	}
	if fitErr != nil {
		return nil
	}

	title := fmt.Sprintf("%s %s (kept %d, R² %.3f)", s.Channel, s.Mode, res.Kept, res.RSquared)
	p, err := CalibrationPlot(title, s.Samples().X(), s.Samples().Y(), res, r.params.SegmentPoint(s.Mode))
	if err != nil {
		return err
	}
	if err := r.create(pngPath, func(w io.Writer) error { return WritePNG(w, p) }); err != nil {
		return fmt.Errorf("save calibration plot: %w", err)
	}
	return nil
}
