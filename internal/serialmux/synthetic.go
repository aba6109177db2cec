package serialmux

import (
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"
)

// SyntheticPort is a read-only port that emits a sensor frame for every
// channel at a fixed interval. cmd/grasp uses it with --fake-serial to run
// without hardware. Each channel sweeps a slow sine between 20 and 120 mm,
// phase shifted per channel.
type SyntheticPort struct {
	r    *io.PipeReader
	w    *io.PipeWriter
	stop chan struct{}
	once sync.Once
}

// NewSyntheticPort starts emitting frames of n channels every interval.
func NewSyntheticPort(n int, interval time.Duration) *SyntheticPort {
	r, w := io.Pipe()
	p := &SyntheticPort{r: r, w: w, stop: make(chan struct{})}
	go p.run(n, interval)
	return p
}

func (p *SyntheticPort) run(n int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer p.w.Close()
	for i := 0; ; i++ {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
		}
		if _, err := io.WriteString(p.w, SyntheticFrame(n, i)+"\n"); err != nil {
			return
		}
	}
}

// SyntheticFrame renders the i-th synthetic frame of n channels.
func SyntheticFrame(n, i int) string {
	fields := make([]string, n)
	for ch := range fields {
		phase := float64(i)/50 + float64(ch)*math.Pi/float64(n)
		fields[ch] = fmt.Sprintf("%.1f", 70+50*math.Sin(phase))
	}
	return strings.Join(fields, ",")
}

func (p *SyntheticPort) Read(b []byte) (int, error) { return p.r.Read(b) }

// Write discards commands.
func (p *SyntheticPort) Write(b []byte) (int, error) { return len(b), nil }

func (p *SyntheticPort) Close() error {
	p.once.Do(func() { close(p.stop) })
	return p.r.Close()
}
