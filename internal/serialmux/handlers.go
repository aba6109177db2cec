package serialmux

import (
	"context"
	"sync"

	"github.com/banshee-data/grasp/internal/monitoring"
)

var logf = monitoring.Prefixed("serial")

// Latest keeps the most recent sensor frame until the driver loop takes
// it. Frames arriving between two ticks overwrite each other, so a tick
// always sees the newest data.
type Latest struct {
	mu       sync.Mutex
	readings []float64
	fresh    bool
	frames   uint64
	messages uint64
	errors   uint64
}

// Feed handles one line from the board: frames replace the pending
// readings, messages are logged.
func (l *Latest) Feed(line string) {
	readings, ok, err := ParseReadings(line)
	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case err != nil:
		l.errors++
		logf("dropping malformed frame: %v", err)
	case !ok:
		if ClassifyLine(line) == EventTypeMessage {
			l.messages++
			logf("board: %s", line)
		}
	default:
		l.frames++
		l.readings = readings
		l.fresh = true
	}
}

// Take returns the pending frame and whether it is new since the last
// call.
func (l *Latest) Take() ([]float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.fresh {
		return nil, false
	}
	l.fresh = false
	out := make([]float64, len(l.readings))
	copy(out, l.readings)
	return out, true
}

// Counts returns the number of frames, messages and malformed lines seen.
func (l *Latest) Counts() (frames, messages, errors uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frames, l.messages, l.errors
}

// Consume subscribes to src and feeds every line into l until ctx is done
// or the subscription is closed.
func (l *Latest) Consume(ctx context.Context, src SerialMuxInterface) {
	id, lines := src.Subscribe()
	defer src.Unsubscribe(id)
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			l.Feed(line)
		}
	}
}
