package hand

import (
	"context"
	"time"
)

// Source yields the newest sensor frame, ok=false when nothing arrived
// since the previous call. *serialmux.Latest implements it.
type Source interface {
	Take() ([]float64, bool)
}

// Run ticks the hand every interval until ctx is done.
func (h *Hand) Run(ctx context.Context, interval time.Duration, src Source) error {
	ticker := h.clock.NewTicker(interval)
	defer ticker.Stop()
	logf("tick loop started (interval %s)", interval)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			readings, ok := src.Take()
			h.Tick(ctx, readings, ok)
		}
	}
}
