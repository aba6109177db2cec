package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRealClock(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	assert.False(t, now.Before(before))

	ticker := clock.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Fatal("ticker did not fire")
	}
}

func TestMockClock_Ticker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)
	ticker := clock.NewTicker(20 * time.Millisecond)
	assert.Equal(t, 1, clock.Tickers())

	clock.Advance(10 * time.Millisecond)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired too early")
	default:
	}

	clock.Advance(10 * time.Millisecond)
	select {
	case got := <-ticker.C():
		assert.Equal(t, start.Add(20*time.Millisecond), got)
	default:
		t.Fatal("ticker did not fire after one interval")
	}
	assert.Equal(t, start.Add(20*time.Millisecond), clock.Now())
}

func TestMockClock_TickerDropsWhenFull(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ticker := clock.NewTicker(time.Millisecond)

	clock.Advance(time.Millisecond)
	clock.Advance(time.Millisecond)
	<-ticker.C()
	select {
	case <-ticker.C():
		t.Fatal("second tick should have been dropped")
	default:
	}
}

func TestMockClock_TickerStop(t *testing.T) {
	clock := NewMockClock(time.Now())
	ticker := clock.NewTicker(time.Second)
	ticker.Stop()
	clock.Advance(5 * time.Second)

	select {
	case <-ticker.C():
		t.Error("stopped ticker should not tick")
	default:
	}
}
