package serialmux

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	EventTypeReadings = "readings"
	EventTypeMessage  = "message"
	EventTypeEmpty    = "empty"
)

// ClassifyLine tells sensor frames (comma-separated values, one per
// channel) apart from free-text board messages.
func ClassifyLine(line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return EventTypeEmpty
	}
	if strings.Count(line, ",") >= 1 {
		return EventTypeReadings
	}
	return EventTypeMessage
}

// ParseReadings parses a sensor frame into per-channel readings. Lines
// with a single field are board messages and yield ok=false. Values are
// parsed at single precision, the resolution the board reports at.
func ParseReadings(line string) (readings []float64, ok bool, err error) {
	if ClassifyLine(line) != EventTypeReadings {
		return nil, false, nil
	}
	fields := strings.Split(strings.TrimSpace(line), ",")
	readings = make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 32)
		if err != nil {
			return nil, false, fmt.Errorf("field %d of %q: %w", i, line, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, false, fmt.Errorf("field %d of %q: not a finite reading", i, line)
		}
		readings[i] = v
	}
	return readings, true, nil
}
