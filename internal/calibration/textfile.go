package calibration

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/grasp/internal/regression"
	"github.com/banshee-data/grasp/internal/tof"
)

// The text format stores one block per channel: the channel name on its own
// line followed by four comma-separated coefficient lines in the order
// Power seg 0, Power seg 1, Plate seg 0, Plate seg 1. Files are appended
// to on every save, so when a channel appears more than once the last block
// wins. An unlearned slot is written as "0".

var textSlots = [NumModes * NumSegments]struct {
	mode Mode
	seg  int
}{{Power, 0}, {Power, 1}, {Plate, 0}, {Plate, 1}}

// WriteText writes one block per channel of t.
func WriteText(w io.Writer, t Table) error {
	bw := bufio.NewWriter(w)
	for _, ch := range tof.Channels() {
		fmt.Fprintln(bw, ch.String())
		for _, slot := range textSlots {
			fmt.Fprintln(bw, formatCoefficients(t[ch][slot.mode][slot.seg]))
		}
	}
	return bw.Flush()
}

func formatCoefficients(c regression.Coefficients) string {
	if len(c) == 0 {
		return "0"
	}
	parts := make([]string, len(c))
	for i, v := range c {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

// ReadText parses blocks written by WriteText. Lines that are not a channel
// name are skipped. A lone "0" reads back as an unlearned slot.
func ReadText(r io.Reader) (Table, error) {
	var t Table
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		ch, err := tof.ParseChannel(sc.Text())
		if err != nil {
			continue
		}
		var e Entry
		for _, slot := range textSlots {
			if !sc.Scan() {
				if err := sc.Err(); err != nil {
					return Table{}, err
				}
				return Table{}, fmt.Errorf("line %d: truncated %s block", line, ch)
			}
			line++
			c, err := parseCoefficients(sc.Text())
			if err != nil {
				return Table{}, fmt.Errorf("line %d: %s %s segment %d: %w", line, ch, slot.mode, slot.seg, err)
			}
			e[slot.mode][slot.seg] = c
		}
		t[ch] = e
	}
	if err := sc.Err(); err != nil {
		return Table{}, err
	}
	return t, nil
}

func parseCoefficients(s string) (regression.Coefficients, error) {
	s = strings.TrimSpace(s)
	if s == "0" {
		return nil, nil
	}
	fields := strings.Split(s, ",")
	out := make(regression.Coefficients, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("coefficient %d is not finite", i)
		}
		out[i] = v
	}
	return out, nil
}
