package hand

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/banshee-data/grasp/internal/calibration"
	"github.com/banshee-data/grasp/internal/tof"
)

// fingers are the channels the finger learning keys act on.
var fingers = []tof.Channel{tof.Index, tof.Middle}

type command struct {
	help string
	run  func(ctx context.Context, h *Hand) error
}

func startCommand(mode calibration.Mode, channels ...tof.Channel) func(context.Context, *Hand) error {
	return func(_ context.Context, h *Hand) error {
		_, err := h.StartSession(mode, channels...)
		return err
	}
}

var commands = map[string]command{
	"s": {"save coefficients", func(ctx context.Context, h *Hand) error { return h.SaveCoefficients(ctx) }},
	"a": {"load coefficients", func(ctx context.Context, h *Hand) error { return h.LoadCoefficients(ctx) }},
	"c": {"clear coefficients", func(_ context.Context, h *Hand) error { h.Clear(); return nil }},
	"j": {"learn Power on the fingers", startCommand(calibration.Power, fingers...)},
	"k": {"learn Plate on the fingers", startCommand(calibration.Plate, fingers...)},
	"n": {"learn Power on the thumb", startCommand(calibration.Power, tof.Thumb)},
	"m": {"learn Plate on the thumb", startCommand(calibration.Plate, tof.Thumb)},
}

// Command runs the action bound to a single-key command.
func (h *Hand) Command(ctx context.Context, key string) error {
	key = strings.ToLower(strings.TrimSpace(key))
	c, ok := commands[key]
	if !ok {
		return fmt.Errorf("unknown command %q", key)
	}
	logf("command %s: %s", key, c.help)
	return c.run(ctx, h)
}

// CommandHelp lists the command keys and what they do, sorted by key.
func CommandHelp() []string {
	keys := make([]string, 0, len(commands))
	for k := range commands {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = fmt.Sprintf("%s  %s", k, commands[k].help)
	}
	return out
}
