// Package tof conditions time-of-flight distance readings from the hand
// replica, one channel per finger.
package tof

import (
	"fmt"
	"strings"
)

// Channel identifies a finger sensor.
type Channel int

const (
	Thumb Channel = iota
	Index
	Middle
	Ring
	Pinky
)

// NumChannels is the number of finger channels reported by the sensor board.
const NumChannels = 5

var channelNames = [NumChannels]string{"THUMB", "INDEX", "MIDDLE", "RING", "PINKY"}

// Channels returns every channel in id order.
func Channels() []Channel {
	return []Channel{Thumb, Index, Middle, Ring, Pinky}
}

// Valid reports whether c is a known channel id.
func (c Channel) Valid() bool {
	return c >= 0 && int(c) < NumChannels
}

func (c Channel) String() string {
	if !c.Valid() {
		return fmt.Sprintf("CHANNEL(%d)", int(c))
	}
	return channelNames[c]
}

// ParseChannel maps a channel name (case-insensitive) back to its id.
func ParseChannel(name string) (Channel, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for i, n := range channelNames {
		if n == upper {
			return Channel(i), nil
		}
	}
	return 0, fmt.Errorf("unknown channel %q", name)
}
