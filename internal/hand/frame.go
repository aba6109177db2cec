package hand

import (
	"encoding/json"
	"math"
	"time"

	"github.com/banshee-data/grasp/internal/calibration"
	"github.com/banshee-data/grasp/internal/tof"
)

// ChannelState is the per-channel view of one tick.
type ChannelState struct {
	Channel  tof.Channel `json:"-"`
	Name     string      `json:"channel"`
	Raw      float64     `json:"raw"`
	Smoothed float64     `json:"smoothed"`
	Changed  bool        `json:"changed"`
	Label    float64     `json:"label"`
	// Grasp is only meaningful when Calibrated is set.
	Grasp      float64 `json:"grasp"`
	Calibrated bool    `json:"calibrated"`
	// Learning names the mode being collected, empty when idle.
	Learning  string `json:"learning,omitempty"`
	Collected int    `json:"collected,omitempty"`
}

// Frame is the output of one tick.
type Frame struct {
	Time     time.Time                     `json:"time"`
	Fresh    bool                          `json:"fresh"`
	Channels [tof.NumChannels]ChannelState `json:"channels"`
	Events   []SessionEvent                `json:"events,omitempty"`
}

// SessionEvent reports a calibration session that finished on a tick.
type SessionEvent struct {
	SessionID  string
	Channel    tof.Channel
	Mode       calibration.Mode
	State      calibration.State
	Result     calibration.Result
	Adjustment calibration.Adjustment
	Err        error
}

// MarshalJSON flattens the event. Intersection roots are left out since
// they are not finite for parallel curves.
func (e SessionEvent) MarshalJSON() ([]byte, error) {
	out := struct {
		SessionID   string  `json:"session_id"`
		Channel     string  `json:"channel"`
		Mode        string  `json:"mode"`
		State       string  `json:"state"`
		Kept        int     `json:"kept"`
		RSquared    float64 `json:"r_squared"`
		LeftScaled  bool    `json:"left_scaled"`
		RightScaled bool    `json:"right_scaled"`
		Error       string  `json:"error,omitempty"`
	}{
		SessionID:   e.SessionID,
		Channel:     e.Channel.String(),
		Mode:        e.Mode.String(),
		State:       e.State.String(),
		Kept:        e.Result.Kept,
		LeftScaled:  e.Adjustment.LeftScaled,
		RightScaled: e.Adjustment.RightScaled,
	}
	if r := e.Result.RSquared; !math.IsNaN(r) && !math.IsInf(r, 0) {
		out.RSquared = r
	}
	if e.Err != nil {
		out.Error = e.Err.Error()
	}
	return json.Marshal(out)
}
