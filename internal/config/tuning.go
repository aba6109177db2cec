package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/grasp/internal/calibration"
	"github.com/banshee-data/grasp/internal/predict"
	"github.com/banshee-data/grasp/internal/tof"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/grasp.defaults.json"

// TuningConfig is the root configuration of the grasp host. Every field is
// optional: a nil field falls back to the default returned by its getter,
// so partial files are safe.
type TuningConfig struct {
	// Signal conditioner
	SmoothingFactor *float64 `json:"smoothing_factor,omitempty"`
	NoiseFloor      *float64 `json:"noise_floor,omitempty"`
	StepSize        *float64 `json:"step_size,omitempty"`
	GlitchSteps     *int     `json:"glitch_steps,omitempty"`

	// Calibration
	CollectorCapacity *int     `json:"collector_capacity,omitempty"`
	PowerSegmentPoint *float64 `json:"power_segment_point,omitempty"`
	PlateSegmentPoint *float64 `json:"plate_segment_point,omitempty"`
	IntersectionLeft  *float64 `json:"intersection_left,omitempty"`
	IntersectionRight *float64 `json:"intersection_right,omitempty"`

	// Remap holds [inFrom, inTo, outFrom, outTo] keyed by channel name.
	Remap map[string][]float64 `json:"remap,omitempty"`

	// Host
	TickInterval *string `json:"tick_interval,omitempty"` // duration string like "20ms"
	SerialPort   *string `json:"serial_port,omitempty"`
	SerialBaud   *int    `json:"serial_baud,omitempty"`
	DBPath       *string `json:"db_path,omitempty"`
	MQTTBroker   *string `json:"mqtt_broker,omitempty"`
	MQTTTopic    *string `json:"mqtt_topic,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a config with every field populated from the
// getter defaults. It is what cmd/grasp writes with --print-config.
func DefaultTuningConfig() *TuningConfig {
	empty := EmptyTuningConfig()
	cfg := &TuningConfig{
		SmoothingFactor:   ptrFloat64(empty.GetSmoothingFactor()),
		NoiseFloor:        ptrFloat64(empty.GetNoiseFloor()),
		StepSize:          ptrFloat64(empty.GetStepSize()),
		GlitchSteps:       ptrInt(empty.GetGlitchSteps()),
		CollectorCapacity: ptrInt(empty.GetCollectorCapacity()),
		PowerSegmentPoint: ptrFloat64(empty.GetPowerSegmentPoint()),
		PlateSegmentPoint: ptrFloat64(empty.GetPlateSegmentPoint()),
		IntersectionLeft:  ptrFloat64(empty.GetIntersectionLeft()),
		IntersectionRight: ptrFloat64(empty.GetIntersectionRight()),
		Remap:             map[string][]float64{},
		TickInterval:      ptrString(empty.GetTickInterval().String()),
		SerialPort:        ptrString(empty.GetSerialPort()),
		SerialBaud:        ptrInt(empty.GetSerialBaud()),
		DBPath:            ptrString(empty.GetDBPath()),
		MQTTBroker:        ptrString(empty.GetMQTTBroker()),
		MQTTTopic:         ptrString(empty.GetMQTTTopic()),
	}
	for _, ch := range tof.Channels() {
		r := predict.DefaultRemap(ch)
		cfg.Remap[ch.String()] = []float64{r.InFrom, r.InTo, r.OutFrom, r.OutTo}
	}
	return cfg
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory
// or a parent. Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.SmoothingFactor != nil {
		if *c.SmoothingFactor < 0 || *c.SmoothingFactor >= 1 {
			return fmt.Errorf("smoothing_factor must be in [0, 1), got %f", *c.SmoothingFactor)
		}
	}
	if c.NoiseFloor != nil && *c.NoiseFloor <= 0 {
		return fmt.Errorf("noise_floor must be positive, got %f", *c.NoiseFloor)
	}
	if c.StepSize != nil && *c.StepSize < 0 {
		return fmt.Errorf("step_size must be non-negative, got %f", *c.StepSize)
	}
	if c.GlitchSteps != nil && *c.GlitchSteps < 0 {
		return fmt.Errorf("glitch_steps must be non-negative, got %d", *c.GlitchSteps)
	}

	// the quadratic fit needs three samples and each segment a line
	if c.CollectorCapacity != nil && *c.CollectorCapacity < 8 {
		return fmt.Errorf("collector_capacity must be at least 8, got %d", *c.CollectorCapacity)
	}
	if c.GetIntersectionLeft() >= c.GetIntersectionRight() {
		return fmt.Errorf("intersection_left (%g) must be below intersection_right (%g)",
			c.GetIntersectionLeft(), c.GetIntersectionRight())
	}

	for name, v := range c.Remap {
		if _, err := tof.ParseChannel(name); err != nil {
			return fmt.Errorf("remap: %w", err)
		}
		if _, err := predict.RemapFromSlice(v); err != nil {
			return fmt.Errorf("remap %s: %w", name, err)
		}
	}

	if c.TickInterval != nil && *c.TickInterval != "" {
		d, err := time.ParseDuration(*c.TickInterval)
		if err != nil {
			return fmt.Errorf("invalid tick_interval '%s': %w", *c.TickInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("tick_interval must be positive, got %s", d)
		}
	}
	if c.SerialBaud != nil && *c.SerialBaud <= 0 {
		return fmt.Errorf("serial_baud must be positive, got %d", *c.SerialBaud)
	}

	return nil
}

// GetSmoothingFactor returns the smoothing_factor value or the default.
func (c *TuningConfig) GetSmoothingFactor() float64 {
	if c.SmoothingFactor == nil {
		return 0.56
	}
	return *c.SmoothingFactor
}

// GetNoiseFloor returns the noise_floor value or the default.
func (c *TuningConfig) GetNoiseFloor() float64 {
	if c.NoiseFloor == nil {
		return 2
	}
	return *c.NoiseFloor
}

// GetStepSize returns the step_size value or the default.
func (c *TuningConfig) GetStepSize() float64 {
	if c.StepSize == nil {
		return 1
	}
	return *c.StepSize
}

// GetGlitchSteps returns the glitch_steps value or the default.
func (c *TuningConfig) GetGlitchSteps() int {
	if c.GlitchSteps == nil {
		return 3
	}
	return *c.GlitchSteps
}

// GetCollectorCapacity returns the collector_capacity value or the default.
func (c *TuningConfig) GetCollectorCapacity() int {
	if c.CollectorCapacity == nil {
		return calibration.DefaultCapacity
	}
	return *c.CollectorCapacity
}

// GetPowerSegmentPoint returns the power_segment_point value or the default.
func (c *TuningConfig) GetPowerSegmentPoint() float64 {
	if c.PowerSegmentPoint == nil {
		return 40
	}
	return *c.PowerSegmentPoint
}

// GetPlateSegmentPoint returns the plate_segment_point value or the default.
func (c *TuningConfig) GetPlateSegmentPoint() float64 {
	if c.PlateSegmentPoint == nil {
		return 40
	}
	return *c.PlateSegmentPoint
}

// GetIntersectionLeft returns the intersection_left value or the default.
func (c *TuningConfig) GetIntersectionLeft() float64 {
	if c.IntersectionLeft == nil {
		return -2
	}
	return *c.IntersectionLeft
}

// GetIntersectionRight returns the intersection_right value or the default.
func (c *TuningConfig) GetIntersectionRight() float64 {
	if c.IntersectionRight == nil {
		return 102
	}
	return *c.IntersectionRight
}

// GetTickInterval parses and returns the TickInterval as a time.Duration.
func (c *TuningConfig) GetTickInterval() time.Duration {
	if c.TickInterval == nil || *c.TickInterval == "" {
		return 20 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.TickInterval)
	if err != nil || d <= 0 {
		return 20 * time.Millisecond // default on parse error
	}
	return d
}

// GetSerialPort returns the serial_port value. Empty disables the serial
// source.
func (c *TuningConfig) GetSerialPort() string {
	if c.SerialPort == nil {
		return ""
	}
	return *c.SerialPort
}

// GetSerialBaud returns the serial_baud value or the default.
func (c *TuningConfig) GetSerialBaud() int {
	if c.SerialBaud == nil {
		return 115200
	}
	return *c.SerialBaud
}

// GetDBPath returns the db_path value or the default.
func (c *TuningConfig) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "grasp.db"
	}
	return *c.DBPath
}

// GetMQTTBroker returns the mqtt_broker value. Empty disables telemetry.
func (c *TuningConfig) GetMQTTBroker() string {
	if c.MQTTBroker == nil {
		return ""
	}
	return *c.MQTTBroker
}

// GetMQTTTopic returns the mqtt_topic value or the default.
func (c *TuningConfig) GetMQTTTopic() string {
	if c.MQTTTopic == nil || *c.MQTTTopic == "" {
		return "grasp"
	}
	return *c.MQTTTopic
}

// FilterParams returns the conditioner tuning.
func (c *TuningConfig) FilterParams() tof.FilterParams {
	return tof.FilterParams{
		SmoothingFactor: c.GetSmoothingFactor(),
		NoiseFloor:      c.GetNoiseFloor(),
		StepSize:        c.GetStepSize(),
		MaxGlitchSteps:  float64(c.GetGlitchSteps()),
	}
}

// CalibrationParams returns the calibration constants.
func (c *TuningConfig) CalibrationParams() calibration.Params {
	p := calibration.DefaultParams()
	p.PowerSegmentPoint = c.GetPowerSegmentPoint()
	p.PlateSegmentPoint = c.GetPlateSegmentPoint()
	p.IntersectionLeft = c.GetIntersectionLeft()
	p.IntersectionRight = c.GetIntersectionRight()
	return p
}

// RemapFor returns the remap constants of a channel, falling back to
// predict.DefaultRemap when the file does not name it.
func (c *TuningConfig) RemapFor(ch tof.Channel) predict.Remap {
	for name, v := range c.Remap {
		parsed, err := tof.ParseChannel(name)
		if err != nil || parsed != ch {
			continue
		}
		if r, err := predict.RemapFromSlice(v); err == nil {
			return r
		}
	}
	return predict.DefaultRemap(ch)
}
