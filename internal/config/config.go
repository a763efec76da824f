// Package config loads the bridge's startup configuration. The file is
// read exactly once at boot; there is no runtime reconfiguration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the resolved bridge configuration.
type Config struct {
	// SerialPort is the companion link device path.
	SerialPort string
	// BaudRate for the companion link.
	BaudRate int

	// TickPeriod is the fixed control loop period.
	TickPeriod time.Duration
	// WatchdogTicks is the number of consecutive ticks without a valid
	// command before the link is considered lost.
	WatchdogTicks int
	// SensorFaultTicks is the number of consecutive ticks with sensor read
	// failures before the bridge latches into fault.
	SensorFaultTicks int
	// TelemetryEvery emits telemetry every Nth tick (1 = every tick).
	TelemetryEvery int

	// LeftChannels and RightChannels map drivetrain sides to motor/encoder
	// channels.
	LeftChannels  []int
	RightChannels []int

	// TicksPerMeter converts encoder ticks to wheel travel.
	TicksPerMeter float64
	// TrackWidth is the left/right wheel separation in meters.
	TrackWidth float64
	// MaxWheelSpeed is the wheel surface speed in m/s at full motor output,
	// used to normalize actuator outputs.
	MaxWheelSpeed float64

	// MaxLinearVelocity and MaxAngularVelocity clamp accepted commands.
	MaxLinearVelocity  float64 // m/s
	MaxAngularVelocity float64 // rad/s

	// HeadingSource selects the authoritative heading sensor: "wheels" or
	// "imu".
	HeadingSource string
}

// fileConfig is the JSON overlay schema. All fields are pointers so a
// partial file only overrides what it names; omitted fields keep their
// defaults.
type fileConfig struct {
	SerialPort         *string  `json:"serial_port,omitempty"`
	BaudRate           *int     `json:"baud_rate,omitempty"`
	TickPeriod         *string  `json:"tick_period,omitempty"` // duration string like "20ms"
	WatchdogTicks      *int     `json:"watchdog_ticks,omitempty"`
	SensorFaultTicks   *int     `json:"sensor_fault_ticks,omitempty"`
	TelemetryEvery     *int     `json:"telemetry_every,omitempty"`
	LeftChannels       []int    `json:"left_channels,omitempty"`
	RightChannels      []int    `json:"right_channels,omitempty"`
	TicksPerMeter      *float64 `json:"ticks_per_meter,omitempty"`
	TrackWidth         *float64 `json:"track_width,omitempty"`
	MaxWheelSpeed      *float64 `json:"max_wheel_speed,omitempty"`
	MaxLinearVelocity  *float64 `json:"max_linear_velocity,omitempty"`
	MaxAngularVelocity *float64 `json:"max_angular_velocity,omitempty"`
	HeadingSource      *string  `json:"heading_source,omitempty"`
}

// Heading source values accepted in config files.
const (
	HeadingWheels = "wheels"
	HeadingIMU    = "imu"
)

// Default returns the stock configuration for a two-motor-per-side
// differential drivetrain.
func Default() *Config {
	return &Config{
		SerialPort:         "/dev/ttyACM1",
		BaudRate:           115200,
		TickPeriod:         20 * time.Millisecond,
		WatchdogTicks:      25, // 500 ms of link silence at 20 ms ticks
		SensorFaultTicks:   10,
		TelemetryEvery:     1,
		LeftChannels:       []int{0, 1},
		RightChannels:      []int{2, 3},
		TicksPerMeter:      1960,
		TrackWidth:         0.33,
		MaxWheelSpeed:      1.6,
		MaxLinearVelocity:  1.5,
		MaxAngularVelocity: 6.0,
		HeadingSource:      HeadingWheels,
	}
}

// Load reads a JSON config file and applies it over the defaults. An empty
// path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var overlay fileConfig
	if err := json.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.apply(&overlay); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) apply(o *fileConfig) error {
	if o.SerialPort != nil {
		c.SerialPort = *o.SerialPort
	}
	if o.BaudRate != nil {
		c.BaudRate = *o.BaudRate
	}
	if o.TickPeriod != nil {
		d, err := time.ParseDuration(*o.TickPeriod)
		if err != nil {
			return fmt.Errorf("invalid tick_period %q: %w", *o.TickPeriod, err)
		}
		c.TickPeriod = d
	}
	if o.WatchdogTicks != nil {
		c.WatchdogTicks = *o.WatchdogTicks
	}
	if o.SensorFaultTicks != nil {
		c.SensorFaultTicks = *o.SensorFaultTicks
	}
	if o.TelemetryEvery != nil {
		c.TelemetryEvery = *o.TelemetryEvery
	}
	if o.LeftChannels != nil {
		c.LeftChannels = o.LeftChannels
	}
	if o.RightChannels != nil {
		c.RightChannels = o.RightChannels
	}
	if o.TicksPerMeter != nil {
		c.TicksPerMeter = *o.TicksPerMeter
	}
	if o.TrackWidth != nil {
		c.TrackWidth = *o.TrackWidth
	}
	if o.MaxWheelSpeed != nil {
		c.MaxWheelSpeed = *o.MaxWheelSpeed
	}
	if o.MaxLinearVelocity != nil {
		c.MaxLinearVelocity = *o.MaxLinearVelocity
	}
	if o.MaxAngularVelocity != nil {
		c.MaxAngularVelocity = *o.MaxAngularVelocity
	}
	if o.HeadingSource != nil {
		c.HeadingSource = *o.HeadingSource
	}
	return nil
}

// Validate checks the configuration for values the bridge cannot run with.
func (c *Config) Validate() error {
	if c.TickPeriod <= 0 {
		return fmt.Errorf("tick_period must be positive, got %s", c.TickPeriod)
	}
	if c.WatchdogTicks < 1 {
		return fmt.Errorf("watchdog_ticks must be at least 1, got %d", c.WatchdogTicks)
	}
	if c.SensorFaultTicks < 1 {
		return fmt.Errorf("sensor_fault_ticks must be at least 1, got %d", c.SensorFaultTicks)
	}
	if c.TelemetryEvery < 1 {
		return fmt.Errorf("telemetry_every must be at least 1, got %d", c.TelemetryEvery)
	}
	if len(c.LeftChannels) == 0 || len(c.RightChannels) == 0 {
		return fmt.Errorf("left_channels and right_channels must both be non-empty")
	}
	seen := map[int]bool{}
	for _, ch := range append(append([]int{}, c.LeftChannels...), c.RightChannels...) {
		if ch < 0 {
			return fmt.Errorf("channel ids must be non-negative, got %d", ch)
		}
		if seen[ch] {
			return fmt.Errorf("channel %d assigned to more than one side", ch)
		}
		seen[ch] = true
	}
	if c.TicksPerMeter <= 0 {
		return fmt.Errorf("ticks_per_meter must be positive, got %v", c.TicksPerMeter)
	}
	if c.TrackWidth <= 0 {
		return fmt.Errorf("track_width must be positive, got %v", c.TrackWidth)
	}
	if c.MaxWheelSpeed <= 0 {
		return fmt.Errorf("max_wheel_speed must be positive, got %v", c.MaxWheelSpeed)
	}
	if c.MaxLinearVelocity <= 0 || c.MaxAngularVelocity <= 0 {
		return fmt.Errorf("velocity clamps must be positive, got linear=%v angular=%v",
			c.MaxLinearVelocity, c.MaxAngularVelocity)
	}
	if c.HeadingSource != HeadingWheels && c.HeadingSource != HeadingIMU {
		return fmt.Errorf("heading_source must be %q or %q, got %q", HeadingWheels, HeadingIMU, c.HeadingSource)
	}
	return nil
}
