package hal

import (
	"fmt"
	"sync"
	"time"

	"github.com/Autonomous-VEXU/v5-bridge/internal/timeutil"
)

// SimParams configures the simulated drivetrain.
type SimParams struct {
	// TicksPerMeter converts wheel travel to encoder ticks.
	TicksPerMeter float64

	// MaxWheelSpeed is the wheel surface speed in m/s at full output.
	MaxWheelSpeed float64

	// TrackWidth is the wheel separation in meters, used to simulate the
	// heading sensor from differential wheel speeds.
	TrackWidth float64

	// LeftChannels and RightChannels list the motor/encoder channels on
	// each side.
	LeftChannels  []int
	RightChannels []int
}

// SimDrivetrain is an in-memory Drivetrain that integrates commanded
// outputs into encoder ticks and heading over time, so the bridge can run
// closed-loop with no hardware attached. Integration is lazy: state is
// advanced to the current clock time on every access.
type SimDrivetrain struct {
	mu      sync.Mutex
	params  SimParams
	clock   timeutil.Clock
	last    time.Time
	outputs map[int]float64
	ticks   map[int]float64
	heading float64
}

// NewSimDrivetrain creates a simulated drivetrain over the given clock.
func NewSimDrivetrain(params SimParams, clock timeutil.Clock) *SimDrivetrain {
	s := &SimDrivetrain{
		params:  params,
		clock:   clock,
		last:    clock.Now(),
		outputs: make(map[int]float64),
		ticks:   make(map[int]float64),
	}
	for _, ch := range params.LeftChannels {
		s.outputs[ch] = 0
		s.ticks[ch] = 0
	}
	for _, ch := range params.RightChannels {
		s.outputs[ch] = 0
		s.ticks[ch] = 0
	}
	return s
}

// SetChannelOutput implements MotorDriver.
func (s *SimDrivetrain) SetChannelOutput(channel int, output float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.outputs[channel]; !ok {
		return fmt.Errorf("hal: unknown motor channel %d", channel)
	}
	s.step()
	if output > 1 {
		output = 1
	} else if output < -1 {
		output = -1
	}
	s.outputs[channel] = output
	return nil
}

// ReadChannelTicks implements Sensors.
func (s *SimDrivetrain) ReadChannelTicks(channel int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ticks[channel]; !ok {
		return 0, fmt.Errorf("hal: unknown encoder channel %d", channel)
	}
	s.step()
	return int64(s.ticks[channel]), nil
}

// ReadHeading implements Sensors. The simulated heading integrates the
// differential wheel speeds, standing in for an IMU.
func (s *SimDrivetrain) ReadHeading() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step()
	return s.heading, nil
}

// step advances the simulation to the current clock time. Caller holds mu.
func (s *SimDrivetrain) step() {
	now := s.clock.Now()
	dt := now.Sub(s.last).Seconds()
	s.last = now
	if dt <= 0 {
		return
	}

	for ch, out := range s.outputs {
		s.ticks[ch] += out * s.params.MaxWheelSpeed * dt * s.params.TicksPerMeter
	}

	if s.params.TrackWidth > 0 {
		left := s.meanOutput(s.params.LeftChannels)
		right := s.meanOutput(s.params.RightChannels)
		s.heading += (right - left) * s.params.MaxWheelSpeed * dt / s.params.TrackWidth
	}
}

func (s *SimDrivetrain) meanOutput(channels []int) float64 {
	if len(channels) == 0 {
		return 0
	}
	var sum float64
	for _, ch := range channels {
		sum += s.outputs[ch]
	}
	return sum / float64(len(channels))
}
