// Package hal defines the narrow interfaces the bridge core uses to reach
// the motor and sensor hardware. Real adapters live with the deployment's
// hardware layer and are excluded from this repository; the simulated
// drivetrain in this package stands in for them in dev mode and tests.
package hal

import "errors"

// ErrNoHeading is returned by Sensors.ReadHeading when the deployment has
// no absolute heading sensor. The estimator then derives heading from
// wheel differentials.
var ErrNoHeading = errors.New("hal: no heading sensor")

// MotorDriver sets per-channel actuator outputs. Output is a normalized
// signed value in [-1, 1]; the adapter owns the mapping to volts or duty
// cycle. Calls must be synchronous and non-blocking.
type MotorDriver interface {
	SetChannelOutput(channel int, output float64) error
}

// Sensors reads the latest available samples. Calls must be non-blocking
// and may return the previous value when no fresh sample has arrived; the
// estimator treats an unchanged tick count as zero motion, never a fault.
type Sensors interface {
	// ReadChannelTicks returns the cumulative encoder tick count for the
	// channel.
	ReadChannelTicks(channel int) (int64, error)

	// ReadHeading returns the absolute heading in radians, or ErrNoHeading
	// when no heading sensor is fitted.
	ReadHeading() (float64, error)
}

// Drivetrain is the combined capability surface a deployment provides.
type Drivetrain interface {
	MotorDriver
	Sensors
}
