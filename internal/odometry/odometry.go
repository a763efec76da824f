// Package odometry integrates wheel and heading samples into a running
// pose and velocity estimate.
package odometry

import (
	"math"
	"time"
)

// HeadingSource selects which sensor is authoritative for heading. Exactly
// one source is authoritative per deployment; mixing both would integrate
// angular displacement twice.
type HeadingSource int

const (
	// SourceWheels derives heading from left/right wheel differentials.
	SourceWheels HeadingSource = iota
	// SourceIMU takes heading from the absolute heading sensor.
	SourceIMU
)

// WheelSample is one channel's encoder movement over a single control
// tick. Produced by the scheduler from cumulative hardware counts and
// consumed immediately; not retained.
type WheelSample struct {
	Channel   int
	TickDelta int64
	Tick      uint64 // control loop tick the sample belongs to
}

// Pose is the accumulated position, heading and measured velocity.
// Heading is always wrapped to [-pi, pi).
type Pose struct {
	X       float64 // meters
	Y       float64 // meters
	Heading float64 // radians
	Linear  float64 // m/s
	Angular float64 // rad/s
}

// Config holds the calibration constants for the estimator.
type Config struct {
	TicksPerMeter float64
	TrackWidth    float64 // meters between left and right wheel centers
	TickPeriod    time.Duration
	Source        HeadingSource
	LeftChannels  []int
	RightChannels []int
}

// Estimator accumulates pose from per-tick samples. It is a plain
// accumulator with no error states: inputs are already validated numeric
// samples.
type Estimator struct {
	cfg  Config
	pose Pose

	lastHeading float64
	haveHeading bool
}

// NewEstimator creates an estimator with a zero pose at the origin.
func NewEstimator(cfg Config) *Estimator {
	return &Estimator{cfg: cfg}
}

// Pose returns the current estimate.
func (e *Estimator) Pose() Pose {
	return e.pose
}

// Integrate folds one tick of samples into the pose and returns the new
// estimate. heading is the absolute heading sensor reading; headingValid
// is false when the sensor is absent or its read failed this tick, in
// which case the previous heading is held (zero delta) under SourceIMU.
func (e *Estimator) Integrate(samples []WheelSample, heading float64, headingValid bool) Pose {
	left, right := e.sideDisplacements(samples)
	dLinear := (left + right) / 2

	var dTheta float64
	switch e.cfg.Source {
	case SourceIMU:
		if headingValid {
			if e.haveHeading {
				dTheta = WrapAngle(heading - e.lastHeading)
			}
			e.lastHeading = heading
			e.haveHeading = true
		}
	default: // SourceWheels
		if e.cfg.TrackWidth > 0 {
			dTheta = (right - left) / e.cfg.TrackWidth
		}
	}

	// Midpoint integration: advance along the average heading of the tick.
	mid := e.pose.Heading + dTheta/2
	e.pose.X += dLinear * math.Cos(mid)
	e.pose.Y += dLinear * math.Sin(mid)
	if e.cfg.Source == SourceIMU && headingValid {
		// The absolute sensor is authoritative; adopt its value outright so
		// the estimate cannot drift from accumulated deltas.
		e.pose.Heading = WrapAngle(heading)
	} else {
		e.pose.Heading = WrapAngle(e.pose.Heading + dTheta)
	}

	// The loop period is fixed by design, so velocity is displacement over
	// the constant period rather than a derivative across variable time.
	period := e.cfg.TickPeriod.Seconds()
	if period > 0 {
		e.pose.Linear = dLinear / period
		e.pose.Angular = dTheta / period
	}

	return e.pose
}

// sideDisplacements converts tick deltas to per-side linear displacement
// in meters, averaging the channels of each side.
func (e *Estimator) sideDisplacements(samples []WheelSample) (left, right float64) {
	if e.cfg.TicksPerMeter <= 0 {
		return 0, 0
	}
	bySide := func(channels []int) float64 {
		if len(channels) == 0 {
			return 0
		}
		var sum float64
		var n int
		for _, ch := range channels {
			for _, s := range samples {
				if s.Channel == ch {
					sum += float64(s.TickDelta)
					n++
				}
			}
		}
		if n == 0 {
			return 0
		}
		return sum / float64(n) / e.cfg.TicksPerMeter
	}
	return bySide(e.cfg.LeftChannels), bySide(e.cfg.RightChannels)
}

// WrapAngle normalizes an angle into [-pi, pi).
func WrapAngle(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}
