// Package bridge implements the fixed-period control loop at the heart of
// the robot: it decodes companion commands, drives the motors, integrates
// odometry, and reports telemetry, while enforcing the link watchdog and
// hardware fault policy.
package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Autonomous-VEXU/v5-bridge/internal/config"
	"github.com/Autonomous-VEXU/v5-bridge/internal/hal"
	"github.com/Autonomous-VEXU/v5-bridge/internal/link"
	"github.com/Autonomous-VEXU/v5-bridge/internal/monitoring"
	"github.com/Autonomous-VEXU/v5-bridge/internal/odometry"
	"github.com/Autonomous-VEXU/v5-bridge/internal/timeutil"
	"github.com/Autonomous-VEXU/v5-bridge/internal/wire"
)

// maxDrainBytes bounds how much inbound data one tick will pull off the
// port, so a babbling companion cannot blow the tick budget.
const maxDrainBytes = 1024

// Params wires a Bridge to its collaborators.
type Params struct {
	Config  *config.Config
	Port    link.Port
	Motors  hal.MotorDriver
	Sensors hal.Sensors
	Clock   timeutil.Clock
	// Session identifies this boot of the bridge in logs and status
	// output. Zero means "generate one".
	Session uuid.UUID
}

// Counters tracks cumulative loop outcomes for the status surface.
type Counters struct {
	CommandsApplied uint64 // fresh commands accepted and applied
	StaleDrops      uint64 // structurally valid commands ignored as stale
	DecodeErrors    uint64 // frame or payload decode failures
	ReadErrors      uint64 // port read failures
	TxErrors        uint64 // telemetry transmit failures
	SensorErrors    uint64 // sensor read failures
	TickOverruns    uint64 // ticks that exceeded the period
}

// linkHealth is the watchdog bookkeeping. consecutiveFailures only grows
// between valid frames and resets to zero on every valid inbound command
// frame.
type linkHealth struct {
	lastValidTick       uint64
	consecutiveFailures int
}

// Bridge owns all cross-component state of the control loop. Every field
// is mutated only inside Tick; the loop is single-threaded by design and
// needs no locking around its own state. Snapshot publication for the
// status surface is the one concession to outside readers.
type Bridge struct {
	cfg     *config.Config
	port    link.Port
	motors  hal.MotorDriver
	sensors hal.Sensors
	clock   timeutil.Clock
	session uuid.UUID

	dec wire.Decoder
	est *odometry.Estimator

	state    wire.LinkState
	tick     uint64
	cmd      wire.Command
	haveCmd  bool
	lastSeq  uint32
	haveSeq  bool
	health   linkHealth
	counters Counters

	channels        []int
	lastTicks       map[int]int64
	primed          map[int]bool
	sensorFailTicks int

	readBuf []byte

	snapshot snapshotHolder
}

// New creates a Bridge. All collaborators are required except Session.
func New(p Params) (*Bridge, error) {
	if p.Config == nil {
		return nil, errors.New("bridge: config is required")
	}
	if err := p.Config.Validate(); err != nil {
		return nil, fmt.Errorf("bridge: %w", err)
	}
	if p.Port == nil || p.Motors == nil || p.Sensors == nil {
		return nil, errors.New("bridge: port, motors and sensors are required")
	}
	if p.Clock == nil {
		p.Clock = timeutil.RealClock{}
	}
	if p.Session == uuid.Nil {
		p.Session = uuid.New()
	}

	source := odometry.SourceWheels
	if p.Config.HeadingSource == config.HeadingIMU {
		source = odometry.SourceIMU
	}

	b := &Bridge{
		cfg:     p.Config,
		port:    p.Port,
		motors:  p.Motors,
		sensors: p.Sensors,
		clock:   p.Clock,
		session: p.Session,
		state:   wire.StateActive,
		est: odometry.NewEstimator(odometry.Config{
			TicksPerMeter: p.Config.TicksPerMeter,
			TrackWidth:    p.Config.TrackWidth,
			TickPeriod:    p.Config.TickPeriod,
			Source:        source,
			LeftChannels:  p.Config.LeftChannels,
			RightChannels: p.Config.RightChannels,
		}),
		lastTicks: make(map[int]int64),
		primed:    make(map[int]bool),
		readBuf:   make([]byte, 256),
	}
	b.channels = append(b.channels, p.Config.LeftChannels...)
	b.channels = append(b.channels, p.Config.RightChannels...)
	b.publishSnapshot(odometry.Pose{})
	return b, nil
}

// Session returns the link session identity for this boot.
func (b *Bridge) Session() uuid.UUID {
	return b.session
}

// Run drives Tick at the configured fixed period until ctx is canceled.
func (b *Bridge) Run(ctx context.Context) error {
	monitoring.Logf("bridge: session %s starting, tick period %s, watchdog %d ticks",
		b.session, b.cfg.TickPeriod, b.cfg.WatchdogTicks)

	ticker := b.clock.NewTicker(b.cfg.TickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.zeroMotors()
			return ctx.Err()
		case <-ticker.C():
			start := b.clock.Now()
			b.Tick()
			if elapsed := b.clock.Since(start); elapsed > b.cfg.TickPeriod {
				b.counters.TickOverruns++
				monitoring.Logf("bridge: tick %d overran the %s budget by %s",
					b.tick, b.cfg.TickPeriod, elapsed-b.cfg.TickPeriod)
			}
		}
	}
}

// Tick executes one control iteration in strict order: drain inbound
// bytes, decode at most one command frame, update the watchdog, actuate,
// sample sensors, integrate odometry, and transmit telemetry. Every tick
// completes deterministically regardless of decode or sensor outcomes.
func (b *Bridge) Tick() {
	b.tick++

	frameValid, fresh := b.pollCommand()
	b.updateWatchdog(frameValid, fresh)
	b.actuate()
	pose := b.observe()
	b.transmitTelemetry(pose)
	b.publishSnapshot(pose)
}

// pollCommand drains available inbound bytes and decodes at most one
// command frame. frameValid reports that a structurally valid command
// frame arrived; fresh reports that it carried a new sequence number and
// was accepted as the current command.
func (b *Bridge) pollCommand() (frameValid, fresh bool) {
	drained := 0
	for drained < maxDrainBytes {
		n, err := b.port.Read(b.readBuf)
		if err != nil {
			// Transport hiccups surface as "no data this tick", never as a
			// process-level failure.
			b.counters.ReadErrors++
			break
		}
		if n == 0 {
			break
		}
		b.dec.Feed(b.readBuf[:n])
		drained += n
	}

	for {
		payload, err := b.dec.Next()
		if err != nil {
			b.counters.DecodeErrors++
			continue
		}
		if payload == nil {
			return false, false
		}

		cmd, err := wire.ParseCommand(payload)
		if err != nil {
			b.counters.DecodeErrors++
			continue
		}

		if b.state == wire.StateFault {
			// Fault is terminal for the session: frames still count as link
			// activity for the record but are never applied.
			return true, false
		}
		if b.haveSeq && cmd.Seq <= b.lastSeq {
			b.counters.StaleDrops++
			return true, false
		}

		cmd.Linear = clamp(cmd.Linear, -b.cfg.MaxLinearVelocity, b.cfg.MaxLinearVelocity)
		cmd.Angular = clamp(cmd.Angular, -b.cfg.MaxAngularVelocity, b.cfg.MaxAngularVelocity)
		b.cmd = cmd
		b.haveCmd = true
		b.lastSeq = cmd.Seq
		b.haveSeq = true
		b.counters.CommandsApplied++
		// At most one command frame per tick; later frames stay buffered.
		return true, true
	}
}

// updateWatchdog advances the link health state machine.
func (b *Bridge) updateWatchdog(frameValid, fresh bool) {
	if b.state == wire.StateFault {
		return
	}

	if frameValid {
		b.health.consecutiveFailures = 0
		b.health.lastValidTick = b.tick
		if fresh && b.state == wire.StateDegraded {
			b.state = wire.StateActive
			monitoring.Logf("bridge: link recovered at tick %d (seq %d)", b.tick, b.lastSeq)
		}
		return
	}

	b.health.consecutiveFailures++
	if b.state == wire.StateActive && b.health.consecutiveFailures >= b.cfg.WatchdogTicks {
		b.state = wire.StateDegraded
		monitoring.Logf("bridge: watchdog expired after %d silent ticks, holding motors at zero",
			b.health.consecutiveFailures)
	}
}

// actuate drives the motors from the current command, gated by state:
// only Active applies the command, Degraded and Fault hold zero.
func (b *Bridge) actuate() {
	if b.state != wire.StateActive || !b.haveCmd {
		b.zeroMotors()
		return
	}

	// Differential drive mapping with silent saturation to the actuator
	// range.
	left := b.cmd.Linear - b.cmd.Angular*b.cfg.TrackWidth/2
	right := b.cmd.Linear + b.cmd.Angular*b.cfg.TrackWidth/2
	leftOut := clamp(left/b.cfg.MaxWheelSpeed, -1, 1)
	rightOut := clamp(right/b.cfg.MaxWheelSpeed, -1, 1)

	for _, ch := range b.cfg.LeftChannels {
		b.setOutput(ch, leftOut)
	}
	for _, ch := range b.cfg.RightChannels {
		b.setOutput(ch, rightOut)
	}
}

func (b *Bridge) zeroMotors() {
	for _, ch := range b.channels {
		b.setOutput(ch, 0)
	}
}

func (b *Bridge) setOutput(ch int, out float64) {
	if err := b.motors.SetChannelOutput(ch, out); err != nil {
		monitoring.Logf("bridge: set channel %d output: %v", ch, err)
	}
}

// observe samples the sensors, tracks hardware fault pressure, and folds
// the samples into the pose estimate.
func (b *Bridge) observe() odometry.Pose {
	sensorFailed := false

	samples := make([]odometry.WheelSample, 0, len(b.channels))
	for _, ch := range b.channels {
		ticks, err := b.sensors.ReadChannelTicks(ch)
		if err != nil {
			b.counters.SensorErrors++
			sensorFailed = true
			continue // absent sample integrates as zero delta
		}
		if b.primed[ch] {
			samples = append(samples, odometry.WheelSample{
				Channel:   ch,
				TickDelta: ticks - b.lastTicks[ch],
				Tick:      b.tick,
			})
		}
		b.lastTicks[ch] = ticks
		b.primed[ch] = true
	}

	var heading float64
	headingValid := false
	if b.cfg.HeadingSource == config.HeadingIMU {
		h, err := b.sensors.ReadHeading()
		switch {
		case err == nil:
			heading = h
			headingValid = true
		case errors.Is(err, hal.ErrNoHeading):
			// Sensor not fitted: hold heading, not a fault.
		default:
			b.counters.SensorErrors++
			sensorFailed = true
		}
	}

	if sensorFailed {
		b.sensorFailTicks++
		if b.sensorFailTicks >= b.cfg.SensorFaultTicks && b.state != wire.StateFault {
			b.state = wire.StateFault
			b.zeroMotors()
			monitoring.Logf("bridge: sensor failure persisted for %d ticks, latching fault (session %s)",
				b.sensorFailTicks, b.session)
		}
	} else {
		b.sensorFailTicks = 0
	}

	return b.est.Integrate(samples, heading, headingValid)
}

// transmitTelemetry encodes and sends the pose estimate. Telemetry never
// stops, whatever the link state; only the decimation setting thins it.
func (b *Bridge) transmitTelemetry(pose odometry.Pose) {
	if b.tick%uint64(b.cfg.TelemetryEvery) != 0 {
		return
	}
	payload := wire.EncodeTelemetry(wire.Telemetry{
		X:       pose.X,
		Y:       pose.Y,
		Heading: pose.Heading,
		Linear:  pose.Linear,
		Angular: pose.Angular,
		State:   b.state,
	})
	frame, err := wire.EncodeFrame(payload)
	if err != nil {
		// Telemetry payloads are fixed-size and well under the limit.
		monitoring.Logf("bridge: telemetry encode: %v", err)
		return
	}
	if _, err := b.port.Write(frame); err != nil {
		b.counters.TxErrors++
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
