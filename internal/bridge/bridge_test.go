package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Autonomous-VEXU/v5-bridge/internal/config"
	"github.com/Autonomous-VEXU/v5-bridge/internal/link"
	"github.com/Autonomous-VEXU/v5-bridge/internal/timeutil"
	"github.com/Autonomous-VEXU/v5-bridge/internal/wire"
)

// fakeDrivetrain is a scriptable hal.Drivetrain recording motor outputs
// and serving canned encoder/heading readings.
type fakeDrivetrain struct {
	mu      sync.Mutex
	outputs map[int]float64
	ticks   map[int]int64
	readErr error

	heading    float64
	headingErr error
}

func newFakeDrivetrain() *fakeDrivetrain {
	return &fakeDrivetrain{
		outputs: make(map[int]float64),
		ticks:   make(map[int]int64),
	}
}

func (f *fakeDrivetrain) SetChannelOutput(channel int, output float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outputs[channel] = output
	return nil
}

func (f *fakeDrivetrain) ReadChannelTicks(channel int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return 0, f.readErr
	}
	return f.ticks[channel], nil
}

func (f *fakeDrivetrain) ReadHeading() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.headingErr != nil {
		return 0, f.headingErr
	}
	return f.heading, nil
}

func (f *fakeDrivetrain) output(channel int) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outputs[channel]
}

func (f *fakeDrivetrain) advanceTicks(channel int, delta int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks[channel] += delta
}

func testBridgeConfig() *config.Config {
	cfg := config.Default()
	cfg.TickPeriod = 20 * time.Millisecond
	cfg.WatchdogTicks = 3
	cfg.SensorFaultTicks = 3
	cfg.TelemetryEvery = 1
	cfg.LeftChannels = []int{0}
	cfg.RightChannels = []int{1}
	cfg.TicksPerMeter = 1000
	cfg.TrackWidth = 0.3
	cfg.MaxWheelSpeed = 2.0
	cfg.MaxLinearVelocity = 1.0
	cfg.MaxAngularVelocity = 4.0
	return cfg
}

type harness struct {
	bridge *Bridge
	port   *link.ScriptedPort
	drive  *fakeDrivetrain
	clock  *timeutil.MockClock
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	port := link.NewScriptedPort()
	drive := newFakeDrivetrain()
	clock := timeutil.NewMockClock(time.Unix(0, 0))

	b, err := New(Params{
		Config:  cfg,
		Port:    port,
		Motors:  drive,
		Sensors: drive,
		Clock:   clock,
	})
	require.NoError(t, err)
	return &harness{bridge: b, port: port, drive: drive, clock: clock}
}

// inject frames a command and queues it on the inbound side of the port.
func (h *harness) inject(t *testing.T, cmd wire.Command) {
	t.Helper()
	frame, err := wire.EncodeFrame(wire.EncodeCommand(cmd))
	require.NoError(t, err)
	h.port.QueueRead(frame)
}

// telemetry decodes every telemetry frame written to the port since the
// last call.
func (h *harness) telemetry(t *testing.T) []wire.Telemetry {
	t.Helper()
	var dec wire.Decoder
	dec.Feed(h.port.Written())
	h.port.ResetWritten()

	var out []wire.Telemetry
	for {
		payload, err := dec.Next()
		require.NoError(t, err, "bridge wrote a corrupt frame")
		if payload == nil {
			return out
		}
		tel, err := wire.ParseTelemetry(payload)
		require.NoError(t, err)
		out = append(out, tel)
	}
}

func TestCommandDrivesMotors(t *testing.T) {
	h := newHarness(t, testBridgeConfig())

	h.inject(t, wire.Command{Seq: 1, Linear: 0.5})
	h.bridge.Tick()

	left, right := h.drive.output(0), h.drive.output(1)
	assert.Equal(t, left, right, "straight command must drive both sides equally")
	assert.InDelta(t, 0.25, left, 1e-9) // 0.5 m/s over a 2.0 m/s wheel

	tels := h.telemetry(t)
	require.Len(t, tels, 1)
	assert.Equal(t, wire.StateActive, tels[0].State)

	snap := h.bridge.Snapshot()
	assert.Equal(t, "active", snap.State)
	assert.Equal(t, uint32(1), snap.LastSeq)
	assert.Equal(t, uint64(1), snap.Counters.CommandsApplied)
}

func TestTurnCommandDifferential(t *testing.T) {
	h := newHarness(t, testBridgeConfig())

	h.inject(t, wire.Command{Seq: 1, Linear: 0.5, Angular: 1.0})
	h.bridge.Tick()

	left, right := h.drive.output(0), h.drive.output(1)
	assert.Greater(t, right, left, "positive angular velocity turns left: right side faster")
	// left = 0.5 - 1.0*0.15 = 0.35, right = 0.5 + 0.15 = 0.65, over 2.0.
	assert.InDelta(t, 0.175, left, 1e-9)
	assert.InDelta(t, 0.325, right, 1e-9)
}

func TestWatchdogDegrades(t *testing.T) {
	cfg := testBridgeConfig()
	h := newHarness(t, cfg)

	h.inject(t, wire.Command{Seq: 1, Linear: 0.5})
	h.bridge.Tick()
	require.InDelta(t, 0.25, h.drive.output(0), 1e-9)

	// Silence for exactly the watchdog threshold.
	for i := 0; i < cfg.WatchdogTicks; i++ {
		h.bridge.Tick()
	}

	snap := h.bridge.Snapshot()
	assert.Equal(t, "degraded", snap.State)
	assert.Zero(t, h.drive.output(0))
	assert.Zero(t, h.drive.output(1))

	// Telemetry still flows and carries the degraded tag.
	tels := h.telemetry(t)
	require.Len(t, tels, cfg.WatchdogTicks+1)
	assert.Equal(t, wire.StateDegraded, tels[len(tels)-1].State)
}

func TestWatchdogHoldsUntilThreshold(t *testing.T) {
	cfg := testBridgeConfig()
	h := newHarness(t, cfg)

	h.inject(t, wire.Command{Seq: 1, Linear: 0.5})
	h.bridge.Tick()

	// One tick short of the threshold: still active, still driving.
	for i := 0; i < cfg.WatchdogTicks-1; i++ {
		h.bridge.Tick()
	}
	assert.Equal(t, "active", h.bridge.Snapshot().State)
	assert.InDelta(t, 0.25, h.drive.output(0), 1e-9)
}

func TestDegradedRecoversOnFreshCommand(t *testing.T) {
	cfg := testBridgeConfig()
	h := newHarness(t, cfg)

	h.inject(t, wire.Command{Seq: 1, Linear: 0.5})
	h.bridge.Tick()
	for i := 0; i < cfg.WatchdogTicks; i++ {
		h.bridge.Tick()
	}
	require.Equal(t, "degraded", h.bridge.Snapshot().State)

	h.inject(t, wire.Command{Seq: 2, Linear: 0.4})
	h.bridge.Tick()

	assert.Equal(t, "active", h.bridge.Snapshot().State)
	assert.InDelta(t, 0.2, h.drive.output(0), 1e-9)
}

func TestStaleCommandDoesNotRecoverDegradedLink(t *testing.T) {
	cfg := testBridgeConfig()
	h := newHarness(t, cfg)

	h.inject(t, wire.Command{Seq: 5, Linear: 0.5})
	h.bridge.Tick()
	for i := 0; i < cfg.WatchdogTicks; i++ {
		h.bridge.Tick()
	}
	require.Equal(t, "degraded", h.bridge.Snapshot().State)

	// A replayed frame proves the link is alive but must not reactivate.
	h.inject(t, wire.Command{Seq: 5, Linear: 0.5})
	h.bridge.Tick()

	assert.Equal(t, "degraded", h.bridge.Snapshot().State)
	assert.Zero(t, h.drive.output(0))
}

func TestStaleSequenceIgnored(t *testing.T) {
	h := newHarness(t, testBridgeConfig())

	h.inject(t, wire.Command{Seq: 5, Linear: 0.5})
	h.bridge.Tick()
	require.InDelta(t, 0.25, h.drive.output(0), 1e-9)

	// Same sequence with a different body: replay, dropped.
	h.inject(t, wire.Command{Seq: 5, Linear: 0.9})
	h.bridge.Tick()
	assert.InDelta(t, 0.25, h.drive.output(0), 1e-9, "replayed sequence must not change outputs")

	// Older sequence: out-of-order delivery, dropped.
	h.inject(t, wire.Command{Seq: 4, Linear: 0.9})
	h.bridge.Tick()
	assert.InDelta(t, 0.25, h.drive.output(0), 1e-9)

	snap := h.bridge.Snapshot()
	assert.Equal(t, uint64(2), snap.Counters.StaleDrops)
	assert.Equal(t, uint64(1), snap.Counters.CommandsApplied)
	assert.Equal(t, uint32(5), snap.LastSeq)
}

func TestCommandClampedNotRejected(t *testing.T) {
	h := newHarness(t, testBridgeConfig())

	// 5 m/s against a 1 m/s clamp: applied as exactly the max.
	h.inject(t, wire.Command{Seq: 1, Linear: 5.0})
	h.bridge.Tick()

	assert.InDelta(t, 0.5, h.drive.output(0), 1e-9) // 1.0 m/s over 2.0 m/s wheel
	snap := h.bridge.Snapshot()
	assert.Equal(t, uint64(1), snap.Counters.CommandsApplied)
	assert.InDelta(t, 1.0, snap.CmdLinear, 1e-9)
}

func TestCorruptBytesSurfaceAsCounters(t *testing.T) {
	h := newHarness(t, testBridgeConfig())

	h.port.QueueRead([]byte{0x13, 0x37, 0x00, 0xFF})
	h.bridge.Tick()

	snap := h.bridge.Snapshot()
	assert.Equal(t, "active", snap.State, "garbage must not be fatal")
	assert.NotZero(t, snap.Counters.DecodeErrors)
	assert.Zero(t, snap.Counters.CommandsApplied)

	// A valid frame right after the garbage still gets through.
	h.inject(t, wire.Command{Seq: 1, Linear: 0.5})
	h.bridge.Tick()
	assert.InDelta(t, 0.25, h.drive.output(0), 1e-9)
}

func TestSensorFaultLatches(t *testing.T) {
	cfg := testBridgeConfig()
	h := newHarness(t, cfg)

	h.inject(t, wire.Command{Seq: 1, Linear: 0.5})
	h.bridge.Tick()

	h.drive.mu.Lock()
	h.drive.readErr = errors.New("encoder bus dead")
	h.drive.mu.Unlock()

	for i := 0; i < cfg.SensorFaultTicks; i++ {
		h.bridge.Tick()
	}

	snap := h.bridge.Snapshot()
	assert.Equal(t, "fault", snap.State)
	assert.Zero(t, h.drive.output(0))
	assert.Zero(t, h.drive.output(1))

	// Fault is terminal: fresh commands are no longer accepted.
	h.inject(t, wire.Command{Seq: 2, Linear: 0.5})
	h.bridge.Tick()
	assert.Equal(t, "fault", h.bridge.Snapshot().State)
	assert.Zero(t, h.drive.output(0))
	assert.Equal(t, uint64(1), h.bridge.Snapshot().Counters.CommandsApplied)

	// Telemetry keeps flowing with the fault tag.
	tels := h.telemetry(t)
	require.NotEmpty(t, tels)
	assert.Equal(t, wire.StateFault, tels[len(tels)-1].State)
}

func TestTransientSensorGlitchDoesNotFault(t *testing.T) {
	cfg := testBridgeConfig()
	h := newHarness(t, cfg)

	h.drive.mu.Lock()
	h.drive.readErr = errors.New("glitch")
	h.drive.mu.Unlock()
	h.bridge.Tick()
	h.bridge.Tick()

	h.drive.mu.Lock()
	h.drive.readErr = nil
	h.drive.mu.Unlock()
	for i := 0; i < cfg.SensorFaultTicks; i++ {
		h.bridge.Tick()
	}

	assert.NotEqual(t, "fault", h.bridge.Snapshot().State,
		"recovered sensors must reset the fault counter")
}

func TestOdometryReportedInTelemetry(t *testing.T) {
	h := newHarness(t, testBridgeConfig())

	// Prime the cumulative counters, then move both wheels equally.
	h.bridge.Tick()
	h.port.ResetWritten()

	h.drive.advanceTicks(0, 20)
	h.drive.advanceTicks(1, 20)
	h.bridge.Tick()

	tels := h.telemetry(t)
	require.Len(t, tels, 1)
	// 20 ticks / 1000 ticks-per-meter = 0.02 m this tick.
	assert.InDelta(t, 0.02, tels[0].X, 0.001)
	assert.InDelta(t, 0, tels[0].Heading, 0.001)
	assert.InDelta(t, 1.0, tels[0].Linear, 0.001) // 0.02 m per 20 ms
}

func TestTelemetryDecimation(t *testing.T) {
	cfg := testBridgeConfig()
	cfg.TelemetryEvery = 2
	h := newHarness(t, cfg)

	for i := 0; i < 6; i++ {
		h.bridge.Tick()
	}
	assert.Len(t, h.telemetry(t), 3)
}

func TestPortReadErrorIsNotFatal(t *testing.T) {
	h := newHarness(t, testBridgeConfig())

	h.port.ReadErr = errors.New("transient io error")
	h.bridge.Tick()

	snap := h.bridge.Snapshot()
	assert.Equal(t, "active", snap.State)
	assert.Equal(t, uint64(1), snap.Counters.ReadErrors)
	assert.Len(t, h.telemetry(t), 1, "telemetry must still be sent")
}

func TestNewValidatesParams(t *testing.T) {
	_, err := New(Params{})
	assert.Error(t, err)

	cfg := testBridgeConfig()
	_, err = New(Params{Config: cfg})
	assert.Error(t, err)

	cfg.WatchdogTicks = 0
	_, err = New(Params{
		Config: cfg, Port: link.NewScriptedPort(),
		Motors: newFakeDrivetrain(), Sensors: newFakeDrivetrain(),
	})
	assert.Error(t, err)
}

func TestRunTicksUntilCanceled(t *testing.T) {
	h := newHarness(t, testBridgeConfig())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.bridge.Run(ctx) }()

	require.Eventually(t, func() bool {
		h.clock.Advance(20 * time.Millisecond)
		return h.bridge.Snapshot().Tick >= 3
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
