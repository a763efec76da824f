package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrMalformedTelemetry reports a telemetry payload whose length does not
// match the expected layout exactly.
var ErrMalformedTelemetry = errors.New("wire: malformed telemetry payload")

// Telemetry payload layout, 16 bytes little-endian:
//
//	[TYPE=0x02][X i32 mm][Y i32 mm][HEADING i16 mrad]
//	[LINVEL i16 mm/s][ANGVEL i16 mrad/s][STATE u8]
const telemetryPayloadLen = 16

// LinkState is the watchdog state tag carried in every telemetry frame so
// the companion always knows whether its commands are being honored.
type LinkState byte

const (
	// StateActive means the link is healthy and commands drive the motors.
	StateActive LinkState = 0
	// StateDegraded means the watchdog expired: motors are commanded to
	// zero until a fresh command arrives.
	StateDegraded LinkState = 1
	// StateFault means an unrecoverable hardware fault: motors are forced
	// to zero and no further commands are accepted this session.
	StateFault LinkState = 2
)

func (s LinkState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateDegraded:
		return "degraded"
	case StateFault:
		return "fault"
	}
	return fmt.Sprintf("unknown(%d)", byte(s))
}

// Telemetry is the pose/velocity estimate reported each tick.
type Telemetry struct {
	X       float64 // meters
	Y       float64 // meters
	Heading float64 // radians, wrapped to [-pi, pi)
	Linear  float64 // m/s
	Angular float64 // rad/s
	State   LinkState
}

// EncodeTelemetry packs a telemetry payload. Pure, total, fixed size.
// Values beyond the fixed-point range saturate rather than wrap.
func EncodeTelemetry(t Telemetry) []byte {
	payload := make([]byte, telemetryPayloadLen)
	payload[0] = MsgTelemetry
	binary.LittleEndian.PutUint32(payload[1:5], uint32(clampI32(t.X*wireScale)))
	binary.LittleEndian.PutUint32(payload[5:9], uint32(clampI32(t.Y*wireScale)))
	binary.LittleEndian.PutUint16(payload[9:11], uint16(clampI16(t.Heading*wireScale)))
	binary.LittleEndian.PutUint16(payload[11:13], uint16(clampI16(t.Linear*wireScale)))
	binary.LittleEndian.PutUint16(payload[13:15], uint16(clampI16(t.Angular*wireScale)))
	payload[15] = byte(t.State)
	return payload
}

// ParseTelemetry decodes a telemetry payload. Used by the companion
// simulator and tests; the robot side only encodes telemetry.
func ParseTelemetry(payload []byte) (Telemetry, error) {
	if len(payload) != telemetryPayloadLen {
		return Telemetry{}, fmt.Errorf("%w: %d bytes (want %d)", ErrMalformedTelemetry, len(payload), telemetryPayloadLen)
	}
	if payload[0] != MsgTelemetry {
		return Telemetry{}, fmt.Errorf("%w: 0x%02x", ErrUnknownMessageType, payload[0])
	}
	return Telemetry{
		X:       float64(int32(binary.LittleEndian.Uint32(payload[1:5]))) / wireScale,
		Y:       float64(int32(binary.LittleEndian.Uint32(payload[5:9]))) / wireScale,
		Heading: float64(int16(binary.LittleEndian.Uint16(payload[9:11]))) / wireScale,
		Linear:  float64(int16(binary.LittleEndian.Uint16(payload[11:13]))) / wireScale,
		Angular: float64(int16(binary.LittleEndian.Uint16(payload[13:15]))) / wireScale,
		State:   LinkState(payload[15]),
	}, nil
}

func clampI16(v float64) int16 {
	r := math.Round(v)
	if r > math.MaxInt16 {
		return math.MaxInt16
	}
	if r < math.MinInt16 {
		return math.MinInt16
	}
	return int16(r)
}

func clampI32(v float64) int32 {
	r := math.Round(v)
	if r > math.MaxInt32 {
		return math.MaxInt32
	}
	if r < math.MinInt32 {
		return math.MinInt32
	}
	return int32(r)
}
