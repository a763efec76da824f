package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Command payload layout, 9 bytes little-endian:
//
//	[TYPE=0x01][SEQ u32][LINEAR i16 mm/s][ANGULAR i16 mrad/s]
const commandPayloadLen = 9

// Command decode failures.
var (
	// ErrMalformedCommand reports a command payload whose length does not
	// match the expected layout exactly.
	ErrMalformedCommand = errors.New("wire: malformed command payload")

	// ErrUnknownMessageType reports a payload whose type tag is not the one
	// expected by the caller.
	ErrUnknownMessageType = errors.New("wire: unknown message type")
)

// Command is a decoded velocity command. Immutable once decoded; the
// scheduler keeps exactly one as "current" and replaces it wholesale when
// the next valid command arrives.
type Command struct {
	Seq     uint32  // monotonic per link session
	Linear  float64 // m/s, forward positive
	Angular float64 // rad/s, counter-clockwise positive
}

// ParseCommand decodes a command payload. Range clamping is the acceptance
// path's concern, not the codec's; staleness likewise.
func ParseCommand(payload []byte) (Command, error) {
	if len(payload) != commandPayloadLen {
		return Command{}, fmt.Errorf("%w: %d bytes (want %d)", ErrMalformedCommand, len(payload), commandPayloadLen)
	}
	if payload[0] != MsgCommand {
		return Command{}, fmt.Errorf("%w: 0x%02x", ErrUnknownMessageType, payload[0])
	}
	return Command{
		Seq:     binary.LittleEndian.Uint32(payload[1:5]),
		Linear:  float64(int16(binary.LittleEndian.Uint16(payload[5:7]))) / wireScale,
		Angular: float64(int16(binary.LittleEndian.Uint16(payload[7:9]))) / wireScale,
	}, nil
}

// EncodeCommand packs a command payload. Values outside the fixed-point
// range saturate to the nearest representable bound. Used by the companion
// simulator and tests; the robot side only parses commands.
func EncodeCommand(cmd Command) []byte {
	payload := make([]byte, commandPayloadLen)
	payload[0] = MsgCommand
	binary.LittleEndian.PutUint32(payload[1:5], cmd.Seq)
	binary.LittleEndian.PutUint16(payload[5:7], uint16(clampI16(cmd.Linear*wireScale)))
	binary.LittleEndian.PutUint16(payload[7:9], uint16(clampI16(cmd.Angular*wireScale)))
	return payload
}
