// Package wire implements the framed binary protocol spoken between the
// robot bridge and the companion computer.
//
// Every message travels in a frame:
//
//	[SYNC][LEN][PAYLOAD...][CHECKSUM]
//
// SYNC is a fixed one-byte marker. LEN counts payload bytes only. CHECKSUM
// is the two's complement of the 8-bit additive sum of LEN and the payload,
// so summing LEN, the payload, and CHECKSUM always yields 0x00 for a valid
// frame.
//
// The first payload byte is a message type tag. Inbound frames carry
// velocity commands, outbound frames carry pose/velocity telemetry. All
// multi-byte fields are little-endian, and physical quantities travel as
// signed fixed-point milli-units (mm, mm/s, mrad, mrad/s). These constants
// must match the companion's implementation bit-for-bit.
package wire

// Frame layout constants.
const (
	SyncByte = 0xA5 // frame start marker

	// MaxPayload is the largest payload LEN may describe. Anything larger
	// on the stream is treated as corruption.
	MaxPayload = 64

	// frameOverhead is SYNC + LEN + CHECKSUM.
	frameOverhead = 3
)

// Message type tags (first payload byte).
const (
	MsgCommand   = 0x01 // companion -> robot: velocity command
	MsgTelemetry = 0x02 // robot -> companion: pose + velocity + link state
)

// Fixed-point wire scaling: floats are carried as signed milli-units.
const wireScale = 1000.0
