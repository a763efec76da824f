package wire

import (
	"bytes"
	"errors"
	"fmt"
)

// Frame decode failure classes. None of these are fatal to the link: the
// decoder discards the offending bytes and resynchronizes on the next
// candidate marker.
var (
	// ErrSyncNotFound reports bytes discarded while hunting for a frame
	// marker.
	ErrSyncNotFound = errors.New("wire: sync marker not found")

	// ErrLengthOutOfRange reports a frame whose length field exceeds
	// MaxPayload.
	ErrLengthOutOfRange = errors.New("wire: frame length out of range")

	// ErrChecksumMismatch reports a frame whose checksum does not cover its
	// contents.
	ErrChecksumMismatch = errors.New("wire: checksum mismatch")

	// ErrPayloadTooLarge reports an encode request exceeding MaxPayload.
	// This is a caller contract violation, not a link condition.
	ErrPayloadTooLarge = errors.New("wire: payload too large")
)

// Checksum computes the frame checksum over the length byte and payload:
// the two's complement of their 8-bit additive sum.
func Checksum(length byte, payload []byte) byte {
	sum := length
	for _, b := range payload {
		sum += b
	}
	return ^sum + 1
}

// EncodeFrame wraps payload in a frame. It is pure and total for any
// payload within MaxPayload; larger payloads return ErrPayloadTooLarge.
func EncodeFrame(payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload), MaxPayload)
	}
	frame := make([]byte, 0, len(payload)+frameOverhead)
	frame = append(frame, SyncByte, byte(len(payload)))
	frame = append(frame, payload...)
	frame = append(frame, Checksum(byte(len(payload)), payload))
	return frame, nil
}

// DecodeStats counts decoder outcomes since construction. The control loop
// folds these into link health reporting.
type DecodeStats struct {
	Frames         uint64 // valid frames produced
	SyncErrors     uint64 // discard runs while hunting for a marker
	LengthErrors   uint64 // frames dropped for an out-of-range length
	ChecksumErrors uint64 // frames dropped for a bad checksum
}

// Decoder extracts frames from an unreliable byte stream. It holds partial
// input between calls and resynchronizes after corruption rather than
// locking up. The zero value is ready to use.
type Decoder struct {
	buf   []byte
	stats DecodeStats
}

// Feed appends raw bytes received from the link.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Stats returns decoder counters accumulated so far.
func (d *Decoder) Stats() DecodeStats {
	return d.stats
}

// Buffered returns the number of bytes held awaiting a complete frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Next scans buffered input for the next frame. It returns the frame
// payload on success, (nil, nil) when more bytes are needed, or a decode
// error describing discarded input. Every error consumes at least one
// buffered byte, so repeated calls always terminate and resynchronization
// is bounded by the amount of buffered garbage.
func (d *Decoder) Next() ([]byte, error) {
	if len(d.buf) == 0 {
		return nil, nil
	}

	// Hunt for the marker, discarding leading garbage.
	if d.buf[0] != SyncByte {
		i := bytes.IndexByte(d.buf, SyncByte)
		d.stats.SyncErrors++
		if i < 0 {
			n := len(d.buf)
			d.buf = d.buf[:0]
			return nil, fmt.Errorf("%w: discarded %d bytes", ErrSyncNotFound, n)
		}
		d.buf = d.buf[i:]
		return nil, fmt.Errorf("%w: discarded %d bytes", ErrSyncNotFound, i)
	}

	if len(d.buf) < 2 {
		return nil, nil // length byte not yet received
	}
	length := d.buf[1]
	if int(length) > MaxPayload {
		// The marker was noise or the stream is torn. Drop the marker byte
		// and rescan; a real frame may start inside what looked like this
		// one.
		d.stats.LengthErrors++
		d.buf = d.buf[1:]
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrLengthOutOfRange, length, MaxPayload)
	}

	total := int(length) + frameOverhead
	if len(d.buf) < total {
		return nil, nil // frame incomplete
	}

	if got, want := d.buf[total-1], Checksum(length, d.buf[2:2+length]); got != want {
		d.stats.ChecksumErrors++
		d.buf = d.buf[1:]
		return nil, fmt.Errorf("%w: got 0x%02x want 0x%02x", ErrChecksumMismatch, got, want)
	}

	payload := make([]byte, length)
	copy(payload, d.buf[2:2+length])
	d.buf = d.buf[total:]
	d.stats.Frames++
	return payload, nil
}
