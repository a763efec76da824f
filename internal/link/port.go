// Package link provides the point-to-point byte link between the bridge and
// the companion computer. It abstracts the serial port behind a small
// interface so the control loop and tests never touch real hardware.
package link

import (
	"io"
	"time"
)

// Port is the minimal interface the bridge needs from a serial port.
type Port interface {
	io.ReadWriter
	io.Closer
}

// TimeoutPort extends Port with read timeout control. Ports that implement
// it are configured for bounded, near-non-blocking reads so a silent link
// can never stall a control tick.
type TimeoutPort interface {
	Port
	SetReadTimeout(timeout time.Duration) error
}

// Mode defines serial port configuration parameters.
type Mode struct {
	BaudRate int
	DataBits int
	Parity   Parity
	StopBits StopBits
}

// Parity defines serial port parity options.
type Parity int

const (
	NoParity Parity = iota
	OddParity
	EvenParity
)

// StopBits defines serial port stop bit options.
type StopBits int

const (
	OneStopBit StopBits = iota
	TwoStopBits
)

// DefaultMode returns the link settings the companion computer expects.
func DefaultMode() *Mode {
	return &Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   NoParity,
		StopBits: OneStopBit,
	}
}

// ReadTimeout bounds a single port read. It is far below the control tick
// period so draining the port can never blow the tick budget.
const ReadTimeout = time.Millisecond
