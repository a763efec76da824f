package link

import (
	"fmt"

	"go.bug.st/serial"
)

// Open opens the serial device at path with the given mode and configures
// it for bounded reads. A nil mode uses DefaultMode.
func Open(path string, mode *Mode) (Port, error) {
	if mode == nil {
		mode = DefaultMode()
	}

	serialMode := &serial.Mode{
		BaudRate: mode.BaudRate,
		DataBits: mode.DataBits,
	}
	switch mode.Parity {
	case NoParity:
		serialMode.Parity = serial.NoParity
	case OddParity:
		serialMode.Parity = serial.OddParity
	case EvenParity:
		serialMode.Parity = serial.EvenParity
	default:
		return nil, fmt.Errorf("link: unsupported parity %d", mode.Parity)
	}
	switch mode.StopBits {
	case OneStopBit:
		serialMode.StopBits = serial.OneStopBit
	case TwoStopBits:
		serialMode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("link: unsupported stop bits %d", mode.StopBits)
	}

	port, err := serial.Open(path, serialMode)
	if err != nil {
		return nil, fmt.Errorf("link: open %s: %w", path, err)
	}
	if err := port.SetReadTimeout(ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("link: set read timeout on %s: %w", path, err)
	}
	return port, nil
}
