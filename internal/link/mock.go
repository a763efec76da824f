package link

import (
	"bytes"
	"errors"
	"sync"
)

// ErrPortClosed is returned by mock port operations after Close.
var ErrPortClosed = errors.New("link: port closed")

// ScriptedPort implements Port with in-memory buffers and non-blocking
// reads, for driving the control loop in tests. Reads return (0, nil) when
// no data is queued, matching a serial port with a short read timeout.
type ScriptedPort struct {
	mu sync.Mutex

	readBuf  bytes.Buffer
	writeBuf bytes.Buffer

	// ReadErr is returned by the next Read call if set, then cleared.
	ReadErr error
	// WriteErr is returned by the next Write call if set, then cleared.
	WriteErr error

	closed bool
}

// NewScriptedPort creates an empty ScriptedPort.
func NewScriptedPort() *ScriptedPort {
	return &ScriptedPort{}
}

// QueueRead appends bytes to be returned by subsequent Read calls.
func (p *ScriptedPort) QueueRead(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readBuf.Write(data)
}

// Written returns a copy of everything written to the port so far.
func (p *ScriptedPort) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.writeBuf.Bytes()...)
}

// ResetWritten clears the captured write buffer.
func (p *ScriptedPort) ResetWritten() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeBuf.Reset()
}

// Read returns queued bytes, or (0, nil) when none are available.
func (p *ScriptedPort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrPortClosed
	}
	if p.ReadErr != nil {
		err := p.ReadErr
		p.ReadErr = nil
		return 0, err
	}
	if p.readBuf.Len() == 0 {
		return 0, nil
	}
	return p.readBuf.Read(buf)
}

// Write captures outbound bytes.
func (p *ScriptedPort) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrPortClosed
	}
	if p.WriteErr != nil {
		err := p.WriteErr
		p.WriteErr = nil
		return 0, err
	}
	return p.writeBuf.Write(data)
}

// Close marks the port closed.
func (p *ScriptedPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// LoopbackPort is one end of an in-memory full-duplex link. Writes to one
// end become reads on the other. Reads are non-blocking like ScriptedPort.
// Used by dev mode to run the bridge against an in-process companion.
type LoopbackPort struct {
	mu     *sync.Mutex
	in     *bytes.Buffer
	out    *bytes.Buffer
	closed *bool
}

// NewLoopback creates a connected pair of loopback ports.
func NewLoopback() (*LoopbackPort, *LoopbackPort) {
	var (
		mu     sync.Mutex
		ab, ba bytes.Buffer
		closed bool
	)
	a := &LoopbackPort{mu: &mu, in: &ba, out: &ab, closed: &closed}
	b := &LoopbackPort{mu: &mu, in: &ab, out: &ba, closed: &closed}
	return a, b
}

// Read returns bytes written by the peer, or (0, nil) when none are queued.
func (p *LoopbackPort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if *p.closed {
		return 0, ErrPortClosed
	}
	if p.in.Len() == 0 {
		return 0, nil
	}
	return p.in.Read(buf)
}

// Write queues bytes for the peer to read.
func (p *LoopbackPort) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if *p.closed {
		return 0, ErrPortClosed
	}
	return p.out.Write(data)
}

// Close closes both ends of the pair.
func (p *LoopbackPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	*p.closed = true
	return nil
}
