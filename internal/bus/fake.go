package bus

import (
	"errors"
	"sync"
)

// FakeConn is a test double that records writes and returns scripted reads.
type FakeConn struct {
	mu sync.Mutex

	// Responses contains scripted read payloads. Each Read consumes the next
	// one; once exhausted the last response repeats.
	Responses [][]byte
	index     int

	// Writes records every payload passed to Write.
	Writes [][]byte

	// WriteErrors and ReadErrors are consumed one per call. A nil entry (or an
	// exhausted slice) means the call succeeds.
	WriteErrors []error
	ReadErrors  []error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeConn creates a FakeConn with the given read responses.
func NewFakeConn(responses ...[]byte) *FakeConn {
	return &FakeConn{Responses: responses}
}

// Write records p unless a scripted error is pending.
func (f *FakeConn) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.WriteErrors) > 0 {
		err := f.WriteErrors[0]
		f.WriteErrors = f.WriteErrors[1:]
		if err != nil {
			return 0, err
		}
	}
	f.Writes = append(f.Writes, append([]byte(nil), p...))
	return len(p), nil
}

// Read copies the next scripted response into p.
func (f *FakeConn) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.ReadErrors) > 0 {
		err := f.ReadErrors[0]
		f.ReadErrors = f.ReadErrors[1:]
		if err != nil {
			return 0, err
		}
	}
	if len(f.Responses) == 0 {
		return 0, errors.New("no responses configured")
	}
	resp := f.Responses[f.index]
	if f.index < len(f.Responses)-1 {
		f.index++
	}
	return copy(p, resp), nil
}

// Close marks the connection as closed.
func (f *FakeConn) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// WriteLog returns a copy of the recorded writes.
func (f *FakeConn) WriteLog() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.Writes))
	copy(out, f.Writes)
	return out
}

// FakeBus hands out pre-registered FakeConns by address.
type FakeBus struct {
	Conns  map[int]*FakeConn
	Closed bool
}

// NewFakeBus creates an empty FakeBus.
func NewFakeBus() *FakeBus {
	return &FakeBus{Conns: make(map[int]*FakeConn)}
}

// Open returns the FakeConn registered for addr.
func (b *FakeBus) Open(addr int) (Conn, error) {
	c, ok := b.Conns[addr]
	if !ok {
		return nil, errors.New("no device at address")
	}
	return c, nil
}

// Close marks the bus as closed.
func (b *FakeBus) Close() error {
	b.Closed = true
	return nil
}
