package gpio

import "sync"

// FakeOutput is a test double that records every level written.
type FakeOutput struct {
	mu sync.Mutex

	// Levels contains every value passed to Set, in order.
	Levels []bool

	// SetError, if set, will be returned by Set.
	SetError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeOutput creates a FakeOutput.
func NewFakeOutput() *FakeOutput {
	return &FakeOutput{}
}

// Set records the level.
func (f *FakeOutput) Set(active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	f.Levels = append(f.Levels, active)
	return nil
}

// Active reports the last level written (false if never set).
func (f *FakeOutput) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Levels) == 0 {
		return false
	}
	return f.Levels[len(f.Levels)-1]
}

// History returns a copy of the levels written.
func (f *FakeOutput) History() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.Levels...)
}

// Close marks the output as closed.
func (f *FakeOutput) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// Reset clears recorded state.
func (f *FakeOutput) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Levels = nil
	f.SetError = nil
	f.Closed = false
}
