package telemetry

import (
	"context"
	"errors"
	"sync"
)

// Fake records published values and serves scripted fetches for test assertions.
type Fake struct {
	mu sync.Mutex

	// Messages contains every value that was published.
	Messages []Message

	// Values maps feeds to the string Fetch returns.
	Values map[Feed]string

	// PublishError, if set, will be returned by Publish.
	PublishError error

	// FetchError, if set, will be returned by Fetch.
	FetchError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFake creates a Fake for testing.
func NewFake() *Fake {
	return &Fake{Values: make(map[Feed]string)}
}

// Publish records the value.
func (f *Fake) Publish(ctx context.Context, feed Feed, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Messages = append(f.Messages, Message{Feed: feed, Value: value})
	return nil
}

// Fetch returns the scripted value for feed.
func (f *Fake) Fetch(ctx context.Context, feed Feed) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FetchError != nil {
		return "", f.FetchError
	}
	v, ok := f.Values[feed]
	if !ok {
		return "", errors.New("no value for feed")
	}
	return v, nil
}

// SetValue sets the value Fetch returns for feed.
func (f *Fake) SetValue(feed Feed, v string) {
	f.mu.Lock()
	f.Values[feed] = v
	f.mu.Unlock()
}

// Sent returns a copy of the recorded messages, optionally filtered by feed.
func (f *Fake) Sent(feeds ...Feed) []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Message
	for _, m := range f.Messages {
		if len(feeds) == 0 {
			out = append(out, m)
			continue
		}
		for _, want := range feeds {
			if m.Feed == want {
				out = append(out, m)
				break
			}
		}
	}
	return out
}

// Close marks the publisher as closed.
func (f *Fake) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *Fake) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// Reset clears recorded messages and errors.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Messages = nil
	f.PublishError = nil
	f.FetchError = nil
	f.Closed = false
	f.Connected = false
}
