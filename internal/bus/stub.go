//go:build !linux

package bus

import "errors"

// RealBus is not available on non-Linux platforms.
type RealBus struct{}

// NewRealBus returns an error on non-Linux platforms.
func NewRealBus(busNr int) (*RealBus, error) {
	return nil, errors.New("bus: not supported on this platform (requires Linux)")
}

// Open is not implemented on non-Linux platforms.
func (b *RealBus) Open(addr int) (Conn, error) {
	return nil, errors.New("bus: not supported")
}

// Close is not implemented on non-Linux platforms.
func (b *RealBus) Close() error {
	return nil
}
