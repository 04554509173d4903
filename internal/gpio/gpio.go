// Package gpio drives GPIO output lines with hardware abstraction.
// The real implementation uses Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import (
	"context"
	"time"
)

// Output drives a single output line.
type Output interface {
	// Set drives the line to its logical active (true) or inactive (false) level.
	Set(active bool) error

	// Close releases the line.
	Close() error
}

// Pin definitions (BCM numbering)
const (
	DefaultPinRelay = 4 // heat lamp relay, active high
	DefaultPinReset = 2 // lighting peripheral reset, active low
)

// MinResetPulse is the shortest low time the lighting peripheral accepts.
const MinResetPulse = 100 * time.Millisecond

// Pulse holds an active-low reset line low for d, then releases it high.
// d is raised to MinResetPulse if shorter. Cancelling ctx ends the pulse
// early, but never before MinResetPulse has elapsed.
func Pulse(ctx context.Context, line Output, d time.Duration) error {
	if d < MinResetPulse {
		d = MinResetPulse
	}
	if err := line.Set(false); err != nil {
		return err
	}
	low := time.Now()
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		time.Sleep(MinResetPulse - time.Since(low))
	case <-t.C:
	}
	// Always release the line, even when cancelled.
	return line.Set(true)
}
