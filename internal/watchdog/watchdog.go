// Package watchdog keeps the hardware watchdog fed while the control loop is
// alive and forces a daily restart.
package watchdog

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Defaults.
const (
	DefaultDevice   = "/dev/watchdog"
	DefaultInterval = 5 * time.Second
	DefaultStall    = 30 * time.Second
)

// magicClose disarms the Linux watchdog when written just before close.
var magicClose = []byte("V")

// Heartbeat records the last time the control loop completed a cycle.
type Heartbeat struct {
	last atomic.Int64
}

// NewHeartbeat creates a Heartbeat that counts start as the first beat.
func NewHeartbeat(start time.Time) *Heartbeat {
	h := &Heartbeat{}
	h.Beat(start)
	return h
}

// Beat records t.
func (h *Heartbeat) Beat(t time.Time) {
	h.last.Store(t.UnixNano())
}

// Last returns the most recent beat.
func (h *Heartbeat) Last() time.Time {
	return time.Unix(0, h.last.Load())
}

// Device is an open watchdog device.
type Device interface {
	io.Writer
	io.Closer
}

// OpenDevice opens the watchdog character device. Opening arms it.
func OpenDevice(path string) (Device, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open watchdog %s: %w", path, err)
	}
	return f, nil
}

// Feeder kicks the device while the heartbeat is fresh.
type Feeder struct {
	dev      Device
	hb       *Heartbeat
	interval time.Duration
	stall    time.Duration
	logger   *zap.Logger

	stalled bool
	kicks   atomic.Uint64

	// Injectable for testing.
	now func() time.Time
}

// NewFeeder creates a Feeder. A nil dev disables feeding; Run then only waits.
func NewFeeder(dev Device, hb *Heartbeat, interval, stall time.Duration, logger *zap.Logger) *Feeder {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if stall <= 0 {
		stall = DefaultStall
	}
	return &Feeder{
		dev:      dev,
		hb:       hb,
		interval: interval,
		stall:    stall,
		logger:   logger,
		now:      time.Now,
	}
}

// Run feeds every interval until ctx is cancelled, then disarms the device.
func (f *Feeder) Run(ctx context.Context) error {
	if f.dev == nil {
		<-ctx.Done()
		return nil
	}
	defer f.Close()

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	f.Feed()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			f.Feed()
		}
	}
}

// Feed kicks the device if the heartbeat is fresh. Returns whether it kicked.
func (f *Feeder) Feed() bool {
	age := f.now().Sub(f.hb.Last())
	if age >= f.stall {
		if !f.stalled {
			f.logger.Error("control loop stalled, no longer feeding watchdog",
				zap.Duration("heartbeat_age", age))
			f.stalled = true
		}
		return false
	}
	if f.stalled {
		f.logger.Info("control loop recovered, feeding watchdog")
		f.stalled = false
	}

	if _, err := f.dev.Write([]byte{0}); err != nil {
		f.logger.Error("watchdog write failed", zap.Error(err))
		return false
	}
	f.kicks.Add(1)
	return true
}

// Kicks returns the number of successful feeds.
func (f *Feeder) Kicks() uint64 {
	return f.kicks.Load()
}

// Close disarms and closes the device.
func (f *Feeder) Close() error {
	if f.dev == nil {
		return nil
	}
	if _, err := f.dev.Write(magicClose); err != nil {
		f.logger.Warn("watchdog magic close failed", zap.Error(err))
	}
	return f.dev.Close()
}
