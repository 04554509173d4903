// Package lighting drives the enclosure's lighting peripheral through the
// sunrise/day/sunset/night sequence.
package lighting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/geckobuddy/enclosure-controller/internal/bus"
	"github.com/geckobuddy/enclosure-controller/internal/faults"
	"github.com/geckobuddy/enclosure-controller/internal/gpio"
)

// Color is one peripheral command: a display mode, an RGB colour and a brightness.
type Color struct {
	Mode       uint8
	R, G, B    uint8
	Brightness uint8
}

// Bytes is the 5-byte wire form.
func (c Color) Bytes() []byte {
	return []byte{c.Mode, c.R, c.G, c.B, c.Brightness}
}

func (c Color) String() string {
	return fmt.Sprintf("(%d,%d,%d,%d,%d)", c.Mode, c.R, c.G, c.B, c.Brightness)
}

// Status colours shown during startup and faults.
var (
	ColorInit        = Color{Mode: 2, R: 1, G: 255, B: 1, Brightness: 1}
	ColorSensorError = Color{Mode: 2, R: 255, G: 1, B: 1, Brightness: 1}
	ColorReady       = Color{Mode: 3, R: 1, G: 255, B: 1, Brightness: 1}
	ColorFault       = Color{Mode: 2, R: 1, G: 1, B: 1, Brightness: 255}
	ColorOff         = Color{Mode: 1}
)

// DayColor is the warm white used for the daylight sequence.
func DayColor(brightness uint8) Color {
	if brightness == 0 {
		return ColorOff
	}
	return Color{Mode: 1, R: 255, G: 150, B: 20, Brightness: brightness}
}

// Defaults for peripheral writes.
const (
	DefaultRetryDelay   = 5 * time.Second
	DefaultRetryTimeout = 30 * time.Second
)

// Driver is what the sequencer needs from the peripheral.
type Driver interface {
	Send(ctx context.Context, c Color) error
	Reset(ctx context.Context) error
}

// Peripheral is the lighting controller on the I2C bus with its reset line.
type Peripheral struct {
	mu         sync.Mutex
	conn       bus.Conn
	reset      gpio.Output
	retryDelay time.Duration
	timeout    time.Duration
	pulse      time.Duration
	logger     *zap.Logger
}

// PeripheralOptions configures a Peripheral. Zero values take defaults.
type PeripheralOptions struct {
	RetryDelay   time.Duration
	RetryTimeout time.Duration
	ResetPulse   time.Duration
}

// NewPeripheral creates a Peripheral. The reset line is released (high).
func NewPeripheral(conn bus.Conn, reset gpio.Output, opts PeripheralOptions, logger *zap.Logger) *Peripheral {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.RetryTimeout <= 0 {
		opts.RetryTimeout = DefaultRetryTimeout
	}
	if opts.ResetPulse < gpio.MinResetPulse {
		opts.ResetPulse = gpio.MinResetPulse
	}
	return &Peripheral{
		conn:       conn,
		reset:      reset,
		retryDelay: opts.RetryDelay,
		timeout:    opts.RetryTimeout,
		pulse:      opts.ResetPulse,
		logger:     logger,
	}
}

// Send writes c, retrying transport errors every retry delay until the retry
// timeout. On exhaustion the error wraps faults.ErrBusTransport.
func (p *Peripheral) Send(ctx context.Context, c Color) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		_, err := p.conn.Write(c.Bytes())
		if err != nil {
			p.logger.Debug("lighting write failed",
				zap.Stringer("color", c),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(p.retryDelay)),
		backoff.WithMaxElapsedTime(p.timeout),
	)
	if err != nil {
		return fmt.Errorf("%w: send %s after %d attempts: %w", faults.ErrBusTransport, c, attempt, err)
	}
	return nil
}

// Reset pulses the active-low reset line.
func (p *Peripheral) Reset(ctx context.Context) error {
	p.logger.Info("resetting lighting peripheral")
	if err := gpio.Pulse(ctx, p.reset, p.pulse); err != nil {
		return fmt.Errorf("pulse reset line: %w", err)
	}
	return nil
}
