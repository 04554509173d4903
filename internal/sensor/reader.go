package sensor

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/geckobuddy/enclosure-controller/internal/bus"
	"github.com/geckobuddy/enclosure-controller/internal/faults"
	"github.com/geckobuddy/enclosure-controller/internal/logic"
)

// Retry defaults.
const (
	DefaultAttempts = 5
	DefaultPause    = 500 * time.Millisecond
)

// Options configures a Reader.
type Options struct {
	Mode     Mode
	Attempts int
	Pause    time.Duration
	// Now and Sleep are injectable for tests. Nil means wall clock.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Reader performs validated measurements.
type Reader struct {
	conn     bus.Conn
	mode     Mode
	attempts int
	pause    time.Duration
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *zap.Logger
}

// NewReader creates a Reader on an open connection. Zero options take defaults.
func NewReader(conn bus.Conn, opts Options, logger *zap.Logger) *Reader {
	r := &Reader{
		conn:     conn,
		mode:     opts.Mode,
		attempts: opts.Attempts,
		pause:    opts.Pause,
		now:      opts.Now,
		sleep:    opts.Sleep,
		logger:   logger,
	}
	if r.mode.Cmd == 0 {
		r.mode = DefaultMode
	}
	if r.attempts < 1 {
		r.attempts = DefaultAttempts
	}
	if r.pause <= 0 {
		r.pause = DefaultPause
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.sleep == nil {
		r.sleep = sleepCtx
	}
	return r
}

// Mode returns the active measurement mode.
func (r *Reader) Mode() Mode {
	return r.mode
}

// Read performs one measurement, retrying checksum and bus errors. When every
// attempt fails the error wraps faults.ErrFatalSensor.
func (r *Reader) Read(ctx context.Context) (logic.SensorReading, error) {
	attempt := 0
	reading, err := backoff.Retry(ctx, func() (logic.SensorReading, error) {
		attempt++
		rd, err := r.readOnce(ctx)
		if err != nil {
			r.logger.Warn("sensor read failed",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", r.attempts),
				zap.Error(err))
			return rd, err
		}
		return rd, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(r.pause)),
		backoff.WithMaxTries(uint(r.attempts)),
	)
	if err != nil {
		if ctx.Err() != nil {
			return logic.SensorReading{}, ctx.Err()
		}
		return logic.SensorReading{}, fmt.Errorf("%w after %d attempts: %w", faults.ErrFatalSensor, attempt, err)
	}
	return reading, nil
}

func (r *Reader) readOnce(ctx context.Context) (logic.SensorReading, error) {
	frame, err := r.transact(ctx, r.mode.Cmd, r.mode.Delay)
	if err != nil {
		return logic.SensorReading{}, err
	}
	tempF, hum, err := Decode(frame)
	if err != nil {
		return logic.SensorReading{}, err
	}
	return logic.SensorReading{
		TemperatureF: tempF,
		HumidityPct:  hum,
		ValidatedAt:  r.now(),
	}, nil
}

// transact writes a single command byte, waits, and reads a full frame.
func (r *Reader) transact(ctx context.Context, cmd byte, delay time.Duration) ([]byte, error) {
	if _, err := r.conn.Write([]byte{cmd}); err != nil {
		return nil, fmt.Errorf("write command 0x%02x: %w", cmd, err)
	}
	if err := r.sleep(ctx, delay); err != nil {
		return nil, err
	}
	frame := make([]byte, FrameSize)
	n, err := r.conn.Read(frame)
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	if n != FrameSize {
		return nil, fmt.Errorf("short read: %d of %d bytes", n, FrameSize)
	}
	return frame, nil
}

// SoftReset returns the sensor to its power-on defaults.
func (r *Reader) SoftReset(ctx context.Context) error {
	if _, err := r.conn.Write([]byte{cmdSoftReset}); err != nil {
		return fmt.Errorf("soft reset: %w", err)
	}
	return r.sleep(ctx, resetDelay)
}

// SerialNumber reads the sensor's unique 32-bit serial.
func (r *Reader) SerialNumber(ctx context.Context) (uint32, error) {
	frame, err := r.transact(ctx, cmdReadSerial, serialDelay)
	if err != nil {
		return 0, err
	}
	hi, err := ValidateWord(frame[0:3])
	if err != nil {
		return 0, fmt.Errorf("serial high word: %w", err)
	}
	lo, err := ValidateWord(frame[3:6])
	if err != nil {
		return 0, fmt.Errorf("serial low word: %w", err)
	}
	var b [4]byte
	binary.BigEndian.PutUint16(b[0:2], hi)
	binary.BigEndian.PutUint16(b[2:4], lo)
	return binary.BigEndian.Uint32(b[:]), nil
}

// Round2 rounds a reading to two decimals for display and telemetry.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
