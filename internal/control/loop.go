// Package control runs the climate control loop: read the sensor, apply the
// thermostat rule, drive the heat relay.
package control

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/geckobuddy/enclosure-controller/internal/gpio"
	"github.com/geckobuddy/enclosure-controller/internal/logic"
	"github.com/geckobuddy/enclosure-controller/internal/state"
	"github.com/geckobuddy/enclosure-controller/internal/telemetry"
)

// Defaults.
const (
	DefaultInterval = 1 * time.Second
	DefaultDeadband = 0.5
)

// SensorReader produces validated readings.
type SensorReader interface {
	Read(ctx context.Context) (logic.SensorReading, error)
}

// Beater receives liveness beats from the loop.
type Beater interface {
	Beat(t time.Time)
}

// Deps groups the Loop's collaborators.
type Deps struct {
	Sensor    SensorReader
	RelayLine gpio.Output
	Setpoint  state.Reader[logic.SetpointState]
	Readings  *state.Writer[logic.SensorReading]
	Relay     *state.Writer[logic.ThermostatState]
	Pub       telemetry.Publisher
	Beat      Beater
}

// Loop is the control task. It owns the reading and relay records.
type Loop struct {
	Deps
	interval time.Duration
	thermo   *logic.Thermostat
	logger   *zap.Logger

	// Injectable for testing.
	now func() time.Time
}

// NewLoop creates a Loop with the relay off.
func NewLoop(interval time.Duration, deadband float64, deps Deps, logger *zap.Logger) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Loop{
		Deps:     deps,
		interval: interval,
		thermo:   logic.NewThermostat(deadband),
		logger:   logger,
		now:      time.Now,
	}
}

// Run forces the relay off, then steps every interval until ctx is cancelled
// or the sensor fails for good. The relay is forced off again on the way out.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	return l.runTicks(ctx, ticker.C)
}

func (l *Loop) runTicks(ctx context.Context, tick <-chan time.Time) error {
	if err := l.RelayLine.Set(false); err != nil {
		return fmt.Errorf("force relay off: %w", err)
	}
	l.Relay.Store(l.thermo.State())
	defer l.Stop()

	l.logger.Info("control loop started",
		zap.Duration("interval", l.interval),
		zap.Float64("deadband", l.thermo.Deadband()))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			if err := l.Step(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

// Step performs one control cycle.
func (l *Loop) Step(ctx context.Context) error {
	reading, err := l.Sensor.Read(ctx)
	if err != nil {
		return fmt.Errorf("read sensor: %w", err)
	}
	l.Readings.Store(reading)

	sp := l.Setpoint.Load()
	cmd := l.thermo.Process(reading, sp.ActiveValue)

	if cmd != logic.RelayNoChange {
		on := cmd == logic.RelayOn
		if err := l.RelayLine.Set(on); err != nil {
			return fmt.Errorf("drive relay %s: %w", cmd, err)
		}
		l.logger.Info("relay",
			zap.String("command", string(cmd)),
			zap.Float64("temp_f", reading.TemperatureF),
			zap.Float64("setpoint", sp.ActiveValue),
			zap.String("source", string(sp.Source)))
		if err := l.Pub.Publish(ctx, telemetry.FeedLampState, telemetry.OnOff(on)); err != nil {
			l.logger.Debug("lamp state publish failed", zap.Error(err))
		}
	}
	l.Relay.Store(l.thermo.State())

	if l.Beat != nil {
		l.Beat.Beat(l.now())
	}
	return nil
}

// Stop forces the relay off. Safe to call more than once.
func (l *Loop) Stop() {
	wasOn := l.thermo.ForceOff(l.now())
	if err := l.RelayLine.Set(false); err != nil {
		l.logger.Error("relay off failed", zap.Error(err))
	}
	l.Relay.Store(l.thermo.State())
	if wasOn {
		l.logger.Info("relay forced off")
	}
}

