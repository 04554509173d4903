// Package controller wires the enclosure tasks together and owns the startup
// and shutdown sequences.
package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/geckobuddy/enclosure-controller/internal/config"
	"github.com/geckobuddy/enclosure-controller/internal/connectivity"
	"github.com/geckobuddy/enclosure-controller/internal/control"
	"github.com/geckobuddy/enclosure-controller/internal/faults"
	"github.com/geckobuddy/enclosure-controller/internal/gpio"
	"github.com/geckobuddy/enclosure-controller/internal/lighting"
	"github.com/geckobuddy/enclosure-controller/internal/logic"
	"github.com/geckobuddy/enclosure-controller/internal/setpoint"
	"github.com/geckobuddy/enclosure-controller/internal/state"
	"github.com/geckobuddy/enclosure-controller/internal/status"
	"github.com/geckobuddy/enclosure-controller/internal/telemetry"
	"github.com/geckobuddy/enclosure-controller/internal/watchdog"
	"github.com/geckobuddy/enclosure-controller/internal/web"
)

// Budgets for the work after the task group has ended. Each step of the fault
// sequence gets its own so a wedged peripheral cannot starve the rest.
const (
	shutdownTimeout = 15 * time.Second
	notifyTimeout   = 10 * time.Second
	colorTimeout    = 5 * time.Second
	resetTimeout    = 5 * time.Second
)

// Sensor bring-up at boot.
const (
	sensorResetTries = 5
	sensorResetDelay = time.Second
)

// Sensor is the climate sensor as the controller uses it.
type Sensor interface {
	control.SensorReader
	SoftReset(ctx context.Context) error
}

// SolarResolver produces the day's solar events, falling back when it must.
type SolarResolver interface {
	Resolve(ctx context.Context, now time.Time) (logic.SolarEvents, bool)
}

// Hardware is the device side of the controller.
type Hardware struct {
	Sensor    Sensor
	Lighting  lighting.Driver
	RelayLine gpio.Output
	// Watchdog is nil when feeding is disabled.
	Watchdog watchdog.Device
}

// Services is the network side of the controller.
type Services struct {
	Publisher telemetry.Publisher
	Fetcher   telemetry.Fetcher
	Prober    connectivity.Prober
	Solar     SolarResolver
	// Endpoint is shown on the status page.
	Endpoint string
}

// Build identifies this binary and this boot.
type Build struct {
	Version string
	// BootID is generated by Run when empty.
	BootID string
}

// Controller runs every task under one errgroup.
type Controller struct {
	cfg    *config.Config
	hw     Hardware
	svc    Services
	build  Build
	logger *zap.Logger

	tracker *status.Tracker
	pub     *telemetry.Async

	// Injectable for testing.
	now              func() time.Time
	colorTimeout     time.Duration
	sensorResetDelay time.Duration
}

// New creates a Controller. Nothing touches hardware until Run.
func New(cfg *config.Config, hw Hardware, svc Services, build Build, logger *zap.Logger) *Controller {
	return &Controller{
		cfg:              cfg,
		hw:               hw,
		svc:              svc,
		build:            build,
		logger:           logger,
		now:              time.Now,
		colorTimeout:     colorTimeout,
		sensorResetDelay: sensorResetDelay,
	}
}

// Tracker returns the status tracker. Nil before Run has started.
func (c *Controller) Tracker() *status.Tracker {
	return c.tracker
}

// Run performs the startup sequence and runs until ctx is cancelled or a task
// fails. Cancellation returns nil after switching everything off. A task
// failure returns a *faults.RestartError after the fault sequence.
func (c *Controller) Run(ctx context.Context) error {
	start := c.now()
	bootID := c.build.BootID
	log := c.logger
	if bootID == "" {
		bootID = uuid.NewString()
		log = log.With(zap.String("boot_id", bootID))
	}

	// Heat off before anything else can fail.
	if err := c.hw.RelayLine.Set(false); err != nil {
		return &faults.RestartError{Reason: "Relay failure. Resetting...", Err: fmt.Errorf("relay off: %w", err)}
	}
	c.resetPeripheral(ctx, log)
	c.showColor(ctx, lighting.ColorInit)

	if err := c.startSensor(ctx, log); err != nil {
		err = fmt.Errorf("%w: %w", faults.ErrFatalSensor, err)
		log.Error("sensor did not answer reset", zap.Error(err))
		return &faults.RestartError{Reason: faults.Reason(err), Err: err}
	}

	solarEv, fellBack := c.svc.Solar.Resolve(ctx, start)
	solarSrc := state.Static[logic.SolarEvents]{V: solarEv}

	readingC, readingW := state.New(logic.SensorReading{})
	relayC, relayW := state.New(logic.ThermostatState{})
	setpointC, setpointW := state.New(logic.SetpointState{})
	lightingC, lightingW := state.New(logic.LightingState{})
	linkC, linkW := state.New(logic.ConnectivityState{})

	link := connectivity.New(connectivity.Config{
		CheckInterval:    c.cfg.Connectivity.CheckInterval,
		FailureThreshold: c.cfg.Connectivity.FailureThreshold,
		InitialBackoff:   c.cfg.Connectivity.InitialBackoff,
		MaxBackoff:       c.cfg.Connectivity.MaxBackoff,
		ProbeTimeout:     c.cfg.Connectivity.ProbeTimeout,
	}, c.svc.Prober, linkW, log.Named("link"))

	c.pub = telemetry.NewAsync(c.svc.Publisher, linkC, link.Report, c.cfg.Telemetry.QueueSize, log.Named("telemetry"))
	defer c.pub.Close()

	c.tracker = status.NewTracker(start, status.Config{
		Version:          c.build.Version,
		BootID:           bootID,
		Transport:        c.cfg.Telemetry.Transport,
		Endpoint:         c.svc.Endpoint,
		HTTPAddr:         c.cfg.HTTP.Addr,
		ControlInterval:  c.cfg.Control.Interval,
		SetpointInterval: c.cfg.Setpoint.Interval,
		Deadband:         c.cfg.Control.Deadband,
		WatchdogDevice:   c.cfg.Watchdog.Device,
	}, status.Sources{
		Reading:   readingC,
		Relay:     relayC,
		Setpoint:  setpointC,
		Lighting:  lightingC,
		Link:      linkC,
		Solar:     solarSrc,
		Telemetry: c.pub,
	})
	c.tracker.SetSolarFallback(fellBack)

	hb := watchdog.NewHeartbeat(start)

	loop := control.NewLoop(c.cfg.Control.Interval, c.cfg.Control.Deadband, control.Deps{
		Sensor:    c.hw.Sensor,
		RelayLine: c.hw.RelayLine,
		Setpoint:  setpointC,
		Readings:  readingW,
		Relay:     relayW,
		Pub:       c.pub,
		Beat:      hb,
	}, log.Named("control"))
	reporter := control.NewReporter(c.cfg.Control.ReportInterval, readingC, c.pub, log.Named("report"))

	sched := setpoint.New(setpoint.Config{
		Interval: c.cfg.Setpoint.Interval,
		Defaults: logic.SetpointDefaults{
			Day:          c.cfg.Setpoint.Day,
			Night:        c.cfg.Setpoint.Night,
			Disconnected: c.cfg.Setpoint.Disconnected,
		},
		Switchover: logic.Switchover{
			NightBeforeSunset: c.cfg.Setpoint.NightBeforeSunset,
			DayAfterSunrise:   c.cfg.Setpoint.DayAfterSunrise,
		},
	}, c.svc.Fetcher, c.pub, linkC, solarSrc, setpointW, link.Report, log.Named("setpoint"))

	seq := lighting.NewSequencer(logic.LightingPlan{
		FadeDuration: c.cfg.Lighting.FadeDuration,
		Steps:        c.cfg.Lighting.Steps,
	}, c.hw.Lighting, solarSrc, lightingW, c.pub, log.Named("lighting"))

	feeder := watchdog.NewFeeder(c.hw.Watchdog, hb, c.cfg.Watchdog.Interval, c.cfg.Watchdog.Stall, log.Named("watchdog"))
	dayCheck := watchdog.NewDayCheck(c.cfg.Watchdog.DaySchedule, start, solarEv.Zone(), log.Named("daycheck"))

	c.showColor(ctx, lighting.ColorReady)
	log.Info("started",
		zap.String("version", c.build.Version),
		zap.String("transport", c.cfg.Telemetry.Transport),
		zap.Int("day_of_year", solarEv.DayOfYear),
		zap.Bool("solar_fallback", fellBack))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(gctx) })
	g.Go(func() error { return reporter.Run(gctx) })
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return seq.Run(gctx) })
	g.Go(func() error { return link.Run(gctx) })
	g.Go(func() error { return c.pub.Run(gctx) })
	g.Go(func() error { return feeder.Run(gctx) })
	g.Go(func() error { return dayCheck.Run(gctx) })
	g.Go(func() error { return c.announce(gctx, linkC) })
	if c.cfg.HTTP.Enabled() {
		srv := web.New(c.cfg.HTTP.Addr, c.tracker, log.Named("http"))
		g.Go(func() error { return srv.Run(gctx) })
	}

	err := g.Wait()
	if err == nil || (ctx.Err() != nil && errors.Is(err, context.Canceled)) {
		c.stop(log)
		return nil
	}
	return c.fault(log, err)
}

// startSensor soft-resets the sensor, retrying a few times a second apart and
// showing the sensor error colour after every failed attempt.
func (c *Controller) startSensor(ctx context.Context, log *zap.Logger) error {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := c.hw.Sensor.SoftReset(ctx)
		if err != nil {
			c.showColor(ctx, lighting.ColorSensorError)
			log.Warn("sensor reset failed", zap.Int("attempt", attempt), zap.Error(err))
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.sensorResetDelay)),
		backoff.WithMaxTries(sensorResetTries),
	)
	if err != nil {
		return fmt.Errorf("soft reset after %d attempts: %w", attempt, err)
	}
	return nil
}

// announce sends the startup message once the link first comes up.
func (c *Controller) announce(ctx context.Context, link state.Reader[logic.ConnectivityState]) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		if link.Load().Online() {
			msg := status.StartupMessage(c.tracker.Snapshot())
			if err := c.pub.Publish(ctx, telemetry.FeedStatus, msg); err != nil {
				return nil
			}
			c.logger.Info("startup announced", zap.String("message", msg))
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// stop is the orderly shutdown: heat off, lights off.
func (c *Controller) stop(log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := c.hw.RelayLine.Set(false); err != nil {
		log.Error("relay off failed", zap.Error(err))
	}
	c.showColor(ctx, lighting.ColorOff)
	log.Info("stopped", zap.String("status", string(status.FormatStatusEvent(c.tracker.Snapshot(), "SHUTDOWN", ""))))
}

// fault is the restart sequence: heat off, best-effort notification, fault
// colour, peripheral reset.
func (c *Controller) fault(log *zap.Logger, cause error) error {
	reason := faults.Reason(cause)
	log.Error("task failed, restarting", zap.String("reason", reason), zap.Error(cause))

	if err := c.hw.RelayLine.Set(false); err != nil {
		log.Error("relay off failed", zap.Error(err))
	}
	c.tracker.SetFault(reason)

	notifyCtx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	if err := c.pub.PublishNow(notifyCtx, telemetry.FeedStatus, reason); err != nil {
		log.Warn("restart notification failed", zap.Error(err))
	}
	cancel()

	colorCtx, cancel := context.WithTimeout(context.Background(), c.colorTimeout)
	c.showColor(colorCtx, lighting.ColorFault)
	cancel()

	c.resetPeripheral(context.Background(), log)

	log.Info("restart", zap.String("status", string(status.FormatStatusEvent(c.tracker.Snapshot(), "RESTART", reason))))
	return &faults.RestartError{Reason: reason, Err: cause}
}

// resetPeripheral pulses the peripheral reset line under its own deadline.
func (c *Controller) resetPeripheral(ctx context.Context, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(ctx, resetTimeout)
	defer cancel()
	if err := c.hw.Lighting.Reset(ctx); err != nil {
		log.Warn("peripheral reset failed", zap.Error(err))
	}
}

// showColor is best effort. A dead peripheral must not stop the climate side.
func (c *Controller) showColor(ctx context.Context, col lighting.Color) {
	if err := c.hw.Lighting.Send(ctx, col); err != nil {
		c.logger.Warn("peripheral colour failed", zap.Stringer("color", col), zap.Error(err))
	}
}
