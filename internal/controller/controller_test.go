package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/geckobuddy/enclosure-controller/internal/config"
	"github.com/geckobuddy/enclosure-controller/internal/connectivity"
	"github.com/geckobuddy/enclosure-controller/internal/faults"
	"github.com/geckobuddy/enclosure-controller/internal/gpio"
	"github.com/geckobuddy/enclosure-controller/internal/lighting"
	"github.com/geckobuddy/enclosure-controller/internal/logic"
	"github.com/geckobuddy/enclosure-controller/internal/telemetry"
)

// fakeSensor answers reads with a fixed temperature until failAfter reads.
// The first resetFails soft resets fail with resetErr; zero fails them all.
type fakeSensor struct {
	mu         sync.Mutex
	temp       float64
	failAfter  int
	resetErr   error
	resetFails int
	reads      int
	resets     int
}

func (f *fakeSensor) Read(ctx context.Context) (logic.SensorReading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.failAfter > 0 && f.reads > f.failAfter {
		return logic.SensorReading{}, faults.ErrFatalSensor
	}
	return logic.SensorReading{TemperatureF: f.temp, HumidityPct: 40, ValidatedAt: time.Now()}, nil
}

func (f *fakeSensor) SoftReset(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	if f.resetErr != nil && (f.resetFails == 0 || f.resets <= f.resetFails) {
		return f.resetErr
	}
	return nil
}

// fakeDriver records colours and resets. Sending wedge blocks until ctx is
// done. A non-nil line is pulsed by Reset like the real peripheral.
type fakeDriver struct {
	mu      sync.Mutex
	sent    []lighting.Color
	resets  int
	resetAt []int
	wedge   *lighting.Color
	line    gpio.Output
}

func (f *fakeDriver) Send(ctx context.Context, c lighting.Color) error {
	f.mu.Lock()
	f.sent = append(f.sent, c)
	wedged := f.wedge != nil && *f.wedge == c
	f.mu.Unlock()
	if wedged {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (f *fakeDriver) Reset(ctx context.Context) error {
	f.mu.Lock()
	f.resets++
	f.resetAt = append(f.resetAt, len(f.sent))
	line := f.line
	f.mu.Unlock()
	if line != nil {
		return gpio.Pulse(ctx, line, gpio.MinResetPulse)
	}
	return nil
}

func (f *fakeDriver) resetCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resets
}

// timedLine records how long an active-low line was held low.
type timedLine struct {
	mu      sync.Mutex
	lowAt   time.Time
	pulses  []time.Duration
	current bool
}

func (l *timedLine) Set(active bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !active {
		l.lowAt = time.Now()
	} else if !l.current && !l.lowAt.IsZero() {
		l.pulses = append(l.pulses, time.Since(l.lowAt))
	}
	l.current = active
	return nil
}

func (l *timedLine) Close() error { return nil }

func (l *timedLine) lows() []time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]time.Duration(nil), l.pulses...)
}

// ctxPublisher fails like a network client once ctx is done.
type ctxPublisher struct {
	*telemetry.Fake
}

func (p ctxPublisher) Publish(ctx context.Context, feed telemetry.Feed, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.Fake.Publish(ctx, feed, value)
}

func (f *fakeDriver) colors() []lighting.Color {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]lighting.Color(nil), f.sent...)
}

type fakeSolar struct {
	fellBack bool
}

func (f fakeSolar) Resolve(ctx context.Context, now time.Time) (logic.SolarEvents, bool) {
	local := now.In(time.FixedZone("local", -300*60))
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	return logic.SolarEvents{
		SunriseUTC:       day.Add(7 * time.Hour).UTC(),
		SunsetUTC:        day.Add(19 * time.Hour).UTC(),
		UTCOffsetMinutes: -300,
		DayOfYear:        local.YearDay(),
	}, f.fellBack
}

type harness struct {
	ctrl   *Controller
	sensor *fakeSensor
	driver *fakeDriver
	relay  *gpio.FakeOutput
	pub    *telemetry.Fake
}

func testConfig() *config.Config {
	return &config.Config{
		Control: config.ControlConfig{
			Interval:       10 * time.Millisecond,
			Deadband:       0.5,
			ReportInterval: 50 * time.Millisecond,
		},
		Setpoint: config.SetpointConfig{
			Day: 69, Night: 64, Disconnected: 67,
			Interval:          time.Second,
			NightBeforeSunset: 30 * time.Minute,
			DayAfterSunrise:   time.Hour,
		},
		Lighting: config.LightingConfig{FadeDuration: time.Hour, Steps: 50},
		Telemetry: config.TelemetryConfig{
			Transport: "http",
			QueueSize: 16,
		},
		Watchdog: config.WatchdogConfig{Device: config.Off, DaySchedule: "@every 15m"},
		HTTP:     config.HTTPConfig{Addr: config.Off},
	}
}

func newHarness(sensor *fakeSensor, solar fakeSolar, opts ...func(*config.Config)) *harness {
	return newHarnessWith(sensor, &fakeDriver{}, solar, opts...)
}

func newHarnessWith(sensor *fakeSensor, driver *fakeDriver, solar fakeSolar, opts ...func(*config.Config)) *harness {
	cfg := testConfig()
	for _, o := range opts {
		o(cfg)
	}
	h := &harness{
		sensor: sensor,
		driver: driver,
		relay:  gpio.NewFakeOutput(),
		pub:    telemetry.NewFake(),
	}
	h.ctrl = New(cfg, Hardware{
		Sensor:    h.sensor,
		Lighting:  h.driver,
		RelayLine: h.relay,
	}, Services{
		Publisher: ctxPublisher{h.pub},
		Fetcher:   h.pub,
		Prober:    connectivity.ProberFunc(func(context.Context) error { return nil }),
		Solar:     solar,
		Endpoint:  "fake",
	}, Build{Version: "test"}, zap.NewNop())
	h.ctrl.sensorResetDelay = time.Millisecond
	return h
}

func runUntilDone(t *testing.T, c *Controller, ctx context.Context) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	select {
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func hasValue(msgs []telemetry.Message, v any) bool {
	for _, m := range msgs {
		if m.Value == v {
			return true
		}
	}
	return false
}

func TestRunHeatsAndStopsCleanly(t *testing.T) {
	h := newHarness(&fakeSensor{temp: 60}, fakeSolar{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.ctrl.Run(ctx) }()

	waitFor(t, "relay on", h.relay.Active)
	waitFor(t, "startup announcement", func() bool {
		return len(h.pub.Sent(telemetry.FeedStatus)) > 0
	})
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if h.relay.Active() {
		t.Error("relay should be off after shutdown")
	}
	colors := h.driver.colors()
	if len(colors) < 3 {
		t.Fatalf("colors: got %v", colors)
	}
	if h.driver.resetCount() != 1 || h.driver.resetAt[0] != 0 {
		t.Errorf("peripheral should be reset once before the init colour, resets at %v", h.driver.resetAt)
	}
	if colors[0] != lighting.ColorInit || colors[1] != lighting.ColorReady {
		t.Errorf("startup colors: got %v %v", colors[0], colors[1])
	}
	if last := colors[len(colors)-1]; last != lighting.ColorOff {
		t.Errorf("last color: got %v, want off", last)
	}
	if !h.pub.Closed {
		t.Error("publisher not closed")
	}

	snap := h.ctrl.Tracker().Snapshot()
	if snap.Config.BootID == "" {
		t.Error("boot id not set")
	}
	if snap.Fault != "" {
		t.Errorf("fault: got %q, want none", snap.Fault)
	}
}

func TestRunSensorResetFailure(t *testing.T) {
	sensor := &fakeSensor{temp: 60, resetErr: errors.New("nack")}
	h := newHarness(sensor, fakeSolar{})

	err := h.ctrl.Run(context.Background())

	var re *faults.RestartError
	if !errors.As(err, &re) {
		t.Fatalf("Run: got %v, want RestartError", err)
	}
	if re.Reason != "CRC Error. Resetting..." {
		t.Errorf("reason: got %q", re.Reason)
	}
	if !errors.Is(err, faults.ErrFatalSensor) {
		t.Error("expected ErrFatalSensor in chain")
	}
	if sensor.resets != sensorResetTries {
		t.Errorf("soft resets: got %d, want %d", sensor.resets, sensorResetTries)
	}
	colors := h.driver.colors()
	if len(colors) != 1+sensorResetTries || colors[0] != lighting.ColorInit {
		t.Fatalf("colors: got %v", colors)
	}
	for i, c := range colors[1:] {
		if c != lighting.ColorSensorError {
			t.Errorf("color %d: got %v, want sensor error", i+1, c)
		}
	}
	if h.relay.Active() {
		t.Error("relay should be off")
	}
}

func TestRunSensorResetRecovers(t *testing.T) {
	sensor := &fakeSensor{temp: 60, resetErr: errors.New("nack"), resetFails: 2}
	h := newHarness(sensor, fakeSolar{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.ctrl.Run(ctx) }()

	waitFor(t, "relay on", h.relay.Active)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	colors := h.driver.colors()
	want := []lighting.Color{lighting.ColorInit, lighting.ColorSensorError, lighting.ColorSensorError, lighting.ColorReady}
	if len(colors) < len(want) {
		t.Fatalf("colors: got %v", colors)
	}
	for i, c := range want {
		if colors[i] != c {
			t.Errorf("color %d: got %v, want %v", i, colors[i], c)
		}
	}
}

func TestRunSensorFaultRestarts(t *testing.T) {
	h := newHarness(&fakeSensor{temp: 60, failAfter: 50}, fakeSolar{})

	done := make(chan error, 1)
	go func() { done <- h.ctrl.Run(context.Background()) }()

	var err error
	select {
	case err = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after sensor fault")
	}

	var re *faults.RestartError
	if !errors.As(err, &re) {
		t.Fatalf("Run: got %v, want RestartError", err)
	}
	if re.Reason != "CRC Error. Resetting..." {
		t.Errorf("reason: got %q", re.Reason)
	}
	if h.relay.Active() {
		t.Error("relay should be off after fault")
	}

	colors := h.driver.colors()
	if last := colors[len(colors)-1]; last != lighting.ColorFault {
		t.Errorf("last color: got %v, want fault", last)
	}
	if h.driver.resetCount() < 2 {
		t.Error("peripheral not reset after the fault")
	}

	if !hasValue(h.pub.Sent(telemetry.FeedStatus), "CRC Error. Resetting...") {
		t.Errorf("restart notification not sent: %v", h.pub.Sent(telemetry.FeedStatus))
	}
	if got := h.ctrl.Tracker().Snapshot().Fault; got != re.Reason {
		t.Errorf("tracker fault: got %q", got)
	}
}

func TestRunReportsSolarFallback(t *testing.T) {
	h := newHarness(&fakeSensor{temp: 75}, fakeSolar{fellBack: true})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.ctrl.Run(ctx) }()

	var msg string
	waitFor(t, "startup announcement", func() bool {
		sent := h.pub.Sent(telemetry.FeedStatus)
		if len(sent) == 0 {
			return false
		}
		msg, _ = sent[0].Value.(string)
		return true
	})
	cancel()
	<-done

	if want := "(fallback)"; len(msg) < len(want) || msg[len(msg)-len(want):] != want {
		t.Errorf("startup message: got %q, want fallback suffix", msg)
	}
	if !h.ctrl.Tracker().Snapshot().SolarFallback {
		t.Error("tracker should report solar fallback")
	}
}

func TestRunFaultWithWedgedPeripheral(t *testing.T) {
	line := &timedLine{current: true}
	wedge := lighting.ColorFault
	driver := &fakeDriver{wedge: &wedge, line: line}
	h := newHarnessWith(&fakeSensor{temp: 60, failAfter: 100}, driver, fakeSolar{})
	h.ctrl.colorTimeout = 50 * time.Millisecond

	err := runUntilDone(t, h.ctrl, context.Background())

	var re *faults.RestartError
	if !errors.As(err, &re) {
		t.Fatalf("Run: got %v, want RestartError", err)
	}
	if h.relay.Active() {
		t.Error("relay should be off after fault")
	}
	if !hasValue(h.pub.Sent(telemetry.FeedStatus), re.Reason) {
		t.Errorf("restart notification lost: %v", h.pub.Sent(telemetry.FeedStatus))
	}
	lows := line.lows()
	if len(lows) != 2 {
		t.Fatalf("reset pulses: got %v, want boot and fault", lows)
	}
	for i, d := range lows {
		if d < gpio.MinResetPulse {
			t.Errorf("pulse %d held low for %v, want at least %v", i, d, gpio.MinResetPulse)
		}
	}
	if !line.current {
		t.Error("reset line left asserted")
	}
}

func TestRunDayRolloverRestarts(t *testing.T) {
	h := newHarness(&fakeSensor{temp: 60}, fakeSolar{}, func(cfg *config.Config) {
		cfg.Watchdog.DaySchedule = "@every 1s"
	})
	h.ctrl.now = func() time.Time { return time.Now().Add(-24 * time.Hour) }

	err := runUntilDone(t, h.ctrl, context.Background())

	var re *faults.RestartError
	if !errors.As(err, &re) {
		t.Fatalf("Run: got %v, want RestartError", err)
	}
	if !errors.Is(err, faults.ErrDayRollover) {
		t.Errorf("expected ErrDayRollover in chain, got %v", err)
	}
	if re.Reason != "System Resetting" {
		t.Errorf("reason: got %q", re.Reason)
	}
	if h.relay.Active() {
		t.Error("relay should be off after rollover")
	}
	if !hasValue(h.pub.Sent(telemetry.FeedStatus), "System Resetting") {
		t.Errorf("status not sent: %v", h.pub.Sent(telemetry.FeedStatus))
	}
	if h.driver.resetCount() != 2 {
		t.Errorf("peripheral resets: got %d, want boot and rollover", h.driver.resetCount())
	}
	if last := h.driver.colors(); last[len(last)-1] != lighting.ColorFault {
		t.Errorf("last color: got %v, want fault", last[len(last)-1])
	}
}
