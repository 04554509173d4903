package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/geckobuddy/enclosure-controller/internal/faults"
	"github.com/geckobuddy/enclosure-controller/internal/gpio"
	"github.com/geckobuddy/enclosure-controller/internal/logic"
	"github.com/geckobuddy/enclosure-controller/internal/state"
	"github.com/geckobuddy/enclosure-controller/internal/telemetry"
)

var t0 = time.Date(2026, 3, 10, 16, 0, 0, 0, time.UTC)

// fakeSensor returns scripted temperatures, then the scripted error.
type fakeSensor struct {
	mu    sync.Mutex
	temps []float64
	err   error
	calls int
}

func (f *fakeSensor) Read(ctx context.Context) (logic.SensorReading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls >= len(f.temps) {
		if f.err != nil {
			return logic.SensorReading{}, f.err
		}
		return logic.SensorReading{}, errors.New("no more readings")
	}
	temp := f.temps[f.calls]
	f.calls++
	return logic.SensorReading{
		TemperatureF: temp,
		HumidityPct:  40,
		ValidatedAt:  t0.Add(time.Duration(f.calls) * time.Second),
	}, nil
}

type fakeBeater struct {
	mu    sync.Mutex
	beats []time.Time
}

func (f *fakeBeater) Beat(t time.Time) {
	f.mu.Lock()
	f.beats = append(f.beats, t)
	f.mu.Unlock()
}

func (f *fakeBeater) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.beats)
}

type harness struct {
	loop     *Loop
	relay    *gpio.FakeOutput
	pub      *telemetry.Fake
	beat     *fakeBeater
	readings *state.Cell[logic.SensorReading]
	relayS   *state.Cell[logic.ThermostatState]
}

func newHarness(s SensorReader, setpoint float64) *harness {
	readings, rw := state.New(logic.SensorReading{})
	relayS, tw := state.New(logic.ThermostatState{})
	h := &harness{
		relay:    gpio.NewFakeOutput(),
		pub:      telemetry.NewFake(),
		beat:     &fakeBeater{},
		readings: readings,
		relayS:   relayS,
	}
	h.loop = NewLoop(time.Second, DefaultDeadband, Deps{
		Sensor:    s,
		RelayLine: h.relay,
		Setpoint:  state.Static[logic.SetpointState]{V: logic.SetpointState{ActiveValue: setpoint, Source: logic.SourceDay}},
		Readings:  rw,
		Relay:     tw,
		Pub:       h.pub,
		Beat:      h.beat,
	}, zap.NewNop())
	h.loop.now = func() time.Time { return t0 }
	return h
}

func TestStepScenario(t *testing.T) {
	h := newHarness(&fakeSensor{temps: []float64{68.0, 68.0, 71.0, 71.6}}, 70.0)
	ctx := context.Background()

	want := []bool{true, true, false, false}
	for i, w := range want {
		if err := h.loop.Step(ctx); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if got := h.relayS.Load().RelayOn; got != w {
			t.Errorf("step %d: relay %v, want %v", i, got, w)
		}
		if got := h.relay.Active(); got != w {
			t.Errorf("step %d: line %v, want %v", i, got, w)
		}
	}

	// Only the two transitions drive the line and publish.
	if got := h.relay.History(); len(got) != 2 {
		t.Errorf("expected 2 line writes, got %v", got)
	}
	sent := h.pub.Sent(telemetry.FeedLampState)
	if len(sent) != 2 || sent[0].Value != "ON" || sent[1].Value != "OFF" {
		t.Errorf("unexpected lamp-state messages: %+v", sent)
	}
	if h.beat.count() != 4 {
		t.Errorf("expected 4 heartbeats, got %d", h.beat.count())
	}
	if got := h.readings.Load().TemperatureF; got != 71.6 {
		t.Errorf("last reading not stored: %v", got)
	}
}

func TestStepNoOscillationInsideDeadband(t *testing.T) {
	h := newHarness(&fakeSensor{temps: []float64{69.6, 69.7, 69.9, 70.0, 69.5}}, 70.0)
	for i := 0; i < 5; i++ {
		if err := h.loop.Step(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if len(h.relay.History()) != 0 {
		t.Errorf("relay should not move inside the dead zone, got %v", h.relay.History())
	}
}

func TestStepSensorFault(t *testing.T) {
	fatal := fmt.Errorf("%w after 5 attempts", faults.ErrFatalSensor)
	h := newHarness(&fakeSensor{err: fatal}, 70.0)

	err := h.loop.Step(context.Background())
	if !errors.Is(err, faults.ErrFatalSensor) {
		t.Fatalf("expected ErrFatalSensor, got %v", err)
	}
	if h.beat.count() != 0 {
		t.Error("no heartbeat on a failed cycle")
	}
}

func TestStepRelayFault(t *testing.T) {
	h := newHarness(&fakeSensor{temps: []float64{60}}, 70.0)
	h.relay.SetError = errors.New("line busy")
	if err := h.loop.Step(context.Background()); err == nil {
		t.Fatal("expected relay error")
	}
}

func TestRunForcesRelayOffAtStartAndStop(t *testing.T) {
	h := newHarness(&fakeSensor{temps: []float64{60, 60, 60}}, 70.0)

	ctx, cancel := context.WithCancel(context.Background())
	tick := make(chan time.Time)
	done := make(chan error, 1)
	go func() { done <- h.loop.runTicks(ctx, tick) }()

	tick <- t0
	tick <- t0
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := h.relay.History()
	want := []bool{false, true, false}
	if len(got) != len(want) {
		t.Fatalf("line history %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line history %v, want %v", got, want)
			break
		}
	}
	if h.relayS.Load().RelayOn {
		t.Error("relay state should be off after stop")
	}
}

func TestRunEndsOnSensorFault(t *testing.T) {
	h := newHarness(&fakeSensor{temps: []float64{60}, err: faults.ErrFatalSensor}, 70.0)

	tick := make(chan time.Time, 2)
	tick <- t0
	tick <- t0
	err := h.loop.runTicks(context.Background(), tick)
	if !errors.Is(err, faults.ErrFatalSensor) {
		t.Fatalf("expected ErrFatalSensor, got %v", err)
	}
	if h.relay.Active() {
		t.Error("relay must be off after a fatal fault")
	}
}
