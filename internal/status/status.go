// Package status assembles a point-in-time view of the controller for the
// status page, metrics and startup notifications.
package status

import (
	"sync"
	"time"

	"github.com/geckobuddy/enclosure-controller/internal/logic"
	"github.com/geckobuddy/enclosure-controller/internal/state"
	"github.com/geckobuddy/enclosure-controller/internal/telemetry"
)

// Config contains controller configuration for display.
type Config struct {
	Version          string
	BootID           string
	Transport        string // http | mqtt | none
	Endpoint         string // feed service URL or broker
	HTTPAddr         string
	ControlInterval  time.Duration
	SetpointInterval time.Duration
	Deadband         float64
	WatchdogDevice   string
}

// TelemetryStats is implemented by the async publisher.
type TelemetryStats interface {
	Stats() telemetry.Stats
}

// Sources are the shared records the tracker reads. Nil fields read as zero.
type Sources struct {
	Reading   state.Reader[logic.SensorReading]
	Relay     state.Reader[logic.ThermostatState]
	Setpoint  state.Reader[logic.SetpointState]
	Lighting  state.Reader[logic.LightingState]
	Link      state.Reader[logic.ConnectivityState]
	Solar     state.Reader[logic.SolarEvents]
	Telemetry TelemetryStats
}

// Snapshot is a point-in-time view of controller state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Reading       logic.SensorReading
	Relay         logic.ThermostatState
	Setpoint      logic.SetpointState
	Lighting      logic.LightingState
	Link          logic.ConnectivityState
	Solar         logic.SolarEvents
	SolarFallback bool
	Telemetry     telemetry.Stats
	Fault         string
	StartTime     time.Time
	Now           time.Time
	Config        Config
}

// Uptime returns the duration since the controller started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker combines the shared records with the few values only the
// controller itself sets.
type Tracker struct {
	mu            sync.RWMutex
	start         time.Time
	cfg           Config
	src           Sources
	fault         string
	solarFallback bool

	now func() time.Time
}

// NewTracker creates a Tracker with the given start time, config and sources.
func NewTracker(startTime time.Time, cfg Config, src Sources) *Tracker {
	return &Tracker{
		start: startTime,
		cfg:   cfg,
		src:   src,
		now:   time.Now,
	}
}

// SetFault records the reason the controller is going down.
func (t *Tracker) SetFault(reason string) {
	t.mu.Lock()
	t.fault = reason
	t.mu.Unlock()
}

// SetSolarFallback records whether the fixed fallback day is in use.
func (t *Tracker) SetSolarFallback(fallback bool) {
	t.mu.Lock()
	t.solarFallback = fallback
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the controller state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := Snapshot{
		StartTime:     t.start,
		Config:        t.cfg,
		Fault:         t.fault,
		SolarFallback: t.solarFallback,
	}
	t.mu.RUnlock()

	s.Reading = load(t.src.Reading)
	s.Relay = load(t.src.Relay)
	s.Setpoint = load(t.src.Setpoint)
	s.Lighting = load(t.src.Lighting)
	s.Link = load(t.src.Link)
	s.Solar = load(t.src.Solar)
	if t.src.Telemetry != nil {
		s.Telemetry = t.src.Telemetry.Stats()
	}
	s.Now = t.now()
	return s
}

func load[T any](r state.Reader[T]) T {
	var zero T
	if r == nil {
		return zero
	}
	return r.Load()
}
