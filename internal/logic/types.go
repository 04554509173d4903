// Package logic contains the pure control rules for the enclosure controller.
// This package has NO external dependencies (no bus, GPIO, network, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// SensorReading is a validated temperature/humidity sample.
// Only produced after both checksums pass.
type SensorReading struct {
	TemperatureF float64
	HumidityPct  float64
	ValidatedAt  time.Time
}

// RelayCommand is the thermostat's decision for one reading.
type RelayCommand string

const (
	RelayNoChange RelayCommand = "NO_CHANGE"
	RelayOn       RelayCommand = "ON"
	RelayOff      RelayCommand = "OFF"
)

// ThermostatState is the heat relay state. Mutated only by Thermostat.
type ThermostatState struct {
	RelayOn          bool
	LastTransitionAt time.Time
}

// SetpointSource says which rule produced the active setpoint.
type SetpointSource string

const (
	SourceDay     SetpointSource = "DAY"
	SourceNight   SetpointSource = "NIGHT"
	SourceDefault SetpointSource = "DEFAULT"
)

// SetpointState is owned by the setpoint scheduler and read by the thermostat.
type SetpointState struct {
	ActiveValue   float64
	Source        SetpointSource
	LastUpdatedAt time.Time
}

// SolarEvents are the sunrise/sunset times for the enclosure's location.
// Fetched once at startup and read-only afterwards.
type SolarEvents struct {
	SunriseUTC       time.Time
	SunsetUTC        time.Time
	UTCOffsetMinutes int
	DayOfYear        int
}

// Zone returns the fixed local zone described by UTCOffsetMinutes.
func (s SolarEvents) Zone() *time.Location {
	return time.FixedZone("local", s.UTCOffsetMinutes*60)
}

// LightingPhase is a state of the lighting sequence.
type LightingPhase string

const (
	PhaseNight       LightingPhase = "NIGHT"
	PhaseSunriseFade LightingPhase = "SUNRISE_FADE"
	PhaseDay         LightingPhase = "DAY"
	PhaseSunsetFade  LightingPhase = "SUNSET_FADE"
)

// LightingState is owned by the lighting sequencer.
type LightingState struct {
	Phase            LightingPhase
	Brightness       uint8
	LastTransitionAt time.Time
}

// LinkPhase is the network link state.
type LinkPhase string

const (
	LinkDisconnected LinkPhase = "DISCONNECTED"
	LinkConnecting   LinkPhase = "CONNECTING"
	LinkConnected    LinkPhase = "CONNECTED"
	LinkDegraded     LinkPhase = "DEGRADED"
)

// ConnectivityState is owned by the connectivity supervisor and read by every
// component that may call out to the network.
type ConnectivityState struct {
	Phase          LinkPhase
	BackoffSeconds int
	LastAttemptAt  time.Time
}

// Online reports whether remote values and telemetry may be used.
func (c ConnectivityState) Online() bool {
	return c.Phase == LinkConnected
}
