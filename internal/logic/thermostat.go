package logic

import "time"

// Evaluate applies the asymmetric bang-bang rule.
//
// The relay turns on only below setpoint-deadband and turns off as soon as the
// temperature exceeds setpoint. The dead zone sits entirely below setpoint.
func Evaluate(temperature, setpoint, deadband float64, relayOn bool) RelayCommand {
	switch {
	case !relayOn && temperature < setpoint-deadband:
		return RelayOn
	case relayOn && temperature > setpoint:
		return RelayOff
	default:
		return RelayNoChange
	}
}

// Thermostat tracks relay state and reports edges.
type Thermostat struct {
	deadband float64
	state    ThermostatState
}

// NewThermostat creates a thermostat with the relay off.
func NewThermostat(deadband float64) *Thermostat {
	return &Thermostat{deadband: deadband}
}

// Process evaluates one reading against the setpoint and applies the result.
// It returns RelayNoChange unless the relay changes state.
func (t *Thermostat) Process(reading SensorReading, setpoint float64) RelayCommand {
	cmd := Evaluate(reading.TemperatureF, setpoint, t.deadband, t.state.RelayOn)
	switch cmd {
	case RelayOn:
		t.state = ThermostatState{RelayOn: true, LastTransitionAt: reading.ValidatedAt}
	case RelayOff:
		t.state = ThermostatState{RelayOn: false, LastTransitionAt: reading.ValidatedAt}
	}
	return cmd
}

// ForceOff turns the relay off regardless of temperature, e.g. before a restart.
// Returns true if this was a transition.
func (t *Thermostat) ForceOff(now time.Time) bool {
	if !t.state.RelayOn {
		return false
	}
	t.state = ThermostatState{RelayOn: false, LastTransitionAt: now}
	return true
}

// State returns the current relay state.
func (t *Thermostat) State() ThermostatState {
	return t.state
}

// Deadband returns the configured deadband.
func (t *Thermostat) Deadband() float64 {
	return t.deadband
}
