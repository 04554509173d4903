// Package faults defines the fault taxonomy shared by the controller tasks.
//
// Faults are handled at the lowest level that can safely retry. Anything that
// escapes a task ends the task group and is turned into a RestartError.
package faults

import (
	"errors"
	"fmt"
)

var (
	// ErrChecksum is a sensor word whose CRC8 did not match. Retried by the sensor reader.
	ErrChecksum = errors.New("sensor checksum mismatch")

	// ErrFatalSensor means the sensor reader exhausted its retries.
	ErrFatalSensor = errors.New("sensor unreadable")

	// ErrBusTransport is a lighting peripheral write that kept failing until its deadline.
	ErrBusTransport = errors.New("bus transport failure")

	// ErrNetwork is a failed call to a remote service. Never fatal on its own.
	ErrNetwork = errors.New("network failure")

	// ErrDayRollover is raised once the calendar day differs from the startup day.
	ErrDayRollover = errors.New("calendar day changed")
)

// RestartError is returned by the controller when the process must exit and be
// restarted by its supervisor.
type RestartError struct {
	Reason string
	Err    error
}

func (e *RestartError) Error() string {
	if e.Err == nil {
		return "restart: " + e.Reason
	}
	return fmt.Sprintf("restart: %s: %v", e.Reason, e.Err)
}

func (e *RestartError) Unwrap() error { return e.Err }

// IsNetwork reports whether err should only affect connectivity state.
func IsNetwork(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// Reason returns a short operator-facing description of why err forces a restart.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrFatalSensor):
		return "CRC Error. Resetting..."
	case errors.Is(err, ErrDayRollover):
		return "System Resetting"
	case errors.Is(err, ErrBusTransport):
		return "Lighting bus failure. Resetting..."
	default:
		return "Unhandled fault. Resetting..."
	}
}
