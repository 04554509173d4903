package logic

import "time"

// SetpointDefaults are the fixed fallback values in °F.
type SetpointDefaults struct {
	Day          float64
	Night        float64
	Disconnected float64
}

// DefaultSetpoints are the values used when remote configuration is unavailable.
var DefaultSetpoints = SetpointDefaults{
	Day:          69.0,
	Night:        64.0,
	Disconnected: 67.0,
}

// Switchover controls when the night setpoint applies around solar events.
type Switchover struct {
	// NightBeforeSunset moves the start of night earlier than sunset.
	NightBeforeSunset time.Duration
	// DayAfterSunrise delays the start of day past sunrise.
	DayAfterSunrise time.Duration
}

// DefaultSwitchover is night from 30 minutes before sunset until 60 minutes after sunrise.
var DefaultSwitchover = Switchover{
	NightBeforeSunset: 30 * time.Minute,
	DayAfterSunrise:   60 * time.Minute,
}

// RemoteSetpoints are the values fetched from the remote config feeds.
// A nil pointer means that fetch failed.
type RemoteSetpoints struct {
	Day   *float64
	Night *float64
}

// ScheduleInput is everything SelectSetpoint depends on.
type ScheduleInput struct {
	Now        time.Time
	Link       LinkPhase
	Solar      SolarEvents
	Remote     RemoteSetpoints
	Defaults   SetpointDefaults
	Switchover Switchover
}

// IsNight reports whether the night setpoint applies at now.
func (s Switchover) IsNight(now time.Time, solar SolarEvents) bool {
	if !now.Before(solar.SunsetUTC.Add(-s.NightBeforeSunset)) {
		return true
	}
	return now.Before(solar.SunriseUTC.Add(s.DayAfterSunrise))
}

// SelectSetpoint resolves the active setpoint.
//
// Without a connected link the disconnected default is returned regardless of
// the time of day. With a link, day or night is chosen from the solar events
// and each side falls back to its own fixed default when its fetch failed.
func SelectSetpoint(in ScheduleInput) (float64, SetpointSource) {
	if in.Link != LinkConnected {
		return in.Defaults.Disconnected, SourceDefault
	}

	if in.Switchover.IsNight(in.Now, in.Solar) {
		if in.Remote.Night != nil {
			return *in.Remote.Night, SourceNight
		}
		return in.Defaults.Night, SourceNight
	}
	if in.Remote.Day != nil {
		return *in.Remote.Day, SourceDay
	}
	return in.Defaults.Day, SourceDay
}
