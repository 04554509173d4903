package status

import (
	"encoding/json"
	"fmt"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string        `json:"event,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	BootID        string        `json:"boot_id"`
	Version       string        `json:"version"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	Climate       ClimateJSON   `json:"climate"`
	Lighting      LightingJSON  `json:"lighting"`
	Link          LinkJSON      `json:"link"`
	Solar         SolarJSON     `json:"solar"`
	Telemetry     TelemetryJSON `json:"telemetry"`
	Fault         string        `json:"fault,omitempty"`
	Config        ConfigJSON    `json:"config"`
}

// ClimateJSON reports the latest reading, setpoint and relay.
type ClimateJSON struct {
	TemperatureF   *float64 `json:"temperature_f"`
	HumidityPct    *float64 `json:"humidity_pct"`
	ReadingAt      string   `json:"reading_at,omitempty"`
	Setpoint       float64  `json:"setpoint"`
	SetpointSource string   `json:"setpoint_source"`
	Relay          string   `json:"relay"`
	RelayChangedAt string   `json:"relay_changed_at,omitempty"`
}

// LightingJSON reports the lighting phase.
type LightingJSON struct {
	Phase      string `json:"phase"`
	Brightness uint8  `json:"brightness"`
}

// LinkJSON reports the connectivity state.
type LinkJSON struct {
	Phase          string `json:"phase"`
	BackoffSeconds int    `json:"backoff_seconds"`
	LastAttempt    string `json:"last_attempt,omitempty"`
}

// SolarJSON reports the day's solar events.
type SolarJSON struct {
	Sunrise          string `json:"sunrise"`
	Sunset           string `json:"sunset"`
	UTCOffsetMinutes int    `json:"utc_offset_minutes"`
	DayOfYear        int    `json:"day_of_year"`
	Fallback         bool   `json:"fallback"`
}

// TelemetryJSON reports publisher counters.
type TelemetryJSON struct {
	Sent       uint64 `json:"sent"`
	Failed     uint64 `json:"failed"`
	Dropped    uint64 `json:"dropped"`
	Suppressed uint64 `json:"suppressed"`
}

// ConfigJSON is the JSON representation of controller config.
type ConfigJSON struct {
	Transport          string  `json:"transport"`
	Endpoint           string  `json:"endpoint"`
	HTTPAddr           string  `json:"http_addr"`
	ControlIntervalMs  int64   `json:"control_interval_ms"`
	SetpointIntervalMs int64   `json:"setpoint_interval_ms"`
	Deadband           float64 `json:"deadband"`
	WatchdogDevice     string  `json:"watchdog_device"`
}

func orUnknown(s string) string {
	if s == "" {
		return "UNKNOWN"
	}
	return s
}

func rfc3339(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// RelayString renders the relay state.
func RelayString(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

func buildInner(snap Snapshot) StatusInner {
	climate := ClimateJSON{
		Setpoint:       snap.Setpoint.ActiveValue,
		SetpointSource: orUnknown(string(snap.Setpoint.Source)),
		Relay:          RelayString(snap.Relay.RelayOn),
		RelayChangedAt: rfc3339(snap.Relay.LastTransitionAt),
	}
	if !snap.Reading.ValidatedAt.IsZero() {
		temp, hum := snap.Reading.TemperatureF, snap.Reading.HumidityPct
		climate.TemperatureF = &temp
		climate.HumidityPct = &hum
		climate.ReadingAt = rfc3339(snap.Reading.ValidatedAt)
	}

	return StatusInner{
		BootID:        snap.Config.BootID,
		Version:       snap.Config.Version,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     rfc3339(snap.StartTime),
		Timestamp:     rfc3339(snap.Now),
		Climate:       climate,
		Lighting: LightingJSON{
			Phase:      orUnknown(string(snap.Lighting.Phase)),
			Brightness: snap.Lighting.Brightness,
		},
		Link: LinkJSON{
			Phase:          orUnknown(string(snap.Link.Phase)),
			BackoffSeconds: snap.Link.BackoffSeconds,
			LastAttempt:    rfc3339(snap.Link.LastAttemptAt),
		},
		Solar: SolarJSON{
			Sunrise:          rfc3339(snap.Solar.SunriseUTC),
			Sunset:           rfc3339(snap.Solar.SunsetUTC),
			UTCOffsetMinutes: snap.Solar.UTCOffsetMinutes,
			DayOfYear:        snap.Solar.DayOfYear,
			Fallback:         snap.SolarFallback,
		},
		Telemetry: TelemetryJSON{
			Sent:       snap.Telemetry.Sent,
			Failed:     snap.Telemetry.Failed,
			Dropped:    snap.Telemetry.Dropped,
			Suppressed: snap.Telemetry.Suppressed,
		},
		Fault: snap.Fault,
		Config: ConfigJSON{
			Transport:          snap.Config.Transport,
			Endpoint:           snap.Config.Endpoint,
			HTTPAddr:           snap.Config.HTTPAddr,
			ControlIntervalMs:  snap.Config.ControlInterval.Milliseconds(),
			SetpointIntervalMs: snap.Config.SetpointInterval.Milliseconds(),
			Deadband:           snap.Config.Deadband,
			WatchdogDevice:     snap.Config.WatchdogDevice,
		},
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the compact JSON status logged with lifecycle events.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

// StartupMessage is the one-line notification sent to the status feed once the
// controller is up.
func StartupMessage(snap Snapshot) string {
	zone := snap.Solar.Zone()
	msg := fmt.Sprintf("Uptime Date: %s, Upday: %d, Sunrise = %s, Sunset = %s",
		snap.StartTime.In(zone).Format("2006-01-02T15:04:05"),
		snap.Solar.DayOfYear,
		snap.Solar.SunriseUTC.In(zone).Format("15:04:05"),
		snap.Solar.SunsetUTC.In(zone).Format("15:04:05"))
	if snap.SolarFallback {
		msg += " (fallback)"
	}
	return msg
}
