package web

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/geckobuddy/enclosure-controller/internal/logic"
	"github.com/geckobuddy/enclosure-controller/internal/status"
)

const namespace = "enclosure"

var (
	descTemperature = prometheus.NewDesc(namespace+"_temperature_fahrenheit",
		"Latest validated enclosure temperature.", nil, nil)
	descHumidity = prometheus.NewDesc(namespace+"_humidity_percent",
		"Latest validated relative humidity.", nil, nil)
	descReadingAge = prometheus.NewDesc(namespace+"_reading_age_seconds",
		"Seconds since the last validated reading.", nil, nil)
	descSetpoint = prometheus.NewDesc(namespace+"_setpoint_fahrenheit",
		"Active setpoint by source.", []string{"source"}, nil)
	descRelay = prometheus.NewDesc(namespace+"_heat_relay_on",
		"1 when the heat relay is energised.", nil, nil)
	descBrightness = prometheus.NewDesc(namespace+"_lighting_brightness",
		"Lighting brightness, 0-255.", nil, nil)
	descLightingPhase = prometheus.NewDesc(namespace+"_lighting_phase",
		"1 for the current lighting phase.", []string{"phase"}, nil)
	descLinkPhase = prometheus.NewDesc(namespace+"_link_phase",
		"1 for the current connectivity phase.", []string{"phase"}, nil)
	descBackoff = prometheus.NewDesc(namespace+"_link_backoff_seconds",
		"Current reconnection delay.", nil, nil)
	descTelemetry = prometheus.NewDesc(namespace+"_telemetry_messages_total",
		"Feed writes by outcome.", []string{"outcome"}, nil)
	descUptime = prometheus.NewDesc(namespace+"_uptime_seconds",
		"Seconds since the controller started.", nil, nil)
)

var (
	lightingPhases = []logic.LightingPhase{logic.PhaseNight, logic.PhaseSunriseFade, logic.PhaseDay, logic.PhaseSunsetFade}
	linkPhases     = []logic.LinkPhase{logic.LinkDisconnected, logic.LinkConnecting, logic.LinkConnected, logic.LinkDegraded}
)

// Collector exposes tracker snapshots as Prometheus metrics.
type Collector struct {
	tracker *status.Tracker
}

// NewCollector creates a Collector.
func NewCollector(tracker *status.Tracker) *Collector {
	return &Collector{tracker: tracker}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		descTemperature, descHumidity, descReadingAge, descSetpoint, descRelay,
		descBrightness, descLightingPhase, descLinkPhase, descBackoff, descTelemetry, descUptime,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.tracker.Snapshot()

	if !snap.Reading.ValidatedAt.IsZero() {
		ch <- prometheus.MustNewConstMetric(descTemperature, prometheus.GaugeValue, snap.Reading.TemperatureF)
		ch <- prometheus.MustNewConstMetric(descHumidity, prometheus.GaugeValue, snap.Reading.HumidityPct)
		ch <- prometheus.MustNewConstMetric(descReadingAge, prometheus.GaugeValue,
			snap.Now.Sub(snap.Reading.ValidatedAt).Seconds())
	}
	if snap.Setpoint.Source != "" {
		ch <- prometheus.MustNewConstMetric(descSetpoint, prometheus.GaugeValue,
			snap.Setpoint.ActiveValue, string(snap.Setpoint.Source))
	}
	ch <- prometheus.MustNewConstMetric(descRelay, prometheus.GaugeValue, boolFloat(snap.Relay.RelayOn))
	ch <- prometheus.MustNewConstMetric(descBrightness, prometheus.GaugeValue, float64(snap.Lighting.Brightness))
	for _, p := range lightingPhases {
		ch <- prometheus.MustNewConstMetric(descLightingPhase, prometheus.GaugeValue,
			boolFloat(snap.Lighting.Phase == p), string(p))
	}
	for _, p := range linkPhases {
		ch <- prometheus.MustNewConstMetric(descLinkPhase, prometheus.GaugeValue,
			boolFloat(snap.Link.Phase == p), string(p))
	}
	ch <- prometheus.MustNewConstMetric(descBackoff, prometheus.GaugeValue, float64(snap.Link.BackoffSeconds))

	for outcome, n := range map[string]uint64{
		"sent":       snap.Telemetry.Sent,
		"failed":     snap.Telemetry.Failed,
		"dropped":    snap.Telemetry.Dropped,
		"suppressed": snap.Telemetry.Suppressed,
	} {
		ch <- prometheus.MustNewConstMetric(descTelemetry, prometheus.CounterValue, float64(n), outcome)
	}
	ch <- prometheus.MustNewConstMetric(descUptime, prometheus.GaugeValue, snap.Uptime().Seconds())
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
