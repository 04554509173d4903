// Package telemetry publishes state to, and reads configuration from, the
// remote feed service with abstraction for testing.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Feed is a logical telemetry feed.
type Feed string

const (
	FeedTemperature    Feed = "temperature"
	FeedHumidity       Feed = "humidity"
	FeedSetpoint       Feed = "setpoint"
	FeedLampState      Feed = "lamp-state"
	FeedStatus         Feed = "status"
	FeedLightingStatus Feed = "lighting-status"
	FeedDaySetpoint    Feed = "day-setpoint"
	FeedNightSetpoint  Feed = "night-setpoint"
)

// Feeds lists every logical feed.
var Feeds = []Feed{
	FeedTemperature, FeedHumidity, FeedSetpoint, FeedLampState,
	FeedStatus, FeedLightingStatus, FeedDaySetpoint, FeedNightSetpoint,
}

// Keys maps logical feeds to the remote feed keys.
type Keys map[Feed]string

// DefaultKeys are the feed keys of the enclosure's Adafruit IO account.
func DefaultKeys() Keys {
	return Keys{
		FeedTemperature:    "temperature-gecko",
		FeedHumidity:       "humidity-gecko",
		FeedSetpoint:       "setpoint-gecko",
		FeedLampState:      "lamp-gecko",
		FeedStatus:         "status-gecko",
		FeedLightingStatus: "lighting-status-gecko",
		FeedDaySetpoint:    "day-setpoint-gecko",
		FeedNightSetpoint:  "night-setpoint-gecko",
	}
}

// Key returns the remote key for feed, falling back to the feed name.
func (k Keys) Key(feed Feed) string {
	if key, ok := k[feed]; ok && key != "" {
		return key
	}
	return string(feed)
}

// Publisher sends a value to a feed.
type Publisher interface {
	// Publish sends value to feed.
	// Returns error if publishing fails (should not crash the process).
	Publish(ctx context.Context, feed Feed, value any) error

	// Close releases the transport.
	Close() error
}

// Fetcher reads the latest value of a feed.
type Fetcher interface {
	Fetch(ctx context.Context, feed Feed) (string, error)
}

// ConnectionStatus reports whether a persistent transport is connected.
type ConnectionStatus interface {
	IsConnected() bool
}

// Payload is the JSON body of a feed write.
type Payload struct {
	Value any `json:"value"`
}

// FormatPayload creates the JSON body for a feed value.
func FormatPayload(value any) ([]byte, error) {
	return json.Marshal(Payload{Value: value})
}

// Message is a queued or recorded feed write.
type Message struct {
	Feed      Feed
	Value     any
	Timestamp time.Time
}

// ParseFloatValue parses a feed value that may be quoted or bare.
func ParseFloatValue(s string) (float64, error) {
	s = strings.Trim(strings.TrimSpace(s), `"`)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse feed value %q: %w", s, err)
	}
	return v, nil
}

// OnOff renders a relay state the way the lamp feed expects it.
func OnOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
