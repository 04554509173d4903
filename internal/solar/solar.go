// Package solar looks up the day's sunrise and sunset for the enclosure's location.
package solar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/geckobuddy/enclosure-controller/internal/faults"
	"github.com/geckobuddy/enclosure-controller/internal/logic"
)

// DefaultBaseURL is the sunrisesunset.io API.
const DefaultBaseURL = "https://api.sunrisesunset.io/json"

// Config locates the enclosure and sets the fallback day.
type Config struct {
	BaseURL   string
	Latitude  float64
	Longitude float64
	// Timezone is passed through to the API when set (e.g. "EST").
	Timezone string

	Attempts int
	Pause    time.Duration
	Timeout  time.Duration

	// Fallback times of day ("15:04") and UTC offset used when the lookup fails.
	FallbackSunrise       string
	FallbackSunset        string
	FallbackOffsetMinutes int
}

// DefaultConfig returns the settings for the enclosure's home location.
func DefaultConfig() Config {
	return Config{
		BaseURL:               DefaultBaseURL,
		Latitude:              42.385408,
		Longitude:             -71.113114,
		Timezone:              "EST",
		Attempts:              3,
		Pause:                 2 * time.Second,
		Timeout:               10 * time.Second,
		FallbackSunrise:       "07:00",
		FallbackSunset:        "19:00",
		FallbackOffsetMinutes: -300,
	}
}

// Client fetches solar events.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a Client. Zero config fields take DefaultConfig values.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = def.Attempts
	}
	if cfg.Pause <= 0 {
		cfg.Pause = def.Pause
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.FallbackSunrise == "" {
		cfg.FallbackSunrise = def.FallbackSunrise
	}
	if cfg.FallbackSunset == "" {
		cfg.FallbackSunset = def.FallbackSunset
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

type response struct {
	Results struct {
		Date      string `json:"date"`
		Sunrise   string `json:"sunrise"`
		Sunset    string `json:"sunset"`
		Timezone  string `json:"timezone"`
		UTCOffset *int   `json:"utc_offset"`
	} `json:"results"`
	Status string `json:"status"`
}

// Lookup fetches the events for the calendar date of day.
func (c *Client) Lookup(ctx context.Context, day time.Time) (logic.SolarEvents, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(c.cfg.Latitude, 'f', -1, 64))
	q.Set("lng", strconv.FormatFloat(c.cfg.Longitude, 'f', -1, 64))
	q.Set("time_format", "24")
	q.Set("date", day.Format(time.DateOnly))
	if c.cfg.Timezone != "" {
		q.Set("timezone", c.cfg.Timezone)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return logic.SolarEvents{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return logic.SolarEvents{}, fmt.Errorf("%w: solar lookup: %v", faults.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return logic.SolarEvents{}, fmt.Errorf("%w: solar lookup: status %d", faults.ErrNetwork, resp.StatusCode)
	}

	var r response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return logic.SolarEvents{}, fmt.Errorf("decode solar response: %w", err)
	}
	if r.Status != "" && r.Status != "OK" {
		return logic.SolarEvents{}, fmt.Errorf("solar lookup status %q", r.Status)
	}
	if r.Results.UTCOffset == nil {
		return logic.SolarEvents{}, fmt.Errorf("solar response has no utc_offset")
	}

	date := day.Format(time.DateOnly)
	if r.Results.Date != "" {
		date = r.Results.Date
	}
	return Build(date, r.Results.Sunrise, r.Results.Sunset, *r.Results.UTCOffset)
}

// Build turns local times of day into SolarEvents. Times may be "15:04" or "15:04:05".
func Build(date, sunrise, sunset string, offsetMinutes int) (logic.SolarEvents, error) {
	zone := time.FixedZone("local", offsetMinutes*60)
	rise, err := parseLocal(date, sunrise, zone)
	if err != nil {
		return logic.SolarEvents{}, fmt.Errorf("sunrise: %w", err)
	}
	set, err := parseLocal(date, sunset, zone)
	if err != nil {
		return logic.SolarEvents{}, fmt.Errorf("sunset: %w", err)
	}
	if !set.After(rise) {
		return logic.SolarEvents{}, fmt.Errorf("sunset %s is not after sunrise %s", sunset, sunrise)
	}
	return logic.SolarEvents{
		SunriseUTC:       rise.UTC(),
		SunsetUTC:        set.UTC(),
		UTCOffsetMinutes: offsetMinutes,
		DayOfYear:        rise.YearDay(),
	}, nil
}

func parseLocal(date, clock string, zone *time.Location) (time.Time, error) {
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, date+" "+clock, zone); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable time %q on %s", clock, date)
}

// Fallback returns the configured fixed day for the local date of now.
func (c *Client) Fallback(now time.Time) logic.SolarEvents {
	zone := time.FixedZone("local", c.cfg.FallbackOffsetMinutes*60)
	date := now.In(zone).Format(time.DateOnly)
	ev, err := Build(date, c.cfg.FallbackSunrise, c.cfg.FallbackSunset, c.cfg.FallbackOffsetMinutes)
	if err != nil {
		// Config validation rejects bad fallback times; this keeps the
		// controller alive if it did not.
		ev, _ = Build(date, "07:00", "19:00", c.cfg.FallbackOffsetMinutes)
	}
	return ev
}

// Resolve looks up today's events with bounded retries and falls back to the
// fixed day when every attempt fails. fellBack reports which one was used.
func (c *Client) Resolve(ctx context.Context, now time.Time) (ev logic.SolarEvents, fellBack bool) {
	zone := time.FixedZone("local", c.cfg.FallbackOffsetMinutes*60)
	day := now.In(zone)

	attempt := 0
	ev, err := backoff.Retry(ctx, func() (logic.SolarEvents, error) {
		attempt++
		return c.Lookup(ctx, day)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.cfg.Pause)),
		backoff.WithMaxTries(uint(c.cfg.Attempts)),
	)
	if err == nil {
		c.logger.Info("solar events",
			zap.Time("sunrise", ev.SunriseUTC),
			zap.Time("sunset", ev.SunsetUTC),
			zap.Int("utc_offset_min", ev.UTCOffsetMinutes),
			zap.Int("day_of_year", ev.DayOfYear))
		return ev, false
	}

	ev = c.Fallback(now)
	c.logger.Warn("solar lookup failed, using fallback day",
		zap.Int("attempts", attempt),
		zap.Error(err),
		zap.Time("sunrise", ev.SunriseUTC),
		zap.Time("sunset", ev.SunsetUTC))
	return ev, true
}
