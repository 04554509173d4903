// Package config loads the controller configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/geckobuddy/enclosure-controller/internal/sensor"
	"github.com/geckobuddy/enclosure-controller/internal/solar"
	"github.com/geckobuddy/enclosure-controller/internal/telemetry"
)

// Config represents the application configuration
type Config struct {
	Sensor       SensorConfig       `yaml:"sensor"`
	Control      ControlConfig      `yaml:"control"`
	GPIO         GPIOConfig         `yaml:"gpio"`
	Setpoint     SetpointConfig     `yaml:"setpoint"`
	Lighting     LightingConfig     `yaml:"lighting"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Watchdog     WatchdogConfig     `yaml:"watchdog"`
	Solar        SolarConfig        `yaml:"solar"`
	HTTP         HTTPConfig         `yaml:"http"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// SensorConfig contains the SHT4x wiring and retry policy
type SensorConfig struct {
	Bus      int           `yaml:"bus" env:"SENSOR_BUS" env-default:"1"`
	Address  int           `yaml:"address" env:"SENSOR_ADDRESS" env-default:"68"`
	Mode     string        `yaml:"mode" env:"SENSOR_MODE" env-default:"NOHEAT_HIGHPRECISION"`
	Attempts int           `yaml:"attempts" env:"SENSOR_ATTEMPTS" env-default:"5"`
	Pause    time.Duration `yaml:"pause" env:"SENSOR_PAUSE" env-default:"500ms"`
}

// ControlConfig contains the thermostat loop settings
type ControlConfig struct {
	Interval       time.Duration `yaml:"interval" env:"CONTROL_INTERVAL" env-default:"1s"`
	Deadband       float64       `yaml:"deadband" env:"CONTROL_DEADBAND" env-default:"0.5"`
	ReportInterval time.Duration `yaml:"reportInterval" env:"CONTROL_REPORT_INTERVAL" env-default:"10s"`
}

// GPIOConfig contains the output line assignments (BCM numbering)
type GPIOConfig struct {
	Chip     string `yaml:"chip" env:"GPIO_CHIP" env-default:"gpiochip0"`
	RelayPin int    `yaml:"relayPin" env:"GPIO_RELAY_PIN" env-default:"4"`
	ResetPin int    `yaml:"resetPin" env:"GPIO_RESET_PIN" env-default:"2"`
}

// SetpointConfig contains the fixed setpoints (°F) and day/night switchover
type SetpointConfig struct {
	Day               float64       `yaml:"day" env:"SETPOINT_DAY" env-default:"69"`
	Night             float64       `yaml:"night" env:"SETPOINT_NIGHT" env-default:"64"`
	Disconnected      float64       `yaml:"disconnected" env:"SETPOINT_DISCONNECTED" env-default:"67"`
	Interval          time.Duration `yaml:"interval" env:"SETPOINT_INTERVAL" env-default:"90s"`
	NightBeforeSunset time.Duration `yaml:"nightBeforeSunset" env:"SETPOINT_NIGHT_BEFORE_SUNSET" env-default:"30m"`
	DayAfterSunrise   time.Duration `yaml:"dayAfterSunrise" env:"SETPOINT_DAY_AFTER_SUNRISE" env-default:"60m"`
}

// LightingConfig contains the peripheral wiring and fade plan
type LightingConfig struct {
	Address      int           `yaml:"address" env:"LIGHTING_ADDRESS" env-default:"18"`
	FadeDuration time.Duration `yaml:"fadeDuration" env:"LIGHTING_FADE_DURATION" env-default:"1h"`
	Steps        int           `yaml:"steps" env:"LIGHTING_STEPS" env-default:"50"`
	RetryDelay   time.Duration `yaml:"retryDelay" env:"LIGHTING_RETRY_DELAY" env-default:"5s"`
	RetryTimeout time.Duration `yaml:"retryTimeout" env:"LIGHTING_RETRY_TIMEOUT" env-default:"30s"`
	ResetPulse   time.Duration `yaml:"resetPulse" env:"LIGHTING_RESET_PULSE" env-default:"100ms"`
}

// TelemetryConfig contains the feed service account and transport
type TelemetryConfig struct {
	Transport string            `yaml:"transport" env:"TELEMETRY_TRANSPORT" env-default:"http"`
	BaseURL   string            `yaml:"baseUrl" env:"TELEMETRY_BASE_URL" env-default:"https://io.adafruit.com"`
	Broker    string            `yaml:"broker" env:"TELEMETRY_BROKER" env-default:"tls://io.adafruit.com:8883"`
	Username  string            `yaml:"username" env:"AIO_USERNAME"`
	APIKey    string            `yaml:"apiKey" env:"AIO_KEY"`
	Timeout   time.Duration     `yaml:"timeout" env:"TELEMETRY_TIMEOUT" env-default:"10s"`
	QueueSize int               `yaml:"queueSize" env:"TELEMETRY_QUEUE_SIZE" env-default:"64"`
	Feeds     map[string]string `yaml:"feeds"`
}

// ConnectivityConfig contains the link supervision policy
type ConnectivityConfig struct {
	CheckInterval    time.Duration `yaml:"checkInterval" env:"LINK_CHECK_INTERVAL" env-default:"30s"`
	FailureThreshold int           `yaml:"failureThreshold" env:"LINK_FAILURE_THRESHOLD" env-default:"3"`
	InitialBackoff   time.Duration `yaml:"initialBackoff" env:"LINK_INITIAL_BACKOFF" env-default:"1s"`
	MaxBackoff       time.Duration `yaml:"maxBackoff" env:"LINK_MAX_BACKOFF" env-default:"60s"`
	ProbeTimeout     time.Duration `yaml:"probeTimeout" env:"LINK_PROBE_TIMEOUT" env-default:"5s"`
}

// WatchdogConfig contains the hardware watchdog and daily restart settings.
// Device "off" disables feeding; the daily restart still applies.
type WatchdogConfig struct {
	Device      string        `yaml:"device" env:"WATCHDOG_DEVICE" env-default:"/dev/watchdog"`
	Interval    time.Duration `yaml:"interval" env:"WATCHDOG_INTERVAL" env-default:"5s"`
	Stall       time.Duration `yaml:"stall" env:"WATCHDOG_STALL" env-default:"30s"`
	DaySchedule string        `yaml:"daySchedule" env:"WATCHDOG_DAY_SCHEDULE" env-default:"@every 15m"`
}

// Disabled values for optional devices and listeners.
const Off = "off"

// Enabled reports whether a watchdog device is configured.
func (w WatchdogConfig) Enabled() bool {
	return w.Device != "" && w.Device != Off
}

// Enabled reports whether the status server should listen.
func (h HTTPConfig) Enabled() bool {
	return h.Addr != "" && h.Addr != Off
}

// SolarConfig contains the location and fallback day
type SolarConfig struct {
	BaseURL               string        `yaml:"baseUrl" env:"SOLAR_BASE_URL" env-default:"https://api.sunrisesunset.io/json"`
	Latitude              float64       `yaml:"latitude" env:"SOLAR_LATITUDE" env-default:"42.385408"`
	Longitude             float64       `yaml:"longitude" env:"SOLAR_LONGITUDE" env-default:"-71.113114"`
	Timezone              string        `yaml:"timezone" env:"SOLAR_TIMEZONE" env-default:"EST"`
	Attempts              int           `yaml:"attempts" env:"SOLAR_ATTEMPTS" env-default:"3"`
	Pause                 time.Duration `yaml:"pause" env:"SOLAR_PAUSE" env-default:"2s"`
	FallbackSunrise       string        `yaml:"fallbackSunrise" env:"SOLAR_FALLBACK_SUNRISE" env-default:"07:00"`
	FallbackSunset        string        `yaml:"fallbackSunset" env:"SOLAR_FALLBACK_SUNSET" env-default:"19:00"`
	FallbackOffsetMinutes int           `yaml:"fallbackOffsetMinutes" env:"SOLAR_FALLBACK_OFFSET_MINUTES" env-default:"-300"`
}

// HTTPConfig contains the status server settings. Addr "off" disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr" env:"HTTP_ADDR" env-default:":8080"`
}

// Load loads configuration from a YAML file with environment variable overrides.
// An empty path reads the environment only.
func Load(configPath string) (*Config, error) {
	var cfg Config

	if configPath == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if _, err := sensor.ModeByName(c.Sensor.Mode); err != nil {
		return err
	}
	if c.Sensor.Address < 0x03 || c.Sensor.Address > 0x77 {
		return fmt.Errorf("sensor address 0x%02x out of range", c.Sensor.Address)
	}
	if c.Lighting.Address < 0x03 || c.Lighting.Address > 0x77 {
		return fmt.Errorf("lighting address 0x%02x out of range", c.Lighting.Address)
	}
	if c.Sensor.Attempts < 1 {
		return fmt.Errorf("sensor attempts must be at least 1")
	}

	if c.Control.Interval < 100*time.Millisecond {
		return fmt.Errorf("control interval must be at least 100ms")
	}
	if c.Control.Deadband < 0 {
		return fmt.Errorf("deadband must not be negative")
	}

	if c.GPIO.RelayPin == c.GPIO.ResetPin {
		return fmt.Errorf("relay and reset pins must differ, both are %d", c.GPIO.RelayPin)
	}

	if c.Setpoint.Interval < time.Second {
		return fmt.Errorf("setpoint interval must be at least 1 second")
	}
	for name, v := range map[string]float64{
		"day": c.Setpoint.Day, "night": c.Setpoint.Night, "disconnected": c.Setpoint.Disconnected,
	} {
		if v < 40 || v > 110 {
			return fmt.Errorf("%s setpoint %.1f°F is implausible", name, v)
		}
	}

	if c.Lighting.Steps < 1 {
		return fmt.Errorf("lighting steps must be at least 1")
	}
	if c.Lighting.FadeDuration <= 0 {
		return fmt.Errorf("lighting fade duration must be positive")
	}
	if c.Lighting.RetryTimeout < c.Lighting.RetryDelay {
		return fmt.Errorf("lighting retry timeout must not be shorter than the retry delay")
	}

	c.Telemetry.Transport = strings.ToLower(c.Telemetry.Transport)
	switch c.Telemetry.Transport {
	case "http", "mqtt", "none":
	default:
		return fmt.Errorf("telemetry transport must be 'http', 'mqtt' or 'none', got '%s'", c.Telemetry.Transport)
	}
	if c.Telemetry.Transport != "none" && (c.Telemetry.Username == "" || c.Telemetry.APIKey == "") {
		return fmt.Errorf("telemetry username and API key are required for transport %s", c.Telemetry.Transport)
	}
	for feed := range c.Telemetry.Feeds {
		if !knownFeed(feed) {
			return fmt.Errorf("unknown telemetry feed %q", feed)
		}
	}

	if c.Connectivity.FailureThreshold < 1 {
		return fmt.Errorf("link failure threshold must be at least 1")
	}
	if c.Connectivity.MaxBackoff < c.Connectivity.InitialBackoff {
		return fmt.Errorf("max backoff must not be shorter than initial backoff")
	}

	if c.Watchdog.Enabled() && c.Watchdog.Interval*2 > c.Watchdog.Stall {
		return fmt.Errorf("watchdog interval %v must be at most half the stall time %v", c.Watchdog.Interval, c.Watchdog.Stall)
	}

	if err := checkDaySchedule(c.Watchdog.DaySchedule); err != nil {
		return err
	}

	if _, err := solar.Build("2000-01-01", c.Solar.FallbackSunrise, c.Solar.FallbackSunset, 0); err != nil {
		return fmt.Errorf("solar fallback: %w", err)
	}

	return ValidateLogging(&c.Logging)
}

// maxDayCheckGap is the longest the day check may go without firing.
const maxDayCheckGap = 15 * time.Minute

// checkDaySchedule parses spec and rejects schedules that leave more than
// maxDayCheckGap between two checks, sampled over two days.
func checkDaySchedule(spec string) error {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("watchdog day schedule %q: %w", spec, err)
	}
	t := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	end := t.Add(48 * time.Hour)
	for t.Before(end) {
		next := sched.Next(t)
		if next.IsZero() || next.Sub(t) > maxDayCheckGap {
			return fmt.Errorf("watchdog day schedule %q must fire at least every %v", spec, maxDayCheckGap)
		}
		t = next
	}
	return nil
}

func knownFeed(name string) bool {
	for _, f := range telemetry.Feeds {
		if string(f) == name {
			return true
		}
	}
	return false
}

// FeedKeys returns the default feed keys with any configured overrides applied.
func (c *Config) FeedKeys() telemetry.Keys {
	keys := telemetry.DefaultKeys()
	for feed, key := range c.Telemetry.Feeds {
		keys[telemetry.Feed(feed)] = key
	}
	return keys
}

// SolarClientConfig converts the solar section.
func (c *Config) SolarClientConfig() solar.Config {
	return solar.Config{
		BaseURL:               c.Solar.BaseURL,
		Latitude:              c.Solar.Latitude,
		Longitude:             c.Solar.Longitude,
		Timezone:              c.Solar.Timezone,
		Attempts:              c.Solar.Attempts,
		Pause:                 c.Solar.Pause,
		Timeout:               c.Telemetry.Timeout,
		FallbackSunrise:       c.Solar.FallbackSunrise,
		FallbackSunset:        c.Solar.FallbackSunset,
		FallbackOffsetMinutes: c.Solar.FallbackOffsetMinutes,
	}
}

// Dump renders the effective configuration as YAML with secrets masked.
func (c *Config) Dump() ([]byte, error) {
	masked := *c
	if masked.Telemetry.APIKey != "" {
		masked.Telemetry.APIKey = "********"
	}
	out, err := yaml.Marshal(&masked)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return out, nil
}
