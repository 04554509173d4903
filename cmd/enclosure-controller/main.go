// Command enclosure-controller keeps a reptile enclosure at its target
// temperature, runs the daylight cycle and reports to Adafruit IO.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/geckobuddy/enclosure-controller/internal/bus"
	"github.com/geckobuddy/enclosure-controller/internal/config"
	"github.com/geckobuddy/enclosure-controller/internal/controller"
	"github.com/geckobuddy/enclosure-controller/internal/faults"
	"github.com/geckobuddy/enclosure-controller/internal/gpio"
	"github.com/geckobuddy/enclosure-controller/internal/lighting"
	"github.com/geckobuddy/enclosure-controller/internal/sensor"
	"github.com/geckobuddy/enclosure-controller/internal/solar"
	"github.com/geckobuddy/enclosure-controller/internal/telemetry"
	"github.com/geckobuddy/enclosure-controller/internal/watchdog"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// exitRestart asks the service supervisor for a restart.
const exitRestart = 3

var configFile string

func main() {
	os.Exit(exitCode(newRootCmd().Execute()))
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var re *faults.RestartError
	if errors.As(err, &re) {
		fmt.Fprintf(os.Stderr, "restarting: %s\n", re.Reason)
		return exitRestart
	}
	fmt.Fprintln(os.Stderr, err)
	return 1
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "enclosure-controller",
		Short:         "Reptile enclosure climate and lighting controller",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path (empty reads the environment only)")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the controller",
			RunE:  runController,
		},
		&cobra.Command{
			Use:   "read",
			Short: "Take one sensor reading and exit",
			RunE:  readSensor,
		},
		&cobra.Command{
			Use:   "probe",
			Short: "Check the sensor and flash the lighting peripheral",
			RunE:  probeHardware,
		},
		&cobra.Command{
			Use:   "config",
			Short: "Print the effective configuration",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load(configFile)
				if err != nil {
					return err
				}
				return printConfig(cmd.OutOrStdout(), cfg)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "enclosure-controller %s\n", version)
			},
		},
	)
	return root
}

func printConfig(w io.Writer, cfg *config.Config) error {
	out, err := cfg.Dump()
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

// bootID tags every log line and status event of this process.
var bootID = uuid.NewString()

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}
	logger, err := config.NewLogger(&cfg.Logging, bootID)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

func runController(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	i2c, err := bus.NewRealBus(cfg.Sensor.Bus)
	if err != nil {
		return fmt.Errorf("init i2c: %w", err)
	}
	defer i2c.Close()

	reader, err := openSensor(i2c, cfg, logger)
	if err != nil {
		return err
	}

	relay, err := gpio.NewRealOutput(cfg.GPIO.Chip, cfg.GPIO.RelayPin, false)
	if err != nil {
		return fmt.Errorf("init relay: %w", err)
	}
	defer relay.Close()

	periph, closePeriph, err := openPeripheral(i2c, cfg, logger)
	if err != nil {
		return err
	}
	defer closePeriph()

	hw := controller.Hardware{
		Sensor:    reader,
		Lighting:  periph,
		RelayLine: relay,
	}
	if cfg.Watchdog.Enabled() {
		dev, err := watchdog.OpenDevice(cfg.Watchdog.Device)
		if err != nil {
			return fmt.Errorf("open watchdog: %w", err)
		}
		hw.Watchdog = dev
	}

	svc, err := newServices(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return controller.New(cfg, hw, svc, controller.Build{Version: version, BootID: bootID}, logger).Run(ctx)
}

func openSensor(i2c bus.Bus, cfg *config.Config, logger *zap.Logger) (*sensor.Reader, error) {
	mode, err := sensor.ModeByName(cfg.Sensor.Mode)
	if err != nil {
		return nil, err
	}
	conn, err := i2c.Open(cfg.Sensor.Address)
	if err != nil {
		return nil, fmt.Errorf("open sensor: %w", err)
	}
	return sensor.NewReader(conn, sensor.Options{
		Mode:     mode,
		Attempts: cfg.Sensor.Attempts,
		Pause:    cfg.Sensor.Pause,
	}, logger.Named("sensor")), nil
}

func openPeripheral(i2c bus.Bus, cfg *config.Config, logger *zap.Logger) (*lighting.Peripheral, func(), error) {
	conn, err := i2c.Open(cfg.Lighting.Address)
	if err != nil {
		return nil, nil, fmt.Errorf("open lighting peripheral: %w", err)
	}
	// Active-low reset, released.
	reset, err := gpio.NewRealOutput(cfg.GPIO.Chip, cfg.GPIO.ResetPin, true)
	if err != nil {
		return nil, nil, fmt.Errorf("init reset line: %w", err)
	}
	p := lighting.NewPeripheral(conn, reset, lighting.PeripheralOptions{
		RetryDelay:   cfg.Lighting.RetryDelay,
		RetryTimeout: cfg.Lighting.RetryTimeout,
		ResetPulse:   cfg.Lighting.ResetPulse,
	}, logger.Named("peripheral"))
	return p, func() { reset.Close() }, nil
}

// newServices selects the telemetry transport. The REST client always serves
// setpoint fetches and link probes; MQTT only replaces publishing.
func newServices(cfg *config.Config, logger *zap.Logger) (controller.Services, error) {
	svc := controller.Services{
		Solar: solar.NewClient(cfg.SolarClientConfig(), logger.Named("solar")),
	}

	if cfg.Telemetry.Transport == "none" {
		svc.Publisher = telemetry.Disabled{}
		svc.Fetcher = telemetry.Disabled{}
		svc.Prober = telemetry.Disabled{}
		svc.Endpoint = "disabled"
		return svc, nil
	}

	rest := telemetry.NewHTTPClient(cfg.Telemetry.BaseURL, cfg.Telemetry.Username, cfg.Telemetry.APIKey, cfg.FeedKeys(), cfg.Telemetry.Timeout)
	svc.Fetcher = rest
	svc.Prober = rest
	svc.Publisher = rest
	svc.Endpoint = cfg.Telemetry.BaseURL

	if cfg.Telemetry.Transport == "mqtt" {
		clientID := "enclosure-" + uuid.NewString()[:8]
		pub, err := telemetry.NewMQTTPublisher(cfg.Telemetry.Broker, clientID, cfg.Telemetry.Username, cfg.Telemetry.APIKey, cfg.FeedKeys(), logger.Named("mqtt"))
		if err != nil {
			return svc, fmt.Errorf("init mqtt: %w", err)
		}
		svc.Publisher = pub
		svc.Endpoint = cfg.Telemetry.Broker
	}
	return svc, nil
}

func readSensor(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	i2c, err := bus.NewRealBus(cfg.Sensor.Bus)
	if err != nil {
		return fmt.Errorf("init i2c: %w", err)
	}
	defer i2c.Close()

	reader, err := openSensor(i2c, cfg, logger)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	r, err := reader.Read(ctx)
	if err != nil {
		return fmt.Errorf("read sensor: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Temperature: %.2f°F, Humidity: %.2f%%\n",
		sensor.Round2(r.TemperatureF), sensor.Round2(r.HumidityPct))
	return nil
}

func probeHardware(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	i2c, err := bus.NewRealBus(cfg.Sensor.Bus)
	if err != nil {
		return fmt.Errorf("init i2c: %w", err)
	}
	defer i2c.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()
	out := cmd.OutOrStdout()

	reader, err := openSensor(i2c, cfg, logger)
	if err != nil {
		return err
	}
	serial, err := reader.SerialNumber(ctx)
	if err != nil {
		return fmt.Errorf("sensor serial: %w", err)
	}
	fmt.Fprintf(out, "Sensor 0x%02x: serial %08x, mode %s\n", cfg.Sensor.Address, serial, reader.Mode().Name)

	periph, closePeriph, err := openPeripheral(i2c, cfg, logger)
	if err != nil {
		return err
	}
	defer closePeriph()

	for _, c := range []lighting.Color{lighting.ColorReady, lighting.DayColor(64), lighting.ColorOff} {
		if err := periph.Send(ctx, c); err != nil {
			return fmt.Errorf("peripheral: %w", err)
		}
		fmt.Fprintf(out, "Peripheral 0x%02x: sent %s\n", cfg.Lighting.Address, c)
		time.Sleep(time.Second)
	}
	return nil
}
