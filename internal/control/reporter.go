package control

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/geckobuddy/enclosure-controller/internal/logic"
	"github.com/geckobuddy/enclosure-controller/internal/sensor"
	"github.com/geckobuddy/enclosure-controller/internal/state"
	"github.com/geckobuddy/enclosure-controller/internal/telemetry"
)

// DefaultReportInterval is how often temperature and humidity are published.
const DefaultReportInterval = 10 * time.Second

// Reporter publishes the latest reading on a fixed interval.
type Reporter struct {
	interval time.Duration
	readings state.Reader[logic.SensorReading]
	pub      telemetry.Publisher
	logger   *zap.Logger

	last time.Time
}

// NewReporter creates a Reporter.
func NewReporter(interval time.Duration, readings state.Reader[logic.SensorReading], pub telemetry.Publisher, logger *zap.Logger) *Reporter {
	if interval <= 0 {
		interval = DefaultReportInterval
	}
	return &Reporter{
		interval: interval,
		readings: readings,
		pub:      pub,
		logger:   logger,
	}
}

// Run reports every interval until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Report(ctx)
		}
	}
}

// Report publishes the current reading. Returns false if there is no new
// reading since the last report.
func (r *Reporter) Report(ctx context.Context) bool {
	rd := r.readings.Load()
	if rd.ValidatedAt.IsZero() || !rd.ValidatedAt.After(r.last) {
		return false
	}
	r.last = rd.ValidatedAt

	temp := sensor.Round2(rd.TemperatureF)
	hum := sensor.Round2(rd.HumidityPct)
	r.logger.Debug("reading", zap.Float64("temp_f", temp), zap.Float64("humidity", hum))

	if err := r.pub.Publish(ctx, telemetry.FeedTemperature, temp); err != nil {
		r.logger.Debug("temperature publish failed", zap.Error(err))
	}
	if err := r.pub.Publish(ctx, telemetry.FeedHumidity, hum); err != nil {
		r.logger.Debug("humidity publish failed", zap.Error(err))
	}
	return true
}
