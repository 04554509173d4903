// Package setpoint runs the task that owns the active temperature setpoint.
package setpoint

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/geckobuddy/enclosure-controller/internal/faults"
	"github.com/geckobuddy/enclosure-controller/internal/logic"
	"github.com/geckobuddy/enclosure-controller/internal/state"
	"github.com/geckobuddy/enclosure-controller/internal/telemetry"
)

// DefaultInterval is how often the setpoint is re-evaluated.
const DefaultInterval = 90 * time.Second

// Config for the scheduler.
type Config struct {
	Interval   time.Duration
	Defaults   logic.SetpointDefaults
	Switchover logic.Switchover
}

// Scheduler re-evaluates the setpoint from the link state, the solar events
// and the remote day/night feeds.
type Scheduler struct {
	cfg     Config
	fetcher telemetry.Fetcher
	pub     telemetry.Publisher
	link    state.Reader[logic.ConnectivityState]
	solar   state.Reader[logic.SolarEvents]
	w       *state.Writer[logic.SetpointState]
	report  func(error)
	logger  *zap.Logger

	published bool
	lastValue float64

	// Injectable for testing.
	now func() time.Time
}

// New creates a Scheduler and stores the disconnected default so readers
// have a value before the first evaluation.
func New(
	cfg Config,
	fetcher telemetry.Fetcher,
	pub telemetry.Publisher,
	link state.Reader[logic.ConnectivityState],
	solar state.Reader[logic.SolarEvents],
	w *state.Writer[logic.SetpointState],
	report func(error),
	logger *zap.Logger,
) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Defaults == (logic.SetpointDefaults{}) {
		cfg.Defaults = logic.DefaultSetpoints
	}
	if cfg.Switchover == (logic.Switchover{}) {
		cfg.Switchover = logic.DefaultSwitchover
	}
	if report == nil {
		report = func(error) {}
	}
	s := &Scheduler{
		cfg:     cfg,
		fetcher: fetcher,
		pub:     pub,
		link:    link,
		solar:   solar,
		w:       w,
		report:  report,
		logger:  logger,
		now:     time.Now,
	}
	w.Store(logic.SetpointState{
		ActiveValue:   cfg.Defaults.Disconnected,
		Source:        logic.SourceDefault,
		LastUpdatedAt: s.now(),
	})
	return s
}

// Run evaluates immediately and then every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.Update(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Update(ctx)
		}
	}
}

// Update performs one evaluation and returns the stored state.
func (s *Scheduler) Update(ctx context.Context) logic.SetpointState {
	link := s.link.Load()

	var remote logic.RemoteSetpoints
	if link.Online() {
		remote.Day = s.fetch(ctx, telemetry.FeedDaySetpoint)
		remote.Night = s.fetch(ctx, telemetry.FeedNightSetpoint)
	}

	now := s.now()
	value, source := logic.SelectSetpoint(logic.ScheduleInput{
		Now:        now,
		Link:       link.Phase,
		Solar:      s.solar.Load(),
		Remote:     remote,
		Defaults:   s.cfg.Defaults,
		Switchover: s.cfg.Switchover,
	})

	st := logic.SetpointState{ActiveValue: value, Source: source, LastUpdatedAt: now}
	s.w.Store(st)

	if !s.published || value != s.lastValue {
		s.logger.Info("setpoint",
			zap.Float64("value", value),
			zap.String("source", string(source)),
			zap.String("link", string(link.Phase)))
		if err := s.pub.Publish(ctx, telemetry.FeedSetpoint, value); err != nil {
			s.logger.Debug("setpoint publish failed", zap.Error(err))
		}
		s.published = true
		s.lastValue = value
	}
	return st
}

// fetch reads one remote setpoint. nil means the caller falls back.
func (s *Scheduler) fetch(ctx context.Context, feed telemetry.Feed) *float64 {
	raw, err := s.fetcher.Fetch(ctx, feed)
	if err != nil {
		if faults.IsNetwork(err) {
			s.report(err)
		}
		s.logger.Warn("setpoint fetch failed", zap.String("feed", string(feed)), zap.Error(err))
		return nil
	}
	s.report(nil)

	v, err := telemetry.ParseFloatValue(raw)
	if err != nil {
		s.logger.Warn("setpoint feed unparseable", zap.String("feed", string(feed)), zap.Error(err))
		return nil
	}
	return &v
}
