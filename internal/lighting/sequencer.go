package lighting

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/geckobuddy/enclosure-controller/internal/logic"
	"github.com/geckobuddy/enclosure-controller/internal/state"
	"github.com/geckobuddy/enclosure-controller/internal/telemetry"
)

// minTick keeps a tiny fade plan from spinning.
const minTick = time.Second

// Sequencer owns LightingState and drives the peripheral to match it.
type Sequencer struct {
	seq    *logic.Sequence
	driver Driver
	solar  state.Reader[logic.SolarEvents]
	w      *state.Writer[logic.LightingState]
	pub    telemetry.Publisher
	logger *zap.Logger

	// resend is set after a failed write so the next tick retries it.
	resend bool

	// Injectable for testing.
	now func() time.Time
}

// NewSequencer creates a Sequencer.
func NewSequencer(
	plan logic.LightingPlan,
	driver Driver,
	solar state.Reader[logic.SolarEvents],
	w *state.Writer[logic.LightingState],
	pub telemetry.Publisher,
	logger *zap.Logger,
) *Sequencer {
	if plan.Steps < 1 || plan.FadeDuration <= 0 {
		plan = logic.DefaultLightingPlan
	}
	return &Sequencer{
		seq:    logic.NewSequence(plan),
		driver: driver,
		solar:  solar,
		w:      w,
		pub:    pub,
		logger: logger,
		now:    time.Now,
	}
}

// Interval is the tick period: one fade step, at least a second.
func (s *Sequencer) Interval() time.Duration {
	d := s.seq.Plan().StepInterval()
	if d < minTick {
		d = minTick
	}
	return d
}

// Run ticks immediately and then every Interval until ctx is cancelled.
// Peripheral faults are handled inside Tick and never end the task.
func (s *Sequencer) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.Interval())
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick recomputes the lighting state from the clock and writes the peripheral
// if the brightness changed or the previous write failed. A failed write
// pulses the reset line and is retried on the next tick. The error is
// returned for callers that want it.
func (s *Sequencer) Tick(ctx context.Context) error {
	u := s.seq.Process(s.now(), s.solar.Load())
	s.w.Store(u.State)

	if u.PhaseChanged {
		msg := logic.PhaseMessage(u.State.Phase)
		s.logger.Info("lighting phase",
			zap.String("phase", string(u.State.Phase)),
			zap.Uint8("brightness", u.State.Brightness))
		if err := s.pub.Publish(ctx, telemetry.FeedLightingStatus, msg); err != nil {
			s.logger.Debug("lighting status publish failed", zap.Error(err))
		}
	}

	if !u.BrightnessChanged && !s.resend {
		return nil
	}

	err := s.driver.Send(ctx, DayColor(u.State.Brightness))
	if err == nil {
		s.resend = false
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.resend = true
	s.logger.Error("lighting peripheral fault", zap.Error(err))
	if rerr := s.driver.Reset(ctx); rerr != nil {
		s.logger.Error("lighting reset failed", zap.Error(rerr))
	}
	return err
}
