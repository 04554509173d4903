package watchdog

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/geckobuddy/enclosure-controller/internal/faults"
)

// DefaultDaySchedule is how often the calendar day is compared.
const DefaultDaySchedule = "@every 15m"

// DayCheck raises faults.ErrDayRollover once the local calendar day differs
// from the startup day, so the controller restarts and refetches solar data.
type DayCheck struct {
	schedule string
	zone     *time.Location
	startDay int
	logger   *zap.Logger

	// Injectable for testing.
	now func() time.Time
}

// NewDayCheck creates a DayCheck for the day of start in zone.
func NewDayCheck(schedule string, start time.Time, zone *time.Location, logger *zap.Logger) *DayCheck {
	if schedule == "" {
		schedule = DefaultDaySchedule
	}
	if zone == nil {
		zone = time.Local
	}
	return &DayCheck{
		schedule: schedule,
		zone:     zone,
		startDay: start.In(zone).YearDay(),
		logger:   logger,
		now:      time.Now,
	}
}

// StartDay is the local day of year the process started on.
func (d *DayCheck) StartDay() int {
	return d.startDay
}

// Check compares now against the startup day.
func (d *DayCheck) Check(now time.Time) error {
	day := now.In(d.zone).YearDay()
	if day == d.startDay {
		return nil
	}
	return fmt.Errorf("%w: day %d, started on %d", faults.ErrDayRollover, day, d.startDay)
}

// Run schedules Check with cron and returns the rollover error, or nil when
// ctx is cancelled.
func (d *DayCheck) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	c := cron.New(
		cron.WithLocation(d.zone),
		cron.WithLogger(cronLogger{d.logger.Sugar()}),
	)
	if _, err := c.AddFunc(d.schedule, func() {
		if err := d.Check(d.now()); err != nil {
			select {
			case errCh <- err:
			default:
			}
		}
	}); err != nil {
		return fmt.Errorf("schedule day check %q: %w", d.schedule, err)
	}

	c.Start()
	defer func() { <-c.Stop().Done() }()

	d.logger.Info("day check scheduled",
		zap.String("schedule", d.schedule),
		zap.Int("start_day", d.startDay))

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		d.logger.Warn("calendar day changed", zap.Error(err))
		return err
	}
}

// cronLogger routes cron's own logging into zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
