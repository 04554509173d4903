// Package connectivity tracks whether the remote feed service is reachable and
// paces reconnection attempts.
package connectivity

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/geckobuddy/enclosure-controller/internal/logic"
	"github.com/geckobuddy/enclosure-controller/internal/state"
)

// Defaults.
const (
	DefaultCheckInterval    = 30 * time.Second
	DefaultFailureThreshold = 3
	DefaultInitialBackoff   = 1 * time.Second
	DefaultMaxBackoff       = 60 * time.Second
	DefaultProbeTimeout     = 5 * time.Second
)

// Prober checks that the remote service answers.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// Config controls the supervisor's pacing.
type Config struct {
	CheckInterval    time.Duration
	FailureThreshold int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	ProbeTimeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.CheckInterval <= 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	if c.FailureThreshold < 1 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	return c
}

// NewBackOff returns the reconnection policy: doubling from initial up to max,
// without jitter.
func NewBackOff(initial, max time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.Multiplier = 2
	b.MaxInterval = max
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

// Supervisor owns ConnectivityState. Other tasks feed it outcomes through
// Report; only Run writes the state.
type Supervisor struct {
	cfg     Config
	prober  Prober
	w       *state.Writer[logic.ConnectivityState]
	reports chan error
	bo      *backoff.ExponentialBackOff
	logger  *zap.Logger

	failures int

	// Injectable for testing.
	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// New creates a Supervisor. The initial state is Disconnected.
func New(cfg Config, prober Prober, w *state.Writer[logic.ConnectivityState], logger *zap.Logger) *Supervisor {
	cfg = cfg.withDefaults()
	s := &Supervisor{
		cfg:     cfg,
		prober:  prober,
		w:       w,
		reports: make(chan error, 16),
		bo:      NewBackOff(cfg.InitialBackoff, cfg.MaxBackoff),
		logger:  logger,
		now:     time.Now,
		after:   time.After,
	}
	w.Store(logic.ConnectivityState{Phase: logic.LinkDisconnected})
	return s
}

// Report feeds the outcome of a network operation in. nil is a success.
// Never blocks; reports are dropped if the supervisor is behind.
func (s *Supervisor) Report(err error) {
	select {
	case s.reports <- err:
	default:
	}
}

// Run drives the state machine until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		st := s.w.Load()
		switch st.Phase {
		case logic.LinkConnected:
			if err := s.watch(ctx); err != nil {
				return nil
			}
		default:
			if st.BackoffSeconds > 0 {
				select {
				case <-ctx.Done():
					return nil
				case <-s.after(time.Duration(st.BackoffSeconds) * time.Second):
				}
			}
			if ctx.Err() != nil {
				return nil
			}
			s.attempt(ctx, st.Phase)
		}
	}
}

// attempt moves through Connecting and lands on Connected, or back on from.
func (s *Supervisor) attempt(ctx context.Context, from logic.LinkPhase) {
	s.set(logic.LinkConnecting, 0)

	err := s.probe(ctx)
	if ctx.Err() != nil {
		return
	}
	if err == nil {
		s.bo.Reset()
		s.failures = 0
		s.drain()
		s.set(logic.LinkConnected, 0)
		s.logger.Info("link connected")
		return
	}

	wait := s.nextBackoff()
	s.set(from, wait)
	s.logger.Warn("link attempt failed",
		zap.String("phase", string(from)),
		zap.Int("backoff_s", wait),
		zap.Error(err))
}

// watch checks the link periodically and consumes reports while connected.
// It returns when the link degrades (nil) or ctx ends (ctx.Err()).
func (s *Supervisor) watch(ctx context.Context) error {
	check := s.after(s.cfg.CheckInterval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-s.reports:
			if s.observe(err) {
				return nil
			}
		case <-check:
			if s.observe(s.probe(ctx)) {
				return nil
			}
			check = s.after(s.cfg.CheckInterval)
		}
	}
}

// observe counts one outcome and reports whether the link just degraded.
func (s *Supervisor) observe(err error) bool {
	if err == nil {
		s.failures = 0
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	s.failures++
	s.logger.Debug("link failure observed", zap.Int("consecutive", s.failures), zap.Error(err))
	if s.failures < s.cfg.FailureThreshold {
		return false
	}

	s.failures = 0
	wait := s.nextBackoff()
	s.set(logic.LinkDegraded, wait)
	s.logger.Warn("link degraded", zap.Int("backoff_s", wait))
	return true
}

func (s *Supervisor) probe(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()
	return s.prober.Probe(pctx)
}

// nextBackoff returns the next wait in whole seconds.
func (s *Supervisor) nextBackoff() int {
	d := s.bo.NextBackOff()
	if d == backoff.Stop || d > s.cfg.MaxBackoff {
		d = s.cfg.MaxBackoff
	}
	return int(d / time.Second)
}

// drain discards reports that arrived before the link came up.
func (s *Supervisor) drain() {
	for {
		select {
		case <-s.reports:
		default:
			return
		}
	}
}

func (s *Supervisor) set(phase logic.LinkPhase, backoffSeconds int) {
	s.w.Store(logic.ConnectivityState{
		Phase:          phase,
		BackoffSeconds: backoffSeconds,
		LastAttemptAt:  s.now(),
	})
}
