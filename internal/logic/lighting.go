package logic

import "time"

// MaxBrightness is the full-scale brightness accepted by the lighting peripheral.
const MaxBrightness = 255

// LightingPlan configures the fades.
type LightingPlan struct {
	FadeDuration time.Duration
	Steps        int
}

// DefaultLightingPlan fades over one hour in 50 steps.
var DefaultLightingPlan = LightingPlan{
	FadeDuration: time.Hour,
	Steps:        50,
}

// StepInterval is how long each brightness step lasts.
func (p LightingPlan) StepInterval() time.Duration {
	steps := p.Steps
	if steps < 1 {
		steps = 1
	}
	return p.FadeDuration / time.Duration(steps)
}

// effective clamps the fade so that sunrise and sunset fades never overlap.
func (p LightingPlan) effective(solar SolarEvents) LightingPlan {
	if p.Steps < 1 {
		p.Steps = 1
	}
	daylight := solar.SunsetUTC.Sub(solar.SunriseUTC)
	if p.FadeDuration*2 > daylight {
		p.FadeDuration = daylight / 2
	}
	if p.FadeDuration < 0 {
		p.FadeDuration = 0
	}
	return p
}

// LightingAt computes the phase and brightness purely from the current time.
//
//	Night        now < sunrise or now >= sunset
//	SunriseFade  sunrise <= now < sunrise+fade
//	Day          sunrise+fade <= now < sunset-fade
//	SunsetFade   sunset-fade <= now < sunset
//
// Nothing is remembered between calls, so a restart resumes wherever the clock says.
func LightingAt(now time.Time, solar SolarEvents, plan LightingPlan) (LightingPhase, uint8) {
	if !solar.SunsetUTC.After(solar.SunriseUTC) {
		return PhaseNight, 0
	}
	p := plan.effective(solar)

	sunriseEnd := solar.SunriseUTC.Add(p.FadeDuration)
	sunsetStart := solar.SunsetUTC.Add(-p.FadeDuration)

	switch {
	case now.Before(solar.SunriseUTC) || !now.Before(solar.SunsetUTC):
		return PhaseNight, 0
	case now.Before(sunriseEnd):
		k := completedSteps(now.Sub(solar.SunriseUTC), p)
		return PhaseSunriseFade, uint8(MaxBrightness * k / p.Steps)
	case now.Before(sunsetStart):
		return PhaseDay, MaxBrightness
	default:
		k := completedSteps(now.Sub(sunsetStart), p)
		return PhaseSunsetFade, uint8(MaxBrightness - MaxBrightness*k/p.Steps)
	}
}

func completedSteps(elapsed time.Duration, p LightingPlan) int {
	step := p.FadeDuration / time.Duration(p.Steps)
	if step <= 0 {
		return p.Steps
	}
	k := int(elapsed / step)
	if k >= p.Steps {
		k = p.Steps - 1
	}
	if k < 0 {
		k = 0
	}
	return k
}

// PhaseMessage is the operator-facing status line for a phase.
func PhaseMessage(phase LightingPhase) string {
	switch phase {
	case PhaseDay:
		return "Daytime Mode, Lights on FULL BRIGHTNESS"
	case PhaseSunriseFade:
		return "Sunrise Mode, Lights fading up"
	case PhaseSunsetFade:
		return "Sunset Mode, Lights fading down"
	default:
		return "Nighttime Mode, Lights off"
	}
}

// LightingUpdate describes what changed on one sequencer tick.
type LightingUpdate struct {
	State             LightingState
	PhaseChanged      bool
	BrightnessChanged bool
}

// Sequence tracks the lighting state machine across ticks.
type Sequence struct {
	plan    LightingPlan
	state   LightingState
	started bool
}

// NewSequence creates a sequence that has not emitted anything yet.
func NewSequence(plan LightingPlan) *Sequence {
	return &Sequence{plan: plan}
}

// Process recomputes the state at now. The first call always reports a change
// so the peripheral is driven to the right level after a restart.
func (s *Sequence) Process(now time.Time, solar SolarEvents) LightingUpdate {
	phase, brightness := LightingAt(now, solar, s.plan)

	u := LightingUpdate{
		PhaseChanged:      !s.started || phase != s.state.Phase,
		BrightnessChanged: !s.started || brightness != s.state.Brightness,
	}
	s.started = true

	if u.PhaseChanged {
		s.state.Phase = phase
		s.state.LastTransitionAt = now
	}
	s.state.Brightness = brightness
	u.State = s.state
	return u
}

// State returns the last computed state.
func (s *Sequence) State() LightingState {
	return s.state
}

// Plan returns the configured plan.
func (s *Sequence) Plan() LightingPlan {
	return s.plan
}
