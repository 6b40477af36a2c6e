// Package breath paces the governance loop. The Engine modulates the
// interval between cycles with a sine pulse so the system alternates
// between faster (inhale) and slower (exhale) stretches instead of
// ticking flat; the Steady pacer is the fixed-interval alternative.
// Both block in WaitForNextTick until the next cycle is due.
package breath

import (
	"context"
	"math"
	"sync"
	"time"

	"explorer/internal/logging"
)

// Pacer gates the governance loop between cycles.
type Pacer interface {
	// WaitForNextTick blocks until the next cycle should start. It
	// returns early with the context's error on cancellation.
	WaitForNextTick(ctx context.Context) error
}

// Config tunes the sine pacer.
type Config struct {
	// Base interval between cycles before modulation.
	Base time.Duration
	// Min and Max clamp the modulated interval.
	Min time.Duration
	Max time.Duration
	// Amplitude is the modulation depth in [0,1). Zero collapses the
	// pulse to a steady Base interval. Strictly below 1 keeps the
	// divisor positive.
	Amplitude float64
	// Period is the pulse length in cycles.
	Period int
}

// DefaultConfig returns the standard pacing tuning.
func DefaultConfig() Config {
	return Config{
		Base:      10 * time.Second,
		Min:       time.Second,
		Max:       60 * time.Second,
		Amplitude: 0.3,
		Period:    12,
	}
}

// State is a read-only view of the pulse for status surfaces.
type State struct {
	Cycle    int           `json:"cycle"`
	Phase    float64       `json:"phase"`
	Depth    float64       `json:"depth"`
	Inhale   bool          `json:"inhale"`
	Interval time.Duration `json:"interval"`
}

// Engine is the sine pacer. Each tick divides Base by the pulse
// 1 + Amplitude*sin(phase) and clamps the result to [Min, Max], then
// advances the phase by one cycle's share of the period. High pulse
// (inhale) shortens the interval, low pulse (exhale) stretches it.
type Engine struct {
	mu    sync.Mutex
	cfg   Config
	cycle int
	phase float64
}

// New returns a sine pacer. Invalid config fields fall back to
// defaults; startup validation catches them loudly before this runs.
func New(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.Base <= 0 {
		cfg.Base = def.Base
	}
	if cfg.Min <= 0 || cfg.Max < cfg.Min {
		cfg.Min = def.Min
		cfg.Max = def.Max
	}
	if cfg.Amplitude < 0 || cfg.Amplitude >= 1 {
		cfg.Amplitude = def.Amplitude
	}
	if cfg.Period < 1 {
		cfg.Period = def.Period
	}
	return &Engine{cfg: cfg}
}

// WaitForNextTick blocks for the current modulated interval.
func (e *Engine) WaitForNextTick(ctx context.Context) error {
	interval, state := e.advance()
	logging.BreathDebug("Tick %d: phase=%.3f depth=%.3f %s interval=%s",
		state.Cycle, state.Phase, state.Depth, inOut(state.Inhale), interval)

	timer := time.NewTimer(interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// State reports the pulse without advancing it.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

func (e *Engine) advance() (time.Duration, State) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state := e.stateLocked()
	e.cycle++
	e.phase += 2 * math.Pi / float64(e.cfg.Period)
	if e.phase >= 2*math.Pi {
		e.phase -= 2 * math.Pi
	}
	return state.Interval, state
}

func (e *Engine) stateLocked() State {
	pulse := 1 + e.cfg.Amplitude*math.Sin(e.phase)
	interval := time.Duration(float64(e.cfg.Base) / pulse)
	if interval < e.cfg.Min {
		interval = e.cfg.Min
	}
	if interval > e.cfg.Max {
		interval = e.cfg.Max
	}
	return State{
		Cycle:    e.cycle,
		Phase:    e.phase,
		Depth:    (math.Sin(e.phase) + 1) / 2,
		Inhale:   e.phase < math.Pi,
		Interval: interval,
	}
}

func inOut(inhale bool) string {
	if inhale {
		return "inhale"
	}
	return "exhale"
}

// Steady ticks at a fixed interval.
type Steady struct {
	interval time.Duration
}

// NewSteady returns a fixed-interval pacer.
func NewSteady(interval time.Duration) *Steady {
	if interval <= 0 {
		interval = DefaultConfig().Base
	}
	return &Steady{interval: interval}
}

// WaitForNextTick blocks for the fixed interval.
func (s *Steady) WaitForNextTick(ctx context.Context) error {
	timer := time.NewTimer(s.interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
