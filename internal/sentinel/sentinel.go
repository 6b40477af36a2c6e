// Package sentinel scores the governance system's own competence and
// drives the phase state machine. Each cycle it computes four dimension
// scores in [0,1] over recent history, aggregates them by unweighted
// mean, and compares the aggregate against a learned threshold: the
// running mean of past aggregates minus one running standard deviation,
// clamped to [0.5, 0.95]. Promotion therefore requires sustained
// above-average, low-volatility competence, not a lucky cycle.
//
// Genesis is the initial phase. Sovereign is reached only through
// assessment; the road back runs only through an explicit Reset, never
// through a single bad cycle.
package sentinel

import (
	"math"
	"sync"
	"time"

	"explorer/internal/logging"
	"explorer/internal/metrics"
)

// Phase is the process-wide governance regime.
type Phase string

const (
	PhaseGenesis   Phase = "genesis"
	PhaseSovereign Phase = "sovereign"
)

// idealDriftScale spreads small EWMA drifts across the score range.
// A per-cycle relative drift of 0.1 maps to 0.5.
const idealDriftScale = 10.0

// CycleSample is what one governance cycle feeds the sentinel.
type CycleSample struct {
	CycleID       string
	MeanVP        float64
	Ideal         metrics.Ideal
	Duration      time.Duration
	NewIdentities int
	TotalModules  int
}

// Mastery is one assessment: the four dimension scores, their
// aggregate, and the threshold the aggregate was judged against.
type Mastery struct {
	VPStability      float64 `json:"vp_stability"`
	IdealConvergence float64 `json:"ideal_convergence"`
	PacingRegularity float64 `json:"pacing_regularity"`
	PatternEfficacy  float64 `json:"pattern_efficacy"`
	Aggregate        float64 `json:"aggregate"`
	Threshold        float64 `json:"threshold"`
	Cycles           int     `json:"cycles"`
}

// Config tunes the sentinel.
type Config struct {
	// Window bounds how many recent cycles the dimension scores see.
	Window int
	// MinCycles is how many assessments must accumulate before a
	// promotion can fire. Guards against promoting on the trivially
	// perfect scores of a near-empty history.
	MinCycles int
	// ThresholdFloor and ThresholdCeiling clamp the learned threshold.
	ThresholdFloor   float64
	ThresholdCeiling float64
}

// DefaultConfig returns the standard sentinel tuning.
func DefaultConfig() Config {
	return Config{Window: 25, MinCycles: 10, ThresholdFloor: 0.5, ThresholdCeiling: 0.95}
}

// Sentinel holds assessment history and the current phase.
type Sentinel struct {
	mu     sync.Mutex
	cfg    Config
	phase  Phase
	window []CycleSample

	// Welford accumulators over the aggregate series.
	count int
	mean  float64
	m2    float64

	last Mastery
}

// New returns a sentinel in Genesis with empty history. Non-positive
// config fields fall back to defaults.
func New(cfg Config) *Sentinel {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MinCycles <= 0 {
		cfg.MinCycles = def.MinCycles
	}
	if cfg.ThresholdFloor <= 0 || cfg.ThresholdCeiling <= cfg.ThresholdFloor || cfg.ThresholdCeiling > 1 {
		cfg.ThresholdFloor = def.ThresholdFloor
		cfg.ThresholdCeiling = def.ThresholdCeiling
	}
	return &Sentinel{cfg: cfg, phase: PhaseGenesis}
}

// Assess folds one cycle into history, recomputes mastery, and fires
// the Genesis to Sovereign transition when earned. In Sovereign a
// below-threshold aggregate is logged and tolerated.
func (s *Sentinel) Assess(sample CycleSample) Mastery {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.window = append(s.window, sample)
	if len(s.window) > s.cfg.Window {
		s.window = s.window[len(s.window)-s.cfg.Window:]
	}

	m := Mastery{
		VPStability:      s.vpStability(),
		IdealConvergence: s.idealConvergence(),
		PacingRegularity: s.pacingRegularity(),
		PatternEfficacy:  s.patternEfficacy(),
	}
	m.Aggregate = (m.VPStability + m.IdealConvergence + m.PacingRegularity + m.PatternEfficacy) / 4.0

	// Fold the aggregate into the running stats first: the threshold
	// always reflects the history including the cycle under judgment,
	// so a single outlier drags its own bar along with it.
	s.count++
	delta := m.Aggregate - s.mean
	s.mean += delta / float64(s.count)
	s.m2 += delta * (m.Aggregate - s.mean)

	stddev := 0.0
	if s.count > 1 {
		stddev = math.Sqrt(s.m2 / float64(s.count))
	}
	m.Threshold = clamp(s.mean-stddev, s.cfg.ThresholdFloor, s.cfg.ThresholdCeiling)
	m.Cycles = s.count
	s.last = m

	logging.SentinelDebug("Assessment: vp=%.3f conv=%.3f pace=%.3f learn=%.3f agg=%.3f thr=%.3f cycles=%d",
		m.VPStability, m.IdealConvergence, m.PacingRegularity, m.PatternEfficacy,
		m.Aggregate, m.Threshold, m.Cycles)

	switch s.phase {
	case PhaseGenesis:
		if s.count >= s.cfg.MinCycles && m.Aggregate > m.Threshold {
			s.phase = PhaseSovereign
			logging.Sentinel("Phase transition: genesis -> sovereign (aggregate %.3f > threshold %.3f after %d cycles)",
				m.Aggregate, m.Threshold, s.count)
			logging.Audit().PhaseTransition(string(PhaseGenesis), string(PhaseSovereign), m.Aggregate)
		}
	case PhaseSovereign:
		if m.Aggregate <= m.Threshold {
			logging.Sentinel("Transient regression tolerated in sovereign: aggregate %.3f <= threshold %.3f",
				m.Aggregate, m.Threshold)
		}
	}

	return m
}

// Phase returns the current phase.
func (s *Sentinel) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Mastery returns the most recent assessment. Zero value before the
// first Assess.
func (s *Sentinel) Mastery() Mastery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Reset is the only road from Sovereign back to Genesis. It clears the
// assessment history along with the phase: after a rollback the old
// trajectory describes a world the kernel no longer lives in.
func (s *Sentinel) Reset(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	from := s.phase
	s.phase = PhaseGenesis
	s.window = nil
	s.count = 0
	s.mean = 0
	s.m2 = 0
	s.last = Mastery{}

	logging.Sentinel("Reset to genesis (was %s): %s", from, reason)
	logging.Audit().SentinelReset(reason)
	if from == PhaseSovereign {
		logging.Audit().PhaseTransition(string(PhaseSovereign), string(PhaseGenesis), 0)
	}
}

// vpStability scores how settled the violation potential trend is.
// Perfectly flat history scores 1; volatility decays the score.
func (s *Sentinel) vpStability() float64 {
	if len(s.window) == 0 {
		return 0
	}
	mean := 0.0
	for _, c := range s.window {
		mean += c.MeanVP
	}
	mean /= float64(len(s.window))

	variance := 0.0
	for _, c := range s.window {
		d := c.MeanVP - mean
		variance += d * d
	}
	variance /= float64(len(s.window))
	return 1.0 / (1.0 + math.Sqrt(variance))
}

// idealConvergence scores how little the ideal envelope still moves.
// Mean relative drift between consecutive cycles, scaled so routine
// early-life drift lands mid-range.
func (s *Sentinel) idealConvergence() float64 {
	if len(s.window) < 2 {
		return 1.0
	}
	total := 0.0
	pairs := 0
	for i := 1; i < len(s.window); i++ {
		prev, cur := s.window[i-1].Ideal, s.window[i].Ideal
		total += relDelta(prev.DurationMs, cur.DurationMs) +
			relDelta(prev.MemoryMB, cur.MemoryMB) +
			math.Abs(cur.Reliability-prev.Reliability)
		pairs++
	}
	meanDrift := total / float64(pairs)
	return 1.0 / (1.0 + idealDriftScale*meanDrift)
}

// pacingRegularity scores cycle-duration regularity as one minus the
// coefficient of variation, floored at zero.
func (s *Sentinel) pacingRegularity() float64 {
	if len(s.window) < 2 {
		return 1.0
	}
	mean := 0.0
	for _, c := range s.window {
		mean += c.Duration.Seconds()
	}
	mean /= float64(len(s.window))
	if mean <= 0 {
		return 0
	}

	variance := 0.0
	for _, c := range s.window {
		d := c.Duration.Seconds() - mean
		variance += d * d
	}
	variance /= float64(len(s.window))
	cv := math.Sqrt(variance) / mean
	return clamp(1.0-cv, 0, 1)
}

// patternEfficacy scores how settled the identity population is: the
// complement of the mean novelty rate. All-repeat cycles score 1.
func (s *Sentinel) patternEfficacy() float64 {
	if len(s.window) == 0 {
		return 0
	}
	total := 0.0
	for _, c := range s.window {
		if c.TotalModules > 0 {
			total += float64(c.NewIdentities) / float64(c.TotalModules)
		}
	}
	return 1.0 - total/float64(len(s.window))
}

func relDelta(prev, cur float64) float64 {
	if prev <= 0 {
		return 0
	}
	return math.Abs(cur-prev) / prev
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
