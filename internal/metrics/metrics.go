// Package metrics turns raw sandbox outcomes into trait vectors and
// scores them against the adaptive ideal. Violation Potential is the
// single number the rest of the pipeline certifies on: zero means the
// module performed at or better than the ideal on every dimension.
package metrics

import "explorer/internal/sandbox"

// TraitVector is the behavioral projection of one sandbox run.
type TraitVector struct {
	DurationMs  float64 `json:"duration_ms"`
	MemoryMB    float64 `json:"memory_mb"`
	Reliability float64 `json:"reliability"`
}

// Ideal is the adaptive performance envelope maintained by the stability
// center. All fields are strictly positive by construction there, which
// is what makes the VP divisions safe.
type Ideal struct {
	DurationMs  float64 `json:"duration_ms"`
	MemoryMB    float64 `json:"memory_mb"`
	Reliability float64 `json:"reliability"`
}

// Weights distributes the VP penalty across dimensions. They must sum to
// 1; config validation enforces that before a governor ever starts.
type Weights struct {
	Time        float64 `json:"time"`
	Memory      float64 `json:"memory"`
	Reliability float64 `json:"reliability"`
}

// Sum returns the total weight mass.
func (w Weights) Sum() float64 {
	return w.Time + w.Memory + w.Reliability
}

// DefaultWeights matches the config defaults.
func DefaultWeights() Weights {
	return Weights{Time: 0.4, Memory: 0.3, Reliability: 0.3}
}

// Project maps an outcome onto a trait vector. Reliability is binary:
// 1.0 only for a run that completed with exit code zero. Launch failures
// and timeouts project to degraded vectors, they are never dropped.
func Project(out sandbox.Outcome) TraitVector {
	tv := TraitVector{
		DurationMs: out.WallTimeMs(),
		MemoryMB:   out.PeakMemoryMB(),
	}
	if out.Succeeded() {
		tv.Reliability = 1.0
	}
	return tv
}

// VP computes the Violation Potential of a trait vector against the
// ideal. Only overruns penalize: running faster or leaner than the ideal
// contributes zero. The result is always >= 0 and is exactly 0 when the
// vector sits at or inside the ideal with reliability 1.
func VP(tv TraitVector, ideal Ideal, w Weights) float64 {
	return w.Time*relu(tv.DurationMs-ideal.DurationMs)/ideal.DurationMs +
		w.Memory*relu(tv.MemoryMB-ideal.MemoryMB)/ideal.MemoryMB +
		w.Reliability*(1.0-tv.Reliability)
}

// Observe is the one-call form: project the outcome and score it.
func Observe(out sandbox.Outcome, ideal Ideal, w Weights) (TraitVector, float64) {
	tv := Project(out)
	return tv, VP(tv, ideal, w)
}

func relu(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}
