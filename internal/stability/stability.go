// Package stability maintains the adaptive ideal: the performance
// envelope modules are scored against. The ideal chases observed central
// tendency with an exponential moving average and never sits below its
// configured floors, so the VP divisions stay safe and a burst of fast
// runs cannot ratchet expectations down to zero.
package stability

import (
	"sync"

	"explorer/internal/metrics"
)

// Config controls learning rate and floors.
type Config struct {
	// Alpha is the EWMA learning rate, in (0,1). Small alpha means slow,
	// stable learning; config validation rejects anything outside the
	// open interval.
	Alpha float64

	// FloorDurationMs is the minimum ideal duration.
	FloorDurationMs float64

	// FloorMemoryMB is the minimum ideal memory.
	FloorMemoryMB float64
}

// DefaultConfig matches the config package defaults.
func DefaultConfig() Config {
	return Config{Alpha: 0.2, FloorDurationMs: 10, FloorMemoryMB: 1}
}

// Center owns the ideal. All access is mutex-serialized; concurrent
// updaters interleave in arrival order and last-writer-wins is accepted.
type Center struct {
	mu      sync.Mutex
	alpha   float64
	floors  Config
	ideal   metrics.Ideal
	updates int64
}

// New creates a center with ideals seeded at the floors and reliability
// at 1.0.
func New(cfg Config) *Center {
	def := DefaultConfig()
	if cfg.Alpha <= 0 || cfg.Alpha >= 1 {
		cfg.Alpha = def.Alpha
	}
	if cfg.FloorDurationMs <= 0 {
		cfg.FloorDurationMs = def.FloorDurationMs
	}
	if cfg.FloorMemoryMB <= 0 {
		cfg.FloorMemoryMB = def.FloorMemoryMB
	}
	return &Center{
		alpha:  cfg.Alpha,
		floors: cfg,
		ideal:  seedIdeal(cfg),
	}
}

func seedIdeal(cfg Config) metrics.Ideal {
	return metrics.Ideal{
		DurationMs:  cfg.FloorDurationMs,
		MemoryMB:    cfg.FloorMemoryMB,
		Reliability: 1.0,
	}
}

// Update moves each ideal dimension toward the observation by alpha of
// the gap, re-floors, and returns the new ideal.
func (c *Center) Update(tv metrics.TraitVector) metrics.Ideal {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apply(tv)
	return c.ideal
}

// apply is the unlocked update step.
func (c *Center) apply(tv metrics.TraitVector) {
	c.ideal.DurationMs += c.alpha * (tv.DurationMs - c.ideal.DurationMs)
	c.ideal.MemoryMB += c.alpha * (tv.MemoryMB - c.ideal.MemoryMB)
	c.ideal.Reliability += c.alpha * (tv.Reliability - c.ideal.Reliability)

	if c.ideal.DurationMs < c.floors.FloorDurationMs {
		c.ideal.DurationMs = c.floors.FloorDurationMs
	}
	if c.ideal.MemoryMB < c.floors.FloorMemoryMB {
		c.ideal.MemoryMB = c.floors.FloorMemoryMB
	}
	if c.ideal.Reliability < 0 {
		c.ideal.Reliability = 0
	}
	if c.ideal.Reliability > 1 {
		c.ideal.Reliability = 1
	}

	c.updates++
}

// Ideal returns the current envelope. Pure read.
func (c *Center) Ideal() metrics.Ideal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ideal
}

// Updates returns how many observations have shaped the current ideal.
func (c *Center) Updates() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updates
}

// Reseed discards the learned ideal and replays the given history from
// the floors. Called after a kernel rollback so the envelope tracks the
// restored state instead of the abandoned one. An empty history leaves
// the center back at its seed values.
func (c *Center) Reseed(history []metrics.TraitVector) metrics.Ideal {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ideal = seedIdeal(c.floors)
	c.updates = 0
	for _, tv := range history {
		c.apply(tv)
	}
	return c.ideal
}
