package mirror

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"explorer/internal/logging"
)

const bloomHistoryCap = 64

// insightPatternAxes is the number of pattern dimensions an insight
// reflection always carries; it seeds the reflection index.
const insightPatternAxes = 3

// BloomReport captures how naturally the population is unfolding.
type BloomReport struct {
	Timestamp       time.Time `json:"timestamp"`
	CycleID         string    `json:"cycle_id"`
	Curvature       float64   `json:"curvature"`
	PhaseBloom      float64   `json:"phase_bloom"`
	ReflectionIndex float64   `json:"reflection_index"`
	BreathResonance float64   `json:"breath_resonance"`
	Unfolding       string    `json:"unfolding"`
	Cycles          int       `json:"cycles"`
	Maturity        string    `json:"maturity"`
}

// Bloom tracks the growth curvature of the certified population.
// Curvature is stability times the log of the certified count, so it
// grows with the ledger but cannot explode. When a Portent is wired
// in, its advisory counts feed the reflection index; the forecast it
// reads may still be the previous cycle's, which is fine for a trend.
type Bloom struct {
	mu      sync.Mutex
	dir     string
	portent *Portent
	cycles  int
	history []BloomReport
}

// NewBloom creates the bloom mirror. dir may be empty; portent may be
// nil when the forecaster is disabled.
func NewBloom(dir string, portent *Portent) *Bloom {
	return &Bloom{dir: dir, portent: portent}
}

func (b *Bloom) Name() string { return "bloom" }

// Observe computes the bloom metrics for snap.
func (b *Bloom) Observe(snap Snapshot) {
	stability := stabilityScore(snap)

	curvature := 0.0
	if snap.Certified > 0 {
		curvature = stability * math.Log(1+float64(snap.Certified)) * 0.1
	}

	phaseBloom := stability * 0.8
	if snap.Phase == "sovereign" {
		phaseBloom = math.Min(1.0, stability*1.5)
	}

	advisories := 0
	if b.portent != nil {
		if forecast, ok := b.portent.Latest(); ok {
			advisories = len(forecast.Warnings) + len(forecast.Opportunities)
		}
	}
	reflection := math.Min(1.0, float64(insightPatternAxes+advisories)/10.0)

	resonance := math.Min(1.0, float64(snap.Breath.Cycle)*0.1+snap.Breath.Depth*0.5)

	unfolding := "low"
	switch {
	case curvature > 0.5 && resonance > 0.7:
		unfolding = "high"
	case curvature > 0.2 || resonance > 0.4:
		unfolding = "medium"
	}

	b.mu.Lock()
	b.cycles++
	report := BloomReport{
		Timestamp:       snap.Timestamp,
		CycleID:         snap.CycleID,
		Curvature:       curvature,
		PhaseBloom:      phaseBloom,
		ReflectionIndex: reflection,
		BreathResonance: resonance,
		Unfolding:       unfolding,
		Cycles:          b.cycles,
		Maturity:        bloomMaturity(b.cycles),
	}
	b.history = append(b.history, report)
	if len(b.history) > bloomHistoryCap {
		b.history = b.history[len(b.history)-bloomHistoryCap:]
	}
	b.mu.Unlock()

	logging.MirrorDebug("Bloom cycle=%s curvature=%.3f unfolding=%s",
		snap.CycleID, curvature, unfolding)
	b.persist(report)
}

// Latest returns the most recent report, if any.
func (b *Bloom) Latest() (BloomReport, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.history) == 0 {
		return BloomReport{}, false
	}
	return b.history[len(b.history)-1], true
}

// Pulse folds the latest report into a single growth value.
func (b *Bloom) Pulse() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.history) == 0 {
		return 0
	}
	r := b.history[len(b.history)-1]
	return (r.Curvature + r.PhaseBloom + r.ReflectionIndex) / 3.0
}

// EventReady reports whether the latest metrics cross the bloom event
// thresholds.
func (b *Bloom) EventReady() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.history) == 0 {
		return false
	}
	r := b.history[len(b.history)-1]
	return r.Curvature > 0.6 && r.PhaseBloom > 0.7 && r.ReflectionIndex > 0.5
}

func bloomMaturity(cycles int) string {
	switch {
	case cycles < 5:
		return "seedling"
	case cycles < 15:
		return "growing"
	case cycles < 30:
		return "flowering"
	default:
		return "mature"
	}
}

func (b *Bloom) persist(report BloomReport) {
	if b.dir == "" {
		return
	}
	if err := os.MkdirAll(b.dir, 0755); err != nil {
		logging.Mirror("Bloom dir %s unavailable: %v", b.dir, err)
		return
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		logging.Mirror("Bloom marshal failed: %v", err)
		return
	}
	path := filepath.Join(b.dir, "bloom.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		logging.Mirror("Bloom write %s failed: %v", path, err)
	}
}
