package mirror

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"explorer/internal/logging"
)

const insightHistoryCap = 64

// PatternSummary names the behavioral patterns read off a snapshot.
type PatternSummary struct {
	BreathRhythm     string `json:"breath_rhythm"`
	CertifiedGrowth  int    `json:"certified_growth"`
	PhaseConsistency string `json:"phase_consistency"`
}

// StabilityAssessment is the coarse health readout.
type StabilityAssessment struct {
	Score float64 `json:"score"`
	Level string  `json:"level"`
}

// GrowthIndicators tracks how far the population has come.
type GrowthIndicators struct {
	CertifiedCount int    `json:"certified_count"`
	BreathCycles   int    `json:"breath_cycles"`
	Progression    string `json:"progression"`
}

// InsightReport is one reflection over one cycle.
type InsightReport struct {
	Timestamp time.Time           `json:"timestamp"`
	CycleID   string              `json:"cycle_id"`
	Phase     string              `json:"phase"`
	Patterns  PatternSummary      `json:"patterns"`
	Stability StabilityAssessment `json:"stability"`
	Growth    GrowthIndicators    `json:"growth"`
}

// Insight reflects on each snapshot and keeps a bounded history so the
// variance of the stability series can be read back. When given a
// directory it also persists the latest report as insight.json.
type Insight struct {
	mu      sync.Mutex
	dir     string
	history []InsightReport
}

// NewInsight creates the insight mirror. dir may be empty for an
// in-memory-only mirror.
func NewInsight(dir string) *Insight {
	return &Insight{dir: dir}
}

func (in *Insight) Name() string { return "insight" }

// Observe derives the report for snap and appends it to the history.
func (in *Insight) Observe(snap Snapshot) {
	score := stabilityScore(snap)

	rhythm := "forming"
	if snap.Breath.Cycle > 0 {
		rhythm = "stable"
	}
	consistency := "unstable"
	if snap.Phase == "genesis" || snap.Phase == "sovereign" {
		consistency = "consistent"
	}
	progression := "developing"
	if snap.Phase == "sovereign" {
		progression = "advancing"
	}

	report := InsightReport{
		Timestamp: snap.Timestamp,
		CycleID:   snap.CycleID,
		Phase:     snap.Phase,
		Patterns: PatternSummary{
			BreathRhythm:     rhythm,
			CertifiedGrowth:  snap.Certified,
			PhaseConsistency: consistency,
		},
		Stability: StabilityAssessment{
			Score: score,
			Level: stabilityLevel(score),
		},
		Growth: GrowthIndicators{
			CertifiedCount: snap.Certified,
			BreathCycles:   snap.Breath.Cycle,
			Progression:    progression,
		},
	}

	in.mu.Lock()
	in.history = append(in.history, report)
	if len(in.history) > insightHistoryCap {
		in.history = in.history[len(in.history)-insightHistoryCap:]
	}
	in.mu.Unlock()

	logging.MirrorDebug("Insight cycle=%s stability=%.2f (%s)",
		snap.CycleID, score, report.Stability.Level)
	in.persist(report)
}

// Latest returns the most recent report, if any.
func (in *Insight) Latest() (InsightReport, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.history) == 0 {
		return InsightReport{}, false
	}
	return in.history[len(in.history)-1], true
}

// History returns a copy of the retained reports, oldest first.
func (in *Insight) History() []InsightReport {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]InsightReport, len(in.history))
	copy(out, in.history)
	return out
}

// StabilityVariance returns the population variance of the retained
// stability scores. ok is false until two reports exist.
func (in *Insight) StabilityVariance() (float64, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.history) < 2 {
		return 0, false
	}
	mean := 0.0
	for _, r := range in.history {
		mean += r.Stability.Score
	}
	mean /= float64(len(in.history))
	variance := 0.0
	for _, r := range in.history {
		d := r.Stability.Score - mean
		variance += d * d
	}
	return variance / float64(len(in.history)), true
}

func (in *Insight) persist(report InsightReport) {
	if in.dir == "" {
		return
	}
	if err := os.MkdirAll(in.dir, 0755); err != nil {
		logging.Mirror("Insight dir %s unavailable: %v", in.dir, err)
		return
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		logging.Mirror("Insight marshal failed: %v", err)
		return
	}
	path := filepath.Join(in.dir, "insight.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		logging.Mirror("Insight write %s failed: %v", path, err)
	}
}
