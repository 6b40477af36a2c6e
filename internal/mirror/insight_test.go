package mirror

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestInsight_ReflectsHealthySnapshot(t *testing.T) {
	in := NewInsight("")
	snap := testSnapshot(7) // breath cycle 7, 2 certified, genesis

	in.Observe(snap)

	report, ok := in.Latest()
	if !ok {
		t.Fatal("Latest returned no report after Observe")
	}
	if report.CycleID != "cycle-7" || report.Phase != "genesis" {
		t.Errorf("report header = %s/%s, want cycle-7/genesis", report.CycleID, report.Phase)
	}
	if report.Patterns.BreathRhythm != "stable" {
		t.Errorf("BreathRhythm = %q, want stable", report.Patterns.BreathRhythm)
	}
	if report.Patterns.PhaseConsistency != "consistent" {
		t.Errorf("PhaseConsistency = %q, want consistent", report.Patterns.PhaseConsistency)
	}
	if report.Stability.Score != 1.0 || report.Stability.Level != "stable" {
		t.Errorf("Stability = %v/%s, want 1.0/stable", report.Stability.Score, report.Stability.Level)
	}
	if report.Growth.Progression != "developing" {
		t.Errorf("Progression = %q, want developing in genesis", report.Growth.Progression)
	}
	if report.Growth.CertifiedCount != 2 || report.Growth.BreathCycles != 7 {
		t.Errorf("Growth = %+v, want 2 certified over 7 breaths", report.Growth)
	}
}

func TestInsight_ReflectsColdStart(t *testing.T) {
	in := NewInsight("")
	snap := testSnapshot(0)
	snap.Breath.Cycle = 0
	snap.Certified = 0
	snap.Phase = ""

	in.Observe(snap)

	report, _ := in.Latest()
	if report.Patterns.BreathRhythm != "forming" {
		t.Errorf("BreathRhythm = %q, want forming", report.Patterns.BreathRhythm)
	}
	if report.Patterns.PhaseConsistency != "unstable" {
		t.Errorf("PhaseConsistency = %q, want unstable", report.Patterns.PhaseConsistency)
	}
	if report.Stability.Score != 0 || report.Stability.Level != "unstable" {
		t.Errorf("Stability = %v/%s, want 0/unstable", report.Stability.Score, report.Stability.Level)
	}
}

func TestInsight_SovereignAdvances(t *testing.T) {
	in := NewInsight("")
	snap := testSnapshot(10)
	snap.Phase = "sovereign"

	in.Observe(snap)

	report, _ := in.Latest()
	if report.Growth.Progression != "advancing" {
		t.Errorf("Progression = %q, want advancing when sovereign", report.Growth.Progression)
	}
}

func TestInsight_StabilityVariance(t *testing.T) {
	in := NewInsight("")

	if _, ok := in.StabilityVariance(); ok {
		t.Error("variance reported with no history")
	}

	// Scores 1.0 and 0.0: mean 0.5, population variance 0.25.
	in.Observe(testSnapshot(7))
	if _, ok := in.StabilityVariance(); ok {
		t.Error("variance reported with a single report")
	}

	cold := testSnapshot(8)
	cold.Breath.Cycle = 0
	cold.Certified = 0
	cold.Phase = ""
	in.Observe(cold)

	variance, ok := in.StabilityVariance()
	if !ok {
		t.Fatal("variance unavailable with two reports")
	}
	if math.Abs(variance-0.25) > 1e-12 {
		t.Errorf("variance = %v, want 0.25", variance)
	}
}

func TestInsight_HistoryBounded(t *testing.T) {
	in := NewInsight("")
	for i := 0; i < insightHistoryCap+10; i++ {
		in.Observe(testSnapshot(i))
	}
	history := in.History()
	if len(history) != insightHistoryCap {
		t.Fatalf("history length = %d, want %d", len(history), insightHistoryCap)
	}
	if history[0].CycleID != "cycle-10" {
		t.Errorf("oldest retained = %s, want cycle-10", history[0].CycleID)
	}
}

func TestInsight_PersistsLatestReport(t *testing.T) {
	dir := t.TempDir()
	in := NewInsight(dir)

	in.Observe(testSnapshot(3))
	in.Observe(testSnapshot(4))

	data, err := os.ReadFile(filepath.Join(dir, "insight.json"))
	if err != nil {
		t.Fatalf("reading insight.json: %v", err)
	}
	var report InsightReport
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("insight.json is not valid JSON: %v", err)
	}
	if report.CycleID != "cycle-4" {
		t.Errorf("persisted report is %s, want the latest cycle-4", report.CycleID)
	}
}
