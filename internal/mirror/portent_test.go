package mirror

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func advisoryKinds(list []Advisory) []string {
	kinds := make([]string, len(list))
	for i, a := range list {
		kinds[i] = a.Kind
	}
	return kinds
}

func hasKind(list []Advisory, kind string) bool {
	for _, a := range list {
		if a.Kind == kind {
			return true
		}
	}
	return false
}

func TestNewPortent_CompilesRules(t *testing.T) {
	if _, err := NewPortent(""); err != nil {
		t.Fatalf("NewPortent: %v", err)
	}
}

func TestPortent_ColdStartDerivesWarnings(t *testing.T) {
	p, err := NewPortent("")
	if err != nil {
		t.Fatalf("NewPortent: %v", err)
	}

	snap := testSnapshot(0)
	snap.Phase = ""
	snap.Certified = 0
	snap.Modules = 0
	snap.Breath.Cycle = 0
	p.Observe(snap)

	forecast, ok := p.Latest()
	if !ok {
		t.Fatal("no forecast after Observe")
	}
	if !hasKind(forecast.Warnings, "stability_collapse") {
		t.Errorf("warnings %v missing stability_collapse", advisoryKinds(forecast.Warnings))
	}
	if !hasKind(forecast.Warnings, "empty_ledger") {
		t.Errorf("warnings %v missing empty_ledger", advisoryKinds(forecast.Warnings))
	}
	if !hasKind(forecast.Opportunities, "first_certification") {
		t.Errorf("opportunities %v missing first_certification", advisoryKinds(forecast.Opportunities))
	}

	// high severity sorts before medium
	if len(forecast.Warnings) >= 2 {
		if forecast.Warnings[0].Severity != "high" {
			t.Errorf("first warning severity = %s, want high", forecast.Warnings[0].Severity)
		}
	}
	for _, w := range forecast.Warnings {
		if w.Message == "" {
			t.Errorf("warning %s has no message", w.Kind)
		}
	}

	if forecast.ShortTerm.StabilityTrend != "declining" {
		t.Errorf("StabilityTrend = %s, want declining", forecast.ShortTerm.StabilityTrend)
	}
	if forecast.ShortTerm.GrowthLikelihood != "low" {
		t.Errorf("GrowthLikelihood = %s, want low", forecast.ShortTerm.GrowthLikelihood)
	}
	if forecast.ShortTerm.NextBreathCycle != 1 {
		t.Errorf("NextBreathCycle = %d, want 1", forecast.ShortTerm.NextBreathCycle)
	}
	if forecast.MediumTerm.Maturity != "distant" {
		t.Errorf("Maturity = %s, want distant", forecast.MediumTerm.Maturity)
	}
}

func TestPortent_HealthyGenesisFindsPromotionWindow(t *testing.T) {
	p, err := NewPortent("")
	if err != nil {
		t.Fatalf("NewPortent: %v", err)
	}

	p.Observe(testSnapshot(7)) // genesis, certified, margin +0.2, stability 1.0

	forecast, _ := p.Latest()
	if len(forecast.Warnings) != 0 {
		t.Errorf("healthy snapshot derived warnings %v", advisoryKinds(forecast.Warnings))
	}
	if !hasKind(forecast.Opportunities, "promotion_window") {
		t.Errorf("opportunities %v missing promotion_window", advisoryKinds(forecast.Opportunities))
	}
	if forecast.ShortTerm.StabilityTrend != "improving" {
		t.Errorf("StabilityTrend = %s, want improving", forecast.ShortTerm.StabilityTrend)
	}
	if forecast.MediumTerm.PhaseTransition != "high" {
		t.Errorf("PhaseTransition = %s, want high", forecast.MediumTerm.PhaseTransition)
	}
	if forecast.MediumTerm.Expansion != "expected" {
		t.Errorf("Expansion = %s, want expected", forecast.MediumTerm.Expansion)
	}
}

func TestPortent_SovereignRegressionWarns(t *testing.T) {
	p, err := NewPortent("")
	if err != nil {
		t.Fatalf("NewPortent: %v", err)
	}

	snap := testSnapshot(7)
	snap.Phase = "sovereign"
	snap.Mastery.Aggregate = 0.55
	snap.Mastery.Threshold = 0.6
	p.Observe(snap)

	forecast, _ := p.Latest()
	if !hasKind(forecast.Warnings, "sovereign_regression") {
		t.Errorf("warnings %v missing sovereign_regression", advisoryKinds(forecast.Warnings))
	}
	if !hasKind(forecast.Opportunities, "expansion") {
		t.Errorf("opportunities %v missing expansion for stable sovereign", advisoryKinds(forecast.Opportunities))
	}
}

func TestPortent_IdentityChurnWarns(t *testing.T) {
	p, err := NewPortent("")
	if err != nil {
		t.Fatalf("NewPortent: %v", err)
	}

	snap := testSnapshot(7)
	snap.Modules = 4
	snap.NewIdentities = 3
	p.Observe(snap)

	forecast, _ := p.Latest()
	if !hasKind(forecast.Warnings, "identity_churn") {
		t.Errorf("warnings %v missing identity_churn at 75%% novelty", advisoryKinds(forecast.Warnings))
	}
}

func TestPortent_PersistsLatestForecast(t *testing.T) {
	dir := t.TempDir()
	p, err := NewPortent(dir)
	if err != nil {
		t.Fatalf("NewPortent: %v", err)
	}

	p.Observe(testSnapshot(5))

	data, err := os.ReadFile(filepath.Join(dir, "portent.json"))
	if err != nil {
		t.Fatalf("reading portent.json: %v", err)
	}
	var forecast Forecast
	if err := json.Unmarshal(data, &forecast); err != nil {
		t.Fatalf("portent.json is not valid JSON: %v", err)
	}
	if forecast.CycleID != "cycle-5" {
		t.Errorf("persisted forecast is %s, want cycle-5", forecast.CycleID)
	}
}

func TestNoveltyRatio(t *testing.T) {
	snap := testSnapshot(1)
	snap.Modules = 4
	snap.NewIdentities = 1
	if got := noveltyRatio(snap); got != 0.25 {
		t.Errorf("noveltyRatio = %v, want 0.25", got)
	}
	snap.Modules = 0
	if got := noveltyRatio(snap); got != 0 {
		t.Errorf("noveltyRatio with no modules = %v, want 0", got)
	}
}

func TestPermille_Rounds(t *testing.T) {
	tests := []struct {
		in   float64
		want int64
	}{
		{0, 0},
		{0.3, 300},
		{0.7554, 755},
		{0.7556, 756},
		{-0.05, -50},
		{1.0, 1000},
	}
	for _, tt := range tests {
		if got := permille(tt.in); got != tt.want {
			t.Errorf("permille(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
