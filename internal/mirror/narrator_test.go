package mirror

import (
	"strings"
	"testing"
)

func TestNewNarrator_RequiresKey(t *testing.T) {
	if _, err := NewNarrator("", "gemini-2.5-flash", ""); err == nil {
		t.Fatal("NewNarrator accepted an empty API key")
	}
}

func TestBuildNarrationPrompt(t *testing.T) {
	snap := testSnapshot(12)
	snap.Phase = "sovereign"
	snap.Certified = 3
	snap.Modules = 4
	snap.NewIdentities = 1

	prompt := buildNarrationPrompt(snap)

	for _, want := range []string{
		"Cycle 12 in the sovereign phase",
		"3 of 4 modules certified",
		"1 new identities",
		"Mean violation potential 0.100",
		"Mastery aggregate 0.80 against threshold 0.60",
		"inhaling",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "#") || strings.Contains(prompt, "*") {
		t.Errorf("prompt should stay plain text:\n%s", prompt)
	}
}

func TestBuildNarrationPrompt_Exhale(t *testing.T) {
	snap := testSnapshot(2)
	snap.Breath.Inhale = false

	if prompt := buildNarrationPrompt(snap); !strings.Contains(prompt, "exhaling") {
		t.Errorf("prompt missing exhale wording:\n%s", prompt)
	}
}
