package mirror

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"explorer/internal/logging"
)

const narratorTimeout = 30 * time.Second

// Narrator turns cycle snapshots into short prose via the Gemini API.
// It is optional and advisory; a failed call is logged and skipped.
// Calls run synchronously on the narrator's own feed goroutine, so a
// slow model only costs the narrator dropped snapshots.
type Narrator struct {
	client *genai.Client
	model  string
	dir    string

	mu   sync.Mutex
	last string
}

// NewNarrator creates the narrator mirror. The API key is required;
// config gating happens before construction.
func NewNarrator(apiKey, model, dir string) (*Narrator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("narrator API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create narrator client: %w", err)
	}
	return &Narrator{client: client, model: model, dir: dir}, nil
}

func (n *Narrator) Name() string { return "narrator" }

// Observe narrates snap and appends the prose to narration.md.
func (n *Narrator) Observe(snap Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), narratorTimeout)
	defer cancel()

	prompt := buildNarrationPrompt(snap)
	resp, err := n.client.Models.GenerateContent(ctx, n.model, genai.Text(prompt), nil)
	if err != nil {
		logging.Mirror("Narrator call failed for cycle %s: %v", snap.CycleID, err)
		return
	}
	prose := strings.TrimSpace(resp.Text())
	if prose == "" {
		logging.MirrorDebug("Narrator returned empty text for cycle %s", snap.CycleID)
		return
	}

	n.mu.Lock()
	n.last = prose
	n.mu.Unlock()

	n.appendNarration(snap, prose)
}

// Last returns the most recent narration.
func (n *Narrator) Last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.last
}

// buildNarrationPrompt renders the snapshot as a compact factual
// briefing. The model is asked for prose only so the output drops
// cleanly into narration.md.
func buildNarrationPrompt(snap Snapshot) string {
	var b strings.Builder
	b.WriteString("You narrate the life of a self-governing module certifier. ")
	b.WriteString("In three or four plain sentences, describe the state below for an operator. ")
	b.WriteString("No markdown, no lists.\n\n")
	fmt.Fprintf(&b, "Cycle %d in the %s phase. ", snap.Cycle, snap.Phase)
	fmt.Fprintf(&b, "%d of %d modules certified, %d new identities. ",
		snap.Certified, snap.Modules, snap.NewIdentities)
	fmt.Fprintf(&b, "Mean violation potential %.3f. ", snap.MeanVP)
	fmt.Fprintf(&b, "Mastery aggregate %.2f against threshold %.2f. ",
		snap.Mastery.Aggregate, snap.Mastery.Threshold)
	fmt.Fprintf(&b, "Ideal envelope %.0fms and %.0fMB at reliability %.2f. ",
		snap.Ideal.DurationMs, snap.Ideal.MemoryMB, snap.Ideal.Reliability)
	breathing := "exhaling"
	if snap.Breath.Inhale {
		breathing = "inhaling"
	}
	fmt.Fprintf(&b, "Breath cycle %d, %s.", snap.Breath.Cycle, breathing)
	return b.String()
}

func (n *Narrator) appendNarration(snap Snapshot, prose string) {
	if n.dir == "" {
		return
	}
	if err := os.MkdirAll(n.dir, 0755); err != nil {
		logging.Mirror("Narrator dir %s unavailable: %v", n.dir, err)
		return
	}
	path := filepath.Join(n.dir, "narration.md")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		logging.Mirror("Narrator open %s failed: %v", path, err)
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "## Cycle %d (%s) at %s\n\n%s\n\n",
		snap.Cycle, snap.Phase, snap.Timestamp.Format(time.RFC3339), prose)
}
