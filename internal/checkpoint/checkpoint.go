// Package checkpoint persists labeled snapshots of governance state as
// JSON files, one per milestone, plus a rolling latest.md summary that
// the report command renders. Milestones always write; routine
// checkpoints are cycle-counted.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"explorer/internal/breath"
	"explorer/internal/logging"
	"explorer/internal/metrics"
	"explorer/internal/sentinel"
)

// ErrNoCheckpoints is returned by Latest when the directory holds none.
var ErrNoCheckpoints = errors.New("no checkpoints")

// Label names the event that triggered a checkpoint.
type Label string

const (
	LabelStartup         Label = "startup"
	LabelCertification   Label = "certification"
	LabelPhaseTransition Label = "phase_transition"
	LabelViolation       Label = "violation"
	LabelRollback        Label = "rollback"
	LabelRoutine         Label = "routine"
	LabelShutdown        Label = "shutdown"
)

const timestampLayout = "20060102_150405"

// Report is the state frozen into one checkpoint file.
type Report struct {
	Label         Label            `json:"label"`
	SavedAt       time.Time        `json:"saved_at"`
	CycleID       string           `json:"cycle_id"`
	Cycle         int              `json:"cycle"`
	Phase         string           `json:"phase"`
	KernelVersion int64            `json:"kernel_version"`
	Live          int              `json:"live"`
	Certified     int              `json:"certified"`
	MeanVP        float64          `json:"mean_vp"`
	Ideal         metrics.Ideal    `json:"ideal"`
	Mastery       sentinel.Mastery `json:"mastery"`
	Breath        breath.State     `json:"breath"`
	Note          string           `json:"note,omitempty"`
}

// Writer owns a checkpoint directory.
type Writer struct {
	mu           sync.Mutex
	dir          string
	every        int
	sinceRoutine int
}

// NewWriter creates a checkpoint writer. everyCycles <= 0 disables
// routine checkpoints; milestones still write.
func NewWriter(dir string, everyCycles int) *Writer {
	return &Writer{dir: dir, every: everyCycles}
}

// Write persists report as <label>_checkpoint_<ts>.json and refreshes
// latest.md.
func (w *Writer) Write(report Report) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeLocked(report)
}

// MaybeRoutine counts a completed cycle and writes a routine
// checkpoint when the configured cadence comes due. Returns whether a
// checkpoint was written.
func (w *Writer) MaybeRoutine(report Report) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.every <= 0 {
		return false, nil
	}
	w.sinceRoutine++
	if w.sinceRoutine < w.every {
		return false, nil
	}
	w.sinceRoutine = 0
	report.Label = LabelRoutine
	if err := w.writeLocked(report); err != nil {
		return false, err
	}
	return true, nil
}

func (w *Writer) writeLocked(report Report) error {
	if report.SavedAt.IsZero() {
		report.SavedAt = time.Now()
	}
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("checkpoint dir %s: %w", w.dir, err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	name := fmt.Sprintf("%s_checkpoint_%s.json", report.Label, report.SavedAt.Format(timestampLayout))
	path := filepath.Join(w.dir, name)
	for n := 1; ; n++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		path = filepath.Join(w.dir, fmt.Sprintf("%s_checkpoint_%s_%d.json",
			report.Label, report.SavedAt.Format(timestampLayout), n))
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}

	if err := os.WriteFile(w.latestPath(), []byte(renderMarkdown(report)), 0644); err != nil {
		return fmt.Errorf("write latest.md: %w", err)
	}

	logging.Checkpoint("Checkpoint saved: %s", path)
	return nil
}

// Latest loads the most recent checkpoint, ordered by file
// modification time with name as tie-break.
func (w *Writer) Latest() (Report, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return Report{}, ErrNoCheckpoints
		}
		return Report{}, fmt.Errorf("read checkpoint dir: %w", err)
	}

	type candidate struct {
		path string
		mod  time.Time
	}
	var found []candidate
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		found = append(found, candidate{
			path: filepath.Join(w.dir, entry.Name()),
			mod:  info.ModTime(),
		})
	}
	if len(found) == 0 {
		return Report{}, ErrNoCheckpoints
	}
	sort.Slice(found, func(i, j int) bool {
		if !found[i].mod.Equal(found[j].mod) {
			return found[i].mod.Before(found[j].mod)
		}
		return found[i].path < found[j].path
	})

	newest := found[len(found)-1].path
	data, err := os.ReadFile(newest)
	if err != nil {
		return Report{}, fmt.Errorf("read checkpoint %s: %w", newest, err)
	}
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return Report{}, fmt.Errorf("decode checkpoint %s: %w", newest, err)
	}
	logging.CheckpointDebug("Loaded checkpoint %s", newest)
	return report, nil
}

// LatestMarkdown returns the rendered latest.md contents.
func (w *Writer) LatestMarkdown() (string, error) {
	data, err := os.ReadFile(w.latestPath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoCheckpoints
		}
		return "", err
	}
	return string(data), nil
}

func (w *Writer) latestPath() string {
	return filepath.Join(w.dir, "latest.md")
}

func renderMarkdown(report Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Explorer Checkpoint: %s\n\n", report.Label)
	fmt.Fprintf(&b, "Saved %s during cycle %d (`%s`).\n",
		report.SavedAt.Format(time.RFC3339), report.Cycle, report.CycleID)
	if report.Note != "" {
		fmt.Fprintf(&b, "\n> %s\n", report.Note)
	}

	b.WriteString("\n## Governance\n\n")
	fmt.Fprintf(&b, "- Phase: %s\n", report.Phase)
	fmt.Fprintf(&b, "- Kernel version: %d\n", report.KernelVersion)
	fmt.Fprintf(&b, "- Mastery: %.3f against threshold %.3f over %d assessed cycles\n",
		report.Mastery.Aggregate, report.Mastery.Threshold, report.Mastery.Cycles)

	b.WriteString("\n## Population\n\n")
	fmt.Fprintf(&b, "- Live records: %d (%d certified)\n", report.Live, report.Certified)
	fmt.Fprintf(&b, "- Mean violation potential: %.3f\n", report.MeanVP)
	fmt.Fprintf(&b, "- Ideal envelope: %.0fms, %.0fMB, reliability %.2f\n",
		report.Ideal.DurationMs, report.Ideal.MemoryMB, report.Ideal.Reliability)

	b.WriteString("\n## Breath\n\n")
	inOut := "exhaling"
	if report.Breath.Inhale {
		inOut = "inhaling"
	}
	fmt.Fprintf(&b, "- Cycle %d, %s, next interval %s\n",
		report.Breath.Cycle, inOut, report.Breath.Interval)
	return b.String()
}
