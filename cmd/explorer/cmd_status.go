package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"explorer/cmd/explorer/ui"
	"explorer/internal/checkpoint"
	"explorer/internal/kernel"
	"explorer/internal/workload"
)

// statusCmd shows the persisted governance state
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show governance state: phase, ledger, population",
	RunE:  showStatus,
}

func showStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	styles := ui.NewStyles()

	fmt.Println(styles.Title.Render("Explorer Status"))
	fmt.Printf("%s %s\n", styles.Label.Render("Workspace"), resolveWorkspace())

	// Governance, from the latest checkpoint.
	fmt.Println(styles.Section.Render("Governance"))
	writer := checkpoint.NewWriter(workspacePath(cfg.Checkpoint.Dir), 0)
	report, err := writer.Latest()
	switch {
	case errors.Is(err, checkpoint.ErrNoCheckpoints):
		fmt.Printf("%s %s\n", styles.Label.Render("Phase"), styles.Muted.Render("no checkpoints yet"))
	case err != nil:
		return fmt.Errorf("read checkpoints: %w", err)
	default:
		fmt.Printf("%s %s\n", styles.Label.Render("Phase"), styles.Phase(report.Phase))
		fmt.Printf("%s %.3f against %.3f over %d cycles\n",
			styles.Label.Render("Mastery"), report.Mastery.Aggregate, report.Mastery.Threshold, report.Mastery.Cycles)
		fmt.Printf("%s %s at %s (cycle %d)\n",
			styles.Label.Render("Checkpoint"), report.Label, report.SavedAt.Format("2006-01-02 15:04:05"), report.Cycle)
		if report.Breath.Cycle > 0 {
			inOut := "exhaling"
			if report.Breath.Inhale {
				inOut = "inhaling"
			}
			fmt.Printf("%s cycle %d, %s, interval %s\n",
				styles.Label.Render("Breath"), report.Breath.Cycle, inOut, report.Breath.Interval)
		}
	}

	// Ledger, only when a database already exists: status must not
	// scaffold state as a side effect.
	fmt.Println(styles.Section.Render("Ledger"))
	dbPath := workspacePath(cfg.Kernel.DatabasePath)
	if _, err := os.Stat(dbPath); err != nil {
		fmt.Printf("%s %s\n", styles.Label.Render("Database"),
			styles.Muted.Render("not initialized (run 'explorer init')"))
	} else if err := showLedger(context.Background(), styles, dbPath); err != nil {
		return err
	}

	// Population, as the registry would assemble it now.
	fmt.Println(styles.Section.Render("Population"))
	fmt.Printf("%s %s\n", styles.Label.Render("Builtins"), strings.Join(cfg.Workload.Builtins, ", "))
	if registry, err := workload.NewRegistry(); err == nil {
		loaded, _ := registry.LoadDir(workspacePath(cfg.Workload.Dir))
		fmt.Printf("%s %d manifest(s) in %s\n", styles.Label.Render("Manifests"), loaded, cfg.Workload.Dir)
	}

	// Config highlights.
	fmt.Println(styles.Section.Render("Config"))
	fmt.Printf("%s %.3f\n", styles.Label.Render("Threshold"), cfg.Governor.CertificationThreshold)
	fmt.Printf("%s %d concurrent, %s timeout\n",
		styles.Label.Render("Sandboxes"), cfg.Governor.MaxConcurrentSandboxes, cfg.Sandbox.Timeout)
	fmt.Printf("%s %s base, amplitude %.2f\n",
		styles.Label.Render("Breath"), cfg.Breath.BaseInterval, cfg.Breath.Amplitude)
	narrator := "off"
	if cfg.Mirror.Narrator.Enabled {
		narrator = "on (" + cfg.Mirror.Narrator.Model + ")"
	}
	fmt.Printf("%s insight=%v portent=%v bloom=%v narrator=%s\n",
		styles.Label.Render("Mirrors"), cfg.Mirror.Insight, cfg.Mirror.Portent, cfg.Mirror.Bloom, narrator)

	return nil
}

func showLedger(ctx context.Context, styles ui.Styles, dbPath string) error {
	kern, err := kernel.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open kernel: %w", err)
	}
	defer kern.Close()

	versions, err := kern.Versions(ctx)
	if err != nil {
		return fmt.Errorf("list versions: %w", err)
	}

	live := kern.Live()
	certified := 0
	for _, rec := range live {
		if rec.Certified {
			certified++
		}
	}

	fmt.Printf("%s %d (%d frozen)\n", styles.Label.Render("Version"), kern.Latest(), len(versions))
	fmt.Printf("%s %d records, %d certified\n", styles.Label.Render("Live"), len(live), certified)
	return nil
}
