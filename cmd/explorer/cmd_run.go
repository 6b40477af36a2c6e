package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"explorer/internal/governor"
)

// runCmd starts the continuous governance loop
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the governance loop until interrupted",
	Long: `Starts the governor: every breath tick it sandboxes the registered
workload modules, certifies their behavioral identities against the
certification threshold, and seals the ledger as a new version.

Stops cleanly on SIGINT/SIGTERM with a shutdown checkpoint.`,
	RunE: runGovernor,
}

// cycleCmd runs exactly one governance cycle
var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run a single governance cycle and print the report",
	RunE:  runSingleCycle,
}

func runGovernor(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	sys, err := buildSystem(ctx, cfg)
	if err != nil {
		return err
	}
	defer sys.close()

	logger.Info("Governor starting",
		zap.Int("modules", sys.registry.Len()),
		zap.Float64("threshold", cfg.Governor.CertificationThreshold),
		zap.String("base_interval", cfg.Breath.BaseInterval))

	if err := sys.gov.Run(ctx); err != nil {
		return fmt.Errorf("governor: %w", err)
	}

	state := sys.gov.State()
	fmt.Printf("Stopped after %d cycles, phase %s, ledger version %d\n",
		state.Cycle, state.Phase, state.KernelVersion)
	return nil
}

func runSingleCycle(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	sys, err := buildSystem(ctx, cfg)
	if err != nil {
		return err
	}
	defer sys.close()

	report, err := sys.gov.RunCycle(ctx)
	if err != nil {
		return fmt.Errorf("cycle: %w", err)
	}

	printCycleReport(report)
	return nil
}

// commandContext builds the command's root context: optional overall
// timeout plus SIGINT/SIGTERM cancellation.
func commandContext() (context.Context, context.CancelFunc) {
	ctx := context.Background()
	cancel := func() {}
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		if logger != nil {
			logger.Info("Received shutdown signal")
		}
		cancel()
	}()

	return ctx, cancel
}

func printCycleReport(report governor.CycleReport) {
	fmt.Printf("Cycle %d (%s)\n", report.Cycle, report.CycleID)
	fmt.Printf("  Certified: %d/%d  New identities: %d  Failures: %d\n",
		report.Certified, len(report.Results), report.NewIdentities, report.Failures)
	fmt.Printf("  Mean VP: %.4f  Ideal: %.1fms / %.1fMB\n",
		report.MeanVP, report.Ideal.DurationMs, report.Ideal.MemoryMB)
	fmt.Printf("  Mastery: %.3f (threshold %.3f)  Phase: %s  Version: %d\n",
		report.Mastery.Aggregate, report.Mastery.Threshold, report.Phase, report.KernelVersion)

	for _, res := range report.Results {
		marker := "✓"
		if !res.Certified {
			marker = "✗"
		}
		line := fmt.Sprintf("  %s %-16s %s  vp=%.4f  %.1fms/%.1fMB",
			marker, res.Module, res.Identity, res.VP, res.Traits.DurationMs, res.Traits.MemoryMB)
		reason := res.Outcome.FailureReason
		if reason == "" && res.Outcome.Killed {
			reason = res.Outcome.KillReason
		}
		if reason != "" {
			line += "  (" + reason + ")"
		}
		if res.Err != "" {
			line += "  [" + res.Err + "]"
		}
		fmt.Println(line)
	}
}
