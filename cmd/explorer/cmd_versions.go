package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"explorer/cmd/explorer/ui"
	"explorer/internal/checkpoint"
	"explorer/internal/kernel"
)

// versionsCmd lists the frozen ledger versions
var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "List frozen ledger versions",
	RunE:  listVersions,
}

// rollbackCmd repoints the ledger at an earlier version
var rollbackCmd = &cobra.Command{
	Use:   "rollback [version]",
	Short: "Roll the ledger back to a frozen version",
	Long: `Repoints the latest pointer at an existing version and reloads the
live working set from it. Abandoned versions stay in history; the next
cycle seals its snapshot past them. A running governor additionally
reseeds its ideal and drops the sentinel back to genesis.`,
	Args: cobra.ExactArgs(1),
	RunE: runRollback,
}

func listVersions(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	styles := ui.NewStyles()

	kern, err := kernel.Open(workspacePath(cfg.Kernel.DatabasePath))
	if err != nil {
		return fmt.Errorf("open kernel: %w", err)
	}
	defer kern.Close()

	versions, err := kern.Versions(context.Background())
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		fmt.Println(styles.Muted.Render("No versions frozen yet."))
		return nil
	}

	latest := kern.Latest()
	fmt.Println(styles.Title.Render("Ledger Versions"))
	fmt.Printf("%-8s %-10s %-8s %-20s %s\n", "VERSION", "PHASE", "RECORDS", "CREATED", "CYCLE")
	for _, v := range versions {
		marker := "  "
		if v.Version == latest {
			marker = styles.Success.Render("* ")
		}
		fmt.Printf("%s%-6d %-10s %-8d %-20s %s\n",
			marker, v.Version, v.Phase, v.Records,
			v.CreatedAt.Format("2006-01-02 15:04:05"), v.CycleID)
	}
	return nil
}

func runRollback(cmd *cobra.Command, args []string) error {
	version, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("version %q is not a number", args[0])
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	kern, err := kernel.Open(workspacePath(cfg.Kernel.DatabasePath))
	if err != nil {
		return fmt.Errorf("open kernel: %w", err)
	}
	defer kern.Close()

	if err := kern.Rollback(context.Background(), version); err != nil {
		return err
	}

	live := kern.Live()
	certified := 0
	for _, rec := range live {
		if rec.Certified {
			certified++
		}
	}

	writer := checkpoint.NewWriter(workspacePath(cfg.Checkpoint.Dir), 0)
	if err := writer.Write(checkpoint.Report{
		Label:         checkpoint.LabelRollback,
		Phase:         "genesis",
		KernelVersion: version,
		Live:          len(live),
		Certified:     certified,
		Note:          fmt.Sprintf("rolled back to version %d", version),
	}); err != nil {
		logger.Warn("Rollback checkpoint failed", zap.Error(err))
	}

	fmt.Printf("Rolled back to version %d: %d live records (%d certified)\n",
		version, len(live), certified)
	return nil
}
