package main

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"explorer/internal/checkpoint"
)

// reportCmd renders the latest checkpoint summary
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render the latest checkpoint report",
	RunE:  showReport,
}

var reportRaw bool

func init() {
	reportCmd.Flags().BoolVar(&reportRaw, "raw", false, "Print raw markdown without rendering")
}

func showReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	writer := checkpoint.NewWriter(workspacePath(cfg.Checkpoint.Dir), 0)
	md, err := writer.LatestMarkdown()
	if errors.Is(err, checkpoint.ErrNoCheckpoints) {
		fmt.Println("No checkpoint reports yet. Run 'explorer cycle' first.")
		return nil
	}
	if err != nil {
		return err
	}

	if reportRaw {
		fmt.Print(md)
		return nil
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		// Fall back to raw markdown on renderer trouble.
		fmt.Print(md)
		return nil
	}
	out, err := renderer.Render(md)
	if err != nil {
		fmt.Print(md)
		return nil
	}
	fmt.Print(out)
	return nil
}
