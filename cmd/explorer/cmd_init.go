package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"explorer/cmd/explorer/ui"
	"explorer/internal/config"
)

// initCmd scaffolds the workspace
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the .explorer workspace",
	Long: `Creates the .explorer/ directory structure in the workspace:

  .explorer/config.yaml   full default configuration
  .explorer/workloads/    watched module manifests
  .explorer/checkpoints/  governance reports
  .explorer/mirrors/      observer artifacts

Existing files are left untouched; init is safe to re-run.`,
	RunE: runInit,
}

// sampleManifest gives new workspaces one manifest to copy from.
const sampleManifest = `# Explorer workload manifest. Drop files like this one into the
# workloads directory; the registry picks up changes between cycles.
name: sample-sleep
command: sleep
args: ["0.1"]
`

func runInit(cmd *cobra.Command, args []string) error {
	styles := ui.NewStyles()
	ws := resolveWorkspace()

	fmt.Println(styles.Title.Render("Initializing Explorer"))

	cfgPath := resolveConfigPath()
	if _, err := os.Stat(cfgPath); err == nil {
		fmt.Printf("%s config exists: %s\n", styles.Mark(true), cfgPath)
	} else {
		if err := config.DefaultConfig().Save(cfgPath); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("%s wrote %s\n", styles.Mark(true), cfgPath)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	for _, dir := range []string{
		workspacePath(cfg.Workload.Dir),
		workspacePath(cfg.Checkpoint.Dir),
		workspacePath(cfg.Mirror.Dir),
		filepath.Join(ws, ".explorer", "logs"),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	fmt.Printf("%s directories ready under %s\n", styles.Mark(true), filepath.Join(ws, ".explorer"))

	samplePath := filepath.Join(workspacePath(cfg.Workload.Dir), "sample-sleep.workload.yaml.example")
	if _, err := os.Stat(samplePath); os.IsNotExist(err) {
		if err := os.WriteFile(samplePath, []byte(sampleManifest), 0644); err != nil {
			return fmt.Errorf("write sample manifest: %w", err)
		}
		fmt.Printf("%s sample manifest: %s\n", styles.Mark(true), samplePath)
	}

	fmt.Println()
	fmt.Println("Next: 'explorer cycle' for one governed cycle, 'explorer run' for the loop,")
	fmt.Println("or 'explorer watch' to follow the cycles live.")
	return nil
}
