package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"explorer/internal/workload"
)

// workloadCmd hosts the self-execution entry points. The sandbox runs
// builtin and Go-source modules as `explorer workload run|eval ...`
// child processes, so these commands must stay argument-stable.
var workloadCmd = &cobra.Command{
	Use:    "workload",
	Short:  "Workload child-process entry points",
	Hidden: true,
}

var workloadRunCmd = &cobra.Command{
	Use:   "run [name]",
	Short: "Run a builtin synthetic workload",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]
		if !workload.IsBuiltin(name) {
			fmt.Fprintf(os.Stderr, "unknown builtin %q (have: %s)\n",
				name, strings.Join(workload.Builtins(), ", "))
			os.Exit(2)
		}
		os.Exit(workload.RunBuiltin(name))
	},
}

var workloadEvalCmd = &cobra.Command{
	Use:   "eval [file]",
	Short: "Interpret a Go-source workload file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		code, err := workload.EvalFile(context.Background(), args[0])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			if code == 0 {
				code = 1
			}
		}
		os.Exit(code)
	},
}

func init() {
	workloadCmd.AddCommand(workloadRunCmd)
	workloadCmd.AddCommand(workloadEvalCmd)
}
