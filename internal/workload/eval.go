package workload

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"explorer/internal/logging"
)

// allowedEvalImports is the stdlib surface interpreted workloads may
// touch. Anything that opens files, sockets, or processes stays out:
// a workload is supposed to burn time and memory, not reach the host.
var allowedEvalImports = map[string]bool{
	"fmt":           true,
	"math":          true,
	"math/rand":     true,
	"strings":       true,
	"strconv":       true,
	"sort":          true,
	"bytes":         true,
	"time":          true,
	"encoding/json": true,
}

// Eval interprets a Go workload snippet and returns its exit code. The
// snippet must define, in package main, a function:
//
//	func Run() int
//
// Interpreted code cannot be preempted; on timeout the sandbox kills
// this whole child process, which is the real backstop for ctx here.
func Eval(ctx context.Context, code string) (int, error) {
	if err := validateEvalImports(code); err != nil {
		return 64, err
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return 1, fmt.Errorf("load interpreter stdlib: %w", err)
	}

	if _, err := i.Eval(wrapEvalCode(code)); err != nil {
		return 1, fmt.Errorf("evaluate workload: %w", err)
	}

	v, err := i.Eval("main.Run")
	if err != nil {
		return 1, fmt.Errorf("workload Run function not found: %w", err)
	}
	run, ok := v.Interface().(func() int)
	if !ok {
		return 1, fmt.Errorf("workload Run has wrong signature (want func() int)")
	}

	resultCh := make(chan int, 1)
	go func() {
		resultCh <- run()
	}()

	select {
	case exitCode := <-resultCh:
		return exitCode, nil
	case <-ctx.Done():
		return 1, fmt.Errorf("workload interrupted: %w", ctx.Err())
	}
}

// EvalFile reads and interprets a workload source file.
func EvalFile(ctx context.Context, path string) (int, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return 1, fmt.Errorf("read workload source %s: %w", path, err)
	}
	logging.WorkloadDebug("Interpreting workload source: %s (%d bytes)", path, len(code))
	return Eval(ctx, string(code))
}

// validateEvalImports rejects snippets importing outside the
// allowlist.
func validateEvalImports(code string) error {
	var imports []string
	inBlock := false
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "import (") {
			inBlock = true
			continue
		}
		if inBlock {
			if strings.HasPrefix(trimmed, ")") {
				inBlock = false
				continue
			}
			if pkg := trimEvalImport(trimmed); pkg != "" {
				imports = append(imports, pkg)
			}
			continue
		}
		if strings.HasPrefix(trimmed, "import ") {
			if pkg := trimEvalImport(strings.TrimPrefix(trimmed, "import ")); pkg != "" {
				imports = append(imports, pkg)
			}
		}
	}

	var forbidden []string
	for _, pkg := range imports {
		if !allowedEvalImports[pkg] {
			forbidden = append(forbidden, pkg)
		}
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("forbidden imports in workload: %v", forbidden)
	}
	return nil
}

func trimEvalImport(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "//") {
		return ""
	}
	// Drop an import alias if present.
	if fields := strings.Fields(s); len(fields) == 2 {
		s = fields[1]
	}
	return strings.Trim(s, `"`)
}

// wrapEvalCode prefixes a package clause for bare snippets.
func wrapEvalCode(code string) string {
	if strings.Contains(code, "package main") {
		return code
	}
	return "package main\n\n" + code
}
