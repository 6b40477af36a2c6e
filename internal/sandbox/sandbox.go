// Package sandbox runs candidate module binaries in isolated child
// processes and reports what happened as plain data. A run that fails to
// launch, exits non-zero, or blows its deadline is a measurement, not an
// error: the only thing Run never does is lie about the outcome.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"

	"explorer/internal/logging"
)

// Entry describes one module execution request.
type Entry struct {
	// Module is the logical module name, used for logs and identity.
	Module string

	// Binary is the executable to run. Relative paths resolve against Dir.
	Binary string

	// Arguments passed to the binary.
	Args []string

	// Dir is the working directory. Empty means the runner's default.
	Dir string

	// Env holds extra KEY=value pairs appended to the allowed environment.
	Env []string

	// Stdin is fed to the child when non-empty.
	Stdin string

	// Timeout overrides the runner default when positive.
	Timeout time.Duration
}

// Outcome is the complete record of one sandbox run. Every field is data;
// callers decide what a timeout or a launch failure means for certification.
type Outcome struct {
	RunID  string `json:"run_id"`
	Module string `json:"module"`

	// Started is false only when the child process never launched
	// (missing binary, permission denied). FailureReason says why.
	Started bool `json:"started"`

	// Completed is true when the child terminated on its own, even with a
	// non-zero exit code. Killed runs and launch failures are not complete.
	Completed bool `json:"completed"`

	ExitCode int    `json:"exit_code"`
	Signal   string `json:"signal,omitempty"`

	Killed        bool   `json:"killed,omitempty"`
	KillReason    string `json:"kill_reason,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`

	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	WallTime   time.Duration `json:"wall_time"`

	// PeakMemoryBytes is the high-water RSS observed for the child, the
	// larger of the /proc samples taken while it ran and the rusage value
	// reported at exit. Zero when the process never started.
	PeakMemoryBytes int64 `json:"peak_memory_bytes"`

	Stdout         string `json:"stdout,omitempty"`
	Stderr         string `json:"stderr,omitempty"`
	Truncated      bool   `json:"truncated,omitempty"`
	TruncatedBytes int64  `json:"truncated_bytes,omitempty"`
}

// WallTimeMs returns the wall clock duration in milliseconds.
func (o Outcome) WallTimeMs() float64 {
	return float64(o.WallTime) / float64(time.Millisecond)
}

// PeakMemoryMB returns the peak resident set size in megabytes.
func (o Outcome) PeakMemoryMB() float64 {
	return float64(o.PeakMemoryBytes) / (1024 * 1024)
}

// Succeeded reports whether the run completed with exit code zero.
func (o Outcome) Succeeded() bool {
	return o.Completed && o.ExitCode == 0
}

// Config controls runner behavior.
type Config struct {
	// Timeout is the default wall clock deadline per run.
	Timeout time.Duration

	// SampleInterval is how often the memory sampler polls the child.
	SampleInterval time.Duration

	// MaxOutputBytes caps captured stdout and stderr, each.
	MaxOutputBytes int64

	// WorkDir is the default working directory for runs.
	WorkDir string

	// AllowedEnv lists host environment variables passed through to the
	// child. Entry.Env is appended after these.
	AllowedEnv []string
}

// DefaultConfig returns conservative runner defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:        5 * time.Second,
		SampleInterval: 25 * time.Millisecond,
		MaxOutputBytes: 1 << 20,
		AllowedEnv:     []string{"PATH", "HOME", "TMPDIR"},
	}
}

// Runner executes module entries one child process at a time per call.
// It is safe for concurrent use; each Run is fully independent.
type Runner struct {
	config Config
}

// New creates a runner. Zero config fields fall back to defaults.
func New(config Config) *Runner {
	def := DefaultConfig()
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.SampleInterval <= 0 {
		config.SampleInterval = def.SampleInterval
	}
	if config.MaxOutputBytes <= 0 {
		config.MaxOutputBytes = def.MaxOutputBytes
	}
	if config.AllowedEnv == nil {
		config.AllowedEnv = def.AllowedEnv
	}
	return &Runner{config: config}
}

// Run executes the entry and returns its outcome. Run never returns an
// error: launch failures, non-zero exits, and timeouts all come back as
// outcome fields. By the time Run returns, the child process tree is dead
// and the memory sampler goroutine has exited.
func (r *Runner) Run(ctx context.Context, entry Entry) Outcome {
	runID := uuid.NewString()
	log := logging.WithRunID(logging.CategorySandbox, runID)
	timer := logging.StartTimer(logging.CategorySandbox, "Module run")
	defer timer.Stop()

	out := Outcome{
		RunID:    runID,
		Module:   entry.Module,
		ExitCode: -1,
	}

	timeout := entry.Timeout
	if timeout <= 0 {
		timeout = r.config.Timeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, entry.Binary, entry.Args...)
	cmd.Dir = entry.Dir
	if cmd.Dir == "" {
		cmd.Dir = r.config.WorkDir
	}
	cmd.Env = r.buildEnvironment(entry.Env)
	if entry.Stdin != "" {
		cmd.Stdin = strings.NewReader(entry.Stdin)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	stdoutLimited := &limitedWriter{w: &stdoutBuf, max: r.config.MaxOutputBytes}
	stderrLimited := &limitedWriter{w: &stderrBuf, max: r.config.MaxOutputBytes}
	cmd.Stdout = stdoutLimited
	cmd.Stderr = stderrLimited

	// Whole process tree gets killed together on timeout.
	setupProcessGroup(cmd)

	log.Debug("Launching %s: %s %v (timeout=%s)", entry.Module, entry.Binary, entry.Args, timeout)

	out.StartedAt = time.Now()
	if err := cmd.Start(); err != nil {
		out.FinishedAt = time.Now()
		out.WallTime = out.FinishedAt.Sub(out.StartedAt)
		out.FailureReason = err.Error()
		log.Warn("Launch failed for %s: %v", entry.Module, err)
		logging.Audit().SandboxRun(runID, entry.Module, false, -1, 0, "launch")
		return out
	}
	out.Started = true

	sampled := r.samplePeakMemory(cmd)

	err := cmd.Wait()
	peak := sampled()

	out.FinishedAt = time.Now()
	out.WallTime = out.FinishedAt.Sub(out.StartedAt)
	out.Stdout = stdoutBuf.String()
	out.Stderr = stderrBuf.String()
	if stdoutLimited.truncated || stderrLimited.truncated {
		out.Truncated = true
		out.TruncatedBytes = stdoutLimited.discarded + stderrLimited.discarded
	}

	// rusage reports the true high-water mark at exit; the sampler can only
	// undershoot it for processes that spike between polls.
	if v, ok := rusagePeakBytes(cmd); ok && v > peak {
		peak = v
	}
	out.PeakMemoryBytes = peak

	auditReason := ""
	switch {
	case err == nil:
		out.Completed = true
		out.ExitCode = 0
		log.Info("%s completed: exit=0, wall=%s, peak=%.1fMB", entry.Module, out.WallTime, out.PeakMemoryMB())

	case runCtx.Err() == context.DeadlineExceeded:
		killProcessGroup(cmd)
		out.Killed = true
		out.KillReason = fmt.Sprintf("timeout after %s", timeout)
		out.Signal = exitSignal(err)
		auditReason = "timeout"
		log.Warn("%s killed: %s", entry.Module, out.KillReason)

	case runCtx.Err() == context.Canceled:
		killProcessGroup(cmd)
		out.Killed = true
		out.KillReason = "context canceled"
		out.Signal = exitSignal(err)
		log.Debug("%s canceled after %s", entry.Module, out.WallTime)

	default:
		if exitErr, ok := err.(*exec.ExitError); ok {
			out.Completed = true
			out.ExitCode = exitErr.ExitCode()
			out.Signal = exitSignal(err)
			log.Info("%s completed: exit=%d signal=%q, wall=%s, peak=%.1fMB",
				entry.Module, out.ExitCode, out.Signal, out.WallTime, out.PeakMemoryMB())
		} else {
			out.FailureReason = err.Error()
			log.Warn("%s wait failed: %v", entry.Module, err)
		}
	}

	logging.Audit().SandboxRun(runID, entry.Module, out.Completed, out.ExitCode,
		out.WallTime.Milliseconds(), auditReason)
	return out
}

// samplePeakMemory starts a goroutine polling the child's resident set
// high-water mark while it runs. The returned function joins the sampler
// and yields the largest value seen; it must be called exactly once, after
// cmd.Wait has returned.
func (r *Runner) samplePeakMemory(cmd *exec.Cmd) func() int64 {
	pid := cmd.Process.Pid
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	var peak int64

	go func() {
		defer close(doneCh)
		ticker := time.NewTicker(r.config.SampleInterval)
		defer ticker.Stop()
		for {
			if v, ok := procPeakBytes(pid); ok && v > peak {
				peak = v
			}
			select {
			case <-stopCh:
				return
			case <-ticker.C:
			}
		}
	}()

	return func() int64 {
		close(stopCh)
		<-doneCh
		return peak
	}
}

// buildEnvironment assembles the child environment from the allowed host
// variables plus entry-specific overrides.
func (r *Runner) buildEnvironment(extra []string) []string {
	env := make([]string, 0, len(r.config.AllowedEnv)+len(extra))
	for _, key := range r.config.AllowedEnv {
		if val := os.Getenv(key); val != "" {
			env = append(env, fmt.Sprintf("%s=%s", key, val))
		}
	}
	return append(env, extra...)
}

// limitedWriter caps total bytes written, counting what it discards.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
	discarded int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)

	if lw.written >= lw.max {
		lw.truncated = true
		lw.discarded += int64(n)
		return n, nil
	}

	remaining := lw.max - lw.written
	if int64(n) > remaining {
		lw.truncated = true
		lw.discarded += int64(n) - remaining
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		// Report the full length so the child never sees a short write.
		return n, err
	}

	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}
