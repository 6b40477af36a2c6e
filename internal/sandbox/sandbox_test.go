package sandbox

import (
	"bytes"
	"context"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testRunner() *Runner {
	return New(Config{
		Timeout:        5 * time.Second,
		SampleInterval: 10 * time.Millisecond,
	})
}

func TestRunner_Success(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("tests drive POSIX shell binaries")
	}

	out := testRunner().Run(context.Background(), Entry{
		Module: "echo-mod",
		Binary: "echo",
		Args:   []string{"hello"},
	})

	if !out.Started {
		t.Fatalf("Expected Started=true, failure: %s", out.FailureReason)
	}
	if !out.Completed {
		t.Errorf("Expected Completed=true")
	}
	if out.ExitCode != 0 {
		t.Errorf("Expected exit code 0, got %d", out.ExitCode)
	}
	if !out.Succeeded() {
		t.Errorf("Expected Succeeded()")
	}
	if !strings.Contains(out.Stdout, "hello") {
		t.Errorf("Expected stdout to contain 'hello', got: %q", out.Stdout)
	}
	if out.RunID == "" {
		t.Errorf("Expected a run ID")
	}
	if out.WallTime <= 0 {
		t.Errorf("Expected positive wall time, got %s", out.WallTime)
	}
	if out.Module != "echo-mod" {
		t.Errorf("Expected module name preserved, got %q", out.Module)
	}
}

func TestRunner_NonZeroExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("tests drive POSIX shell binaries")
	}

	out := testRunner().Run(context.Background(), Entry{
		Module: "failer",
		Binary: "sh",
		Args:   []string{"-c", "exit 3"},
	})

	// A non-zero exit is still a completed run.
	if !out.Completed {
		t.Errorf("Expected Completed=true for non-zero exit")
	}
	if out.ExitCode != 3 {
		t.Errorf("Expected exit code 3, got %d", out.ExitCode)
	}
	if out.Succeeded() {
		t.Errorf("Expected Succeeded()=false")
	}
	if out.Killed {
		t.Errorf("Expected Killed=false")
	}
}

func TestRunner_LaunchFailure(t *testing.T) {
	out := testRunner().Run(context.Background(), Entry{
		Module: "ghost",
		Binary: "nonexistent_binary_29581",
	})

	if out.Started {
		t.Errorf("Expected Started=false for missing binary")
	}
	if out.Completed {
		t.Errorf("Expected Completed=false for missing binary")
	}
	if out.FailureReason == "" {
		t.Errorf("Expected a failure reason")
	}
	if out.Succeeded() {
		t.Errorf("Launch failure must not count as success")
	}
}

func TestRunner_Timeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("tests drive POSIX shell binaries")
	}

	start := time.Now()
	out := testRunner().Run(context.Background(), Entry{
		Module:  "sleeper",
		Binary:  "sleep",
		Args:    []string{"10"},
		Timeout: 300 * time.Millisecond,
	})
	elapsed := time.Since(start)

	if !out.Started {
		t.Fatalf("Expected the child to start: %s", out.FailureReason)
	}
	if !out.Killed {
		t.Errorf("Expected Killed=true")
	}
	if out.Completed {
		t.Errorf("A killed run is not complete")
	}
	if !strings.Contains(out.KillReason, "timeout after") {
		t.Errorf("Expected kill reason to mention timeout, got: %q", out.KillReason)
	}
	if elapsed > 2*time.Second {
		t.Errorf("Timeout did not bite, elapsed: %s", elapsed)
	}
	if out.WallTime < 250*time.Millisecond {
		t.Errorf("Expected wall time near the deadline, got %s", out.WallTime)
	}
}

func TestRunner_ContextCancel(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("tests drive POSIX shell binaries")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	out := testRunner().Run(ctx, Entry{
		Module: "sleeper",
		Binary: "sleep",
		Args:   []string{"10"},
	})
	elapsed := time.Since(start)

	if !out.Killed {
		t.Errorf("Expected Killed=true on cancel")
	}
	if !strings.Contains(out.KillReason, "canceled") {
		t.Errorf("Expected kill reason to mention canceled, got: %q", out.KillReason)
	}
	if elapsed > 2*time.Second {
		t.Errorf("Cancellation did not bite, elapsed: %s", elapsed)
	}
}

func TestRunner_PeakMemory(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("peak memory is unavailable on Windows")
	}

	out := testRunner().Run(context.Background(), Entry{
		Module: "sleeper",
		Binary: "sh",
		Args:   []string{"-c", "sleep 0.2"},
	})

	if !out.Succeeded() {
		t.Fatalf("Expected success: exit=%d killed=%v reason=%s", out.ExitCode, out.Killed, out.FailureReason)
	}
	// Even a shell running sleep holds some resident memory.
	if out.PeakMemoryBytes <= 0 {
		t.Errorf("Expected positive peak memory, got %d", out.PeakMemoryBytes)
	}
	if out.PeakMemoryMB() <= 0 {
		t.Errorf("Expected positive peak MB, got %f", out.PeakMemoryMB())
	}
}

func TestRunner_OutputTruncation(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("tests drive POSIX shell binaries")
	}

	r := New(Config{
		Timeout:        5 * time.Second,
		SampleInterval: 10 * time.Millisecond,
		MaxOutputBytes: 64,
	})

	out := r.Run(context.Background(), Entry{
		Module: "chatty",
		Binary: "sh",
		Args:   []string{"-c", "yes A | head -c 4096"},
	})

	if !out.Truncated {
		t.Errorf("Expected truncation, stdout len=%d", len(out.Stdout))
	}
	if out.TruncatedBytes == 0 {
		t.Errorf("Expected truncated byte count > 0")
	}
	if int64(len(out.Stdout)) > 64 {
		t.Errorf("Expected stdout capped at 64 bytes, got %d", len(out.Stdout))
	}
}

func TestRunner_Stdin(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("tests drive POSIX shell binaries")
	}

	out := testRunner().Run(context.Background(), Entry{
		Module: "cat",
		Binary: "cat",
		Stdin:  "ping",
	})

	if !out.Succeeded() {
		t.Fatalf("Expected success, got exit=%d", out.ExitCode)
	}
	if strings.TrimSpace(out.Stdout) != "ping" {
		t.Errorf("Expected stdin echoed back, got: %q", out.Stdout)
	}
}

func TestRunner_WorkingDirectory(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("tests drive POSIX shell binaries")
	}

	dir := t.TempDir()
	out := testRunner().Run(context.Background(), Entry{
		Module: "pwd",
		Binary: "pwd",
		Dir:    dir,
	})

	if !out.Succeeded() {
		t.Fatalf("Expected success, got exit=%d", out.ExitCode)
	}
	// Resolve through symlinks (macOS tempdirs live under /private).
	if !strings.Contains(out.Stdout, filepath.Base(dir)) {
		t.Errorf("Expected pwd output under %s, got: %q", dir, out.Stdout)
	}
}

func TestRunner_Environment(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("tests drive POSIX shell binaries")
	}

	out := testRunner().Run(context.Background(), Entry{
		Module: "env-check",
		Binary: "sh",
		Args:   []string{"-c", "echo $EXPLORER_PROBE"},
		Env:    []string{"EXPLORER_PROBE=42"},
	})

	if strings.TrimSpace(out.Stdout) != "42" {
		t.Errorf("Expected injected env var in child, got: %q", out.Stdout)
	}
}

func TestLimitedWriter(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, max: 10}

	n, err := lw.Write([]byte("hello"))
	if err != nil || n != 5 {
		t.Fatalf("First write: n=%d err=%v", n, err)
	}
	if lw.truncated {
		t.Errorf("Should not truncate under the limit")
	}

	// Crosses the limit: partial write, full length reported.
	n, err = lw.Write([]byte("worldworld"))
	if err != nil {
		t.Fatalf("Second write: %v", err)
	}
	if n != 10 {
		t.Errorf("Expected reported length 10, got %d", n)
	}
	if !lw.truncated {
		t.Errorf("Expected truncation")
	}
	if lw.discarded != 5 {
		t.Errorf("Expected 5 discarded bytes, got %d", lw.discarded)
	}
	if buf.String() != "helloworld" {
		t.Errorf("Expected buffer 'helloworld', got %q", buf.String())
	}

	// Fully over the limit: everything discarded.
	n, err = lw.Write([]byte("xyz"))
	if err != nil || n != 3 {
		t.Fatalf("Third write: n=%d err=%v", n, err)
	}
	if lw.discarded != 8 {
		t.Errorf("Expected 8 discarded bytes total, got %d", lw.discarded)
	}
}

func TestOutcome_Helpers(t *testing.T) {
	out := Outcome{
		Completed:       true,
		ExitCode:        0,
		WallTime:        1500 * time.Millisecond,
		PeakMemoryBytes: 3 * 1024 * 1024,
	}

	if !out.Succeeded() {
		t.Errorf("Expected success")
	}
	if out.WallTimeMs() != 1500 {
		t.Errorf("Expected 1500ms, got %f", out.WallTimeMs())
	}
	if out.PeakMemoryMB() != 3 {
		t.Errorf("Expected 3MB, got %f", out.PeakMemoryMB())
	}

	out.ExitCode = 1
	if out.Succeeded() {
		t.Errorf("Non-zero exit must not succeed")
	}
}
