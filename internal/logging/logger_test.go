package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// resetState clears package-level logging state between tests.
func resetState() {
	CloseAll()
	CloseAudit()
	loggers = make(map[Category]*Logger)
	logsDir = ""
	workspace = ""
	configLoaded = false
	config = loggingConfig{}
	auditLogger = nil
}

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	configDir := filepath.Join(dir, ".explorer")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
}

// TestAllCategoriesLog tests that all categories create log files when debug_mode is true
func TestAllCategoriesLog(t *testing.T) {
	tempDir := t.TempDir()

	writeConfig(t, tempDir, `
logging:
  level: debug
  debug_mode: true
  categories:
    boot: true
    governor: true
    breath: true
    sandbox: true
    metrics: true
    stability: true
    kernel: true
    sentinel: true
    workload: true
    mirror: true
    checkpoint: true
`)

	resetState()

	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}

	if !IsDebugMode() {
		t.Error("Expected debug mode to be enabled")
	}

	categories := []Category{
		CategoryBoot,
		CategoryGovernor,
		CategoryBreath,
		CategorySandbox,
		CategoryMetrics,
		CategoryStability,
		CategoryKernel,
		CategorySentinel,
		CategoryWorkload,
		CategoryMirror,
		CategoryCheckpoint,
	}

	for _, cat := range categories {
		if !IsCategoryEnabled(cat) {
			t.Errorf("Category %s should be enabled", cat)
		}

		logger := Get(cat)
		logger.Info("Test info message for %s", cat)
		logger.Debug("Test debug message for %s", cat)
		logger.Warn("Test warn message for %s", cat)
		logger.Error("Test error message for %s", cat)
	}

	// Also test convenience functions
	Boot("Convenience boot log")
	Governor("Convenience governor log")
	Breath("Convenience breath log")
	Sandbox("Convenience sandbox log")
	Metrics("Convenience metrics log")
	Stability("Convenience stability log")
	Kernel("Convenience kernel log")
	Sentinel("Convenience sentinel log")
	Workload("Convenience workload log")
	Mirror("Convenience mirror log")
	Checkpoint("Convenience checkpoint log")

	CloseAll()
	CloseAudit()

	logsPath := filepath.Join(tempDir, ".explorer", "logs")
	entries, err := os.ReadDir(logsPath)
	if err != nil {
		t.Fatalf("Failed to read logs dir: %v", err)
	}

	for _, cat := range categories {
		found := false
		for _, entry := range entries {
			if strings.Contains(entry.Name(), string(cat)+".log") {
				found = true
				content, err := os.ReadFile(filepath.Join(logsPath, entry.Name()))
				if err != nil {
					t.Errorf("Failed to read log file for %s: %v", cat, err)
					continue
				}
				if len(content) == 0 {
					t.Errorf("Log file for %s is empty", cat)
				}
				break
			}
		}
		if !found {
			t.Errorf("No log file found for category: %s", cat)
		}
	}
}

// TestDebugModeDisabled tests that no logs are created when debug_mode is false
func TestDebugModeDisabled(t *testing.T) {
	tempDir := t.TempDir()

	writeConfig(t, tempDir, `
logging:
  level: debug
  debug_mode: false
  categories:
    boot: true
    kernel: true
`)

	resetState()

	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}

	if IsDebugMode() {
		t.Error("Expected debug mode to be DISABLED (production mode)")
	}

	for _, cat := range []Category{CategoryBoot, CategoryKernel, CategorySandbox} {
		if IsCategoryEnabled(cat) {
			t.Errorf("Category %s should be DISABLED when debug_mode=false", cat)
		}
	}

	// Should all be no-ops
	Boot("This should NOT be logged")
	Kernel("This should NOT be logged")
	Sandbox("This should NOT be logged")

	logger := Get(CategoryBoot)
	logger.Info("This should NOT be logged")
	logger.Debug("This should NOT be logged")
	logger.Error("This should NOT be logged")

	CloseAll()
	CloseAudit()

	logsPath := filepath.Join(tempDir, ".explorer", "logs")
	if _, err := os.Stat(logsPath); err == nil {
		entries, _ := os.ReadDir(logsPath)
		if len(entries) > 0 {
			t.Errorf("Expected NO log files in production mode, but found %d files", len(entries))
		}
	}
}

// TestCategoryToggle tests individual category enable/disable
func TestCategoryToggle(t *testing.T) {
	tempDir := t.TempDir()

	writeConfig(t, tempDir, `
logging:
  level: debug
  debug_mode: true
  categories:
    boot: true
    kernel: true
    sandbox: false
    mirror: false
`)

	resetState()

	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Failed to initialize: %v", err)
	}

	if !IsCategoryEnabled(CategoryBoot) {
		t.Error("boot should be enabled")
	}
	if !IsCategoryEnabled(CategoryKernel) {
		t.Error("kernel should be enabled")
	}
	if IsCategoryEnabled(CategorySandbox) {
		t.Error("sandbox should be DISABLED")
	}
	if IsCategoryEnabled(CategoryMirror) {
		t.Error("mirror should be DISABLED")
	}

	// Category not in config defaults to enabled when debug_mode=true
	if !IsCategoryEnabled(CategorySentinel) {
		t.Error("sentinel (not in config) should default to enabled")
	}

	Boot("This SHOULD be logged")
	Kernel("This SHOULD be logged")
	Sandbox("This should NOT be logged")
	Mirror("This should NOT be logged")
	Sentinel("This SHOULD be logged (default enabled)")

	CloseAll()
	CloseAudit()

	logsPath := filepath.Join(tempDir, ".explorer", "logs")
	entries, _ := os.ReadDir(logsPath)

	var hasBoot, hasKernel, hasSandbox, hasMirror bool
	for _, e := range entries {
		name := e.Name()
		if strings.Contains(name, "boot") {
			hasBoot = true
		}
		if strings.Contains(name, "kernel") {
			hasKernel = true
		}
		if strings.Contains(name, "sandbox") {
			hasSandbox = true
		}
		if strings.Contains(name, "mirror") {
			hasMirror = true
		}
	}

	if !hasBoot {
		t.Error("Expected boot log file")
	}
	if !hasKernel {
		t.Error("Expected kernel log file")
	}
	if hasSandbox {
		t.Error("Should NOT have sandbox log file (disabled)")
	}
	if hasMirror {
		t.Error("Should NOT have mirror log file (disabled)")
	}
}

// TestTimerLogging tests the timing helper
func TestTimerLogging(t *testing.T) {
	tempDir := t.TempDir()

	writeConfig(t, tempDir, `
logging:
  level: debug
  debug_mode: true
`)

	resetState()
	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Failed to initialize: %v", err)
	}

	timer := StartTimer(CategoryKernel, "TestOperation")
	time.Sleep(time.Millisecond)
	elapsed := timer.Stop()

	if elapsed <= 0 {
		t.Error("Timer should have recorded non-zero duration")
	}

	CloseAll()
	CloseAudit()
}

// TestAuditMangleFacts verifies audit events render as well-formed Mangle facts
func TestAuditMangleFacts(t *testing.T) {
	tests := []struct {
		name  string
		event AuditEvent
		want  string
	}{
		{
			name: "certification",
			event: AuditEvent{
				Timestamp: 1000,
				EventType: AuditCertify,
				Identity:  "a1b2c3d4e5f60718",
				Module:    "fibonacci",
				Success:   true,
				Fields:    map[string]interface{}{"vp": 0.25},
			},
			want: `certification(1000, /certify, "a1b2c3d4e5f60718", "fibonacci", 0.250000, true).`,
		},
		{
			name: "snapshot",
			event: AuditEvent{
				Timestamp: 2000,
				EventType: AuditSnapshot,
				Success:   true,
				Fields:    map[string]interface{}{"version": int64(7)},
			},
			want: `kernel_version(2000, /snapshot, 7, true).`,
		},
		{
			name: "phase transition",
			event: AuditEvent{
				Timestamp: 3000,
				EventType: AuditPhaseTransition,
				Success:   true,
				Fields:    map[string]interface{}{"phase": "sovereign", "aggregate": 0.91},
			},
			want: `phase_event(3000, /phase_transition, /sovereign, 0.9100, true).`,
		},
		{
			name: "sandbox timeout",
			event: AuditEvent{
				Timestamp:  4000,
				EventType:  AuditSandboxTimeout,
				Module:     "hang",
				Success:    false,
				DurationMs: 500,
				Fields:     map[string]interface{}{"exit_code": -1},
			},
			want: `sandbox_run(4000, /sandbox_timeout, "hang", false, -1, 500).`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := generateMangleFact(tt.event)
			if got != tt.want {
				t.Errorf("generateMangleFact() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestEscapeString verifies Mangle string escaping
func TestEscapeString(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`plain`, `plain`},
		{`with "quotes"`, `with \"quotes\"`},
		{`back\slash`, `back\\slash`},
		{"line\nbreak", `line\nbreak`},
	}

	for _, tt := range tests {
		if got := escapeString(tt.in); got != tt.want {
			t.Errorf("escapeString(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
