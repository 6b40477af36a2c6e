package config

import (
	"path/filepath"
	"strings"
	"testing"
)

// =============================================================================
// UNIFIED CONFIG TESTS
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Name != "Explorer" {
		t.Errorf("expected Name=Explorer, got %s", cfg.Name)
	}
	if cfg.Governor.MaxConcurrentSandboxes != 4 {
		t.Errorf("expected MaxConcurrentSandboxes=4, got %d", cfg.Governor.MaxConcurrentSandboxes)
	}
	if cfg.Stability.Alpha != 0.2 {
		t.Errorf("expected Alpha=0.2, got %g", cfg.Stability.Alpha)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got: %v", err)
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	// Ensure no env vars interfere
	t.Setenv("EXPLORER_DB", "")
	t.Setenv("EXPLORER_THRESHOLD", "")
	t.Setenv("EXPLORER_MAX_SANDBOXES", "")

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Governor.CertificationThreshold = 0.75
	cfg.Kernel.DatabasePath = "custom/kernel.db"

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Governor.CertificationThreshold != 0.75 {
		t.Errorf("expected CertificationThreshold=0.75, got %g", loaded.Governor.CertificationThreshold)
	}
	if loaded.Kernel.DatabasePath != "custom/kernel.db" {
		t.Errorf("expected DatabasePath=custom/kernel.db, got %s", loaded.Kernel.DatabasePath)
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("EXPLORER_DB", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load of missing file should not error, got: %v", err)
	}
	if cfg.Name != "Explorer" {
		t.Errorf("expected defaults, got Name=%s", cfg.Name)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "zero threshold",
			mutate:  func(c *Config) { c.Governor.CertificationThreshold = 0 },
			wantErr: "certification_threshold",
		},
		{
			name:    "negative threshold",
			mutate:  func(c *Config) { c.Governor.CertificationThreshold = -1 },
			wantErr: "certification_threshold",
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Governor.MaxConcurrentSandboxes = 0 },
			wantErr: "max_concurrent_sandboxes",
		},
		{
			name:    "zero timeout",
			mutate:  func(c *Config) { c.Sandbox.Timeout = "0s" },
			wantErr: "timeout",
		},
		{
			name:    "garbage timeout",
			mutate:  func(c *Config) { c.Sandbox.Timeout = "soon" },
			wantErr: "timeout",
		},
		{
			name: "weights not summing to 1",
			mutate: func(c *Config) {
				c.VP = VPConfig{TimeWeight: 0.5, MemoryWeight: 0.5, ReliabilityWeight: 0.5}
			},
			wantErr: "sum to 1",
		},
		{
			name: "negative weight",
			mutate: func(c *Config) {
				c.VP = VPConfig{TimeWeight: 1.3, MemoryWeight: -0.3, ReliabilityWeight: 0}
			},
			wantErr: "non-negative",
		},
		{
			name:    "alpha out of range",
			mutate:  func(c *Config) { c.Stability.Alpha = 1.0 },
			wantErr: "alpha",
		},
		{
			name:    "zero bucket width",
			mutate:  func(c *Config) { c.Identity.BucketMs = 0 },
			wantErr: "bucket_ms",
		},
		{
			name:    "zero duration floor",
			mutate:  func(c *Config) { c.Stability.FloorDurationMs = 0 },
			wantErr: "floor_duration_ms",
		},
		{
			name: "inverted sentinel clamp",
			mutate: func(c *Config) {
				c.Sentinel.ThresholdFloor = 0.9
				c.Sentinel.ThresholdCeiling = 0.5
			},
			wantErr: "clamp",
		},
		{
			name:    "empty db path",
			mutate:  func(c *Config) { c.Kernel.DatabasePath = "" },
			wantErr: "database_path",
		},
		{
			name: "breath min above base",
			mutate: func(c *Config) {
				c.Breath.MinInterval = "30s"
				c.Breath.BaseInterval = "10s"
			},
			wantErr: "breath intervals",
		},
		{
			name:    "amplitude too large",
			mutate:  func(c *Config) { c.Breath.Amplitude = 1.0 },
			wantErr: "amplitude",
		},
		{
			name: "narrator enabled without key",
			mutate: func(c *Config) {
				c.Mirror.Narrator.Enabled = true
				c.Mirror.Narrator.APIKey = ""
			},
			wantErr: "narrator",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestDurationGetters(t *testing.T) {
	cfg := DefaultConfig()

	if got := cfg.GetSandboxTimeout().Seconds(); got != 5 {
		t.Errorf("GetSandboxTimeout() = %gs, want 5s", got)
	}
	if got := cfg.GetSampleInterval().Milliseconds(); got != 25 {
		t.Errorf("GetSampleInterval() = %dms, want 25ms", got)
	}

	// Unparseable values fall back to defaults
	cfg.Sandbox.Timeout = "whenever"
	if got := cfg.GetSandboxTimeout().Seconds(); got != 5 {
		t.Errorf("GetSandboxTimeout() fallback = %gs, want 5s", got)
	}
}
