package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all Explorer configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Governor (certification loop) settings
	Governor GovernorConfig `yaml:"governor"`

	// Sandbox execution settings
	Sandbox SandboxConfig `yaml:"sandbox"`

	// Violation potential weights
	VP VPConfig `yaml:"vp"`

	// Behavioral identity bucketing
	Identity IdentityConfig `yaml:"identity"`

	// Stability center (adaptive ideal)
	Stability StabilityConfig `yaml:"stability"`

	// Sentinel mastery scoring
	Sentinel SentinelConfig `yaml:"sentinel"`

	// Kernel certification ledger
	Kernel KernelConfig `yaml:"kernel"`

	// Breath pacing engine
	Breath BreathConfig `yaml:"breath"`

	// Workload registry
	Workload WorkloadConfig `yaml:"workload"`

	// Checkpoint reports
	Checkpoint CheckpointConfig `yaml:"checkpoint"`

	// Advisory mirrors
	Mirror MirrorConfig `yaml:"mirror"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// GovernorConfig configures the certification loop.
type GovernorConfig struct {
	// VP at or below this certifies a module
	CertificationThreshold float64 `yaml:"certification_threshold"`

	// Upper bound on concurrently running sandboxes
	MaxConcurrentSandboxes int `yaml:"max_concurrent_sandboxes"`
}

// SandboxConfig configures isolated module execution.
type SandboxConfig struct {
	// Per-run wall clock limit
	Timeout string `yaml:"timeout"`

	// Peak memory sampling interval
	SampleInterval string `yaml:"sample_interval"`

	// Cap on captured stdout+stderr per run
	MaxOutputBytes int64 `yaml:"max_output_bytes"`

	// Working directory for child processes
	WorkDir string `yaml:"work_dir"`
}

// VPConfig holds the violation potential weights. They must sum to 1.
type VPConfig struct {
	TimeWeight        float64 `yaml:"time_weight"`
	MemoryWeight      float64 `yaml:"memory_weight"`
	ReliabilityWeight float64 `yaml:"reliability_weight"`
}

// IdentityConfig configures behavioral identity bucketing.
type IdentityConfig struct {
	// Duration bucket width in milliseconds
	BucketMs float64 `yaml:"bucket_ms"`

	// Memory bucket width in megabytes
	BucketMB float64 `yaml:"bucket_mb"`
}

// StabilityConfig configures the adaptive ideal envelope.
type StabilityConfig struct {
	// EWMA smoothing factor, in (0,1)
	Alpha float64 `yaml:"alpha"`

	// Strictly positive floors for the ideal
	FloorDurationMs float64 `yaml:"floor_duration_ms"`
	FloorMemoryMB   float64 `yaml:"floor_memory_mb"`
}

// SentinelConfig configures mastery scoring and the phase machine.
type SentinelConfig struct {
	// Number of recent cycles considered per dimension
	Window int `yaml:"window"`

	// Minimum observed cycles before a phase transition is possible
	MinHistory int `yaml:"min_history"`

	// Dynamic threshold clamp bounds
	ThresholdFloor   float64 `yaml:"threshold_floor"`
	ThresholdCeiling float64 `yaml:"threshold_ceiling"`
}

// KernelConfig configures the certification ledger.
type KernelConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// BreathConfig configures the pacing engine.
type BreathConfig struct {
	// Base interval between cycles
	BaseInterval string `yaml:"base_interval"`

	// Clamp bounds for the modulated interval
	MinInterval string `yaml:"min_interval"`
	MaxInterval string `yaml:"max_interval"`

	// Pulse modulation depth, in [0,1); 0 disables modulation
	Amplitude float64 `yaml:"amplitude"`

	// Primary pulse period in cycles
	Period int `yaml:"period"`
}

// WorkloadConfig configures the module registry.
type WorkloadConfig struct {
	// Directory watched for *.workload.yaml manifests
	Dir string `yaml:"dir"`

	// Watch the directory for changes between cycles
	Watch bool `yaml:"watch"`

	// Builtin synthetic workloads registered at startup
	Builtins []string `yaml:"builtins"`
}

// CheckpointConfig configures checkpoint reports.
type CheckpointConfig struct {
	Dir string `yaml:"dir"`

	// Write a routine checkpoint every N cycles (milestones always write)
	EveryCycles int `yaml:"every_cycles"`
}

// MirrorConfig configures advisory observers.
type MirrorConfig struct {
	// Output directory for mirror reports
	Dir string `yaml:"dir"`

	Insight bool `yaml:"insight"`
	Portent bool `yaml:"portent"`
	Bloom   bool `yaml:"bloom"`

	// Narrator renders cycle summaries as prose via the Gemini API
	Narrator NarratorConfig `yaml:"narrator"`
}

// NarratorConfig configures the optional LLM narrator mirror.
type NarratorConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// LoggingConfig configures categorized file logging.
type LoggingConfig struct {
	Level      string          `yaml:"level"` // debug, info, warn, error
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	JSONFormat bool            `yaml:"json_format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "Explorer",
		Version: "1.0.0",

		Governor: GovernorConfig{
			CertificationThreshold: 0.5,
			MaxConcurrentSandboxes: 4,
		},

		Sandbox: SandboxConfig{
			Timeout:        "5s",
			SampleInterval: "25ms",
			MaxOutputBytes: 1 << 20,
			WorkDir:        "",
		},

		VP: VPConfig{
			TimeWeight:        0.4,
			MemoryWeight:      0.3,
			ReliabilityWeight: 0.3,
		},

		Identity: IdentityConfig{
			BucketMs: 10,
			BucketMB: 1,
		},

		Stability: StabilityConfig{
			Alpha:           0.2,
			FloorDurationMs: 10,
			FloorMemoryMB:   1,
		},

		Sentinel: SentinelConfig{
			Window:           25,
			MinHistory:       10,
			ThresholdFloor:   0.5,
			ThresholdCeiling: 0.95,
		},

		Kernel: KernelConfig{
			DatabasePath: ".explorer/kernel.db",
		},

		Breath: BreathConfig{
			BaseInterval: "10s",
			MinInterval:  "1s",
			MaxInterval:  "60s",
			Amplitude:    0.3,
			Period:       12,
		},

		Workload: WorkloadConfig{
			Dir:      ".explorer/workloads",
			Watch:    true,
			Builtins: []string{"spin", "alloc", "flaky"},
		},

		Checkpoint: CheckpointConfig{
			Dir:         ".explorer/checkpoints",
			EveryCycles: 10,
		},

		Mirror: MirrorConfig{
			Dir:     ".explorer/mirrors",
			Insight: true,
			Portent: true,
			Bloom:   true,
			Narrator: NarratorConfig{
				Enabled: false,
				Model:   "gemini-2.5-flash",
			},
		},

		Logging: LoggingConfig{
			Level:     "info",
			DebugMode: false,
		},
	}
}

// DefaultConfigPath returns the default path to .explorer/config.yaml.
func DefaultConfigPath() string {
	cwd, err := os.Getwd()
	if err != nil {
		return filepath.Join(".explorer", "config.yaml")
	}
	return filepath.Join(cwd, ".explorer", "config.yaml")
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("EXPLORER_DB"); path != "" {
		c.Kernel.DatabasePath = path
	}
	if dir := os.Getenv("EXPLORER_WORKLOAD_DIR"); dir != "" {
		c.Workload.Dir = dir
	}
	if v := os.Getenv("EXPLORER_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Governor.CertificationThreshold = f
		}
	}
	if v := os.Getenv("EXPLORER_MAX_SANDBOXES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Governor.MaxConcurrentSandboxes = n
		}
	}
	if v := os.Getenv("EXPLORER_SANDBOX_TIMEOUT"); v != "" {
		c.Sandbox.Timeout = v
	}

	// Narrator key from environment; presence alone does not enable it
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Mirror.Narrator.APIKey = key
	}
}

// GetSandboxTimeout returns the sandbox timeout as a duration.
func (c *Config) GetSandboxTimeout() time.Duration {
	d, err := time.ParseDuration(c.Sandbox.Timeout)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// GetSampleInterval returns the memory sampling interval as a duration.
func (c *Config) GetSampleInterval() time.Duration {
	d, err := time.ParseDuration(c.Sandbox.SampleInterval)
	if err != nil {
		return 25 * time.Millisecond
	}
	return d
}

// GetBaseInterval returns the breath base interval as a duration.
func (c *Config) GetBaseInterval() time.Duration {
	d, err := time.ParseDuration(c.Breath.BaseInterval)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetMinInterval returns the breath minimum interval as a duration.
func (c *Config) GetMinInterval() time.Duration {
	d, err := time.ParseDuration(c.Breath.MinInterval)
	if err != nil {
		return time.Second
	}
	return d
}

// GetMaxInterval returns the breath maximum interval as a duration.
func (c *Config) GetMaxInterval() time.Duration {
	d, err := time.ParseDuration(c.Breath.MaxInterval)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// Validate validates the configuration. It is called once at startup; any
// error here aborts the process before the first cycle runs.
func (c *Config) Validate() error {
	if c.Governor.CertificationThreshold <= 0 {
		return fmt.Errorf("certification_threshold must be > 0, got %g", c.Governor.CertificationThreshold)
	}
	if c.Governor.MaxConcurrentSandboxes < 1 {
		return fmt.Errorf("max_concurrent_sandboxes must be >= 1, got %d", c.Governor.MaxConcurrentSandboxes)
	}

	if d, err := time.ParseDuration(c.Sandbox.Timeout); err != nil || d <= 0 {
		return fmt.Errorf("sandbox timeout must be a positive duration, got %q", c.Sandbox.Timeout)
	}
	if d, err := time.ParseDuration(c.Sandbox.SampleInterval); err != nil || d <= 0 {
		return fmt.Errorf("sandbox sample_interval must be a positive duration, got %q", c.Sandbox.SampleInterval)
	}
	if c.Sandbox.MaxOutputBytes <= 0 {
		return fmt.Errorf("sandbox max_output_bytes must be > 0, got %d", c.Sandbox.MaxOutputBytes)
	}

	sum := c.VP.TimeWeight + c.VP.MemoryWeight + c.VP.ReliabilityWeight
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("vp weights must sum to 1, got %g (time=%g memory=%g reliability=%g)",
			sum, c.VP.TimeWeight, c.VP.MemoryWeight, c.VP.ReliabilityWeight)
	}
	if c.VP.TimeWeight < 0 || c.VP.MemoryWeight < 0 || c.VP.ReliabilityWeight < 0 {
		return fmt.Errorf("vp weights must be non-negative")
	}

	if c.Identity.BucketMs <= 0 {
		return fmt.Errorf("identity bucket_ms must be > 0, got %g", c.Identity.BucketMs)
	}
	if c.Identity.BucketMB <= 0 {
		return fmt.Errorf("identity bucket_mb must be > 0, got %g", c.Identity.BucketMB)
	}

	if c.Stability.Alpha <= 0 || c.Stability.Alpha >= 1 {
		return fmt.Errorf("stability alpha must be in (0,1), got %g", c.Stability.Alpha)
	}
	if c.Stability.FloorDurationMs <= 0 {
		return fmt.Errorf("stability floor_duration_ms must be > 0, got %g", c.Stability.FloorDurationMs)
	}
	if c.Stability.FloorMemoryMB <= 0 {
		return fmt.Errorf("stability floor_memory_mb must be > 0, got %g", c.Stability.FloorMemoryMB)
	}

	if c.Sentinel.Window < 2 {
		return fmt.Errorf("sentinel window must be >= 2, got %d", c.Sentinel.Window)
	}
	if c.Sentinel.MinHistory < 1 {
		return fmt.Errorf("sentinel min_history must be >= 1, got %d", c.Sentinel.MinHistory)
	}
	if c.Sentinel.ThresholdFloor < 0 || c.Sentinel.ThresholdCeiling > 1 ||
		c.Sentinel.ThresholdFloor >= c.Sentinel.ThresholdCeiling {
		return fmt.Errorf("sentinel threshold clamp [%g,%g] invalid",
			c.Sentinel.ThresholdFloor, c.Sentinel.ThresholdCeiling)
	}

	if c.Kernel.DatabasePath == "" {
		return fmt.Errorf("kernel database_path must not be empty")
	}

	base := c.GetBaseInterval()
	min := c.GetMinInterval()
	max := c.GetMaxInterval()
	if min <= 0 || base < min || max < base {
		return fmt.Errorf("breath intervals must satisfy 0 < min <= base <= max (min=%v base=%v max=%v)",
			min, base, max)
	}
	if c.Breath.Amplitude < 0 || c.Breath.Amplitude >= 1 {
		return fmt.Errorf("breath amplitude must be in [0,1), got %g", c.Breath.Amplitude)
	}
	if c.Breath.Period < 1 {
		return fmt.Errorf("breath period must be >= 1, got %d", c.Breath.Period)
	}

	if c.Checkpoint.EveryCycles < 1 {
		return fmt.Errorf("checkpoint every_cycles must be >= 1, got %d", c.Checkpoint.EveryCycles)
	}

	if c.Mirror.Narrator.Enabled && c.Mirror.Narrator.APIKey == "" {
		return fmt.Errorf("narrator enabled but no API key configured (set GEMINI_API_KEY)")
	}

	return nil
}
