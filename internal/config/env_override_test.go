package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvOverrides_Kernel(t *testing.T) {
	t.Run("EXPLORER_DB overrides database path", func(t *testing.T) {
		t.Setenv("EXPLORER_DB", "/tmp/override.db")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "/tmp/override.db", cfg.Kernel.DatabasePath)
	})

	t.Run("empty EXPLORER_DB leaves default", func(t *testing.T) {
		t.Setenv("EXPLORER_DB", "")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, ".explorer/kernel.db", cfg.Kernel.DatabasePath)
	})
}

func TestEnvOverrides_Governor(t *testing.T) {
	t.Run("EXPLORER_THRESHOLD parses float", func(t *testing.T) {
		t.Setenv("EXPLORER_THRESHOLD", "0.33")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.InDelta(t, 0.33, cfg.Governor.CertificationThreshold, 1e-12)
	})

	t.Run("unparseable EXPLORER_THRESHOLD is ignored", func(t *testing.T) {
		t.Setenv("EXPLORER_THRESHOLD", "lots")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, 0.5, cfg.Governor.CertificationThreshold)
	})

	t.Run("EXPLORER_MAX_SANDBOXES parses int", func(t *testing.T) {
		t.Setenv("EXPLORER_MAX_SANDBOXES", "16")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, 16, cfg.Governor.MaxConcurrentSandboxes)
	})
}

func TestEnvOverrides_Sandbox(t *testing.T) {
	t.Setenv("EXPLORER_SANDBOX_TIMEOUT", "750ms")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	require.Equal(t, "750ms", cfg.Sandbox.Timeout)
	assert.Equal(t, int64(750), cfg.GetSandboxTimeout().Milliseconds())
}

func TestEnvOverrides_NarratorKey(t *testing.T) {
	t.Run("GEMINI_API_KEY sets key without enabling", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "g-key")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "g-key", cfg.Mirror.Narrator.APIKey)
		assert.False(t, cfg.Mirror.Narrator.Enabled)
	})

	t.Run("key from env satisfies narrator validation", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "g-key")

		cfg := DefaultConfig()
		cfg.Mirror.Narrator.Enabled = true
		cfg.applyEnvOverrides()

		require.NoError(t, cfg.Validate())
	})
}

func TestEnvOverrides_WorkloadDir(t *testing.T) {
	t.Setenv("EXPLORER_WORKLOAD_DIR", "/srv/workloads")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, "/srv/workloads", cfg.Workload.Dir)
}
