package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "0.0.0.0:9999", cfg.Server.Addr())
	assert.Equal(t, PolicySkip, cfg.Detector.FailurePolicy)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  port: 7000
  max_frame_size: 1048576
  read_timeout: 10s
detector:
  backend: remote
  failure_policy: fatal
  classes: [red apple, green apple]
  remote:
    url: http://localhost:8000/detect
results:
  precision: 3
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host, "unset keys keep defaults")
	assert.Equal(t, uint32(1<<20), cfg.Server.MaxFrameSize)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, PolicyFatal, cfg.Detector.FailurePolicy)
	assert.Equal(t, []string{"red apple", "green apple"}, cfg.Detector.Classes)
	assert.Equal(t, 3, cfg.Results.Precision)
	assert.Equal(t, 1, cfg.Results.BoxPrecision)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero max frame", func(c *Config) { c.Server.MaxFrameSize = 0 }, "max_frame_size"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"unknown backend", func(c *Config) { c.Detector.Backend = "magic" }, "detector.backend"},
		{"remote without url", func(c *Config) { c.Detector.Backend = "remote" }, "remote.url"},
		{"bad policy", func(c *Config) { c.Detector.FailurePolicy = "retry" }, "failure_policy"},
		{"confidence range", func(c *Config) { c.Detector.MinConfidence = 1.5 }, "min_confidence"},
		{"negative timeout", func(c *Config) { c.Server.WriteTimeout = -time.Second }, "timeouts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = -1
	cfg.Detector.FailurePolicy = "retry"
	cfg.Results.Precision = 11

	errs := multierr.Errors(cfg.Validate())
	require.Len(t, errs, 3)
	assert.Contains(t, errs[0].Error(), "server.port")
	assert.Contains(t, errs[1].Error(), "failure_policy")
	assert.Contains(t, errs[2].Error(), "results.precision")
}
