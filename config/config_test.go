package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Transport: "http",
			HTTPPort:  8080,
		},
		Runner: RunnerConfig{
			Image:             "python:3.11-slim",
			WorkspaceRoot:     "/srv/venvbox",
			User:              "65534:65534",
			ReadOnlyRoot:      true,
			CPUs:              "1.0",
			Memory:            "1g",
			ExtraRunArgs:      "--pids-limit 256",
			DenyNetworkAtExec: true,
			HostGatewayAlias:  "host.docker.internal",
			MaxOutputBytes:    64 * 1024,
		},
		Timeouts: TimeoutConfig{
			VenvBootstrapSec: 120,
			PipProbeSec:      10,
			PipInstallSec:    300,
			ExecDefaultMS:    15000,
			ExecMaxMS:        600000,
		},
		Logging: LoggingConfig{
			Mode:  "production",
			Level: "info",
		},
	}
}

func TestConfigValidation(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		require.NoError(t, validConfig().validate())
	})

	t.Run("InvalidServerTransport", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.Transport = "invalid"
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server.transport")
	})

	t.Run("MissingWorkspaceRoot", func(t *testing.T) {
		cfg := validConfig()
		cfg.Runner.WorkspaceRoot = ""
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "workspace_root is required")
	})

	t.Run("RelativeWorkspaceRoot", func(t *testing.T) {
		cfg := validConfig()
		cfg.Runner.WorkspaceRoot = "relative/path"
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be absolute")
	})

	t.Run("EmptyImage", func(t *testing.T) {
		cfg := validConfig()
		cfg.Runner.Image = ""
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "runner.image")
	})

	t.Run("NonPositiveProbeTimeout", func(t *testing.T) {
		cfg := validConfig()
		cfg.Timeouts.PipProbeSec = 0
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "pip_probe_sec")
	})

	t.Run("ExecMaxBelowDefault", func(t *testing.T) {
		cfg := validConfig()
		cfg.Timeouts.ExecMaxMS = 1000
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exec_max_ms")
	})
}

func TestTimeoutAccessors(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, 15*time.Second, cfg.ExecDefault())
	assert.Equal(t, 10*time.Minute, cfg.ExecMax())
}

func TestNewFromYAMLFile(t *testing.T) {
	dir := t.TempDir()

	raw := map[string]any{
		"server": map[string]any{
			"transport": "http",
			"http_port": 9090,
		},
		"runner": map[string]any{
			"workspace_root": "/var/lib/venvbox",
			"memory":         "2g",
		},
		"timeouts": map[string]any{
			"exec_default_ms": 20000,
		},
		"logging": map[string]any{
			"mode":  "development",
			"level": "debug",
		},
	}
	data, err := yaml.Marshal(raw)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0o644))

	t.Chdir(dir)

	cfg, err := New()
	require.NoError(t, err)

	// Values from the file.
	assert.Equal(t, "http", cfg.Server.Transport)
	assert.Equal(t, 9090, cfg.Server.HTTPPort)
	assert.Equal(t, "/var/lib/venvbox", cfg.Runner.WorkspaceRoot)
	assert.Equal(t, "2g", cfg.Runner.Memory)
	assert.Equal(t, 20000, cfg.Timeouts.ExecDefaultMS)
	assert.Equal(t, "development", cfg.Logging.Mode)

	// Defaults fill the rest.
	assert.Equal(t, "python:3.11-slim", cfg.Runner.Image)
	assert.Equal(t, "65534:65534", cfg.Runner.User)
	assert.True(t, cfg.Runner.ReadOnlyRoot)
	assert.True(t, cfg.Runner.DenyNetworkAtExec)
	assert.Equal(t, "host.docker.internal", cfg.Runner.HostGatewayAlias)
	assert.Equal(t, 10, cfg.Timeouts.PipProbeSec)
}
