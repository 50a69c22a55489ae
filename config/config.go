package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig  `mapstructure:"server"`
	Runner   RunnerConfig  `mapstructure:"runner"`
	Timeouts TimeoutConfig `mapstructure:"timeouts"`
	Logging  LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
}

// RunnerConfig holds the container invocation profile. It is set once at
// startup and shared read-only.
type RunnerConfig struct {
	Image             string `mapstructure:"image"`
	WorkspaceRoot     string `mapstructure:"workspace_root"`
	User              string `mapstructure:"user"`
	ReadOnlyRoot      bool   `mapstructure:"read_only_root"`
	CPUs              string `mapstructure:"cpus"`
	Memory            string `mapstructure:"memory"`
	ExtraRunArgs      string `mapstructure:"extra_run_args"`
	DenyNetworkAtExec bool   `mapstructure:"deny_network_at_exec"`
	HostGatewayAlias  string `mapstructure:"host_gateway_alias"`
	MaxOutputBytes    int64  `mapstructure:"max_output_bytes"`
}

// TimeoutConfig holds the per-phase timeouts. Expiry always means a forced
// kill of the invocation.
type TimeoutConfig struct {
	VenvBootstrapSec int `mapstructure:"venv_bootstrap_sec"`
	PipProbeSec      int `mapstructure:"pip_probe_sec"`
	PipInstallSec    int `mapstructure:"pip_install_sec"`
	ExecDefaultMS    int `mapstructure:"exec_default_ms"`
	ExecMaxMS        int `mapstructure:"exec_max_ms"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// New loads and validates the application configuration
func New() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Set default values
	viper.SetDefault("server.transport", "stdio")
	viper.SetDefault("server.http_port", 8080)

	viper.SetDefault("runner.image", "python:3.11-slim")
	viper.SetDefault("runner.workspace_root", "")
	viper.SetDefault("runner.user", "65534:65534")
	viper.SetDefault("runner.read_only_root", true)
	viper.SetDefault("runner.cpus", "1.0")
	viper.SetDefault("runner.memory", "1g")
	viper.SetDefault("runner.extra_run_args",
		"--pids-limit 256 --tmpfs /tmp --tmpfs /var/tmp --security-opt no-new-privileges")
	viper.SetDefault("runner.deny_network_at_exec", true)
	viper.SetDefault("runner.host_gateway_alias", "host.docker.internal")
	viper.SetDefault("runner.max_output_bytes", 64*1024)

	viper.SetDefault("timeouts.venv_bootstrap_sec", 120)
	viper.SetDefault("timeouts.pip_probe_sec", 10)
	viper.SetDefault("timeouts.pip_install_sec", 300)
	viper.SetDefault("timeouts.exec_default_ms", 15000)
	viper.SetDefault("timeouts.exec_max_ms", 600000)

	viper.SetDefault("logging.mode", "production")
	viper.SetDefault("logging.level", "info")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

// validate ensures the configuration is valid. A bad profile is a deployment
// error and fails loudly at startup rather than at invocation time.
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	if c.Runner.Image == "" {
		return fmt.Errorf("runner.image must not be empty")
	}
	if c.Runner.WorkspaceRoot == "" {
		return fmt.Errorf("runner.workspace_root is required")
	}
	if !filepath.IsAbs(c.Runner.WorkspaceRoot) {
		return fmt.Errorf("runner.workspace_root must be absolute, got: %s", c.Runner.WorkspaceRoot)
	}
	if c.Runner.CPUs == "" {
		return fmt.Errorf("runner.cpus must not be empty")
	}
	if c.Runner.Memory == "" {
		return fmt.Errorf("runner.memory must not be empty")
	}

	if c.Timeouts.VenvBootstrapSec <= 0 {
		return fmt.Errorf("timeouts.venv_bootstrap_sec must be positive, got: %d", c.Timeouts.VenvBootstrapSec)
	}
	if c.Timeouts.PipProbeSec <= 0 {
		return fmt.Errorf("timeouts.pip_probe_sec must be positive, got: %d", c.Timeouts.PipProbeSec)
	}
	if c.Timeouts.PipInstallSec <= 0 {
		return fmt.Errorf("timeouts.pip_install_sec must be positive, got: %d", c.Timeouts.PipInstallSec)
	}
	if c.Timeouts.ExecDefaultMS <= 0 {
		return fmt.Errorf("timeouts.exec_default_ms must be positive, got: %d", c.Timeouts.ExecDefaultMS)
	}
	if c.Timeouts.ExecMaxMS < c.Timeouts.ExecDefaultMS {
		return fmt.Errorf("timeouts.exec_max_ms (%d) must be >= timeouts.exec_default_ms (%d)",
			c.Timeouts.ExecMaxMS, c.Timeouts.ExecDefaultMS)
	}

	return nil
}

// ExecDefault returns the default execution timeout as a duration.
func (c *Config) ExecDefault() time.Duration {
	return time.Duration(c.Timeouts.ExecDefaultMS) * time.Millisecond
}

// ExecMax returns the execution timeout ceiling as a duration.
func (c *Config) ExecMax() time.Duration {
	return time.Duration(c.Timeouts.ExecMaxMS) * time.Millisecond
}
