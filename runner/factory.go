package runner

import (
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/venvbox/config"
)

// NewFromConfig creates an EphemeralRunner from loaded application
// configuration.
func NewFromConfig(logger *zap.Logger, cfg *config.Config) *EphemeralRunner {
	profile := &Profile{
		Image:             cfg.Runner.Image,
		WorkspaceRoot:     cfg.Runner.WorkspaceRoot,
		User:              cfg.Runner.User,
		ReadOnlyRoot:      cfg.Runner.ReadOnlyRoot,
		CPUs:              cfg.Runner.CPUs,
		Memory:            cfg.Runner.Memory,
		ExtraRunArgs:      cfg.Runner.ExtraRunArgs,
		DenyNetworkAtExec: cfg.Runner.DenyNetworkAtExec,
		HostGatewayAlias:  cfg.Runner.HostGatewayAlias,
		MaxOutputBytes:    cfg.Runner.MaxOutputBytes,
	}
	timeouts := Timeouts{
		VenvBootstrap: time.Duration(cfg.Timeouts.VenvBootstrapSec) * time.Second,
		PipProbe:      time.Duration(cfg.Timeouts.PipProbeSec) * time.Second,
		PipInstall:    time.Duration(cfg.Timeouts.PipInstallSec) * time.Second,
	}
	return New(logger, profile, timeouts)
}
