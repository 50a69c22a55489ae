// Package config provides application configuration management.
//
// The config package handles loading and validation of the application's
// configuration from YAML files. It covers the server transport, the
// container invocation profile (image, workspace root, user identity,
// resource ceilings, network posture), per-phase timeouts, and logging.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Workspace root: %s\n", cfg.Runner.WorkspaceRoot)
package config
