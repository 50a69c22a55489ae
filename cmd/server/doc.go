// Package main is the entry point for the venvbox MCP server.
//
// The venvbox server runs agent-written Python in disposable containers while
// keeping a persistent per-user virtual environment and dependency cache on a
// host-mounted workspace. Dependency installs run with network enabled; the
// untrusted code itself runs with network denied by default. The server
// supports both stdio and HTTP transports.
//
// The application uses Uber's fx framework for dependency injection and
// lifecycle management, with zap for structured logging and viper for
// configuration.
package main
