// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The mcpserver package implements an MCP-compliant server that exposes the
// python_exec tool: run agent-written Python 3 in an ephemeral container over
// the caller's persistent workspace. It uses the mark3labs/mcp-go library for
// the protocol details and delegates all sandboxing to the runner package.
//
// The server supports both stdio and HTTP transports as configured by the
// application configuration.
//
// Usage:
//
//	server, err := mcpserver.New(config, logger, codeRunner)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.ServeStdio() // or server.ServeHTTP()
package mcpserver
