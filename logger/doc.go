// Package logger provides structured logging capabilities.
//
// The logger package sets up and configures the application's logging
// system using zap, providing structured, high-performance logging
// throughout the application.
//
// Usage:
//
//	log, err := logger.New("production", "info")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Info("runner started", zap.String("workspace_root", root))
package logger
