// Package log provides a simple, leveled logging interface for the Bailian client.
//
// This package implements a lightweight logging system with support for different log levels
// and customizable output destinations. It is used across the client for diagnostics about
// store access, memory commits and model invocations.
//
// # Log Levels
//
// The package supports five log levels, in order of increasing severity:
//
//   - LogLevelDebug: Detailed debugging information for development
//   - LogLevelInfo: General informational messages about normal operation
//   - LogLevelWarn: Warning messages for potentially problematic situations
//   - LogLevelError: Error messages for failures that need attention
//   - LogLevelNone: Disables all logging output
//
// # Logger Interface
//
// The Logger interface provides four main logging methods:
//
//   - Debug: For detailed troubleshooting information
//   - Info: For general application flow information
//   - Warn: For issues that don't stop execution but need attention
//   - Error: For failures and exceptions
//
// # Example Usage
//
//	// Create a logger with INFO level
//	logger := log.NewDefaultLogger(log.LogLevelInfo)
//
//	logger.Info("client initialized with model %s", model)
//	logger.Debug("loaded %d history turns for %s", len(turns), key)
//	logger.Warn("history read failed, continuing without context: %v", err)
//	logger.Error("model invocation failed: %v", err)
//
// Applications that already use kataras/golog can wrap their existing logger
// with NewGologLogger and hand it to the client.
package log
