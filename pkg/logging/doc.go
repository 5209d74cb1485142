// Package logging provides a structured logging system for the hub with
// unified log handling and flexible output formatting.
//
// This package implements a logging system built on Go's standard slog
// package, providing consistent logging behavior with structured output and
// level filtering.
//
// # Log Levels
//   - **Debug**: Detailed information for debugging and development
//   - **Info**: General informational messages about application operation
//   - **Warn**: Warning messages that indicate potential issues
//   - **Error**: Error messages for failures and exceptional conditions
//
// # Structured Logging
//
// All log entries include a timestamp, the log level, a subsystem identifier
// for categorization, the message content with optional formatting, and
// optional error information.
//
// # Usage
//
//	logging.Init(logging.LevelInfo, os.Stdout, false)
//
//	logging.Info("Bootstrap", "Hub starting up")
//	logging.Debug("Config", "Loaded configuration from %s", configPath)
//	logging.Warn("Spawner", "Readiness probe attempt %d failed", attempt)
//	logging.Error("Proxy", err, "Failed to add route %s", prefix)
//
// # Subsystem Organization
//
// Logs are organized by subsystem to enable filtering and categorization:
//
//   - **Bootstrap**: Application initialization and startup
//   - **Config**: Configuration loading and validation
//   - **Hub**: Server record lifecycle management
//   - **Spawner**: Process/pod creation and teardown
//   - **Proxy**: Route reconciliation against the external proxy
//   - **Auth**: Authentication and scope evaluation
//   - **API**: REST handler operations
//
// The logging system is fully thread-safe; concurrent logging from multiple
// goroutines is supported without additional synchronization.
package logging
