// The Logger interface defines the standard logging methods (Debug, Info,
// Warn, Error) that agents, the tool loop and the HTTP server use. This
// package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger, closer, err := logging.New(logging.Config{Level: logging.LogLevelDebug, Format: "json"})
//	if err != nil { ... }
//	defer closer.Close()
package logging
