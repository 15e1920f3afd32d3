// Package logging provides a minimal logging interface and adapters for workerkit.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn,
// Error) that the router, durable object host and workflow engine use for
// observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - NoOpLogger for silent operation (testing, minimal setups)
//   - WorkerLogger with contextual helpers (component, object ID, run ID)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	app := workerkit.New(func(o *workerkit.Options) { o.Logger = logger })
//
// The design intentionally keeps the interface minimal to avoid vendor lock-in
// while supporting structured logging where available.
package logging
