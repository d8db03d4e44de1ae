// Package pkg provides shared utilities for the softant ANT+ stack.
//
// This package contains common functionality used by the codec, the
// transport drivers, the node and the HTTP server, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel and typed errors for ANT protocol failures
//   - The [EventCode] table mapping device status bytes to errors
//
// # Logging
//
// The logging subsystem wraps [log/slog] with component context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentChannel, "channel open", "channel", 0)
//
// # Errors
//
// Device status codes are translated into sentinel values:
//
//	if errors.Is(err, pkg.ErrRxSearchTimeout) {
//	    // the channel gave up searching and was closed
//	}
package pkg
