// Package pkg provides shared utilities for the sdbridge storage stack.
//
// This package contains common functionality used by the SPI adapters, the
// card driver and the mass storage class, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel errors for the block driver result taxonomy
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with component context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentCard, "card initialized", "type", "SDv2+block")
//
// # Errors
//
// Driver errors are sentinel values, usually wrapped with the failing step:
//
//	if errors.Is(err, pkg.ErrNotReady) {
//	    // Re-initialize the card
//	}
//
// [Result] maps an error onto the five driver result codes.
package pkg
