// Package logging assembles the structured slog loggers used across
// borescope.
//
// It owns the console and JSON handlers, level parsing, and the standard
// field keys (component, event_type, image_path, flush_id, ...) so every
// component emits log lines with the same shape. A no-op logger is provided
// for tests and for wiring code that must not fail.
package logging
