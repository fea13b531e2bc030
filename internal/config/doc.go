// Package config loads, normalizes, and validates borescope configuration.
//
// It supplies defaults, expands user paths (including tilde shortcuts),
// reads TOML files, and honours environment fallbacks such as
// BORESCOPE_NTFY_TOPIC. Always obtain settings through this package so
// downstream code receives sanitized values and clear validation errors.
package config
