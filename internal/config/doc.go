// Package config loads, normalizes, and validates clipstitch configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// CLIPSTITCH_API_TOKEN. The Config type centralizes every knob the daemon and
// CLI need: storage layout, upload limits, merge presets, worker sizing, and
// external collaborator endpoints.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
