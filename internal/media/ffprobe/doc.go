// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// Key types:
//   - Result: parsed ffprobe output containing streams, chapters, and format metadata
//   - Stream: individual audio/video stream properties
//   - Chapter: a titled time range, used to recover statement boundaries
//
// Primary entry points:
//   - Inspect: executes ffprobe and returns parsed Result
//   - Parse: decodes a previously captured JSON payload
//
// Helper methods on Result provide stream lookup, millisecond durations,
// and frame-rate parsing.
package ffprobe
