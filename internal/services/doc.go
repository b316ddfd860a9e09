// Package services defines shared utilities consumed by the upload, merge,
// and serving layers.
//
// Key responsibilities:
//   - Context helpers that stamp session IDs, challenge IDs, job IDs, stage
//     names, and correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so callers classify
//     failures with errors.Is regardless of how deep they were raised.
//   - Statement slot annotation so a terminal failure can name the one clip
//     that needs re-recording.
package services
