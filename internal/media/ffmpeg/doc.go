// Package ffmpeg drives the ffmpeg binary for the merge pipeline.
//
// Transcoder exposes the three operations a merge needs: Normalize re-encodes
// a clip to the shared target profile, Concat joins normalized clips with a
// stream copy and writes one chapter per input, and Compress applies an
// encoder preset. All three stream `-progress pipe:1` output through
// ParseProgress so callers receive percent updates.
//
// The command runner is injectable so tests never need a real ffmpeg.
package ffmpeg
