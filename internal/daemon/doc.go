// Package daemon coordinates the long-running clipstitch process.
//
// New builds the explicit service graph from configuration: the upload
// manager with its chunk store and assembler, the merge orchestrator with its
// ranked compressors, the segment index, the asset server, the moderation
// scanner, and the workflow runner that drives merge jobs. Start takes the
// flock-based data-dir lock (shared when a Redis coordination lock is
// configured) and serves the HTTP API.
//
// Keep orchestration logic here: upload, merge, and streaming behaviour live
// in their respective packages while the daemon focuses on wiring, startup,
// shutdown, and translating service errors to HTTP responses.
package daemon
