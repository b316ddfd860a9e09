// Package merge turns a challenge's three clips into one merged asset with
// statement segment boundaries.
//
// Orchestrator.MergeSet runs normalize, concatenate, compress, and finalize
// in order. Only compression retries; it walks a ranked list of
// capability-checked Compressor strategies and records which one produced
// the asset. Finalize stages the file and its segment sidecar in a work
// directory and renames it into place before recording the asset, so a
// failed or timed-out run never leaves a visible asset behind.
package merge
