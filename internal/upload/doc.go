// Package upload implements resumable chunked upload sessions.
//
// A Manager is constructed once per process and shared by every request
// handler. Sessions are persisted in the store; chunk bytes live in the
// chunk store under one directory per session. Chunk acceptance for a
// single session is serialized by a per-session lock so parallel streams
// from one client are safe, while unrelated sessions never contend.
//
// Complete verifies every stored chunk again, concatenates them in chunk
// order, and hands the file to the assembler. ExpirySweep is driven by the
// workflow runner rather than clients.
package upload
