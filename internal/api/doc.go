// Package api defines wire-format types and converters for the HTTP API and
// the CLI. It translates internal store and workflow models into
// transport-friendly DTOs so clients never couple to internal types.
//
// # Key Types
//
// UploadSession/UploadStatus: session geometry plus the resumable progress
// view (received count, percent, missing chunk numbers).
//
// Clip, MergedAsset, Segment: catalog records. File paths are never part of
// a payload.
//
// MergeJob: the pollable job record (stage, percent, status, failure kind and
// statement slot).
//
// Health: daemon running state, job counts, and component readiness.
//
// # Converters
//
// FromSession, FromUploadStatus, FromClip, FromAsset, FromSegments, FromJob,
// FromStatusSummary.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Internal enums are exposed as lowercase
// strings. Timestamps use RFC3339 with milliseconds in UTC.
package api
