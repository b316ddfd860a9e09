// Package store persists upload sessions, assembled clips, merge jobs, and
// merged assets in SQLite and exposes the conditional transitions that keep
// their lifecycles consistent under concurrent callers.
//
// Merge jobs double as the work queue: workers claim pending rows, report
// stage/percent progress and heartbeats into them, and stale rows are
// reclaimed after a crash. Schema changes bump the version in schema.go;
// operators delete the database to adopt a new schema.
package store
