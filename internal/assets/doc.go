// Package assets serves merged assets and pre-merge clips as byte streams.
//
// The Server resolves ids through the store, enforces moderation visibility,
// and answers single byte-range requests so players can seek straight to a
// statement. Filesystem paths never appear in returned errors.
package assets
