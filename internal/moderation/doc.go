// Package moderation gates merged assets behind an external content scan.
//
// NewScanner returns an HTTP client when moderation.url is configured and an
// allow-all scanner otherwise. The workflow runner calls Scan after a merge
// and records the verdict on the asset.
package moderation
