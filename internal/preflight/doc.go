// Package preflight provides readiness checks for the filesystem paths and
// external endpoints clipstitch depends on.
//
// These checks run in two contexts:
//   - The daemon registers each directory check as a workflow health check,
//     so /api/health reports an unwritable data tree.
//   - The CLI "config validate" command prints RunAll results.
//
// Endpoint checks are gated by configuration; unset endpoints are skipped.
package preflight
