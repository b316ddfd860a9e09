// Package segments derives, validates, persists, and looks up the statement
// boundaries of merged assets.
//
// Boundaries come from container timestamps: chapters written during concat
// and read back from the produced files. When a file carries no usable
// chapters the package falls back to cumulative clip durations or to
// proportional scaling of earlier boundaries.
//
// Each asset directory holds a segments.json sidecar. The sidecar schema is
// versioned and append-only: readers ignore unknown fields but refuse
// versions newer than they understand.
package segments
