// Package drapto wraps the Drapto Go library as the second compression
// strategy for merged challenge videos.
//
// Library narrows Drapto's Reporter callbacks to encode percentages, which
// feed the merge job's compress stage. Everything else Drapto reports is
// logged at debug or warning level.
package drapto
