// Package storage writes result pages to a sharded directory tree.
//
// Each page gets its own JSON document named after its sequence number.
// The number is zero padded, reversed, and its leading digits become
// nested directories, so consecutive pages land in different directories
// and no directory grows past ten entries per level:
//
//	sequence 42, width 7, depth 4 -> 2/4/0/0/results.0000042.json
//
// Writes go to a temporary file that is renamed into place, so a crash never
// leaves a half-written document and a rerun overwrites a page cleanly.
package storage
