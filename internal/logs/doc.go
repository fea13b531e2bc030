// Package logs reads back the JSON log file written by borescope sessions.
//
// Tail returns the last lines of the file or the lines appended after a
// known offset, optionally waiting for new output. ParseEntry and Filter
// turn those lines into entries that can be narrowed to one component,
// image, or minimum level.
package logs
