// Package flusher runs the single background goroutine that drains pending
// evaluation edits into the image files.
//
// The worker flushes a small batch on every tick, serves FlushNow requests
// on its own goroutine, and always performs one final drain before it exits.
package flusher
