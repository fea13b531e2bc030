// Package snapshot keeps a read-only, folder-wide classification of images
// for progress counters and filters.
//
// A snapshot is rebuilt wholesale from the metadata store and never writes.
// It does not observe the write-back cache: callers Invalidate it after
// edits that should show up in the counters and call RefreshIfNeeded before
// reading them.
package snapshot
