// Package workspace opens an image folder for evaluation and owns the
// per-folder session: the write-back cache, its flush worker, the progress
// snapshot, and the lock that keeps a second process from writing the same
// images.
//
// Callers read and write evaluations through Cache, query progress through
// Snapshot, and must Close the workspace so pending edits reach disk.
package workspace
