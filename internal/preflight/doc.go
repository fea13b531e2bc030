// Package preflight runs environment checks before a workspace is opened.
//
// Checks cover what flushing needs to succeed: the image folder must exist
// and be writable, its filesystem must have room for rewritten images, and
// the optional ntfy endpoint should answer. The doctor command prints every
// result; workspace.Open refuses to start when a required check fails.
package preflight
