// Package metadata persists the per-image JSON object embedded in each JPEG's
// EXIF UserComment.
//
// Every write is a read-modify-write of the whole object so keys written by
// other tools survive. Files whose comment cannot be decoded read as an empty
// object; only a missing file is reported as ErrFileMissing.
package metadata
