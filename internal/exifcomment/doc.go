// Package exifcomment reads and rewrites the EXIF UserComment (tag 0x9286)
// of JPEG files.
//
// The rewrite keeps every other tag of IFD0, the Exif, GPS and Interop
// sub-IFDs, and a JPEG thumbnail in IFD1, re-laying out their values in the
// original byte order. Maker notes that embed absolute offsets are copied
// verbatim and may not survive relocation. Image data after the SOS marker is
// never touched.
//
// UserComment values carry an 8-byte character-code marker. EncodeText always
// writes the ASCII marker followed by UTF-8; DecodeText also accepts the
// UNICODE marker (UTF-16, BOM honoured, big-endian by default) and the
// undefined marker.
package exifcomment
