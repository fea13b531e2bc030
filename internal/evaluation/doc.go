// Package evaluation defines the per-image judgment recorded by operators and
// the rules that decide whether an image counts as evaluated.
//
// A Record is the full evaluation; a Patch carries only the fields an edit
// touched and is merged field-by-field. The persisted helpers translate
// between Records and the JSON object embedded in each image, including the
// redundant use-flag encodings and flat mirror fields older readers expect.
package evaluation
