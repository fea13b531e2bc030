package evaluation

import (
	"slices"
	"strings"
)

// Record is the structured judgment for one image.
type Record struct {
	Categories []string `json:"categories" yaml:"categories"`
	Quality    string   `json:"quality" yaml:"quality"`
	ImageType  string   `json:"image_type" yaml:"image_type"`
	ImageTypes []string `json:"image_types" yaml:"image_types"`
	Notes      string   `json:"notes" yaml:"notes"`
	Gene       bool     `json:"gene" yaml:"gene"`
}

// Clone returns a deep copy so callers never share slices with the cache.
func (r Record) Clone() Record {
	out := r
	out.Categories = slices.Clone(r.Categories)
	out.ImageTypes = slices.Clone(r.ImageTypes)
	return out
}

// IsZero reports whether nothing has been recorded.
func (r Record) IsZero() bool {
	return len(r.Categories) == 0 && r.Quality == "" && r.ImageType == "" &&
		len(r.ImageTypes) == 0 && r.Notes == "" && !r.Gene
}

// HasDamage reports whether at least one damage category is selected.
func (r Record) HasDamage() bool {
	return len(r.Categories) > 0
}

// HasImageType reports whether a primary or secondary image type is set.
func (r Record) HasImageType() bool {
	return strings.TrimSpace(r.ImageType) != "" || len(r.ImageTypes) > 0
}

// HasCategory reports whether category is selected, ignoring case.
func (r Record) HasCategory(category string) bool {
	for _, c := range r.Categories {
		if strings.EqualFold(c, category) {
			return true
		}
	}
	return false
}

// Patch is a partial update. Nil fields are left untouched; for the slice
// fields nil means untouched and an empty non-nil slice clears the value.
type Patch struct {
	Categories []string
	Quality    *string
	ImageType  *string
	ImageTypes []string
	Notes      *string
	Gene       *bool
}

// IsEmpty reports whether the patch touches no field.
func (p Patch) IsEmpty() bool {
	return p.Categories == nil && p.Quality == nil && p.ImageType == nil &&
		p.ImageTypes == nil && p.Notes == nil && p.Gene == nil
}

// Apply returns base with every touched field replaced.
func (p Patch) Apply(base Record) Record {
	out := base.Clone()
	if p.Categories != nil {
		out.Categories = normalizeList(p.Categories)
	}
	if p.Quality != nil {
		out.Quality = strings.TrimSpace(*p.Quality)
	}
	if p.ImageType != nil {
		out.ImageType = strings.TrimSpace(*p.ImageType)
	}
	if p.ImageTypes != nil {
		out.ImageTypes = normalizeList(p.ImageTypes)
	}
	if p.Notes != nil {
		out.Notes = *p.Notes
	}
	if p.Gene != nil {
		out.Gene = *p.Gene
	}
	return out
}

// Ptr returns a pointer to v, for building patches inline.
func Ptr[T any](v T) *T {
	return &v
}

func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
