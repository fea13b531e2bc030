package evaluation

import (
	"strconv"
	"strings"
)

// Keys of the JSON object embedded in each image.
const (
	KeyEvaluation        = "evaluation"
	KeyUseImage          = "use_image"
	KeyUseImageStr       = "use_image_str"
	KeyUseImageBool      = "use_image_bool"
	KeyDamageCategories  = "damage_categories"
	KeyImageQuality      = "image_quality"
	KeyDamageDescription = "damage_description"
	KeyTag               = "tag"
	KeyOCRTag            = "ocr_tag"
)

// FromMetadata extracts the evaluation from a persisted object. Fields absent
// from the nested evaluation object fall back to the flat mirror fields.
func FromMetadata(md map[string]any) Record {
	var rec Record
	if md == nil {
		return rec
	}
	nested, _ := md[KeyEvaluation].(map[string]any)

	if v, ok := lookup(nested, "categories"); ok {
		rec.Categories = toStrings(v)
	} else if v, ok := md[KeyDamageCategories]; ok {
		rec.Categories = toStrings(v)
	}
	if v, ok := lookup(nested, "quality"); ok {
		rec.Quality = toString(v)
	} else if v, ok := md[KeyImageQuality]; ok {
		rec.Quality = toString(v)
	}
	if v, ok := lookup(nested, "notes"); ok {
		rec.Notes = toString(v)
	} else if v, ok := md[KeyDamageDescription]; ok {
		rec.Notes = toString(v)
	}
	if v, ok := lookup(nested, "image_type"); ok {
		rec.ImageType = toString(v)
	}
	if v, ok := lookup(nested, "image_types"); ok {
		rec.ImageTypes = toStrings(v)
	}
	if v, ok := lookup(nested, "gene"); ok {
		rec.Gene, _ = toBool(v)
	}
	return rec
}

// ApplyRecord writes rec into md, keeping unknown keys of the nested
// evaluation object and refreshing the flat mirror fields.
func ApplyRecord(md map[string]any, rec Record) {
	nested, _ := md[KeyEvaluation].(map[string]any)
	if nested == nil {
		nested = make(map[string]any)
	}
	categories := nonNil(rec.Categories)
	nested["categories"] = categories
	nested["quality"] = rec.Quality
	nested["image_type"] = rec.ImageType
	nested["image_types"] = nonNil(rec.ImageTypes)
	nested["notes"] = rec.Notes
	nested["gene"] = rec.Gene
	md[KeyEvaluation] = nested

	md[KeyDamageCategories] = categories
	md[KeyImageQuality] = rec.Quality
	md[KeyDamageDescription] = rec.Notes
}

// UsedFromMetadata returns the use flag, defaulting to true when no encoding
// is present or none can be parsed. The boolean encoding wins over the
// string encodings.
func UsedFromMetadata(md map[string]any) bool {
	for _, key := range []string{KeyUseImageBool, KeyUseImage, KeyUseImageStr} {
		v, ok := md[key]
		if !ok {
			continue
		}
		if used, ok := toBool(v); ok {
			return used
		}
	}
	return true
}

// ApplyUsed writes all three use-flag encodings.
func ApplyUsed(md map[string]any, used bool) {
	md[KeyUseImage] = YesNo(used)
	md[KeyUseImageStr] = YesNo(used)
	md[KeyUseImageBool] = used
}

// TagFromMetadata returns the component code, preferring an operator tag over
// an OCR suggestion.
func TagFromMetadata(md map[string]any) string {
	if tag := strings.TrimSpace(toString(md[KeyTag])); tag != "" {
		return tag
	}
	return strings.TrimSpace(toString(md[KeyOCRTag]))
}

// YesNo renders the string form of the use flag.
func YesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func lookup(m map[string]any, key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m[key]
	return v, ok
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func toString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

func toStrings(v any) []string {
	switch val := v.(type) {
	case []string:
		return normalizeList(val)
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s := toString(item); s != "" {
				out = append(out, s)
			}
		}
		return normalizeList(out)
	case string:
		if strings.TrimSpace(val) == "" {
			return nil
		}
		return normalizeList(strings.Split(val, ","))
	default:
		return nil
	}
}

func toBool(v any) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case float64:
		return val != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "yes", "y", "true", "1":
			return true, true
		case "no", "n", "false", "0":
			return false, true
		}
	}
	return false, false
}
