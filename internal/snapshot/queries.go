package snapshot

import (
	"slices"
	"strings"

	"github.com/sahilm/fuzzy"
)

func sameTag(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// filter returns names matching keep, in name order. Callers hold c.mu.
func (c *Cache) filter(keep func(Entry) bool) []string {
	var out []string
	for _, name := range c.names {
		if keep(c.entries[name]) {
			out = append(out, name)
		}
	}
	return out
}

func (c *Cache) progress(keep func(Entry) bool) Progress {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var p Progress
	for _, name := range c.names {
		e := c.entries[name]
		if !keep(e) {
			continue
		}
		p.Total++
		if e.Evaluated {
			p.Done++
		}
	}
	return p
}

// TagProgress counts evaluated images carrying tag.
func (c *Cache) TagProgress(tag string) Progress {
	return c.progress(func(e Entry) bool { return e.Tag != "" && sameTag(e.Tag, tag) })
}

// ImagesForTag lists images carrying tag in name order.
func (c *Cache) ImagesForTag(tag string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter(func(e Entry) bool { return e.Tag != "" && sameTag(e.Tag, tag) })
}

// FirstImageForTag returns the first image carrying tag.
func (c *Cache) FirstImageForTag(tag string) (string, bool) {
	images := c.ImagesForTag(tag)
	if len(images) == 0 {
		return "", false
	}
	return images[0], true
}

func categoryMatcher(category string, tagCategories map[string]string) func(Entry) bool {
	folded := make(map[string]string, len(tagCategories))
	for tag, cat := range tagCategories {
		folded[strings.ToLower(strings.TrimSpace(tag))] = cat
	}
	return func(e Entry) bool {
		if e.Tag == "" {
			return false
		}
		cat, ok := folded[strings.ToLower(e.Tag)]
		return ok && strings.EqualFold(strings.TrimSpace(cat), strings.TrimSpace(category))
	}
}

// ImagesForCategory lists images whose tag maps to category in
// tagCategories (tag to category).
func (c *Cache) ImagesForCategory(category string, tagCategories map[string]string) []string {
	match := categoryMatcher(category, tagCategories)
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter(match)
}

// CategoryProgress counts evaluated images whose tag maps to category.
func (c *Cache) CategoryProgress(category string, tagCategories map[string]string) Progress {
	return c.progress(categoryMatcher(category, tagCategories))
}

// Stats aggregates the whole snapshot.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var s Stats
	tags := make(map[string]struct{})
	for _, name := range c.names {
		e := c.entries[name]
		s.Total++
		if e.Evaluated {
			s.Evaluated++
		}
		if len(e.Categories) > 0 {
			s.Damaged++
		}
		if !e.Used {
			s.Unused++
		}
		if e.Gene {
			s.GeneFlagged++
		}
		if e.Tag == "" {
			s.Untagged++
		} else {
			tags[strings.ToLower(e.Tag)] = struct{}{}
		}
	}
	s.Remaining = s.Total - s.Evaluated
	s.Tags = len(tags)
	return s
}

// Tags lists distinct tags in sorted order. Tags differing only in case are
// reported once, in the spelling seen first.
func (c *Cache) Tags() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, name := range c.names {
		tag := c.entries[name].Tag
		if tag == "" || seen[strings.ToLower(tag)] {
			continue
		}
		seen[strings.ToLower(tag)] = true
		out = append(out, tag)
	}
	slices.Sort(out)
	return out
}

// FindTags fuzzy-matches pattern against the known tags, best match first.
// An empty pattern returns every tag.
func (c *Cache) FindTags(pattern string) []string {
	tags := c.Tags()
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return tags
	}
	matches := fuzzy.Find(pattern, tags)
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Str
	}
	return out
}

// GeneFlagged lists images flagged for a second opinion, in name order.
func (c *Cache) GeneFlagged() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter(func(e Entry) bool { return e.Gene })
}

// IsGeneFlagged reports whether the image is flagged for a second opinion.
func (c *Cache) IsGeneFlagged(name string) bool {
	e, _ := c.Entry(name)
	return e.Gene
}

// NextGeneFlagged returns the first flagged image after the given one in
// name order, wrapping around to the start. An empty after starts at the
// beginning.
func (c *Cache) NextGeneFlagged(after string) (string, bool) {
	flagged := c.GeneFlagged()
	if len(flagged) == 0 {
		return "", false
	}
	if after == "" {
		return flagged[0], true
	}
	after = key(after)
	for _, name := range flagged {
		if name > after {
			return name, true
		}
	}
	return flagged[0], true
}
