package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"borescope/internal/evaluation"
	"borescope/internal/logging"
	"borescope/internal/metadata"
)

// Entry is the derived state of one image.
type Entry struct {
	Name       string   `json:"name" yaml:"name"`
	Tag        string   `json:"tag,omitempty" yaml:"tag,omitempty"`
	Evaluated  bool     `json:"evaluated" yaml:"evaluated"`
	Categories []string `json:"categories,omitempty" yaml:"categories,omitempty"`
	Quality    string   `json:"quality,omitempty" yaml:"quality,omitempty"`
	Used       bool     `json:"used" yaml:"used"`
	Gene       bool     `json:"gene" yaml:"gene"`
}

// Progress counts evaluated images out of a total.
type Progress struct {
	Done  int `json:"done" yaml:"done"`
	Total int `json:"total" yaml:"total"`
}

// Stats aggregates the whole folder.
type Stats struct {
	Total       int `json:"total" yaml:"total"`
	Evaluated   int `json:"evaluated" yaml:"evaluated"`
	Remaining   int `json:"remaining" yaml:"remaining"`
	Damaged     int `json:"damaged" yaml:"damaged"`
	Unused      int `json:"unused" yaml:"unused"`
	GeneFlagged int `json:"gene_flagged" yaml:"gene_flagged"`
	Untagged    int `json:"untagged" yaml:"untagged"`
	Tags        int `json:"tags" yaml:"tags"`
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithImageFilter decides which directory entries are images.
func WithImageFilter(isImage func(name string) bool) Option {
	return func(c *Cache) {
		if isImage != nil {
			c.isImage = isImage
		}
	}
}

// Cache holds the latest snapshot of one folder.
type Cache struct {
	store   metadata.Store
	rules   evaluation.RuleSet
	isImage func(name string) bool
	logger  *slog.Logger

	mu      sync.RWMutex
	folder  string
	entries map[string]Entry
	names   []string // sorted
	dirty   bool
	gen     uint64
	builtAt time.Time
}

// New constructs an empty, dirty snapshot.
func New(store metadata.Store, rules evaluation.RuleSet, opts ...Option) *Cache {
	c := &Cache{
		store:   store,
		rules:   rules,
		isImage: defaultIsImage,
		entries: make(map[string]Entry),
		dirty:   true,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.NewComponentLogger(c.logger, "snapshot")
	return c
}

func defaultIsImage(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return true
	}
	return false
}

// Build rescans folder and replaces the snapshot. Unreadable metadata
// counts as an unevaluated image. An Invalidate during the scan leaves the
// new snapshot dirty.
func (c *Cache) Build(ctx context.Context, folder string) error {
	c.mu.RLock()
	gen := c.gen
	c.mu.RUnlock()

	dirEntries, err := os.ReadDir(folder)
	if err != nil {
		return fmt.Errorf("scan %s: %w", folder, err)
	}

	start := time.Now()
	entries := make(map[string]Entry, len(dirEntries))
	names := make([]string, 0, len(dirEntries))
	for _, de := range dirEntries {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := de.Name()
		if de.IsDir() || strings.HasPrefix(name, ".") || !c.isImage(name) {
			continue
		}
		entry, ok := c.classify(filepath.Join(folder, name))
		if !ok {
			continue
		}
		entries[name] = entry
		names = append(names, name)
	}
	slices.Sort(names)

	c.mu.Lock()
	c.folder = folder
	c.entries = entries
	c.names = names
	c.dirty = c.gen != gen
	c.builtAt = time.Now()
	c.mu.Unlock()

	c.logger.Debug("snapshot built",
		logging.String(logging.FieldFolder, folder),
		logging.Int("images", len(names)),
		logging.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func (c *Cache) classify(path string) (Entry, bool) {
	name := filepath.Base(path)
	obj, err := c.store.Read(path)
	if err != nil {
		if errors.Is(err, metadata.ErrFileMissing) {
			return Entry{}, false
		}
		c.logger.Debug("treating unreadable image as unevaluated",
			logging.String(logging.FieldImagePath, path),
			logging.Error(err),
		)
		return Entry{Name: name, Used: true}, true
	}
	rec := evaluation.FromMetadata(obj)
	used := evaluation.UsedFromMetadata(obj)
	return Entry{
		Name:       name,
		Tag:        evaluation.TagFromMetadata(obj),
		Evaluated:  c.rules.IsEvaluated(rec, used),
		Categories: rec.Categories,
		Quality:    rec.Quality,
		Used:       used,
		Gene:       rec.Gene,
	}, true
}

// Invalidate marks the snapshot dirty without rebuilding it.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirty = true
	c.gen++
}

// RefreshIfNeeded rebuilds the snapshot when it is dirty and a folder has
// been built before. It reports whether a rebuild happened.
func (c *Cache) RefreshIfNeeded(ctx context.Context) (bool, error) {
	c.mu.RLock()
	folder, dirty := c.folder, c.dirty
	c.mu.RUnlock()
	if !dirty || folder == "" {
		return false, nil
	}
	if err := c.Build(ctx, folder); err != nil {
		return false, err
	}
	return true, nil
}

// Folder returns the folder of the last build.
func (c *Cache) Folder() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.folder
}

// Dirty reports whether the snapshot needs a rebuild.
func (c *Cache) Dirty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dirty
}

// BuiltAt returns when the snapshot was last built.
func (c *Cache) BuiltAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.builtAt
}

func key(name string) string {
	return filepath.Base(name)
}

// Entry returns the snapshot of one image, looked up by file name or path.
func (c *Cache) Entry(name string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key(name)]
	if !ok {
		return Entry{}, false
	}
	e.Categories = slices.Clone(e.Categories)
	return e, true
}

// Entries returns every image in name order.
func (c *Cache) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, 0, len(c.names))
	for _, name := range c.names {
		e := c.entries[name]
		e.Categories = slices.Clone(e.Categories)
		out = append(out, e)
	}
	return out
}

// IsEvaluated reports whether the image counts as evaluated.
func (c *Cache) IsEvaluated(name string) bool {
	e, _ := c.Entry(name)
	return e.Evaluated
}

// Tag returns the component tag of the image.
func (c *Cache) Tag(name string) string {
	e, _ := c.Entry(name)
	return e.Tag
}
