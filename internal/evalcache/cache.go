package evalcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"borescope/internal/evaluation"
	"borescope/internal/logging"
	"borescope/internal/metadata"
)

const (
	defaultReadThroughMax        = 500
	defaultFlushAllBatch         = 10
	defaultFlushAllMaxIterations = 50
)

// ErrEmptyPath is returned by setters and Flush when path is empty.
var ErrEmptyPath = errors.New("empty image path")

// Stats is a point-in-time view of the cache.
type Stats struct {
	Pending        int    `json:"pending" yaml:"pending"`
	Cached         int    `json:"cached" yaml:"cached"`
	ReadThroughMax int    `json:"read_through_max" yaml:"read_through_max"`
	Hits           uint64 `json:"hits" yaml:"hits"`
	Misses         uint64 `json:"misses" yaml:"misses"`
	Evictions      uint64 `json:"evictions" yaml:"evictions"`
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger used for load and flush diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithReadThroughMax bounds the number of remembered persisted values. Zero
// disables the read-through cache.
func WithReadThroughMax(n int) Option {
	return func(c *Cache) {
		if n >= 0 {
			c.readThroughMax = n
		}
	}
}

// WithFlushAllLimits sets the FlushAll batch size and iteration cap.
func WithFlushAllLimits(batch, maxIterations int) Option {
	return func(c *Cache) {
		if batch > 0 {
			c.flushAllBatch = batch
		}
		if maxIterations > 0 {
			c.flushAllMaxIterations = maxIterations
		}
	}
}

// WithClock overrides the time source used to stamp pending changes.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// Cache is a read-through, write-back cache of evaluation state keyed by
// image path. It is safe for concurrent use.
type Cache struct {
	store  metadata.Store
	logger *slog.Logger
	now    func() time.Time

	readThroughMax        int
	flushAllBatch         int
	flushAllMaxIterations int

	state *state
}

// New constructs a Cache over store.
func New(store metadata.Store, opts ...Option) *Cache {
	c := &Cache{
		store:                 store,
		now:                   time.Now,
		readThroughMax:        defaultReadThroughMax,
		flushAllBatch:         defaultFlushAllBatch,
		flushAllMaxIterations: defaultFlushAllMaxIterations,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.NewComponentLogger(c.logger, "evalcache")
	c.state = newState(c.readThroughMax)
	return c
}

// Evaluation returns the current evaluation of path, pending edits included.
// Paths without metadata yield an empty record.
func (c *Cache) Evaluation(path string) evaluation.Record {
	res := c.state.lookup(path)
	if res.pending != nil && res.pending.record != nil {
		return *res.pending.record
	}
	return c.resolve(path, res).record
}

// Used returns the use flag of path, pending edits included. It defaults to
// true.
func (c *Cache) Used(path string) bool {
	res := c.state.lookup(path)
	if res.pending != nil && res.pending.used != nil {
		return *res.pending.used
	}
	return c.resolve(path, res).used
}

func (c *Cache) resolve(path string, res lookupResult) persisted {
	if res.cached != nil {
		c.state.hit()
		return *res.cached
	}
	if path == "" {
		return defaultPersisted()
	}
	value, ok := c.load(path)
	if ok {
		c.state.remember(path, value, res.gen)
	}
	return value
}

// load reads path from the store. ok is false when the value must not be
// cached.
func (c *Cache) load(path string) (persisted, bool) {
	obj, err := c.store.Read(path)
	if err != nil {
		if errors.Is(err, metadata.ErrFileMissing) {
			c.logger.Debug("image missing, using defaults",
				logging.String(logging.FieldImagePath, path),
			)
		} else {
			logging.WarnWithContext(c.logger, "metadata read failed, using defaults", "metadata_read_failed",
				logging.String(logging.FieldImagePath, path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check file permissions and that the file is a JPEG"),
				logging.String(logging.FieldImpact, "image shown as unevaluated until the next read"),
			)
		}
		return defaultPersisted(), false
	}
	return persisted{
		record: evaluation.FromMetadata(obj),
		used:   evaluation.UsedFromMetadata(obj),
	}, true
}

// SetEvaluation merges patch into the evaluation of path and queues the
// result for flushing.
func (c *Cache) SetEvaluation(path string, patch evaluation.Patch) error {
	if path == "" {
		return ErrEmptyPath
	}
	if patch.IsEmpty() {
		return nil
	}
	base := c.Evaluation(path)
	c.state.setRecord(path, patch, base, c.now())
	return nil
}

// SetUsed queues a use-flag change for path.
func (c *Cache) SetUsed(path string, used bool) error {
	if path == "" {
		return ErrEmptyPath
	}
	c.state.setUsed(path, used, c.now())
	return nil
}

// HasPending reports whether path has unflushed changes.
func (c *Cache) HasPending(path string) bool {
	return c.state.hasPending(path)
}

// HasAnyPending reports whether any path has unflushed changes.
func (c *Cache) HasAnyPending() bool {
	return c.state.pendingCount() > 0
}

// PendingPaths lists paths with unflushed changes, oldest first.
func (c *Cache) PendingPaths() []string {
	return c.state.pendingPaths(0, nil)
}

// PendingBatch lists at most n paths with unflushed changes, oldest first.
func (c *Cache) PendingBatch(n int) []string {
	return c.state.pendingPaths(n, nil)
}

// Clear drops pending and cached state of path without flushing.
func (c *Cache) Clear(path string) {
	c.state.purge(path)
}

// ClearAll drops all pending and cached state without flushing.
func (c *Cache) ClearAll() {
	c.state.clearAll()
}

// Stats returns counters describing the cache.
func (c *Cache) Stats() Stats {
	return c.state.stats()
}

// Flush persists the pending change of path. A path without pending changes
// succeeds without I/O. When the file is gone its state is purged and the
// returned error matches metadata.ErrFileMissing; any other error leaves the
// change pending behind every other pending path.
func (c *Cache) Flush(path string) error {
	if path == "" {
		return ErrEmptyPath
	}
	change, ok := c.state.pendingCopy(path)
	if !ok {
		return nil
	}
	if !c.store.Exists(path) {
		c.state.purge(path)
		return fmt.Errorf("flush %s: %w", path, metadata.ErrFileMissing)
	}

	obj, err := c.store.Read(path)
	if err != nil {
		c.failed(path, err)
		return fmt.Errorf("flush %s: read metadata: %w", path, err)
	}
	if change.record != nil {
		evaluation.ApplyRecord(obj, *change.record)
	}
	if change.used != nil {
		evaluation.ApplyUsed(obj, *change.used)
	}
	if err := c.store.Write(path, obj); err != nil {
		c.failed(path, err)
		return fmt.Errorf("flush %s: write metadata: %w", path, err)
	}

	if !c.state.completeFlush(path, change.seq) {
		c.logger.Debug("newer edit arrived during flush, keeping it pending",
			logging.String(logging.FieldImagePath, path),
		)
	}
	return nil
}

func (c *Cache) failed(path string, err error) {
	if errors.Is(err, metadata.ErrFileMissing) {
		c.state.purge(path)
		return
	}
	c.state.requeue(path)
}

// FlushAll drains pending changes in batches until none remain or the
// iteration cap is reached. Each path is attempted at most once per call.
// report, when non-nil, is called after every attempt. Leftover paths whose
// files are gone are purged. It returns the number of successful flushes.
func (c *Cache) FlushAll(ctx context.Context, report func(path string, err error)) int {
	attempted := make(map[string]bool)
	flushed := 0
	for iteration := 0; iteration < c.flushAllMaxIterations; iteration++ {
		if ctx.Err() != nil {
			break
		}
		batch := c.state.pendingPaths(c.flushAllBatch, attempted)
		if len(batch) == 0 {
			break
		}
		for _, path := range batch {
			attempted[path] = true
			err := c.Flush(path)
			if err == nil {
				flushed++
			}
			if report != nil {
				report(path, err)
			}
		}
	}

	purged := c.purgeVanished(attempted)
	if purged > 0 {
		c.logger.Info("purged pending changes of vanished images",
			logging.Int("count", purged),
		)
	}
	return flushed
}

func (c *Cache) purgeVanished(skip map[string]bool) int {
	purged := 0
	for _, path := range c.state.pendingPaths(0, skip) {
		if !c.store.Exists(path) {
			c.state.purge(path)
			purged++
		}
	}
	return purged
}
