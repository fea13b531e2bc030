package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"borescope/internal/config"
	"borescope/internal/evalcache"
	"borescope/internal/evaluation"
	"borescope/internal/flusher"
	"borescope/internal/logging"
	"borescope/internal/metadata"
	"borescope/internal/metrics"
	"borescope/internal/notifications"
	"borescope/internal/preflight"
	"borescope/internal/snapshot"
	"borescope/internal/watch"
)

// LockFileName is created inside the folder while a workspace holds it.
const LockFileName = ".borescope.lock"

var (
	// ErrLocked is returned by Open when another process holds the folder.
	ErrLocked = errors.New("image folder is locked by another borescope process")
	// ErrClosed is returned by operations on a closed workspace.
	ErrClosed = errors.New("workspace closed")
	// ErrOutsideFolder is returned for image paths that escape the folder.
	ErrOutsideFolder = errors.New("image is outside the workspace folder")
)

// Option customises Open.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	store    metadata.Store
	notifier notifications.Service
}

// WithLogger sets the logger shared by every component of the workspace.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithStore replaces the on-disk metadata store.
func WithStore(store metadata.Store) Option {
	return func(o *options) { o.store = store }
}

// WithNotifier adds a sink for flush progress and errors alongside the
// configured ntfy notifier.
func WithNotifier(n notifications.Service) Option {
	return func(o *options) { o.notifier = n }
}

// Workspace is an open image folder.
type Workspace struct {
	cfg       *config.Config
	folder    string
	sessionID string
	logger    *slog.Logger

	store    metadata.Store
	cache    *evalcache.Cache
	worker   *flusher.Worker
	snapshot *snapshot.Cache
	metrics  *metrics.Registry
	ntfy     *notifications.Ntfy

	lock *flock.Flock

	watchCancel context.CancelFunc
	watchDone   chan struct{}

	mu     sync.Mutex
	closed bool
}

// Open validates folder, takes its lock, and starts the flush worker. The
// worker runs until Close or until ctx is cancelled.
func Open(ctx context.Context, cfg *config.Config, folder string, opts ...Option) (*Workspace, error) {
	if cfg == nil {
		return nil, errors.New("workspace: config is required")
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	abs, err := filepath.Abs(strings.TrimSpace(folder))
	if err != nil {
		return nil, fmt.Errorf("resolve folder: %w", err)
	}
	checks := []preflight.Result{
		preflight.CheckDirectoryAccess("Image folder", abs),
		preflight.CheckFreeSpace("Free space", abs, uint64(cfg.Workspace.MinFreeMiB)<<20),
	}
	if err := preflight.Required(checks); err != nil {
		return nil, err
	}

	sessionID := uuid.NewString()
	logger := o.logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.WithContext(logging.WithSessionID(ctx, sessionID), logger).
		With(logging.String(logging.FieldFolder, abs))

	ws := &Workspace{
		cfg:       cfg,
		folder:    abs,
		sessionID: sessionID,
		logger:    logging.NewComponentLogger(logger, "workspace"),
	}

	if cfg.Workspace.Lock {
		ws.lock = flock.New(filepath.Join(abs, LockFileName))
		ok, err := ws.lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquire folder lock: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrLocked, abs)
		}
	}

	ws.store = o.store
	if ws.store == nil {
		ws.store = metadata.NewFileStore(logger)
	}
	ws.cache = evalcache.New(ws.store,
		evalcache.WithLogger(logger),
		evalcache.WithReadThroughMax(cfg.Cache.ReadThroughMax),
		evalcache.WithFlushAllLimits(cfg.Flush.FlushAllBatch, cfg.Flush.FlushAllMaxIterations),
	)
	ws.snapshot = snapshot.New(ws.store, cfg.RuleSet(),
		snapshot.WithLogger(logger),
		snapshot.WithImageFilter(cfg.IsImage),
	)

	ws.metrics = metrics.New()
	ws.metrics.TrackCache(ws.cache.Stats)
	ws.metrics.Gauge("snapshot_images", "Images in the last folder snapshot.", func() float64 {
		return float64(ws.snapshot.Stats().Total)
	})
	ws.metrics.Gauge("snapshot_evaluated", "Evaluated images in the last folder snapshot.", func() float64 {
		return float64(ws.snapshot.Stats().Evaluated)
	})

	sinks := []notifications.Service{
		notifications.Funcs{OnProgress: func(string) { ws.snapshot.Invalidate() }},
	}
	if n, ok := notifications.NewService(cfg, logger).(*notifications.Ntfy); ok {
		ws.ntfy = n
		sinks = append(sinks, n)
	}
	if o.notifier != nil {
		sinks = append(sinks, o.notifier)
	}

	ws.worker = flusher.New(ws.cache,
		flusher.WithInterval(cfg.FlushInterval()),
		flusher.WithBatchSize(cfg.Flush.BatchSize),
		flusher.WithStopTimeout(cfg.StopTimeout()),
		flusher.WithNotifier(notifications.Multi(sinks...)),
		flusher.WithObserver(ws.metrics),
		flusher.WithLogger(logger),
	)
	if err := ws.worker.Start(ctx); err != nil {
		ws.unlock()
		return nil, err
	}

	if cfg.Workspace.Watch {
		if err := ws.startWatcher(ctx, logger); err != nil {
			_ = ws.worker.Stop(context.Background())
			<-ws.worker.Done()
			ws.unlock()
			return nil, err
		}
	}

	ws.logger.Info("workspace opened",
		logging.String(logging.FieldEventType, "workspace_opened"),
		logging.Bool("locked", ws.lock != nil),
		logging.Bool("watching", cfg.Workspace.Watch),
	)
	return ws, nil
}

func (ws *Workspace) startWatcher(ctx context.Context, logger *slog.Logger) error {
	w, err := watch.New(ws.folder, ws.cfg.WatchDebounce(), ws.cfg.IsImage, ws.snapshot.Invalidate, logger)
	if err != nil {
		return fmt.Errorf("watch folder: %w", err)
	}
	watchCtx, cancel := context.WithCancel(ctx)
	ws.watchCancel = cancel
	ws.watchDone = make(chan struct{})
	go func() {
		defer close(ws.watchDone)
		if err := w.Run(watchCtx); err != nil && !errors.Is(err, context.Canceled) {
			logging.WarnWithContext(ws.logger, "folder watcher stopped", "watch_stopped",
				logging.Error(err),
				logging.String(logging.FieldImpact, "progress is refreshed only on flush"),
			)
		}
	}()
	return nil
}

// Folder returns the absolute folder path.
func (ws *Workspace) Folder() string { return ws.folder }

// SessionID identifies this workspace session in logs.
func (ws *Workspace) SessionID() string { return ws.sessionID }

// Cache returns the write-back cache every evaluation read and write goes through.
func (ws *Workspace) Cache() *evalcache.Cache { return ws.cache }

// Worker returns the flush worker.
func (ws *Workspace) Worker() *flusher.Worker { return ws.worker }

// Metrics returns the flush and cache metrics registry.
func (ws *Workspace) Metrics() *metrics.Registry { return ws.metrics }

// Store returns the metadata store backing the cache.
func (ws *Workspace) Store() metadata.Store { return ws.store }

// Path resolves an image name or path to an absolute path inside the folder.
func (ws *Workspace) Path(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", evalcache.ErrEmptyPath
	}
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(ws.folder, path)
	}
	path = filepath.Clean(path)
	rel, err := filepath.Rel(ws.folder, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || strings.ContainsRune(rel, filepath.Separator) {
		return "", fmt.Errorf("%w: %s", ErrOutsideFolder, name)
	}
	return path, nil
}

// Snapshot returns the progress snapshot, building it on first use and
// rebuilding it when it has been invalidated.
func (ws *Workspace) Snapshot(ctx context.Context) (*snapshot.Cache, error) {
	if err := ws.ensureOpen(); err != nil {
		return nil, err
	}
	if ws.snapshot.Folder() == "" {
		if err := ws.snapshot.Build(ctx, ws.folder); err != nil {
			return nil, err
		}
		return ws.snapshot, nil
	}
	if _, err := ws.snapshot.RefreshIfNeeded(ctx); err != nil {
		return nil, err
	}
	return ws.snapshot, nil
}

// SetTag records the component code of an image. The write is serialized
// with the flush worker so it never interleaves with a pending flush of
// the same file.
func (ws *Workspace) SetTag(ctx context.Context, path, tag string) error {
	if err := ws.ensureOpen(); err != nil {
		return err
	}
	var writeErr error
	if err := ws.worker.Do(ctx, func() {
		if !ws.store.Exists(path) {
			writeErr = fmt.Errorf("%w: %s", metadata.ErrFileMissing, path)
			return
		}
		writeErr = ws.store.MergeUpdate(path, metadata.Object{evaluation.KeyTag: strings.TrimSpace(tag)})
	}); err != nil {
		return err
	}
	if writeErr != nil {
		return fmt.Errorf("set tag: %w", writeErr)
	}
	ws.snapshot.Invalidate()
	return nil
}

// Refresh writes every pending edit and rebuilds the snapshot.
func (ws *Workspace) Refresh(ctx context.Context) (int, error) {
	if err := ws.ensureOpen(); err != nil {
		return 0, err
	}
	n, err := ws.worker.FlushNow(ctx)
	if err != nil {
		return n, err
	}
	ws.snapshot.Invalidate()
	if _, err := ws.Snapshot(ctx); err != nil {
		return n, err
	}
	return n, nil
}

// Close stops the watcher and the flush worker, waits for pending edits to
// be written, and releases the folder lock. The lock is held until the
// final drain finishes or ctx is done.
func (ws *Workspace) Close(ctx context.Context) error {
	ws.mu.Lock()
	if ws.closed {
		ws.mu.Unlock()
		return nil
	}
	ws.closed = true
	ws.mu.Unlock()

	if ws.watchCancel != nil {
		ws.watchCancel()
		<-ws.watchDone
	}

	stopErr := ws.worker.Stop(ctx)
	if errors.Is(stopErr, flusher.ErrStopTimeout) {
		select {
		case <-ws.worker.Done():
		case <-ctx.Done():
		}
	}
	if stopErr == nil && ws.cache.HasAnyPending() {
		// Edits made after the worker exited.
		if _, err := ws.worker.FlushNow(ctx); err != nil {
			stopErr = err
		}
	}
	if ws.ntfy != nil {
		ws.ntfy.Wait()
	}

	unsaved := ws.cache.PendingPaths()
	if len(unsaved) > 0 {
		logging.ErrorWithContext(ws.logger, "workspace closed with unsaved edits", "workspace_unsaved",
			logging.Int("pending", len(unsaved)),
			logging.Strings("paths", unsaved),
			logging.String(logging.FieldImpact, "these edits were not written to the images"),
			logging.String(logging.FieldErrorHint, "check the flush errors above and re-apply the edits"),
		)
	}
	ws.unlock()
	ws.logger.Info("workspace closed",
		logging.String(logging.FieldEventType, "workspace_closed"),
		logging.Int("pending", len(unsaved)),
		logging.Any("cache", ws.cache.Stats()),
	)
	return stopErr
}

func (ws *Workspace) ensureOpen() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.closed {
		return ErrClosed
	}
	return nil
}

func (ws *Workspace) unlock() {
	if ws.lock == nil {
		return
	}
	if err := ws.lock.Unlock(); err != nil {
		logging.WarnWithContext(ws.logger, "failed to release folder lock", "lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove "+LockFileName+" if no borescope process is running"),
		)
	}
}
