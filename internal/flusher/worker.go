package flusher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"borescope/internal/logging"
	"borescope/internal/metadata"
	"borescope/internal/notifications"
)

const (
	defaultInterval    = 3 * time.Second
	defaultBatchSize   = 5
	defaultStopTimeout = 5 * time.Second
)

var (
	// ErrStopTimeout is returned by Stop when the final drain outlives the
	// stop timeout. The drain keeps running; Done reports its completion.
	ErrStopTimeout = errors.New("flush worker did not stop in time")
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("flush worker already started")
)

// State is the lifecycle phase of a Worker.
type State int32

const (
	Idle State = iota
	Running
	StopRequested
	FinalFlush
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case StopRequested:
		return "stop_requested"
	case FinalFlush:
		return "final_flush"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Cache is the part of the write-back cache the worker drains.
type Cache interface {
	PendingBatch(n int) []string
	HasAnyPending() bool
	Flush(path string) error
	FlushAll(ctx context.Context, report func(path string, err error)) int
}

// Observer receives the outcome of every flush attempt.
type Observer interface {
	ObserveFlush(path string, err error)
}

// Option configures a Worker.
type Option func(*Worker)

// WithInterval sets the tick interval.
func WithInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithBatchSize sets how many paths are flushed per tick.
func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithStopTimeout bounds how long Stop waits for the final drain.
func WithStopTimeout(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.stopTimeout = d
		}
	}
}

// WithNotifier sets the progress/error notification sink.
func WithNotifier(n notifications.Service) Option {
	return func(w *Worker) {
		if n != nil {
			w.notifier = n
		}
	}
}

// WithObserver registers an observer of flush outcomes.
func WithObserver(o Observer) Option {
	return func(w *Worker) {
		w.observer = o
	}
}

// WithLogger sets the worker logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

type request struct {
	job  func()
	done chan struct{}
}

// Worker drains a Cache in the background.
type Worker struct {
	cache    Cache
	notifier notifications.Service
	observer Observer
	logger   *slog.Logger

	interval    time.Duration
	batchSize   int
	stopTimeout time.Duration

	state    atomic.Int32
	requests chan request
	done     chan struct{}

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc

	// drainMu serializes drains run after the loop has exited.
	drainMu sync.Mutex
}

// New constructs an idle Worker. Call Start to launch it.
func New(cache Cache, opts ...Option) *Worker {
	w := &Worker{
		cache:       cache,
		notifier:    notifications.Noop(),
		interval:    defaultInterval,
		batchSize:   defaultBatchSize,
		stopTimeout: defaultStopTimeout,
		requests:    make(chan request),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = logging.NewComponentLogger(w.logger, "flusher")
	return w
}

// State returns the current lifecycle phase.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Done is closed once the loop has finished its final drain.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Start launches the loop. Cancelling ctx has the same effect as Stop
// without the wait.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return ErrAlreadyStarted
	}
	w.started = true
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.state.Store(int32(Running))
	w.logger.Debug("flush worker started",
		logging.Duration("interval", w.interval),
		logging.Int("batch_size", w.batchSize),
	)
	go w.run(loopCtx)
	return nil
}

// Stop asks the loop to exit and waits up to the stop timeout for its final
// drain. A worker that was never started, or has already exited, drains any
// remaining changes in the background.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	started := w.started
	if !started {
		w.started = true
		close(w.done)
	}
	cancel := w.cancel
	w.mu.Unlock()

	if !started {
		w.state.Store(int32(Stopped))
		w.drainAsync()
		return nil
	}

	select {
	case <-w.done:
		w.drainAsync()
		return nil
	default:
	}

	w.state.CompareAndSwap(int32(Running), int32(StopRequested))
	cancel()

	timer := time.NewTimer(w.stopTimeout)
	defer timer.Stop()
	select {
	case <-w.done:
		return nil
	case <-timer.C:
		logging.WarnWithContext(w.logger, "final flush still running after stop timeout", "stop_timeout",
			logging.Duration("timeout", w.stopTimeout),
			logging.String(logging.FieldImpact, "pending edits are still being written in the background"),
			logging.String(logging.FieldErrorHint, "wait for the process to finish writing before removing the folder"),
		)
		return ErrStopTimeout
	case <-ctx.Done():
		return fmt.Errorf("stop flush worker: %w", ctx.Err())
	}
}

// FlushNow drains every pending change and returns how many were written.
// While the loop runs the drain happens on the worker goroutine.
func (w *Worker) FlushNow(ctx context.Context) (int, error) {
	var n int
	err := w.Do(ctx, func() {
		n = w.cache.FlushAll(context.Background(), w.report)
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Do runs job serialized with every flush: on the worker goroutine while
// the loop runs, otherwise under the drain lock once it has exited. Use it
// for any other write to the images of the folder.
func (w *Worker) Do(ctx context.Context, job func()) error {
	if w.State() == Running {
		req := request{job: job, done: make(chan struct{})}
		select {
		case w.requests <- req:
		case <-w.done:
			w.runExclusive(job)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case <-req.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case <-w.done:
	default:
		if w.State() != Idle {
			// Stop is in progress; wait for the final drain.
			select {
			case <-w.done:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	w.runExclusive(job)
	return nil
}

func (w *Worker) runExclusive(job func()) {
	w.drainMu.Lock()
	defer w.drainMu.Unlock()
	job()
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.state.CompareAndSwap(int32(Running), int32(StopRequested))
			w.finalFlush()
			return
		case req := <-w.requests:
			req.job()
			close(req.done)
		case <-ticker.C:
			w.tick()
		}
	}
}

func (w *Worker) tick() {
	paths := w.cache.PendingBatch(w.batchSize)
	if len(paths) == 0 {
		return
	}
	logger := w.logger.With(logging.String(logging.FieldFlushID, uuid.NewString()))
	flushed := 0
	for _, path := range paths {
		err := w.cache.Flush(path)
		w.report(path, err)
		if err == nil {
			flushed++
		}
	}
	logger.Debug("flush batch complete",
		logging.Int("attempted", len(paths)),
		logging.Int("flushed", flushed),
	)
}

func (w *Worker) finalFlush() {
	w.state.Store(int32(FinalFlush))
	defer w.state.Store(int32(Stopped))

	w.drainMu.Lock()
	defer w.drainMu.Unlock()
	if !w.cache.HasAnyPending() {
		return
	}
	n := w.cache.FlushAll(context.Background(), w.report)
	w.logger.Info("final flush complete", logging.Int("flushed", n))
}

func (w *Worker) drain() int {
	var n int
	w.runExclusive(func() {
		n = w.cache.FlushAll(context.Background(), w.report)
	})
	return n
}

func (w *Worker) drainAsync() {
	if !w.cache.HasAnyPending() {
		return
	}
	go func() {
		n := w.drain()
		w.logger.Info("late flush complete", logging.Int("flushed", n))
	}()
}

func (w *Worker) report(path string, err error) {
	if w.observer != nil {
		w.observer.ObserveFlush(path, err)
	}
	if err == nil {
		w.notifier.Progress(path)
		return
	}
	if errors.Is(err, metadata.ErrFileMissing) {
		w.logger.Info("image vanished, dropped pending edit",
			logging.String(logging.FieldImagePath, path),
			logging.String(logging.FieldEventType, "flush_purged"),
		)
	} else {
		logging.WarnWithContext(w.logger, "flush failed, will retry", "flush_failed",
			logging.String(logging.FieldImagePath, path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check that the file is writable and not locked by another program"),
			logging.String(logging.FieldImpact, "edit stays pending until the next flush"),
		)
	}
	w.notifier.Error(path, err.Error())
}
