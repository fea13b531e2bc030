package workspace_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"borescope/internal/evalcache"
	"borescope/internal/evaluation"
	"borescope/internal/logging"
	"borescope/internal/testsupport"
	"borescope/internal/workspace"
)

func openWorkspace(t *testing.T, folder string, opts ...testsupport.ConfigOption) *workspace.Workspace {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	ws, err := workspace.Open(context.Background(), cfg, folder)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close(context.Background()) })
	return ws
}

func TestOpenEditCloseWritesImages(t *testing.T) {
	folder := t.TempDir()
	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		testsupport.WriteJPEG(t, filepath.Join(folder, name), nil)
	}
	ws := openWorkspace(t, folder)

	path, err := ws.Path("a.jpg")
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	if err := ws.Cache().SetEvaluation(path, evaluation.Patch{Categories: []string{"Crack"}}); err != nil {
		t.Fatalf("SetEvaluation: %v", err)
	}
	if err := ws.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	md := testsupport.ReadMetadata(t, path)
	if got := evaluation.FromMetadata(md).Categories; len(got) != 1 || got[0] != "Crack" {
		t.Fatalf("expected persisted category, got %v", got)
	}
	if _, err := os.Stat(filepath.Join(folder, workspace.LockFileName)); err != nil {
		t.Fatalf("lock file: %v", err)
	}
}

func TestSecondOpenIsLocked(t *testing.T) {
	folder := t.TempDir()
	first := openWorkspace(t, folder)

	cfg := testsupport.NewConfig(t)
	_, err := workspace.Open(context.Background(), cfg, folder)
	if !errors.Is(err, workspace.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}

	if err := first.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	again, err := workspace.Open(context.Background(), cfg, folder)
	if err != nil {
		t.Fatalf("reopen after close: %v", err)
	}
	_ = again.Close(context.Background())
}

func TestOpenWithoutLockAllowsSharing(t *testing.T) {
	folder := t.TempDir()
	openWorkspace(t, folder, testsupport.WithoutLock())
	openWorkspace(t, folder, testsupport.WithoutLock())
	if _, err := os.Stat(filepath.Join(folder, workspace.LockFileName)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected no lock file, got %v", err)
	}
}

func TestOpenRejectsMissingFolder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := workspace.Open(context.Background(), cfg, filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing folder")
	}
}

func TestPathStaysInsideFolder(t *testing.T) {
	folder := t.TempDir()
	ws := openWorkspace(t, folder)

	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{name: "relative", input: "img.jpg"},
		{name: "absolute", input: filepath.Join(folder, "img.jpg")},
		{name: "empty", input: "  ", wantErr: evalcache.ErrEmptyPath},
		{name: "parent", input: "../img.jpg", wantErr: workspace.ErrOutsideFolder},
		{name: "nested", input: "sub/img.jpg", wantErr: workspace.ErrOutsideFolder},
		{name: "folder", input: folder, wantErr: workspace.ErrOutsideFolder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ws.Path(tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v (%q)", tt.wantErr, err, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Path: %v", err)
			}
			if got != filepath.Join(folder, "img.jpg") {
				t.Fatalf("unexpected path %q", got)
			}
		})
	}
}

func TestRefreshFlushesAndRebuildsSnapshot(t *testing.T) {
	folder := t.TempDir()
	for _, name := range []string{"a.jpg", "b.jpg"} {
		testsupport.WriteJPEG(t, filepath.Join(folder, name), nil)
	}
	ws := openWorkspace(t, folder, testsupport.WithFlush(3600, 5))
	ctx := context.Background()

	snap, err := ws.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if got := snap.Stats(); got.Total != 2 || got.Evaluated != 0 {
		t.Fatalf("unexpected initial stats %+v", got)
	}

	path, _ := ws.Path("b.jpg")
	if err := ws.Cache().SetEvaluation(path, evaluation.Patch{Categories: []string{"Pitting"}}); err != nil {
		t.Fatalf("SetEvaluation: %v", err)
	}
	n, err := ws.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 flushed, got %d", n)
	}
	if !snap.IsEvaluated("b.jpg") || snap.IsEvaluated("a.jpg") {
		t.Fatalf("snapshot not rebuilt: %+v", snap.Entries())
	}
}

func TestSetTagPreservesEvaluation(t *testing.T) {
	folder := t.TempDir()
	path := filepath.Join(folder, "a.jpg")
	testsupport.WriteJPEG(t, path, map[string]any{"operator": "kim"})
	ws := openWorkspace(t, folder, testsupport.WithFlush(3600, 5))
	ctx := context.Background()

	if err := ws.Cache().SetEvaluation(path, evaluation.Patch{Quality: evaluation.Ptr("Good")}); err != nil {
		t.Fatalf("SetEvaluation: %v", err)
	}
	if err := ws.SetTag(ctx, path, " HPT-1 "); err != nil {
		t.Fatalf("SetTag: %v", err)
	}
	if err := ws.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	md := testsupport.ReadMetadata(t, path)
	if md["tag"] != "HPT-1" || md["operator"] != "kim" {
		t.Fatalf("unexpected metadata %v", md)
	}
	if got := evaluation.FromMetadata(md).Quality; got != "Good" {
		t.Fatalf("quality lost, got %q", got)
	}
}

func TestSetTagMissingImage(t *testing.T) {
	folder := t.TempDir()
	ws := openWorkspace(t, folder)
	err := ws.SetTag(context.Background(), filepath.Join(folder, "gone.jpg"), "X")
	if err == nil || !strings.Contains(err.Error(), "missing") {
		t.Fatalf("expected missing file error, got %v", err)
	}
}

func TestCloseLogsUnsavedEdits(t *testing.T) {
	folder := t.TempDir()
	path := filepath.Join(folder, "a.jpg")
	store := testsupport.NewMemoryStore()
	store.Put(path, nil)
	store.FailWrites(path, 1000)

	logPath := filepath.Join(t.TempDir(), "workspace.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}
	cfg := testsupport.NewConfig(t, testsupport.WithFlush(3600, 5))
	ws, err := workspace.Open(context.Background(), cfg, folder,
		workspace.WithStore(store),
		workspace.WithLogger(logger),
	)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := ws.Cache().SetUsed(path, false); err != nil {
		t.Fatalf("SetUsed: %v", err)
	}
	if err := ws.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var unsaved string
	for _, line := range strings.Split(string(content), "\n") {
		if strings.Contains(line, `"event_type":"workspace_unsaved"`) {
			unsaved = line
		}
	}
	if unsaved == "" {
		t.Fatalf("missing unsaved edits entry:\n%s", content)
	}
	if !strings.Contains(unsaved, `"level":"error"`) || !strings.Contains(unsaved, "a.jpg") {
		t.Fatalf("unexpected unsaved edits entry: %s", unsaved)
	}
	if !strings.Contains(string(content), `"cache":{`) {
		t.Fatalf("close entry should carry cache stats:\n%s", content)
	}
}

func TestClosedWorkspaceRejectsWork(t *testing.T) {
	folder := t.TempDir()
	ws := openWorkspace(t, folder)
	if err := ws.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := ws.Close(context.Background()); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := ws.Snapshot(context.Background()); !errors.Is(err, workspace.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestWatcherInvalidatesSnapshot(t *testing.T) {
	folder := t.TempDir()
	testsupport.WriteJPEG(t, filepath.Join(folder, "a.jpg"), nil)
	ws := openWorkspace(t, folder, testsupport.WithWatch(20))
	ctx := context.Background()

	snap, err := ws.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	testsupport.WriteJPEG(t, filepath.Join(folder, "b.jpg"), nil)

	deadline := time.Now().Add(3 * time.Second)
	for !snap.Dirty() {
		if time.Now().After(deadline) {
			t.Fatal("snapshot was not invalidated by the watcher")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := ws.Snapshot(ctx); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if got := snap.Stats().Total; got != 2 {
		t.Fatalf("expected 2 images after rebuild, got %d", got)
	}
}

func TestMetricsTrackFlushes(t *testing.T) {
	folder := t.TempDir()
	path := filepath.Join(folder, "a.jpg")
	testsupport.WriteJPEG(t, path, nil)
	ws := openWorkspace(t, folder, testsupport.WithFlush(3600, 5))

	if err := ws.Cache().SetUsed(path, false); err != nil {
		t.Fatalf("SetUsed: %v", err)
	}
	if _, err := ws.Worker().FlushNow(context.Background()); err != nil {
		t.Fatalf("FlushNow: %v", err)
	}
	var out strings.Builder
	if err := ws.Metrics().WriteText(&out); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	if !strings.Contains(out.String(), "borescope_flush_succeeded_total 1") {
		t.Fatalf("missing flush counter:\n%s", out.String())
	}
}
