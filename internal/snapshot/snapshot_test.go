package snapshot_test

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"borescope/internal/evaluation"
	"borescope/internal/logging"
	"borescope/internal/metadata"
	"borescope/internal/snapshot"
	"borescope/internal/testsupport"
)

func mustRules(t *testing.T, groups ...[]string) evaluation.RuleSet {
	t.Helper()
	rules, err := evaluation.ParseRules(groups)
	if err != nil {
		t.Fatalf("ParseRules: %v", err)
	}
	return rules
}

// scenarioFolder writes A (damage), B (no metadata) and C (use=no).
func scenarioFolder(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	testsupport.WriteJPEG(t, filepath.Join(dir, "A.jpg"), map[string]any{
		"evaluation": map[string]any{"categories": []string{"Scratches"}},
	})
	testsupport.WriteJPEG(t, filepath.Join(dir, "B.jpg"), nil)
	testsupport.WriteJPEG(t, filepath.Join(dir, "C.jpg"), map[string]any{
		"use_image": "no",
	})
	return dir
}

func build(t *testing.T, dir string, rules evaluation.RuleSet) *snapshot.Cache {
	t.Helper()
	snap := snapshot.New(metadata.NewFileStore(logging.NewNop()), rules)
	if err := snap.Build(context.Background(), dir); err != nil {
		t.Fatalf("Build: %v", err)
	}
	return snap
}

func TestScenarioDefaultRules(t *testing.T) {
	dir := scenarioFolder(t)
	snap := build(t, dir, mustRules(t, []string{"has_damage"}))

	if !snap.IsEvaluated("A.jpg") {
		t.Fatal("A.jpg should be evaluated")
	}
	if snap.IsEvaluated("B.jpg") {
		t.Fatal("B.jpg should not be evaluated")
	}
	if snap.IsEvaluated("C.jpg") {
		t.Fatal("C.jpg should not be evaluated without the use_image_no rule")
	}
	if snap.Dirty() || snap.Folder() != dir {
		t.Fatalf("unexpected state dirty=%v folder=%q", snap.Dirty(), snap.Folder())
	}
}

func TestScenarioUseImageNoRule(t *testing.T) {
	dir := scenarioFolder(t)
	snap := build(t, dir, mustRules(t, []string{"has_damage"}, []string{"use_image_no"}))

	if !snap.IsEvaluated("C.jpg") {
		t.Fatal("C.jpg should be evaluated with the use_image_no rule")
	}
	if !snap.IsEvaluated(filepath.Join(dir, "A.jpg")) {
		t.Fatal("lookup by full path should work")
	}
	stats := snap.Stats()
	if stats.Total != 3 || stats.Evaluated != 2 || stats.Remaining != 1 || stats.Unused != 1 || stats.Damaged != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestLegacyRuleWhenNoRules(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteJPEG(t, filepath.Join(dir, "typed.jpg"), map[string]any{
		"evaluation": map[string]any{"categories": []string{"Pitting"}, "image_type": "Overview"},
	})
	testsupport.WriteJPEG(t, filepath.Join(dir, "damage_only.jpg"), map[string]any{
		"evaluation": map[string]any{"categories": []string{"Pitting"}},
	})
	testsupport.WriteJPEG(t, filepath.Join(dir, "quality.jpg"), map[string]any{
		"damage_categories": []string{"Micropitting"},
		"image_quality":     "Good",
	})

	snap := build(t, dir, evaluation.RuleSet{})
	if !snap.IsEvaluated("typed.jpg") || !snap.IsEvaluated("quality.jpg") {
		t.Fatal("legacy rule should accept damage with image type or quality")
	}
	if snap.IsEvaluated("damage_only.jpg") {
		t.Fatal("legacy rule should reject damage alone")
	}
}

func TestInvalidateAndRefresh(t *testing.T) {
	dir := scenarioFolder(t)
	snap := build(t, dir, mustRules(t, []string{"has_damage"}))

	refreshed, err := snap.RefreshIfNeeded(context.Background())
	if err != nil || refreshed {
		t.Fatalf("clean snapshot should not rebuild: %v %v", refreshed, err)
	}

	testsupport.WriteJPEG(t, filepath.Join(dir, "B.jpg"), map[string]any{
		"damage_categories": []string{"Pitting"},
	})
	if snap.IsEvaluated("B.jpg") {
		t.Fatal("snapshot must not change before a rebuild")
	}
	snap.Invalidate()
	if !snap.Dirty() {
		t.Fatal("expected dirty after Invalidate")
	}
	refreshed, err = snap.RefreshIfNeeded(context.Background())
	if err != nil || !refreshed {
		t.Fatalf("expected rebuild: %v %v", refreshed, err)
	}
	if !snap.IsEvaluated("B.jpg") || snap.Dirty() {
		t.Fatal("rebuild should pick up the change")
	}
}

func TestRefreshWithoutFolderIsNoop(t *testing.T) {
	snap := snapshot.New(testsupport.NewMemoryStore(), evaluation.RuleSet{})
	refreshed, err := snap.RefreshIfNeeded(context.Background())
	if err != nil || refreshed {
		t.Fatalf("expected no rebuild without a folder: %v %v", refreshed, err)
	}
}

func TestBuildSkipsNonImagesAndCorruptMetadata(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteJPEG(t, filepath.Join(dir, "ok.jpg"), nil)
	testsupport.WriteRawComment(t, filepath.Join(dir, "corrupt.JPG"), []byte("ASCII\x00\x00\x00{broken"))
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "fake.jpg"), []byte("not a jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.jpg"), 0o755); err != nil {
		t.Fatal(err)
	}

	snap := build(t, dir, mustRules(t, []string{"has_damage"}))
	var names []string
	for _, e := range snap.Entries() {
		names = append(names, e.Name)
	}
	if !slices.Equal(names, []string{"corrupt.JPG", "fake.jpg", "ok.jpg"}) {
		t.Fatalf("unexpected entries %v", names)
	}
	e, ok := snap.Entry("fake.jpg")
	if !ok || e.Evaluated || !e.Used {
		t.Fatalf("unreadable image should be an unevaluated default entry: %+v", e)
	}
}

func TestBuildMissingFolder(t *testing.T) {
	snap := snapshot.New(testsupport.NewMemoryStore(), evaluation.RuleSet{})
	if err := snap.Build(context.Background(), filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error for missing folder")
	}
}

func tagFolder(t *testing.T) *snapshot.Cache {
	t.Helper()
	dir := t.TempDir()
	images := map[string]map[string]any{
		"001.jpg": {"tag": "PS-1", "damage_categories": []string{"Pitting"}},
		"002.jpg": {"tag": "PS-1"},
		"003.jpg": {"ocr_tag": "ps-2", "evaluation": map[string]any{"gene": true, "categories": []string{"Scratches"}}},
		"004.jpg": {"tag": "HS-1", "evaluation": map[string]any{"gene": true}},
		"005.jpg": {"tag": "HSS-4", "damage_categories": []string{"Spalling"}},
		"006.jpg": nil,
		"007.jpg": {"tag": "PS-1", "evaluation": map[string]any{"gene": true}},
	}
	for name, md := range images {
		testsupport.WriteJPEG(t, filepath.Join(dir, name), md)
	}
	return build(t, dir, mustRules(t, []string{"has_damage"}))
}

func TestTagQueries(t *testing.T) {
	snap := tagFolder(t)

	if got := snap.TagProgress("ps-1"); got != (snapshot.Progress{Done: 1, Total: 3}) {
		t.Fatalf("unexpected PS-1 progress %+v", got)
	}
	if got := snap.ImagesForTag("PS-1"); !slices.Equal(got, []string{"001.jpg", "002.jpg", "007.jpg"}) {
		t.Fatalf("unexpected PS-1 images %v", got)
	}
	if first, ok := snap.FirstImageForTag("PS-2"); !ok || first != "003.jpg" {
		t.Fatalf("unexpected first image %q %v", first, ok)
	}
	if _, ok := snap.FirstImageForTag("XX"); ok {
		t.Fatal("unknown tag should have no first image")
	}
	if snap.Tag("003.jpg") != "ps-2" {
		t.Fatalf("OCR tag should be used as fallback, got %q", snap.Tag("003.jpg"))
	}
	if got := snap.Tags(); !slices.Equal(got, []string{"HS-1", "HSS-4", "PS-1", "ps-2"}) {
		t.Fatalf("unexpected tags %v", got)
	}
	stats := snap.Stats()
	if stats.Tags != 4 || stats.Untagged != 1 || stats.GeneFlagged != 3 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestFindTagsFuzzy(t *testing.T) {
	snap := tagFolder(t)

	got := snap.FindTags("hs")
	if len(got) != 2 || !slices.Contains(got, "HS-1") || !slices.Contains(got, "HSS-4") {
		t.Fatalf("unexpected fuzzy matches %v", got)
	}
	if all := snap.FindTags("  "); len(all) != 4 {
		t.Fatalf("empty pattern should return every tag, got %v", all)
	}
	if none := snap.FindTags("zzz"); len(none) != 0 {
		t.Fatalf("expected no matches, got %v", none)
	}
}

func TestCategoryQueries(t *testing.T) {
	snap := tagFolder(t)
	table := map[string]string{
		"PS-1":  "Planetary stage",
		"PS-2":  "Planetary stage",
		"HS-1":  "High speed shaft",
		"HSS-4": "High speed shaft",
	}

	if got := snap.ImagesForCategory("planetary stage", table); !slices.Equal(got, []string{"001.jpg", "002.jpg", "003.jpg", "007.jpg"}) {
		t.Fatalf("unexpected planetary images %v", got)
	}
	if got := snap.CategoryProgress("High speed shaft", table); got != (snapshot.Progress{Done: 1, Total: 2}) {
		t.Fatalf("unexpected HSS progress %+v", got)
	}
	if got := snap.ImagesForCategory("Bearings", table); len(got) != 0 {
		t.Fatalf("expected no images, got %v", got)
	}
}

func TestGeneFlaggedCycle(t *testing.T) {
	snap := tagFolder(t)

	if got := snap.GeneFlagged(); !slices.Equal(got, []string{"003.jpg", "004.jpg", "007.jpg"}) {
		t.Fatalf("unexpected flagged images %v", got)
	}
	if !snap.IsGeneFlagged("004.jpg") || snap.IsGeneFlagged("001.jpg") {
		t.Fatal("IsGeneFlagged disagrees with the snapshot")
	}

	steps := []struct{ after, want string }{
		{"", "003.jpg"},
		{"001.jpg", "003.jpg"},
		{"003.jpg", "004.jpg"},
		{"005.jpg", "007.jpg"},
		{"007.jpg", "003.jpg"},
		{"999.jpg", "003.jpg"},
	}
	for _, s := range steps {
		got, ok := snap.NextGeneFlagged(s.after)
		if !ok || got != s.want {
			t.Fatalf("NextGeneFlagged(%q) = %q, want %q", s.after, got, s.want)
		}
	}
}

func TestNextGeneFlaggedEmpty(t *testing.T) {
	dir := scenarioFolder(t)
	snap := build(t, dir, mustRules(t, []string{"has_damage"}))
	if _, ok := snap.NextGeneFlagged(""); ok {
		t.Fatal("expected no flagged image")
	}
}
