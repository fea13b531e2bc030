package evaluation_test

import (
	"slices"
	"testing"

	"borescope/internal/evaluation"
)

func TestPatchApplyKeepsUntouchedFields(t *testing.T) {
	base := evaluation.Record{Quality: "High", Notes: "rim wear"}
	got := evaluation.Patch{Categories: []string{"Pitting"}}.Apply(base)

	if got.Quality != "High" {
		t.Fatalf("expected quality to survive, got %q", got.Quality)
	}
	if got.Notes != "rim wear" {
		t.Fatalf("expected notes to survive, got %q", got.Notes)
	}
	if !slices.Equal(got.Categories, []string{"Pitting"}) {
		t.Fatalf("unexpected categories: %v", got.Categories)
	}
}

func TestPatchApplyEmptySliceClears(t *testing.T) {
	base := evaluation.Record{Categories: []string{"Scratches"}}
	got := evaluation.Patch{Categories: []string{}}.Apply(base)
	if len(got.Categories) != 0 {
		t.Fatalf("expected categories cleared, got %v", got.Categories)
	}
}

func TestPatchApplyNormalizesLists(t *testing.T) {
	got := evaluation.Patch{Categories: []string{" Pitting ", "", "Pitting", "Micropitting"}}.Apply(evaluation.Record{})
	if !slices.Equal(got.Categories, []string{"Pitting", "Micropitting"}) {
		t.Fatalf("unexpected categories: %v", got.Categories)
	}
}

func TestPatchApplyDoesNotAliasBase(t *testing.T) {
	base := evaluation.Record{Categories: []string{"Scratches"}}
	got := evaluation.Patch{Quality: evaluation.Ptr("Low")}.Apply(base)
	got.Categories[0] = "mutated"
	if base.Categories[0] != "Scratches" {
		t.Fatal("patch result shares backing array with base")
	}
}

func TestPatchIsEmpty(t *testing.T) {
	if !(evaluation.Patch{}).IsEmpty() {
		t.Fatal("zero patch should be empty")
	}
	if (evaluation.Patch{Gene: evaluation.Ptr(false)}).IsEmpty() {
		t.Fatal("patch with gene set should not be empty")
	}
}
