package metrics_test

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/common/expfmt"

	"borescope/internal/evalcache"
	"borescope/internal/metadata"
	"borescope/internal/metrics"
)

func TestWriteTextRoundTrips(t *testing.T) {
	reg := metrics.New()
	reg.ObserveFlush("a.jpg", nil)
	reg.ObserveFlush("b.jpg", nil)
	reg.ObserveFlush("c.jpg", errors.New("locked"))
	reg.ObserveFlush("d.jpg", fmt.Errorf("flush d.jpg: %w", metadata.ErrFileMissing))
	reg.TrackCache(func() evalcache.Stats {
		return evalcache.Stats{Pending: 4, Cached: 7, Evictions: 2}
	})
	reg.Gauge("images_evaluated", "Evaluated images in the folder.", func() float64 { return 12 })

	var buf bytes.Buffer
	if err := reg.WriteText(&buf); err != nil {
		t.Fatalf("WriteText: %v", err)
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(&buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	counters := map[string]float64{
		"borescope_flush_succeeded_total": 2,
		"borescope_flush_failed_total":    1,
		"borescope_flush_purged_total":    1,
	}
	for name, want := range counters {
		mf, ok := families[name]
		if !ok {
			t.Fatalf("missing family %s", name)
		}
		if got := mf.GetMetric()[0].GetCounter().GetValue(); got != want {
			t.Fatalf("%s = %v, want %v", name, got, want)
		}
	}
	gauges := map[string]float64{
		"borescope_pending_changes":        4,
		"borescope_read_through_entries":   7,
		"borescope_read_through_evictions": 2,
		"borescope_images_evaluated":       12,
	}
	for name, want := range gauges {
		mf, ok := families[name]
		if !ok {
			t.Fatalf("missing family %s", name)
		}
		if got := mf.GetMetric()[0].GetGauge().GetValue(); got != want {
			t.Fatalf("%s = %v, want %v", name, got, want)
		}
	}
}

func TestGatherIsSorted(t *testing.T) {
	reg := metrics.New()
	reg.Gauge("zz", "last", func() float64 { return 0 })
	reg.Gauge("aa", "first", func() float64 { return 0 })
	families := reg.Gather()
	for i := 1; i < len(families); i++ {
		if families[i-1].GetName() > families[i].GetName() {
			t.Fatalf("families not sorted: %s > %s", families[i-1].GetName(), families[i].GetName())
		}
	}
}
