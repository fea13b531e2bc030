package metrics

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"borescope/internal/evalcache"
	"borescope/internal/metadata"
)

const namespace = "borescope"

type gauge struct {
	name string
	help string
	fn   func() float64
}

// Registry holds flush counters and registered gauges. It implements the
// flush worker's Observer interface.
type Registry struct {
	succeeded atomic.Uint64
	failed    atomic.Uint64
	purged    atomic.Uint64

	mu     sync.Mutex
	gauges []gauge
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{}
}

// ObserveFlush counts one flush attempt.
func (r *Registry) ObserveFlush(_ string, err error) {
	switch {
	case err == nil:
		r.succeeded.Add(1)
	case errors.Is(err, metadata.ErrFileMissing):
		r.purged.Add(1)
	default:
		r.failed.Add(1)
	}
}

// Gauge registers a value sampled on every Gather. name is prefixed with the
// borescope namespace.
func (r *Registry) Gauge(name, help string, fn func() float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gauges = append(r.gauges, gauge{name: namespace + "_" + name, help: help, fn: fn})
}

// TrackCache registers the standard write-back cache gauges.
func (r *Registry) TrackCache(stats func() evalcache.Stats) {
	r.Gauge("pending_changes", "Edits waiting to be written to image files.", func() float64 {
		return float64(stats().Pending)
	})
	r.Gauge("read_through_entries", "Persisted evaluations held in memory.", func() float64 {
		return float64(stats().Cached)
	})
	r.Gauge("read_through_evictions", "Read-through entries evicted since start.", func() float64 {
		return float64(stats().Evictions)
	})
}

// Gather snapshots every metric family, sorted by name.
func (r *Registry) Gather() []*dto.MetricFamily {
	families := []*dto.MetricFamily{
		counter(namespace+"_flush_succeeded_total", "Flushes that wrote an image.", r.succeeded.Load()),
		counter(namespace+"_flush_failed_total", "Flushes that failed and stay pending.", r.failed.Load()),
		counter(namespace+"_flush_purged_total", "Pending edits dropped because the image vanished.", r.purged.Load()),
	}

	r.mu.Lock()
	gauges := append([]gauge(nil), r.gauges...)
	r.mu.Unlock()
	for _, g := range gauges {
		families = append(families, &dto.MetricFamily{
			Name:   ptr(g.name),
			Help:   ptr(g.help),
			Type:   dto.MetricType_GAUGE.Enum(),
			Metric: []*dto.Metric{{Gauge: &dto.Gauge{Value: ptr(g.fn())}}},
		})
	}

	sort.Slice(families, func(i, j int) bool {
		return families[i].GetName() < families[j].GetName()
	})
	return families
}

// WriteText renders all metrics in the Prometheus text format.
func (r *Registry) WriteText(w io.Writer) error {
	for _, mf := range r.Gather() {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metric %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// ContentType is the media type of WriteText output.
func ContentType() string {
	return string(expfmt.NewFormat(expfmt.TypeTextPlain))
}

func counter(name, help string, value uint64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   ptr(name),
		Help:   ptr(help),
		Type:   dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{{Counter: &dto.Counter{Value: ptr(float64(value))}}},
	}
}

func ptr[T any](v T) *T {
	return &v
}
