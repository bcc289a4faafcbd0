// Package metrics adapts the pipeline's MetricsRecorder to Prometheus.
// All methods are fire-and-forget; registration failures are logged and the
// recorder keeps working with whatever collectors did register.
package metrics

import (
	"context"
	"sort"
	"strings"
	"sync"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/goliatone/go-billing-webhooks/core"
)

// Recorder lazily materializes one CounterVec or HistogramVec per metric
// name. Tag keys are fixed on first use; later calls with a different tag
// set for the same name are dropped, since Prometheus vectors cannot change
// label sets after registration.
type Recorder struct {
	registerer prometheus.Registerer
	logger     core.Logger

	mu         sync.Mutex
	counters   map[string]*counterEntry
	histograms map[string]*histogramEntry
}

type counterEntry struct {
	vec  *prometheus.CounterVec
	keys []string
}

type histogramEntry struct {
	vec  *prometheus.HistogramVec
	keys []string
}

type RecorderOption func(*Recorder)

func WithRecorderLogger(logger core.Logger) RecorderOption {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func NewRecorder(registerer prometheus.Registerer, opts ...RecorderOption) *Recorder {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	_, logger := glog.Resolve("billing-webhooks", nil, nil)
	recorder := &Recorder{
		registerer: registerer,
		logger:     glog.Ensure(logger),
		counters:   map[string]*counterEntry{},
		histograms: map[string]*histogramEntry{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(recorder)
		}
	}
	return recorder
}

func (r *Recorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if r == nil || value <= 0 {
		return
	}
	keys, values := splitTags(tags)

	r.mu.Lock()
	entry, ok := r.counters[name]
	if !ok {
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: sanitizeName(name),
			Help: "Counter " + name + " recorded by the webhook pipeline.",
		}, keys)
		if err := r.registerer.Register(vec); err != nil {
			r.mu.Unlock()
			r.logger.Warn("metrics: counter registration failed", "name", name, "error", err.Error())
			return
		}
		entry = &counterEntry{vec: vec, keys: keys}
		r.counters[name] = entry
	}
	r.mu.Unlock()

	if !sameKeys(entry.keys, keys) {
		r.logger.Warn("metrics: counter tag set changed, sample dropped", "name", name)
		return
	}
	entry.vec.WithLabelValues(values...).Add(float64(value))
}

func (r *Recorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	if r == nil {
		return
	}
	keys, values := splitTags(tags)

	r.mu.Lock()
	entry, ok := r.histograms[name]
	if !ok {
		vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    sanitizeName(name),
			Help:    "Histogram " + name + " recorded by the webhook pipeline.",
			Buckets: prometheus.DefBuckets,
		}, keys)
		if err := r.registerer.Register(vec); err != nil {
			r.mu.Unlock()
			r.logger.Warn("metrics: histogram registration failed", "name", name, "error", err.Error())
			return
		}
		entry = &histogramEntry{vec: vec, keys: keys}
		r.histograms[name] = entry
	}
	r.mu.Unlock()

	if !sameKeys(entry.keys, keys) {
		r.logger.Warn("metrics: histogram tag set changed, sample dropped", "name", name)
		return
	}
	entry.vec.WithLabelValues(values...).Observe(value)
}

func splitTags(tags map[string]string) ([]string, []string) {
	if len(tags) == 0 {
		return []string{}, []string{}
	}
	keys := make([]string, 0, len(tags))
	for key := range tags {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	values := make([]string, len(keys))
	for index, key := range keys {
		values[index] = tags[key]
	}
	return keys, values
}

func sameKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for index := range a {
		if a[index] != b[index] {
			return false
		}
	}
	return true
}

// sanitizeName maps dotted pipeline metric names onto the Prometheus
// namespace format ("webhooks.dispatch.total" becomes
// "webhooks_dispatch_total").
func sanitizeName(name string) string {
	var builder strings.Builder
	builder.Grow(len(name))
	for index, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			builder.WriteRune(r)
		case r >= '0' && r <= '9' && index > 0:
			builder.WriteRune(r)
		default:
			builder.WriteByte('_')
		}
	}
	return builder.String()
}

var _ core.MetricsRecorder = (*Recorder)(nil)
