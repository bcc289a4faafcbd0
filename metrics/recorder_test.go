package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRecorderCountsWithSortedTagKeys(t *testing.T) {
	registry := prometheus.NewRegistry()
	recorder := NewRecorder(registry)
	ctx := context.Background()

	recorder.IncCounter(ctx, "webhooks.dispatch.total", 1, map[string]string{
		"provider_id": "stripe",
		"outcome":     "applied",
	})
	recorder.IncCounter(ctx, "webhooks.dispatch.total", 2, map[string]string{
		"outcome":     "applied",
		"provider_id": "stripe",
	})

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) != 1 {
		t.Fatalf("expected 1 metric family, got %d", len(families))
	}
	family := families[0]
	if family.GetName() != "webhooks_dispatch_total" {
		t.Fatalf("unexpected metric name %q", family.GetName())
	}
	if len(family.GetMetric()) != 1 {
		t.Fatalf("expected a single series, got %d", len(family.GetMetric()))
	}
	if got := family.GetMetric()[0].GetCounter().GetValue(); got != 3 {
		t.Fatalf("expected counter value 3, got %v", got)
	}
}

func TestRecorderDropsChangedTagSets(t *testing.T) {
	registry := prometheus.NewRegistry()
	recorder := NewRecorder(registry)
	ctx := context.Background()

	recorder.IncCounter(ctx, "webhooks.deliveries.total", 1, map[string]string{"provider_id": "stripe"})
	recorder.IncCounter(ctx, "webhooks.deliveries.total", 1, map[string]string{"outcome": "applied"})

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) != 1 {
		t.Fatalf("expected 1 metric family, got %d", len(families))
	}
	if got := families[0].GetMetric()[0].GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected mismatched sample to be dropped, counter=%v", got)
	}
}

func TestRecorderObservesHistograms(t *testing.T) {
	registry := prometheus.NewRegistry()
	recorder := NewRecorder(registry)

	recorder.ObserveHistogram(context.Background(), "webhooks.process.duration", 0.25, nil)

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) != 1 {
		t.Fatalf("expected 1 metric family, got %d", len(families))
	}
	histogram := families[0].GetMetric()[0].GetHistogram()
	if histogram.GetSampleCount() != 1 {
		t.Fatalf("expected 1 sample, got %d", histogram.GetSampleCount())
	}
}
