package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"autocompounder/core/events"
)

type eventMetrics struct {
	emitted *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry counting emitted vault events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vault",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of emitted vault events segmented by type and asset.",
			}, []string{"type", "asset"}),
		}
		prometheus.MustRegister(eventRegistry.emitted)
	})
	return eventRegistry
}

// Emit implements events.Emitter so the registry can sit in an emitter chain.
func (m *eventMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	asset := ""
	if payload := evt.Event(); payload != nil {
		asset = payload.Attributes["asset"]
	}
	m.Record(evt.EventType(), asset)
}

// Record increments the counter for the supplied event type and asset ticker.
func (m *eventMetrics) Record(eventType, asset string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToUpper(asset))
	if normalized == "" {
		normalized = "NONE"
	}
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		eventType = "unknown"
	}
	m.emitted.WithLabelValues(eventType, normalized).Inc()
}
