// Package metrics exposes Prometheus instruments for the conversion engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// conversionsTotal counts converted tags by direction
	conversionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "unitlens_conversions_total",
		Help: "Total unit tags converted by direction",
	}, []string{"direction"})

	// failuresTotal counts tags that could not be converted
	failuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "unitlens_conversion_failures_total",
		Help: "Total unit tag conversion failures by source",
	}, []string{"source"})

	nodesVisited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unitlens_nodes_visited_total",
		Help: "Total document nodes visited by the scanner",
	})

	// batchDuration tracks how long a mutation batch or full scan takes
	batchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "unitlens_batch_duration_seconds",
		Help:    "Mutation batch processing duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12), // 0.1ms to ~400ms
	}, []string{"trigger"})

	openDocuments = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "unitlens_open_documents",
		Help: "Number of live documents being observed",
	})

	eventClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "unitlens_event_clients",
		Help: "Number of connected Server-Sent Events clients",
	})
)

// Batch triggers.
const (
	TriggerMutation = "mutation"
	TriggerLoad     = "load"
)

// ObserveBatch records one processed batch.
func ObserveBatch(trigger string, d time.Duration, visited, failed int) {
	batchDuration.WithLabelValues(trigger).Observe(d.Seconds())
	nodesVisited.Add(float64(visited))
	if failed > 0 {
		failuresTotal.WithLabelValues(trigger).Add(float64(failed))
	}
}

// RecordConversion counts one converted tag.
func RecordConversion(direction string) {
	conversionsTotal.WithLabelValues(direction).Inc()
}

// DocumentOpened and DocumentClosed track the live document gauge.
func DocumentOpened() { openDocuments.Inc() }

func DocumentClosed() { openDocuments.Dec() }

// SetEventClients reports the number of connected event stream clients.
func SetEventClients(n int) { eventClients.Set(float64(n)) }

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
