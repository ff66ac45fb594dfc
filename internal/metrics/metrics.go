// Package metrics exposes Prometheus collectors for mailing runs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EmailsTotal counts dispatch attempts by outcome status.
	EmailsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "automailer",
		Name:      "emails_total",
		Help:      "Confirmation emails attempted, by status.",
	}, []string{"status"})

	// SheetWritesTotal counts write-back batches by result.
	SheetWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "automailer",
		Name:      "sheet_writes_total",
		Help:      "Tracking code write-back batches, by result.",
	}, []string{"status"})

	// RunsTotal counts send runs by result.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "automailer",
		Name:      "runs_total",
		Help:      "Send runs, by result.",
	}, []string{"result"})

	// DispatchDuration observes the wall time of whole dispatch loops.
	DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "automailer",
		Name:      "dispatch_duration_seconds",
		Help:      "Duration of a dispatch loop.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
