// Package metrics holds the Prometheus collectors for the caption pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RecordingsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "caplog_recordings_active",
		Help: "Recordings currently consuming recognition results",
	})

	ResultsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "caplog_results_received_total",
		Help: "Recognition results submitted to a recording queue",
	})

	ResultsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "caplog_results_evicted_total",
		Help: "Queued results dropped to admit newer ones",
	})

	ResultsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "caplog_results_rejected_total",
		Help: "Results filtered out by confidence, validity or duplicate checks",
	})

	EntriesAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caplog_entries_accepted_total",
		Help: "Accepted transcript entries by kind",
	}, []string{"kind"})

	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caplog_store_errors_total",
		Help: "Storage failures by operation",
	}, []string{"op"})

	Exports = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caplog_exports_total",
		Help: "Export files written by format",
	}, []string{"format"})

	ExportDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "caplog_export_duration_seconds",
		Help:    "Time to read, render and write one export",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	})
)
