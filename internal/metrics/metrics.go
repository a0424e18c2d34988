// Package metrics exposes Prometheus instrumentation for the write
// workflows and a standalone scrape endpoint.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	// WorkflowsTotal counts workflow executions by name and outcome. The
	// outcome label is "success" or the machine-readable failure code.
	WorkflowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "futarch",
		Name:      "workflows_total",
		Help:      "Write workflow executions by outcome.",
	}, []string{"workflow", "outcome"})

	// SubmissionsTotal counts ledger submissions across all workflows.
	SubmissionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "futarch",
		Name:      "ledger_submissions_total",
		Help:      "Transactions submitted to the ledger.",
	})

	// CacheReads counts read-model cache lookups by result.
	CacheReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "futarch",
		Name:      "cache_reads_total",
		Help:      "Read-model cache lookups by hit or miss.",
	}, []string{"key", "result"})

	// ConfirmDuration tracks how long submission confirmation takes.
	ConfirmDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "futarch",
		Name:      "ledger_confirm_seconds",
		Help:      "Time from submission to confirmation.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
	})
)

// ObserveConfirm records one confirmed submission and its latency.
func ObserveConfirm(start time.Time) {
	SubmissionsTotal.Inc()
	ConfirmDuration.Observe(time.Since(start).Seconds())
}

// Serve runs the scrape endpoint on its own port, off the API listener.
// It blocks, so callers run it in a goroutine.
func Serve(port string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	logger.Info("metrics listener started", zap.String("port", port))
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		logger.Error("metrics listener stopped", zap.Error(err))
	}
}
