package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/blacktide/blacktide/internal/health"
)

var (
	RunsTotal         = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "blacktide_runs_total", Help: "collection runs finished"}, []string{"source", "status"})
	EntriesTotal      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "blacktide_entries_total", Help: "detection entries collected"}, []string{"source"})
	SkippedTotal      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "blacktide_skipped_total", Help: "records skipped during parse"}, []string{"source"})
	PagesFetchedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "blacktide_pages_fetched_total", Help: "portal pages fetched"}, []string{"source"})
	AuthFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "blacktide_auth_failures_total", Help: "portal authentication failures"}, []string{"source", "kind"})
	ExportBatches     = prometheus.NewCounter(prometheus.CounterOpts{Name: "blacktide_export_batches_total", Help: "feed batches exported"})
)

func init() {
	prometheus.MustRegister(RunsTotal, EntriesTotal, SkippedTotal, PagesFetchedTotal, AuthFailuresTotal, ExportBatches)
}

func Serve(addr string, log *zap.SugaredLogger) {
	http.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Warn("metrics server stopped", "err", err)
	}
}

func ServeWithHealth(addr string, healthHandler *health.Handler, log *zap.SugaredLogger) {
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/health", healthHandler.HealthHandler)
	http.HandleFunc("/ready", healthHandler.ReadinessHandler)
	http.HandleFunc("/live", healthHandler.LivenessHandler)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Warn("metrics server stopped", "err", err)
	}
}
