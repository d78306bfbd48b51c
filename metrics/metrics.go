// Package metrics exposes Prometheus counters for the validation service
// and a standalone metrics listener.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ValidationsTotal counts verify requests by final protocol status.
	ValidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "yubistack",
		Name:      "validations_total",
		Help:      "Validation requests by response status.",
	}, []string{"status"})

	// DecryptsTotal counts KSM decrypt attempts by result.
	DecryptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "yubistack",
		Name:      "decrypts_total",
		Help:      "KSM decrypt attempts by result.",
	}, []string{"result"})

	// ValidationDuration observes end-to-end verify handling time.
	ValidationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "yubistack",
		Name:      "validation_duration_seconds",
		Help:      "End-to-end verify request duration.",
		Buckets:   prometheus.DefBuckets,
	})

	// SyncAcksTotal counts replay-state notifications acknowledged by peers.
	SyncAcksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "yubistack",
		Name:      "sync_acks_total",
		Help:      "Peer sync notifications by outcome.",
	}, []string{"outcome"})
)

// MetricsServer serves the Prometheus scrape endpoint on its own listener.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server for the given listen address. The name is
// used as the HTTP server identity only; all collectors are registered on
// the default registry at package init.
func New(name, listenAddr string) (*MetricsServer, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &MetricsServer{
		srv: &http.Server{
			Addr:         listenAddr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}, nil
}

// ListenAndServe blocks serving the scrape endpoint.
func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

// Shutdown gracefully stops the metrics listener.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
