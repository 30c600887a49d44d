package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"qrverify/internal/platform/health"
	"qrverify/internal/platform/metrics"
	"qrverify/internal/platform/middleware"
)

// NewRouter wires the operational endpoints: health probes and /metrics.
func NewRouter(h *health.Handler, m *metrics.Metrics, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Timeout(10 * time.Second))
	if m != nil {
		r.Use(middleware.Metrics(m))
	}

	h.Register(r)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}
