package observe

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsHandler serves the Prometheus exposition format for whatever the
// OTel Prometheus exporter registered into the default registerer (see
// [InitProvider]). Mount it at /metrics alongside the health endpoints.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
