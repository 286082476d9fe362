package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns the scrape handler for the default registry. Gather
// errors surface as partial output rather than a failed scrape, so one
// broken collector cannot blind the whole platform.
func Handler() http.Handler {
	return promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// RegisterHandlers mounts the scrape endpoint on a caller-owned mux,
// for deployments that embed the scrape surface in an existing server
// instead of running the dedicated one.
func RegisterHandlers(mux *http.ServeMux) {
	mux.Handle("/metrics", Handler())
}
