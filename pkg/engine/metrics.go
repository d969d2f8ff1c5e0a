package engine

import "github.com/prometheus/client_golang/prometheus"

// prometheusRegistry gives each Kernel its own collector registry rather
// than the global default one, so more than one Kernel can run in the
// same process (embedding, tests) without colliding metric names.
func prometheusRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}
