package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mu       sync.Mutex
	registry *prometheus.Registry
	enabled  bool
)

// InitRegistry creates the process-wide Prometheus registry. Calling it is
// what flips IsEnabled to true; every Observe*/Record* call is a no-op
// until it runs.
func InitRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	if registry == nil {
		registry = prometheus.NewRegistry()
		enabled = true
	}
	return registry
}

// GetRegistry returns the process-wide registry, initializing it if needed.
func GetRegistry() *prometheus.Registry {
	mu.Lock()
	r := registry
	mu.Unlock()
	if r != nil {
		return r
	}
	return InitRegistry()
}

// IsEnabled reports whether InitRegistry has run.
func IsEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}
