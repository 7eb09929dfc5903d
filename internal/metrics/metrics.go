// Package metrics holds the process-level metrics and the optional
// Prometheus scrape endpoint. Component-specific metrics live next to the
// components that record them.
package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	uptime = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "logstream_uptime_seconds",
		Help: "Process uptime in seconds",
	})

	componentErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logstream_errors_total",
		Help: "Errors by component and severity",
	}, []string{"component", "severity"})

	componentHealth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "logstream_component_health",
		Help: "Component health status (1=healthy, 0=unhealthy)",
	}, []string{"component"})

	goroutines = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "logstream_goroutines",
		Help: "Number of active goroutines",
	})

	memoryUsage = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "logstream_memory_usage_bytes",
		Help: "Memory usage statistics",
	}, []string{"type"})

	startTime = time.Now()
)

// ErrorInc counts one error for a component.
func ErrorInc(component, severity string) {
	componentErrors.WithLabelValues(component, severity).Inc()
}

// ComponentHealthSet flags a component healthy or unhealthy.
func ComponentHealthSet(component string, healthy bool) {
	v := float64(1)
	if !healthy {
		v = 0
	}
	componentHealth.WithLabelValues(component).Set(v)
}

// UpdateSystemMetrics refreshes the runtime gauges. Called periodically by
// the metrics server.
func UpdateSystemMetrics() {
	uptime.Set(time.Since(startTime).Seconds())
	goroutines.Set(float64(runtime.NumGoroutine()))

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	memoryUsage.WithLabelValues("alloc").Set(float64(m.Alloc))
	memoryUsage.WithLabelValues("total_alloc").Set(float64(m.TotalAlloc))
	memoryUsage.WithLabelValues("sys").Set(float64(m.Sys))
	memoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))
}
