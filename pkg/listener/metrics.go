package listener

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeRegistrations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "logstream_listener_active_registrations",
		Help: "Number of currently active registrations",
	})

	eventsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logstream_listener_events_delivered_total",
		Help: "Events delivered to callbacks by kind",
	}, []string{"kind"})

	terminalErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logstream_listener_terminal_errors_total",
		Help: "Registrations terminated by a fatal error",
	})
)

// ActiveRegistrationsSet records the current registration count.
func ActiveRegistrationsSet(n int) { activeRegistrations.Set(float64(n)) }

// EventDeliveredInc counts one delivered event of the given kind.
func EventDeliveredInc(kind string) { eventsDelivered.WithLabelValues(kind).Inc() }

// TerminalErrorInc counts one fatally terminated registration.
func TerminalErrorInc() { terminalErrors.Inc() }
