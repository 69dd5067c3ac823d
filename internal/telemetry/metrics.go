package telemetry

import "github.com/prometheus/client_golang/prometheus"

var BookingsCreatedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tripdesk",
		Subsystem: "bookings",
		Name:      "created_total",
		Help:      "Total number of bookings created, by category.",
	},
	[]string{"category"},
)

var BookingsDispatchedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "tripdesk",
		Subsystem: "bookings",
		Name:      "dispatched_total",
		Help:      "Total number of bookings successfully dispatched to their owner.",
	},
)

var BookingsTerminalTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tripdesk",
		Subsystem: "bookings",
		Name:      "terminal_total",
		Help:      "Total number of bookings that reached a terminal state, by outcome.",
	},
	[]string{"outcome"}, // accepted | rejected | timeout
)

var DispatchFailuresTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tripdesk",
		Subsystem: "dispatch",
		Name:      "failures_total",
		Help:      "Total number of dispatch attempts that could not reach the owner, by reason.",
	},
	[]string{"reason"}, // no_owner | unreachable
)

var SweepRunsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "tripdesk",
		Subsystem: "sweeper",
		Name:      "runs_total",
		Help:      "Total number of sweeper ticks executed.",
	},
)

var SweepExpiredTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "tripdesk",
		Subsystem: "sweeper",
		Name:      "expired_total",
		Help:      "Total number of bookings timed out by the sweeper.",
	},
)

var NotifySendFailuresTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tripdesk",
		Subsystem: "notify",
		Name:      "send_failures_total",
		Help:      "Total number of outbound notifier sends that failed, by error kind.",
	},
	[]string{"kind"},
)

var NotifyRetriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tripdesk",
		Subsystem: "notify",
		Name:      "retries_total",
		Help:      "Total number of notifier send retries, by reason.",
	},
	[]string{"reason"}, // parse_mode | rate_limit | transient
)

// NotifyCounters adapts the package-level notify metrics to the small
// interface pkg/notify expects, so that package doesn't need to import
// prometheus directly.
type NotifyCounters struct{}

func (NotifyCounters) IncRetry(reason string)   { NotifyRetriesTotal.WithLabelValues(reason).Inc() }
func (NotifyCounters) IncFailure(kind string)    { NotifySendFailuresTotal.WithLabelValues(kind).Inc() }

// All returns every tripdesk-specific metric for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		BookingsCreatedTotal,
		BookingsDispatchedTotal,
		BookingsTerminalTotal,
		DispatchFailuresTotal,
		SweepRunsTotal,
		SweepExpiredTotal,
		NotifySendFailuresTotal,
		NotifyRetriesTotal,
	}
}
