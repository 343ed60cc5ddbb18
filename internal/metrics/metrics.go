package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Poller Metrics
var (
	// PollCyclesTotal counts completed poll passes over the fleet
	PollCyclesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "printbot_poll_cycles_total",
			Help: "Total poll passes over all printers",
		},
	)

	// PollErrorsTotal counts telemetry reads that failed per printer
	PollErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printbot_poll_errors_total",
			Help: "Telemetry read failures by printer",
		},
		[]string{"printer"},
	)

	// EventsTotal counts derived domain events by kind
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printbot_events_total",
			Help: "Domain events derived from printer telemetry by kind",
		},
		[]string{"kind"},
	)

	// PrinterConnected is 1 while a printer's device connection is up
	PrinterConnected = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "printbot_printer_connected",
			Help: "Printer connection state (1=connected, 0=disconnected)",
		},
		[]string{"printer"},
	)

	// PrinterReconnectsTotal counts reconnect attempts by printer and result
	PrinterReconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printbot_printer_reconnects_total",
			Help: "Printer reconnect attempts by printer and result",
		},
		[]string{"printer", "result"},
	)
)

// Dispatch Metrics
var (
	// DispatchDuration tracks how long handling one event takes
	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "printbot_dispatch_duration_seconds",
			Help:    "Event dispatch duration in seconds by kind",
			Buckets: []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 20},
		},
		[]string{"kind"},
	)

	// DispatchErrorsTotal counts event handlers that failed or panicked
	DispatchErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printbot_dispatch_errors_total",
			Help: "Event dispatch failures by kind",
		},
		[]string{"kind"},
	)

	// GatewayErrorsTotal counts messaging platform calls that failed
	GatewayErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printbot_gateway_errors_total",
			Help: "Messaging gateway call failures by operation",
		},
		[]string{"operation"},
	)

	// ActiveSessions tracks the number of persisted print sessions
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "printbot_active_sessions",
			Help: "Number of active print sessions",
		},
	)

	// ClaimedSessions tracks the number of sessions with a claimer
	ClaimedSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "printbot_claimed_sessions",
			Help: "Number of claimed print sessions",
		},
	)

	// StoreSaveErrorsTotal counts failed session document writes
	StoreSaveErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "printbot_store_save_errors_total",
			Help: "Failed session document writes",
		},
	)
)

// Webhook Metrics
var (
	// WebhookDeliveriesTotal counts webhook deliveries by result
	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printbot_webhook_deliveries_total",
			Help: "Print event webhook deliveries by result",
		},
		[]string{"result"},
	)

	// CircuitBreakerState tracks current circuit breaker state (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "printbot_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)
)
