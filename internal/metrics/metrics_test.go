package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegistration(t *testing.T) {
	collectors := []prometheus.Collector{
		PollCyclesTotal,
		PollErrorsTotal,
		EventsTotal,
		PrinterConnected,
		PrinterReconnectsTotal,
		DispatchDuration,
		DispatchErrorsTotal,
		GatewayErrorsTotal,
		ActiveSessions,
		ClaimedSessions,
		StoreSaveErrorsTotal,
		WebhookDeliveriesTotal,
		CircuitBreakerState,
	}

	for _, c := range collectors {
		desc := make(chan *prometheus.Desc, 1)
		c.Describe(desc)
		close(desc)

		require.NotNil(t, <-desc, "metric should have a valid descriptor")
	}
}

func TestCounterVecByLabel(t *testing.T) {
	before := testutil.ToFloat64(EventsTotal.WithLabelValues("PRINT_STARTED"))
	EventsTotal.WithLabelValues("PRINT_STARTED").Inc()
	after := testutil.ToFloat64(EventsTotal.WithLabelValues("PRINT_STARTED"))

	assert.Equal(t, before+1, after)
}

func TestGaugeSet(t *testing.T) {
	PrinterConnected.WithLabelValues("1").Set(1)
	assert.Equal(t, float64(1), testutil.ToFloat64(PrinterConnected.WithLabelValues("1")))

	PrinterConnected.WithLabelValues("1").Set(0)
	assert.Equal(t, float64(0), testutil.ToFloat64(PrinterConnected.WithLabelValues("1")))
}
