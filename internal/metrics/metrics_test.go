package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveBooking("reserved")
	m.ObserveBooking("reserved")
	m.ObserveBooking("slot_unavailable")
	m.ObserveSessionEvent("created")
	m.ObserveBestEffortFailure("recording_attach")
	m.ObserveReconciled("expired")
	m.ObserveSlotQuery(0.02)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.bookingAttempts.WithLabelValues("reserved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bestEffortFailure.WithLabelValues("recording_attach")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.slotQueryLatency))
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveBooking("reserved")
	m.ObserveSessionEvent("ended")
	m.ObserveBestEffortFailure("recording_detach")
	m.ObserveReconciled("skipped")
	m.ObserveSlotQuery(0.1)
}
