package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveOperation("book", OutcomeSuccess)
		m.ObserveLookup("patient", "remote", OutcomeNotFound)
		m.ObserveDelivery("log", OutcomeError)
		m.ObserveHTTP(http.MethodGet, "/slots", http.StatusOK, 0.01)
		m.SlotsInserted(4)
		m.ShiftRejected()
		m.QueueMoved(1)
		m.NotificationDropped()
	})
}

func TestRecordingMethods(t *testing.T) {
	m := New()

	m.ObserveOperation("book", OutcomeConflict)
	m.ObserveOperation("book", OutcomeConflict)
	m.ObserveLookup("doctor", "cache", OutcomeSuccess)
	m.ObserveDelivery("redis_stream", OutcomeSuccess)
	m.ObserveHTTP(http.MethodPost, "/appointments", http.StatusCreated, 0.02)
	m.SlotsInserted(6)
	m.ShiftRejected()
	m.QueueMoved(3)
	m.QueueMoved(-1)
	m.NotificationDropped()

	assert.Equal(t, float64(2), testutil.ToFloat64(m.AppointmentOps.WithLabelValues("book", OutcomeConflict)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DirectoryLookups.WithLabelValues("doctor", "cache", OutcomeSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.NotificationDelivery.WithLabelValues("redis_stream", OutcomeSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.HTTPRequests.WithLabelValues(http.MethodPost, "/appointments", "201")))
	assert.Equal(t, float64(6), testutil.ToFloat64(m.SlotsGenerated))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ShiftsRejected))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.NotificationQueueSize))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.NotificationsDropped))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "scheduling_slots_generated_total 6")
}
